package liveview

import (
	"strings"
	"time"

	"github.com/angelmondragon/visitorpass-backend/internal/analytics"
	"github.com/angelmondragon/visitorpass-backend/internal/visitors"
	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
)

// Snapshot is one full, immutable read of the record store plus its metrics.
type Snapshot struct {
	Dashboard   analytics.Dashboard
	Visitors    []models.Visitor
	Events      []models.VisitEvent
	RefreshedAt time.Time
}

// Filter returns the visitors whose name, vehicle or phone contains term,
// case-insensitively. It always works from the full set.
func (s *Snapshot) Filter(term string) []models.Visitor {
	needle := strings.ToLower(strings.TrimSpace(term))
	out := make([]models.Visitor, 0, len(s.Visitors))
	for _, v := range s.Visitors {
		if needle == "" ||
			strings.Contains(strings.ToLower(v.Name), needle) ||
			strings.Contains(strings.ToLower(v.VehicleNumber), needle) ||
			strings.Contains(strings.ToLower(v.Phone), needle) {
			out = append(out, v)
		}
	}
	return out
}

// DashboardView is the payload served to dashboards.
type DashboardView struct {
	analytics.Dashboard
	Search      string                   `json:"search,omitempty"`
	Visitors    []visitors.VisitorDTO    `json:"visitors"`
	Events      []visitors.VisitEventDTO `json:"events"`
	RefreshedAt time.Time                `json:"refreshedAt"`
}

// View renders the snapshot for a search term. Metrics cover every visitor;
// only the list is filtered.
func (s *Snapshot) View(term string) DashboardView {
	return DashboardView{
		Dashboard:   s.Dashboard,
		Search:      strings.TrimSpace(term),
		Visitors:    visitors.FromModels(s.Filter(term)),
		Events:      visitors.EventsFromModels(s.Events),
		RefreshedAt: s.RefreshedAt,
	}
}
