package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/metrics"
)

// Cap on visitor ids attached to the warning log line.
const overstayLogLimit = 20

type overstayFinder interface {
	ListOverstays(ctx context.Context, day time.Time) ([]models.Visitor, error)
}

// OverstayJob reports checked-in visitors whose visit window ended before
// today in the facility time zone. It never changes visitor status.
type OverstayJob struct {
	logg    *logger.Logger
	finder  overstayFinder
	metrics *metrics.JobMetrics
	loc     *time.Location
	now     func() time.Time
}

func NewOverstayJob(finder overstayFinder, loc *time.Location, m *metrics.JobMetrics, logg *logger.Logger) (*OverstayJob, error) {
	if finder == nil {
		return nil, fmt.Errorf("visitor finder required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &OverstayJob{logg: logg, finder: finder, metrics: m, loc: loc, now: time.Now}, nil
}

func (j *OverstayJob) Name() string { return "visitor-overstays" }

func (j *OverstayJob) Run(ctx context.Context) error {
	local := j.now().In(j.loc)
	// to_date is stored as a calendar date at UTC midnight.
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	rows, err := j.finder.ListOverstays(ctx, today)
	if err != nil {
		return fmt.Errorf("list overstays: %w", err)
	}
	j.metrics.SetOverstays(len(rows))
	if len(rows) == 0 {
		return nil
	}

	ids := make([]string, 0, min(len(rows), overstayLogLimit))
	for _, v := range rows[:min(len(rows), overstayLogLimit)] {
		ids = append(ids, v.ID.String())
	}
	j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
		"overstays":   len(rows),
		"visitor_ids": ids,
		"day":         today.Format(time.DateOnly),
	}), "visitors still checked in past their visit window")
	return nil
}
