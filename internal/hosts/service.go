package hosts

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
)

// HostDTO is the public view of a host.
type HostDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func FromModel(m *models.Host) *HostDTO {
	if m == nil {
		return nil
	}
	return &HostDTO{ID: m.ID, Name: m.Name, Email: m.Email}
}

type hostRepository interface {
	List(ctx context.Context) ([]models.Host, error)
	FindByID(ctx context.Context, id string) (*models.Host, error)
}

// Service exposes the host directory.
type Service interface {
	List(ctx context.Context) ([]HostDTO, error)
	Lookup(ctx context.Context, id string) (*HostDTO, error)
}

type service struct {
	repo hostRepository
}

func NewService(repo hostRepository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("host repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) List(ctx context.Context) ([]HostDTO, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.FromStore(err, "list hosts", "")
	}
	out := make([]HostDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

// Lookup returns NOT_FOUND for unknown ids and DEPENDENCY_ERROR when the
// directory cannot be read.
func (s *service) Lookup(ctx context.Context, id string) (*HostDTO, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "host is required")
	}
	host, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.FromStore(err, "lookup host", "host not found")
	}
	return FromModel(host), nil
}
