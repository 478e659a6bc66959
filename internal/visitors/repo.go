package visitors

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
)

// Repository is the visitor record store.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB (or transaction) to visitor operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, visitor *models.Visitor) error {
	return r.db.WithContext(ctx).Create(visitor).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Visitor, error) {
	var visitor models.Visitor
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&visitor).Error; err != nil {
		return nil, err
	}
	return &visitor, nil
}

// List returns every visitor, newest first.
func (r *Repository) List(ctx context.Context) ([]models.Visitor, error) {
	var visitors []models.Visitor
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&visitors).Error; err != nil {
		return nil, err
	}
	return visitors, nil
}

// ListEvents returns the event log, newest first, with the visitor joined.
func (r *Repository) ListEvents(ctx context.Context) ([]models.VisitEvent, error) {
	var events []models.VisitEvent
	if err := r.db.WithContext(ctx).
		Preload("Visitor").
		Order("timestamp DESC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *Repository) AppendEvent(ctx context.Context, visitorID uuid.UUID, action enums.VisitAction, at time.Time) (*models.VisitEvent, error) {
	event := &models.VisitEvent{VisitorID: visitorID, Action: action, Timestamp: at}
	if err := r.db.WithContext(ctx).Omit("Visitor").Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}

// Transition moves a visitor from one status to the next only if the row is
// still in the expected status. It reports false when no row matched.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.VisitorStatus, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case enums.VisitorStatusCheckedIn:
		updates["check_in_time"] = at
	case enums.VisitorStatusCheckedOut:
		updates["check_out_time"] = at
	}

	res := r.db.WithContext(ctx).
		Model(&models.Visitor{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListOverstays returns checked-in visitors whose visit window ended before
// day, oldest window first.
func (r *Repository) ListOverstays(ctx context.Context, day time.Time) ([]models.Visitor, error) {
	var visitors []models.Visitor
	if err := r.db.WithContext(ctx).
		Where("status = ? AND to_date < ?", enums.VisitorStatusCheckedIn, day).
		Order("to_date ASC").
		Find(&visitors).Error; err != nil {
		return nil, err
	}
	return visitors, nil
}
