package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

// EnvelopeVersion is stamped on events that do not set one.
const EnvelopeVersion = 1

var eventRules = validator.New()

// DomainEvent is a state change the visitor service wants published.
type DomainEvent struct {
	EventType     enums.OutboxEventType     `validate:"required"`
	AggregateType enums.OutboxAggregateType `validate:"required"`
	AggregateID   uuid.UUID                 `validate:"required"`
	Actor         *ActorRef
	Data          any `validate:"required"`
	Version       int `validate:"gte=0"`
	OccurredAt    time.Time
}

// NewEnvelope wraps data with a fresh event id. A zero time means now.
func NewEnvelope(version int, occurredAt time.Time, actor *ActorRef, data any) (PayloadEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode event data: %w", err)
	}
	if version == 0 {
		version = EnvelopeVersion
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		Actor:      actor,
		Data:       raw,
	}, nil
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit queues the event inside the caller's transaction so it commits or
// rolls back together with the state change it describes.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := eventRules.Struct(event); err != nil {
		return fmt.Errorf("invalid domain event: %w", err)
	}

	envelope, err := NewEnvelope(event.Version, event.OccurredAt, event.Actor, event.Data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := s.repo.Insert(tx, models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}); err != nil {
		return err
	}

	if s.logg != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		logCtx := s.logg.WithEventID(s.logg.WithVisitorID(ctx, event.AggregateID.String()), envelope.EventID)
		s.logg.Info(s.logg.WithField(logCtx, "event_type", event.EventType), "outbox event queued")
	}
	return nil
}
