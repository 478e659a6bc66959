package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox"
)

// EventDescriptor is where a resolved row goes and what it decoded into.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row that passed validation.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will never publish, no matter how many
// times the relay tries.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// EventRegistry is the relay side of the catalog: every visitor event is
// published to the one ordered topic.
type EventRegistry struct {
	topic string
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.VisitorEventsTopic == "" {
		return nil, errors.New("visitor events topic is required")
	}
	return &EventRegistry{topic: cfg.VisitorEventsTopic}, nil
}

// Resolve checks the row against the catalog and decodes its payload. Every
// failure is a NonRetryableError since the row itself is bad.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	resolved, err := r.resolve(row)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return resolved, nil
}

func (r *EventRegistry) resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	if row.AggregateID == uuid.Nil {
		return nil, errors.New("missing aggregate_id")
	}
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Version == 0 {
		envelope.Version = CurrentVersion
	}

	e, factory, err := lookup(row.EventType, envelope.Version)
	if err != nil {
		return nil, err
	}
	if e.aggregate != row.AggregateType {
		return nil, fmt.Errorf("aggregate mismatch: expected %s got %s", e.aggregate, row.AggregateType)
	}
	payload, err := decodeData(row.EventType, factory, envelope.Data)
	if err != nil {
		return nil, err
	}

	return &ResolvedEvent{
		Descriptor: EventDescriptor{
			EventType:      row.EventType,
			AggregateType:  e.aggregate,
			Topic:          r.topic,
			PayloadFactory: factory,
		},
		Envelope: envelope,
		Payload:  payload,
	}, nil
}
