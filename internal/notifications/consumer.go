package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/visitorpass-backend/internal/qrtoken"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/metrics"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox/registry"
)

const registrationEmailConsumer = "notification-worker"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type eventLedger interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type tokenIssuer interface {
	Issue(visitorID uuid.UUID, visitorName string, issuedAt time.Time) (*qrtoken.Token, error)
}

// Consumer turns visitor_registered events into registration emails.
type Consumer struct {
	subscription receiver
	decoders     *registry.Decoder
	ledger       eventLedger
	tokens       tokenIssuer
	sender       Sender
	logg         *logger.Logger
	metrics      *metrics.NotificationMetrics
}

// NewConsumer builds the registration email consumer.
func NewConsumer(subscription receiver, ledger eventLedger, tokens tokenIssuer, sender Sender, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("visitor events subscription required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("event ledger required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("qr codec required")
	}
	if sender == nil {
		return nil, fmt.Errorf("email sender required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: subscription,
		decoders:     registry.NewDecoder(enums.EventVisitorRegistered),
		ledger:       ledger,
		tokens:       tokens,
		sender:       sender,
		logg:         logg,
	}, nil
}

// WithMetrics attaches an outcome counter.
func (c *Consumer) WithMetrics(m *metrics.NotificationMetrics) *Consumer {
	c.metrics = m
	return c
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		outcome := c.process(ctx, msg.ID, msg.Attributes["event_type"], msg.Data)
		if outcome != "" {
			c.metrics.IncEmail(outcome)
		}
		if outcome == metrics.EmailRequeued {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process handles one message and returns its email outcome. Only
// metrics.EmailRequeued asks for redelivery; every other outcome is acked.
// Events this worker ignores return "".
func (c *Consumer) process(ctx context.Context, messageID, eventType string, data []byte) string {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	if eventType != string(enums.EventVisitorRegistered) {
		c.logg.Debug(logCtx, "skipping event not handled by notification worker")
		return ""
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return metrics.EmailInvalid
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return metrics.EmailInvalid
	}
	logCtx = c.logg.WithEventID(logCtx, eventID.String())

	event, err := registry.DecodeAs[payloads.VisitorRegisteredEvent](c.decoders, enums.EventVisitorRegistered, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return metrics.EmailInvalid
	}
	logCtx = c.logg.WithVisitorID(logCtx, event.VisitorID.String())

	claimed, err := c.ledger.Claim(ctx, registrationEmailConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "event claim failed", err)
		return metrics.EmailRequeued
	}
	if !claimed {
		c.logg.Info(logCtx, "event already claimed")
		return metrics.EmailDuplicate
	}

	if err := c.send(ctx, *event); err != nil {
		c.logg.Error(logCtx, "registration email not sent", err)
		if relErr := c.ledger.Release(ctx, registrationEmailConsumer, eventID); relErr != nil {
			c.logg.Error(logCtx, "failed to release event claim", relErr)
		}
		return metrics.EmailFailed
	}

	if err := c.ledger.Complete(ctx, registrationEmailConsumer, eventID); err != nil {
		// The claim still lapses on its own, so a later redelivery may resend.
		c.logg.Error(logCtx, "failed to mark event done", err)
	}
	c.logg.Info(logCtx, "registration email sent")
	return metrics.EmailSent
}

func (c *Consumer) send(ctx context.Context, event payloads.VisitorRegisteredEvent) error {
	token, err := c.tokens.Issue(event.VisitorID, event.Name, event.IssuedAt)
	if err != nil {
		return fmt.Errorf("render qr: %w", err)
	}
	msg, err := ComposeRegistration(event, token)
	if err != nil {
		return err
	}
	return c.sender.Send(ctx, msg)
}
