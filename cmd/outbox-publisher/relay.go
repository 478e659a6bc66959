package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/metrics"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	jitterWindow          = 250 * time.Millisecond
)

type txRunner interface {
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pinger interface {
	Ping(context.Context) error
}

type outboxStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// eventPublisher is the part of an ordered Pub/Sub publisher the relay uses.
type eventPublisher interface {
	Publish(context.Context, *gcppubsub.Message) ackResult
	ResumePublish(orderingKey string)
}

type ackResult interface {
	Get(context.Context) (string, error)
}

type RelayParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Outbox      outboxStore
	DeadLetters deadLetterStore
	Registry    eventResolver
	Publisher   eventPublisher
	Metrics     *metrics.RelayMetrics
	Settings    config.OutboxConfig
	// Dependencies are pinged once before the first batch.
	Dependencies map[string]pinger
}

// Relay moves committed outbox rows onto the visitor events topic. Rows for
// one visitor share an ordering key, so a failed row holds back the later
// rows of the same visitor until it goes through.
type Relay struct {
	logg         *logger.Logger
	db           txRunner
	outbox       outboxStore
	deadLetters  deadLetterStore
	registry     eventResolver
	publisher    eventPublisher
	metrics      *metrics.RelayMetrics
	dependencies map[string]pinger

	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	maxBackoff     time.Duration
	publishTimeout time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Outbox == nil:
		return nil, errors.New("outbox repository is required")
	case params.DeadLetters == nil:
		return nil, errors.New("dead letter repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Publisher == nil:
		return nil, errors.New("visitor events publisher is required")
	}

	s := params.Settings
	return &Relay{
		logg:           params.Logger,
		db:             params.DB,
		outbox:         params.Outbox,
		deadLetters:    params.DeadLetters,
		registry:       params.Registry,
		publisher:      params.Publisher,
		metrics:        params.Metrics,
		dependencies:   params.Dependencies,
		batchSize:      positiveOr(s.BatchSize, defaultBatchSize),
		maxAttempts:    positiveOr(s.MaxAttempts, defaultMaxAttempts),
		pollInterval:   positiveOr(s.PollInterval, defaultPollInterval),
		maxBackoff:     positiveOr(s.MaxBackoff, defaultMaxBackoff),
		publishTimeout: positiveOr(s.PublishTimeout, defaultPublishTimeout),
	}, nil
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

func (r *Relay) ensureReady(ctx context.Context) error {
	names := make([]string, 0, len(r.dependencies))
	for name := range r.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.dependencies[name].Ping(ctx); err != nil {
			r.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	return nil
}

// Run relays batches until ctx is canceled. A full batch of published rows
// is followed immediately by the next one. An empty batch waits one poll
// interval. A failed batch, or one that left rows for a retry, backs off
// exponentially up to the configured cap.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.ensureReady(ctx); err != nil {
		return err
	}

	backoff := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay context canceled")
			return err
		}

		stats, err := r.relayBatch(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch error", err)
			backoff = min(backoff*2, r.maxBackoff)
		case stats.pending > 0:
			backoff = min(backoff*2, r.maxBackoff)
			r.logg.Debug(r.logg.WithFields(ctx, map[string]any{
				"pending": stats.pending,
				"backoff": backoff.String(),
			}), "outbox rows left for retry, backing off")
		case stats.handled > 0:
			backoff = r.pollInterval
			continue
		default:
			backoff = r.pollInterval
		}

		if err := sleepCtx(ctx, withJitter(backoff)); err != nil {
			return err
		}
	}
}

// batchStats summarizes one batch. pending counts rows that failed with a
// retryable error or were held behind such a row.
type batchStats struct {
	handled int
	pending int
}

// relayBatch handles one locked batch.
func (r *Relay) relayBatch(ctx context.Context) (batchStats, error) {
	var stats batchStats
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.outbox.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		r.metrics.ObserveBatch(len(rows))
		stats = batchStats{handled: len(rows)}

		held := map[uuid.UUID]bool{}
		for _, row := range rows {
			logCtx := r.rowContext(ctx, row)
			if held[row.AggregateID] {
				r.logg.Debug(logCtx, "outbox row held behind an earlier failure for the same visitor")
				r.metrics.IncEvent(string(row.EventType), metrics.RelayDeferred)
				stats.pending++
				continue
			}

			outcome, err := r.relayRow(logCtx, tx, row)
			if err != nil {
				return err
			}
			r.metrics.IncEvent(string(row.EventType), outcome)
			if outcome == metrics.RelayRetry {
				held[row.AggregateID] = true
				stats.pending++
			}
		}
		return nil
	})
	return stats, err
}

// relayRow publishes one row and records the outcome on it. The returned
// error is a bookkeeping failure that must roll back the batch.
func (r *Relay) relayRow(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (string, error) {
	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return metrics.RelayDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	ctx = r.logg.WithEventID(ctx, resolved.Envelope.EventID)

	err = r.publish(ctx, row, resolved)
	if err == nil {
		if markErr := r.outbox.MarkPublishedTx(tx, row.ID); markErr != nil {
			return "", fmt.Errorf("mark published %s: %w", row.ID, markErr)
		}
		r.logg.Info(ctx, "visitor event published")
		return metrics.RelayPublished, nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return metrics.RelayDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}

	r.publisher.ResumePublish(orderingKey(row))
	attempt := row.AttemptCount + 1
	if attempt >= r.maxAttempts {
		return metrics.RelayDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("gave up after %d attempts: %w", attempt, err))
	}

	warnCtx := r.logg.WithFields(ctx, map[string]any{"attempt": attempt, "error": err.Error()})
	r.logg.Warn(warnCtx, "visitor event publish failed, will retry")
	if markErr := r.outbox.MarkFailedTx(tx, row.ID, err); markErr != nil {
		return "", fmt.Errorf("mark failure %s: %w", row.ID, markErr)
	}
	return metrics.RelayRetry, nil
}

func (r *Relay) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	msg := &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: orderingKey(row),
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"visitor_id":     row.AggregateID.String(),
			"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()

	started := time.Now()
	result := r.publisher.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(errors.New("publisher returned no result"))
	}
	_, err := result.Get(publishCtx)
	r.metrics.ObservePublish(time.Since(started))
	return err
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	warnCtx := r.logg.WithFields(ctx, map[string]any{"error_reason": reason, "error": cause.Error()})
	r.logg.Warn(warnCtx, "visitor event moved to dead letters")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := r.deadLetters.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dead letter %s: %w", row.ID, err)
	}
	if err := r.outbox.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}

func (r *Relay) rowContext(ctx context.Context, row models.OutboxEvent) context.Context {
	ctx = r.logg.WithVisitorID(ctx, row.AggregateID.String())
	return r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"attempt_count": row.AttemptCount,
	})
}

func orderingKey(row models.OutboxEvent) string {
	return row.AggregateID.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withJitter(d time.Duration) time.Duration {
	return d + rand.N(jitterWindow)
}

// orderedPublisher adapts *pubsub.Publisher to eventPublisher.
type orderedPublisher struct {
	pub *gcppubsub.Publisher
}

func (p orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) ackResult {
	if p.pub == nil {
		return nil
	}
	return p.pub.Publish(ctx, msg)
}

func (p orderedPublisher) ResumePublish(key string) {
	if p.pub != nil {
		p.pub.ResumePublish(key)
	}
}
