package housekeeping

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type OutboxRetentionParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Outbox      publishedPruner
	DeadLetters deadLetterPruner
	Retention   time.Duration
}

// OutboxRetentionJob prunes published outbox rows and old dead letters.
// Unpublished rows are never touched.
type OutboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	outbox    publishedPruner
	dlq       deadLetterPruner
	retention time.Duration
	now       func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionParams) (*OutboxRetentionJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	return &OutboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		outbox:    params.Outbox,
		dlq:       params.DeadLetters,
		retention: retention,
		now:       time.Now,
	}, nil
}

func (j *OutboxRetentionJob) Name() string { return "outbox-retention" }

func (j *OutboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var published, deadLetters int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.outbox.DeletePublishedBefore(ctx, tx, cutoff)
		if err != nil {
			return fmt.Errorf("prune published events: %w", err)
		}
		published = rows
		if j.dlq == nil {
			return nil
		}
		rows, err = j.dlq.DeleteFailedBefore(ctx, tx, cutoff)
		if err != nil {
			return fmt.Errorf("prune dead letters: %w", err)
		}
		deadLetters = rows
		return nil
	})
	if err != nil {
		return err
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":               cutoff,
		"published_deleted":    published,
		"dead_letters_deleted": deadLetters,
	}), "outbox retention complete")
	return nil
}
