package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/metrics"
)

const defaultEvery = time.Hour

// Job is one periodic maintenance task.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with its cadence. A zero Every means hourly.
type Entry struct {
	Job   Job
	Every time.Duration
}

type slot struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

type SchedulerParams struct {
	Logger  *logger.Logger
	Lock    Lock
	Metrics *metrics.JobMetrics
	Entries []Entry
}

// Scheduler wakes at the shortest job cadence and runs whichever jobs are
// due, holding the cluster-wide lock for the duration of the cycle.
type Scheduler struct {
	logg    *logger.Logger
	lock    Lock
	metrics *metrics.JobMetrics
	slots   []*slot
	tick    time.Duration
	now     func() time.Time
}

func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	s := &Scheduler{
		logg:    params.Logger,
		lock:    params.Lock,
		metrics: params.Metrics,
		now:     time.Now,
	}
	for _, e := range params.Entries {
		if e.Job == nil {
			continue
		}
		every := e.Every
		if every <= 0 {
			every = defaultEvery
		}
		if s.tick == 0 || every < s.tick {
			s.tick = every
		}
		s.slots = append(s.slots, &slot{job: e.Job, every: every})
	}
	if len(s.slots) == 0 {
		return nil, errors.New("at least one job required")
	}
	return s, nil
}

// Run executes a cycle immediately, then on every tick until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "failures", len(multierr.Errors(err))), "housekeeping cycle had failures")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// due lists the jobs whose cadence has elapsed. A job that never ran is due.
func (s *Scheduler) due(now time.Time) []*slot {
	var out []*slot
	for _, sl := range s.slots {
		if sl.lastRun.IsZero() || now.Sub(sl.lastRun) >= sl.every {
			out = append(out, sl)
		}
	}
	return out
}

// runCycle returns every job failure of the cycle combined. Jobs run in
// registration order and one failure never skips the rest.
func (s *Scheduler) runCycle(ctx context.Context) error {
	due := s.due(s.now())
	if len(due) == 0 {
		return nil
	}

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another housekeeping worker holds the lock; skipping cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release housekeeping lock", relErr)
		}
	}()

	var errs error
	for _, sl := range due {
		if err := s.runJob(ctx, sl); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sl.job.Name(), err))
		}
	}
	return errs
}

func (s *Scheduler) runJob(ctx context.Context, sl *slot) error {
	name := sl.job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)
	start := s.now()
	err := sl.job.Run(jobCtx)
	elapsed := s.now().Sub(start)
	sl.lastRun = start
	s.metrics.ObserveRun(name, elapsed, err)

	jobCtx = s.logg.WithField(jobCtx, "duration", elapsed)
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return err
	}
	s.logg.Info(jobCtx, "job completed")
	return nil
}
