package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Redis    pinger
	PubSub   pinger
	Consumer consumer
}

// Service gates the registration email consumer behind a readiness check of
// everything it talks to.
type Service struct {
	cfg      *config.Config
	logg     *logger.Logger
	deps     map[string]pinger
	consumer consumer
}

func NewService(params ServiceParams) (*Service, error) {
	var missing error
	for name, ok := range map[string]bool{
		"config":                params.Config != nil,
		"logger":                params.Logger != nil,
		"redis client":          params.Redis != nil,
		"pubsub client":         params.PubSub != nil,
		"notification consumer": params.Consumer != nil,
	} {
		if !ok {
			missing = multierr.Append(missing, fmt.Errorf("%s is required", name))
		}
	}
	if missing != nil {
		return nil, missing
	}
	return &Service{
		cfg:      params.Config,
		logg:     params.Logger,
		deps:     map[string]pinger{"redis": params.Redis, "pubsub": params.PubSub},
		consumer: params.Consumer,
	}, nil
}

// ready pings every dependency at once and reports all that failed.
func (s *Service) ready(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	for name, dep := range s.deps {
		g.Go(func() error {
			if err := dep.Ping(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s ping failed: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if errs != nil {
		return errs
	}

	if !s.cfg.SMTP.Enabled() {
		s.logg.Warn(ctx, "smtp host not configured, registration emails are logged only")
	}
	s.logg.Info(ctx, "all notification worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		s.logg.Error(ctx, "notification worker not ready", err)
		return err
	}

	err := s.consumer.Run(ctx)
	switch {
	case ctx.Err() != nil:
		s.logg.Info(ctx, "notification worker context canceled")
		return ctx.Err()
	case err != nil && !errors.Is(err, context.Canceled):
		s.logg.Error(ctx, "consumer stopped unexpectedly", err)
	}
	return err
}
