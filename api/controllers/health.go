package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/visitorpass-backend/api/responses"
	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

const (
	envHeader    = "X-VisitorPass-Env"
	probeTimeout = 2 * time.Second
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency in parallel. Any failure makes the
// probe a 503 naming each dependency that did not answer in time.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		statuses, failed := probe(r.Context(), deps)
		if len(failed) > 0 {
			names := make([]string, 0, len(failed))
			for name := range failed {
				names = append(names, name)
			}
			sort.Strings(names)
			err := pkgerrors.Wrap(pkgerrors.CodeDependency, errors.Join(joinProbeErrors(names, failed)...),
				strings.Join(names, ", ")+" unavailable").WithDetails(statuses)
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": statuses})
	}
}

func probe(ctx context.Context, deps map[string]Pinger) (map[string]string, map[string]error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		g        errgroup.Group
		statuses = make(map[string]string, len(deps))
		failed   = map[string]error{}
	)
	for name, dep := range deps {
		if dep == nil {
			continue
		}
		g.Go(func() error {
			err := dep.Ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				statuses[name] = "down"
				failed[name] = err
				return nil
			}
			statuses[name] = "up"
			return nil
		})
	}
	_ = g.Wait()
	return statuses, failed
}

func joinProbeErrors(names []string, failed map[string]error) []error {
	out := make([]error, 0, len(names))
	for _, name := range names {
		out = append(out, fmt.Errorf("%s: %w", name, failed[name]))
	}
	return out
}
