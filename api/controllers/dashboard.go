package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/angelmondragon/visitorpass-backend/api/responses"
	"github.com/angelmondragon/visitorpass-backend/api/validators"
	"github.com/angelmondragon/visitorpass-backend/internal/liveview"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

const streamKeepAlive = 25 * time.Second

// LiveDashboard is the read side the dashboard handlers depend on.
type LiveDashboard interface {
	Snapshot(ctx context.Context) (*liveview.Snapshot, error)
	Open(ctx context.Context) (*liveview.Session, error)
}

// Dashboard serves the cached snapshot filtered by ?search=.
func Dashboard(live LiveDashboard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if live == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dashboard unavailable"))
			return
		}
		snap, err := live.Snapshot(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap.View(validators.SearchTerm(r)))
	}
}

// DashboardStream pushes a fresh dashboard view as a server-sent event after
// every record change until the client disconnects.
func DashboardStream(live LiveDashboard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if live == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dashboard unavailable"))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}
		term := validators.SearchTerm(r)

		session, err := live.Open(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open live dashboard"))
			return
		}
		defer func() {
			if err := session.Close(); err != nil && logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "dashboard stream close failed")
			}
		}()

		initial, err := live.Snapshot(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		header := w.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		if err := writeSnapshotEvent(w, initial.View(term)); err != nil {
			return
		}
		flusher.Flush()

		ticker := time.NewTicker(streamKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case snap, ok := <-session.Updates():
				if !ok {
					return
				}
				if err := writeSnapshotEvent(w, snap.View(term)); err != nil {
					if logg != nil {
						logg.Warn(logg.WithField(ctx, "error", err.Error()), "dashboard stream write failed")
					}
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeSnapshotEvent(w http.ResponseWriter, view liveview.DashboardView) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
	return err
}
