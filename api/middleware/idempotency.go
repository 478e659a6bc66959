package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/visitorpass-backend/api/responses"
	pkgerrors "github.com/angelmondragon/visitorpass-backend/pkg/errors"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/visitorpass-backend/pkg/redis"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
	// A claim outlives any single request, and a crashed handler frees it.
	claimTTL = 2 * time.Minute
)

// idempotentRoutes lists the chi patterns whose responses are cached.
// Registration is the one that creates rows; the transitions are listed so a
// retried check-in gets the original 200 rather than a transition error.
var idempotentRoutes = map[string]string{
	"/api/v1/visitors":                      http.MethodPost,
	"/api/v1/visitors/{visitorId}/check-in": http.MethodPost,
	"/api/v1/visitors/{visitorId}/checkout": http.MethodPost,
}

// storedResponse is kept under the key. Pending marks a claim whose handler
// has not finished.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type replayCache struct {
	store pkgredis.IdempotencyStore
	ttl   time.Duration
	logg  *logger.Logger
}

// Idempotency claims the Idempotency-Key before the handler runs, then
// replaces the claim with the response. Keyed requests are buffered whole, so
// routes using it sit behind BodyLimit. Retries with the same key and body
// get that response back; a different body or a retry racing the first
// attempt is a 409. Keyless requests and 5xx responses are never cached.
func Idempotency(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	cache := &replayCache{store: store, ttl: ttl, logg: logg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if store == nil || header == "" || !isIdempotentRoute(r) {
				next.ServeHTTP(w, r)
				return
			}
			cache.serve(w, r, next, header)
		})
	}
}

func (c *replayCache) serve(w http.ResponseWriter, r *http.Request, next http.Handler, header string) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			responses.WriteError(ctx, c.logg, w, pkgerrors.Newf(pkgerrors.CodeValidation, "request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		responses.WriteError(ctx, c.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	fingerprint := fingerprintBody(body)
	key := c.store.IdempotencyKey("http|"+r.Method+"|"+r.URL.Path, header)

	claim, _ := json.Marshal(storedResponse{Pending: true, Fingerprint: fingerprint})
	claimed, err := c.store.SetNX(ctx, key, string(claim), claimTTL)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
		return
	}
	if !claimed {
		c.replay(w, r, next, key, fingerprint)
		return
	}

	capture := &responseCapture{ResponseWriter: w}
	next.ServeHTTP(capture, r)
	c.finish(ctx, key, fingerprint, capture)
}

// replay answers a request whose key is already claimed.
func (c *replayCache) replay(w http.ResponseWriter, r *http.Request, next http.Handler, key, fingerprint string) {
	ctx := r.Context()
	raw, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		// The claim expired between SETNX and GET. Serve without caching.
		next.ServeHTTP(w, r)
		return
	case err != nil:
		responses.WriteError(ctx, c.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, c.logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case stored.Fingerprint != fingerprint:
		responses.WriteError(ctx, c.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case stored.Pending:
		responses.WriteError(ctx, c.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress"))
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

// finish swaps the claim for the captured response, or drops it so the
// client can retry after a server error.
func (c *replayCache) finish(ctx context.Context, key, fingerprint string, capture *responseCapture) {
	status := capture.statusCode()
	if status >= http.StatusInternalServerError {
		if err := c.store.Del(ctx, key); err != nil {
			c.logError(ctx, "release idempotency claim", err)
		}
		return
	}

	payload, err := json.Marshal(storedResponse{
		Fingerprint: fingerprint,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
	})
	if err != nil {
		c.logError(ctx, "encode idempotency record", err)
		return
	}
	if err := c.store.Set(ctx, key, string(payload), c.ttl); err != nil {
		c.logError(ctx, "store idempotency record", err)
	}
}

func (c *replayCache) logError(ctx context.Context, msg string, err error) {
	if c.logg != nil {
		c.logg.Error(ctx, msg, err)
	}
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func isIdempotentRoute(r *http.Request) bool {
	method, ok := idempotentRoutes[routePattern(r)]
	return ok && method == r.Method
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return strings.TrimSuffix(pattern, "/")
		}
	}
	return strings.TrimSuffix(r.URL.Path, "/")
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
