package routes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/visitorpass-backend/api/controllers"
	"github.com/angelmondragon/visitorpass-backend/internal/checkout"
	"github.com/angelmondragon/visitorpass-backend/internal/hosts"
	"github.com/angelmondragon/visitorpass-backend/internal/liveview"
	"github.com/angelmondragon/visitorpass-backend/internal/qrtoken"
	"github.com/angelmondragon/visitorpass-backend/internal/visitors"
	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/metrics"
	"github.com/angelmondragon/visitorpass-backend/pkg/outbox"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "test:idempotency:" + scope + ":" + id
}

type countingVisitors struct {
	mu        sync.Mutex
	registers int
}

func (c *countingVisitors) Register(_ context.Context, input visitors.RegisterInput) (*visitors.RegistrationResult, error) {
	c.mu.Lock()
	c.registers++
	c.mu.Unlock()
	return &visitors.RegistrationResult{Visitor: visitors.VisitorDTO{ID: uuid.New(), Name: input.Name}}, nil
}

func (c *countingVisitors) Get(_ context.Context, id uuid.UUID) (*visitors.VisitorDTO, error) {
	return &visitors.VisitorDTO{ID: id}, nil
}

func (c *countingVisitors) CheckIn(ctx context.Context, id uuid.UUID, _ outbox.ActorRef) (*visitors.VisitorDTO, error) {
	return c.Get(ctx, id)
}

func (c *countingVisitors) CheckOut(ctx context.Context, id uuid.UUID, _ outbox.ActorRef) (*visitors.VisitorDTO, error) {
	return c.Get(ctx, id)
}

func (c *countingVisitors) IssueToken(context.Context, uuid.UUID) (*qrtoken.Token, error) {
	return &qrtoken.Token{PNG: []byte("png"), Filename: "qr.png"}, nil
}

func (c *countingVisitors) ListEvents(context.Context) ([]visitors.VisitEventDTO, error) {
	return []visitors.VisitEventDTO{}, nil
}

type stubCheckout struct {
	viewed uuid.UUID
}

func (s *stubCheckout) View(_ context.Context, id uuid.UUID) (*checkout.View, error) {
	s.viewed = id
	return &checkout.View{Visitor: visitors.VisitorDTO{ID: id}, StatusLabel: "Checked In", CanCheckOut: true}, nil
}

func (s *stubCheckout) Resolve(ctx context.Context, scanned string) (*checkout.View, error) {
	id, err := qrtoken.Resolve(scanned)
	if err != nil {
		return nil, err
	}
	return s.View(ctx, id)
}

func (s *stubCheckout) Redeem(_ context.Context, id uuid.UUID, _ outbox.ActorRef) (*checkout.Result, error) {
	return &checkout.Result{Visitor: visitors.VisitorDTO{ID: id}, Outcome: "checked_out"}, nil
}

type stubHosts struct{}

func (stubHosts) List(context.Context) ([]hosts.HostDTO, error) {
	return []hosts.HostDTO{{ID: "h1", Name: "Front Desk"}}, nil
}

func (stubHosts) Lookup(_ context.Context, id string) (*hosts.HostDTO, error) {
	return &hosts.HostDTO{ID: id}, nil
}

type emptyLoader struct{}

func (emptyLoader) List(context.Context) ([]models.Visitor, error) { return nil, nil }
func (emptyLoader) ListEvents(context.Context) ([]models.VisitEvent, error) { return nil, nil }

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Env: "test"},
		GCS:      config.GCSConfig{MaxPhotoMB: 5},
		Eventing: config.EventingConfig{HTTPIdempotencyTTL: time.Hour},
		CORS:     config.CORSConfig{AllowedOrigins: []string{"https://gate.example.com"}},
	}
}

type testRouter struct {
	handler  http.Handler
	visitors *countingVisitors
	checkout *stubCheckout
}

func newTestRouter(t *testing.T, redisErr error) *testRouter {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	reg := prometheus.NewRegistry()
	m := metrics.NewVisitorMetrics(reg)
	live, err := liveview.NewSynchronizer(emptyLoader{}, liveview.NewMemoryFeed(), time.UTC, m, logg)
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	tr := &testRouter{visitors: &countingVisitors{}, checkout: &stubCheckout{}}
	tr.handler = NewRouter(
		testConfig(),
		logg,
		stubPinger{},
		stubPinger{err: redisErr},
		stubPinger{},
		&memoryStore{data: map[string]string{}},
		reg,
		tr.visitors,
		tr.checkout,
		stubHosts{},
		live,
	)
	return tr
}

func (tr *testRouter) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	tr := newTestRouter(t, nil)
	resp := tr.do(http.MethodGet, "/health/live", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected live 200 got %d", resp.Code)
	}
	if got := resp.Header().Get("X-VisitorPass-Env"); got != "test" {
		t.Fatalf("expected env header test got %q", got)
	}
	if resp := tr.do(http.MethodGet, "/health/ready", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected ready 200 got %d", resp.Code)
	}

	failing := newTestRouter(t, errors.New("connection refused"))
	resp = failing.do(http.MethodGet, "/health/ready", "", nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected ready 503 when redis is down got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"redis":"down"`) {
		t.Fatalf("expected redis reported down, got %s", resp.Body.String())
	}
}

func TestMetricsEndpointExposesVisitorMetrics(t *testing.T) {
	tr := newTestRouter(t, nil)
	if resp := tr.do(http.MethodGet, "/api/v1/dashboard", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected dashboard 200 got %d: %s", resp.Code, resp.Body.String())
	}
	resp := tr.do(http.MethodGet, "/metrics", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected metrics 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "dashboard_refresh_duration_seconds") {
		t.Fatalf("expected refresh histogram in metrics output")
	}
}

func TestPublicCheckoutPathIsStable(t *testing.T) {
	tr := newTestRouter(t, nil)
	id := uuid.New()
	resp := tr.do(http.MethodGet, "/checkout/"+id.String(), "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected checkout view 200 got %d", resp.Code)
	}
	if tr.checkout.viewed != id {
		t.Fatalf("expected view of %s got %s", id, tr.checkout.viewed)
	}
	if resp := tr.do(http.MethodPost, "/checkout/"+id.String(), "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected checkout redeem 200 got %d", resp.Code)
	}
}

func TestCheckoutResolveRoute(t *testing.T) {
	tr := newTestRouter(t, nil)
	id := uuid.New()
	body := fmt.Sprintf(`{"scanned":"https://gate.example.com/checkout/%s"}`, id)
	resp := tr.do(http.MethodPost, "/api/v1/checkout/resolve", body, map[string]string{"Content-Type": "application/json"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected resolve 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if tr.checkout.viewed != id {
		t.Fatalf("expected resolved id %s got %s", id, tr.checkout.viewed)
	}
}

func TestRegistrationReplaysIdempotentRetry(t *testing.T) {
	tr := newTestRouter(t, nil)
	headers := map[string]string{"Content-Type": "application/json", "Idempotency-Key": "kiosk-42"}
	body := `{"name":"A B","phone":"9999999999"}`

	first := tr.do(http.MethodPost, "/api/v1/visitors", body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", first.Code, first.Body.String())
	}
	second := tr.do(http.MethodPost, "/api/v1/visitors", body, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201 got %d", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical replay body")
	}
	if tr.visitors.registers != 1 {
		t.Fatalf("expected one registration got %d", tr.visitors.registers)
	}

	changed := tr.do(http.MethodPost, "/api/v1/visitors", `{"name":"C D"}`, headers)
	if changed.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused key got %d", changed.Code)
	}
}

func TestIdempotentRoutesCapBodyBeforeBuffering(t *testing.T) {
	tr := newTestRouter(t, nil)
	headers := map[string]string{"Content-Type": "application/json", "Idempotency-Key": "k-1"}

	resp := tr.do(http.MethodPost, "/api/v1/visitors/"+uuid.NewString()+"/check-in", strings.Repeat("a", 2*transitionBodyLimit), headers)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized check-in body got %d", resp.Code)
	}

	oversized := `{"name":"A B","photo":"` + strings.Repeat("a", int(controllers.RegistrationBodyLimit(testConfig().GCS.MaxPhotoMB))) + `"}`
	resp = tr.do(http.MethodPost, "/api/v1/visitors", oversized, headers)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized registration got %d", resp.Code)
	}
	if tr.visitors.registers != 0 {
		t.Fatalf("expected no registration, got %d", tr.visitors.registers)
	}
}

func TestVisitorQRRoute(t *testing.T) {
	tr := newTestRouter(t, nil)
	resp := tr.do(http.MethodGet, "/api/v1/visitors/"+uuid.NewString()+"/qr", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected qr 200 got %d", resp.Code)
	}
	if got := resp.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("expected image/png got %q", got)
	}
}

func TestHostsRoute(t *testing.T) {
	tr := newTestRouter(t, nil)
	resp := tr.do(http.MethodGet, "/api/v1/hosts", "", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "Front Desk") {
		t.Fatalf("unexpected hosts response %d %s", resp.Code, resp.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	tr := newTestRouter(t, nil)
	resp := tr.do(http.MethodOptions, "/api/v1/visitors", "", map[string]string{
		"Origin":                         "https://gate.example.com",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "Idempotency-Key",
	})
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "https://gate.example.com" {
		t.Fatalf("expected allowed origin header got %q", got)
	}
}

func TestUnknownRoute(t *testing.T) {
	tr := newTestRouter(t, nil)
	if resp := tr.do(http.MethodGet, "/api/v1/orders", "", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
