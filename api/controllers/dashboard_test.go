package controllers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/visitorpass-backend/internal/liveview"
	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
)

type memoryLoader struct {
	mu   sync.Mutex
	rows []models.Visitor
}

func (l *memoryLoader) add(name, plate string, status enums.VisitorStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, models.Visitor{
		ID:            uuid.New(),
		Name:          name,
		Phone:         "9000000000",
		VehicleNumber: plate,
		VisitorType:   enums.VisitorTypeVisitor,
		Status:        status,
	})
}

func (l *memoryLoader) List(context.Context) ([]models.Visitor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Visitor(nil), l.rows...), nil
}

func (l *memoryLoader) ListEvents(context.Context) ([]models.VisitEvent, error) {
	return nil, nil
}

func newLiveDashboard(t *testing.T) (*liveview.Synchronizer, *memoryLoader, *liveview.MemoryFeed) {
	t.Helper()
	loader := &memoryLoader{}
	feed := liveview.NewMemoryFeed()
	live, err := liveview.NewSynchronizer(loader, feed, time.UTC, nil, testLogger())
	require.NoError(t, err)
	return live, loader, feed
}

func TestDashboardFiltersListButNotMetrics(t *testing.T) {
	live, loader, _ := newLiveDashboard(t)
	loader.add("Asha Rao", "KA01AB1234", enums.VisitorStatusCheckedIn)
	loader.add("Vikram Shah", "MH12CD5678", enums.VisitorStatusCheckedOut)

	rec := httptest.NewRecorder()
	Dashboard(live, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?search=ka01", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Occupancy struct {
			Total int `json:"total"`
		} `json:"occupancy"`
		Search   string `json:"search"`
		Visitors []struct {
			Name string `json:"name"`
		} `json:"visitors"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &view))
	require.Equal(t, "ka01", view.Search)
	require.Len(t, view.Visitors, 1)
	require.Equal(t, "Asha Rao", view.Visitors[0].Name)
	require.Equal(t, 2, view.Occupancy.Total)
}

func TestDashboardStreamPushesOnChange(t *testing.T) {
	live, loader, feed := newLiveDashboard(t)
	loader.add("Asha Rao", "KA01AB1234", enums.VisitorStatusCheckedIn)

	server := httptest.NewServer(DashboardStream(live, testLogger()))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	require.Contains(t, first, "Asha Rao")
	require.NotContains(t, first, "Vikram Shah")

	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	loader.add("Vikram Shah", "MH12CD5678", enums.VisitorStatusRegistered)
	require.NoError(t, feed.Notify(ctx, "INSERT", uuid.New()))

	second := readEvent(t, reader)
	require.Contains(t, second, "Vikram Shah")

	cancel()
	require.Eventually(t, func() bool { return feed.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func readEvent(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	var data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && data != "":
			return data
		}
	}
}
