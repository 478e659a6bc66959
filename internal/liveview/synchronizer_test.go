package liveview

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/enums"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

type fakeLoader struct {
	mu       sync.Mutex
	visitors []models.Visitor
	events   []models.VisitEvent
	err      error
	loads    int
}

func (f *fakeLoader) List(context.Context) ([]models.Visitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Visitor(nil), f.visitors...), nil
}

func (f *fakeLoader) ListEvents(context.Context) ([]models.VisitEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.VisitEvent(nil), f.events...), nil
}

func (f *fakeLoader) set(visitors ...models.Visitor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visitors = visitors
}

func (f *fakeLoader) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func visitor(name, phone, plate string, status enums.VisitorStatus) models.Visitor {
	return models.Visitor{
		ID:            uuid.New(),
		Name:          name,
		Phone:         phone,
		VehicleNumber: plate,
		VisitorType:   enums.VisitorTypeVisitor,
		Status:        status,
		CreatedAt:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func newTestSynchronizer(t *testing.T, loader Loader, feed Feed) *Synchronizer {
	t.Helper()
	s, err := NewSynchronizer(loader, feed, time.UTC, nil, logger.New(logger.Options{ServiceName: "liveview-test", Output: io.Discard}))
	require.NoError(t, err)
	return s
}

func TestSynchronizerCachesUntilInvalidated(t *testing.T) {
	loader := &fakeLoader{visitors: []models.Visitor{visitor("Asha", "9000000001", "KA 01 AB 1234", enums.VisitorStatusCheckedIn)}}
	s := newTestSynchronizer(t, loader, NewMemoryFeed())
	ctx := context.Background()

	first, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Dashboard.Occupancy.CheckedIn)

	again, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, loader.loadCount())

	loader.set(
		visitor("Asha", "9000000001", "KA 01 AB 1234", enums.VisitorStatusCheckedOut),
		visitor("Ravi", "9000000002", "MH 12 C 9876", enums.VisitorStatusRegistered),
	)
	s.Invalidate()

	refreshed, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.loadCount())
	assert.Equal(t, 2, refreshed.Dashboard.Occupancy.Total)
	assert.Equal(t, 1, refreshed.Dashboard.Occupancy.CheckedOut)
	assert.Equal(t, 1, refreshed.Dashboard.Occupancy.Registered)
}

func TestSynchronizerRefreshErrorKeepsPreviousSnapshot(t *testing.T) {
	loader := &fakeLoader{visitors: []models.Visitor{visitor("Asha", "9000000001", "KA 01 AB 1234", enums.VisitorStatusRegistered)}}
	s := newTestSynchronizer(t, loader, NewMemoryFeed())
	ctx := context.Background()

	first, err := s.Snapshot(ctx)
	require.NoError(t, err)

	loader.mu.Lock()
	loader.err = errors.New("connection refused")
	loader.mu.Unlock()
	s.Invalidate()

	_, err = s.Snapshot(ctx)
	require.Error(t, err)

	s.mu.RLock()
	assert.Same(t, first, s.current)
	s.mu.RUnlock()
}

// gatedLoader blocks List until release is closed or the load ctx ends.
type gatedLoader struct {
	fakeLoader
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedLoader) List(ctx context.Context) ([]models.Visitor, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.fakeLoader.List(ctx)
}

func TestSharedRefreshSurvivesFirstCallerCancel(t *testing.T) {
	loader := &gatedLoader{
		fakeLoader: fakeLoader{visitors: []models.Visitor{visitor("Asha", "9000000001", "KA 01 AB 1234", enums.VisitorStatusCheckedIn)}},
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	s := newTestSynchronizer(t, loader, NewMemoryFeed())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Snapshot(firstCtx)
		firstErr <- err
	}()
	<-loader.started

	type result struct {
		snap *Snapshot
		err  error
	}
	second := make(chan result, 1)
	go func() {
		snap, err := s.Snapshot(context.Background())
		second <- result{snap, err}
	}()

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(loader.release)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 1, got.snap.Dashboard.Occupancy.CheckedIn)
	assert.Equal(t, 1, loader.loadCount())
}

func TestOneNotificationRefetchesOnceForAllSessions(t *testing.T) {
	feed := NewMemoryFeed()
	loader := &fakeLoader{}
	s := newTestSynchronizer(t, loader, feed)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, loader.loadCount())

	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	sessions := make([]*Session, 5)
	for i := range sessions {
		sessions[i], err = s.Open(ctx)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return feed.Subscribers() == len(sessions)+1 }, time.Second, 5*time.Millisecond)

	loader.set(visitor("Asha", "9000000001", "KA 01 AB 1234", enums.VisitorStatusRegistered))
	require.NoError(t, feed.Notify(ctx, "INSERT", uuid.New()))

	for _, session := range sessions {
		select {
		case snap := <-session.Updates():
			assert.Equal(t, 1, snap.Dashboard.Occupancy.Total)
		case <-time.After(2 * time.Second):
			t.Fatal("expected every session to receive the refreshed snapshot")
		}
	}
	assert.Equal(t, 2, loader.loadCount())

	for _, session := range sessions {
		require.NoError(t, session.Close())
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSnapshotFilterWorksFromFullSet(t *testing.T) {
	snap := &Snapshot{Visitors: []models.Visitor{
		visitor("Asha Rao", "9000000001", "KA 01 AB 1234", enums.VisitorStatusCheckedIn),
		visitor("Ravi Kumar", "9000000002", "MH 12 C 9876", enums.VisitorStatusRegistered),
		visitor("Meena", "9811111111", "DL 3 CAB 1", enums.VisitorStatusCheckedOut),
	}}

	assert.Len(t, snap.Filter("asha"), 1)
	assert.Len(t, snap.Filter("mh 12"), 1)
	assert.Len(t, snap.Filter("98111"), 1)
	assert.Empty(t, snap.Filter("nobody"))
	assert.Len(t, snap.Filter("  "), 3)

	narrowed := snap.Filter("asha")
	require.Len(t, narrowed, 1)
	// A broader term after a narrow one still sees every visitor.
	assert.Len(t, snap.Filter("a"), 3)
}

func TestSnapshotViewFiltersListButNotMetrics(t *testing.T) {
	loader := &fakeLoader{visitors: []models.Visitor{
		visitor("Asha", "9000000001", "KA 01 AB 1234", enums.VisitorStatusCheckedIn),
		visitor("Ravi", "9000000002", "MH 12 C 9876", enums.VisitorStatusRegistered),
	}}
	s := newTestSynchronizer(t, loader, NewMemoryFeed())

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	view := snap.View(" ravi ")
	assert.Equal(t, "ravi", view.Search)
	require.Len(t, view.Visitors, 1)
	assert.Equal(t, "Ravi", view.Visitors[0].Name)
	assert.Equal(t, 2, view.Occupancy.Total)
}

func TestSessionPushesFreshSnapshotOnChange(t *testing.T) {
	feed := NewMemoryFeed()
	loader := &fakeLoader{}
	s := newTestSynchronizer(t, loader, feed)
	ctx := context.Background()

	session, err := s.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, feed.Subscribers())

	created := visitor("Asha", "9000000001", "KA 01 AB 1234", enums.VisitorStatusRegistered)
	loader.set(created)
	require.NoError(t, feed.Notify(ctx, "INSERT", created.ID))

	select {
	case snap, ok := <-session.Updates():
		require.True(t, ok)
		assert.Equal(t, 1, snap.Dashboard.Occupancy.Total)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a snapshot after the change")
	}

	require.NoError(t, session.Close())
	assert.Equal(t, 0, feed.Subscribers())
	_, ok := <-session.Updates()
	assert.False(t, ok)
	require.NoError(t, session.Close())
}

func TestWatchInvalidatesSharedCache(t *testing.T) {
	feed := NewMemoryFeed()
	loader := &fakeLoader{}
	s := newTestSynchronizer(t, loader, feed)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := s.Snapshot(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, feed.Notify(ctx, "UPDATE", uuid.New()))
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.freshAt != s.generation
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, feed.Subscribers())
}

func TestDecodeChangeDefaultsTable(t *testing.T) {
	id := uuid.New()
	change, err := decodeChange(`{"op":"UPDATE","visitorId":"` + id.String() + `"}`)
	require.NoError(t, err)
	assert.Equal(t, VisitorsTable, change.Table)
	assert.Equal(t, "UPDATE", change.Op)
	assert.Equal(t, id, change.VisitorID)

	_, err = decodeChange("not-json")
	assert.Error(t, err)
}

func TestNewSynchronizerRequiresDependencies(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "liveview-test", Output: io.Discard})
	_, err := NewSynchronizer(nil, NewMemoryFeed(), time.UTC, nil, logg)
	assert.Error(t, err)
	_, err = NewSynchronizer(&fakeLoader{}, nil, time.UTC, nil, logg)
	assert.Error(t, err)
}
