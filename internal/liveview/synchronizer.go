package liveview

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/visitorpass-backend/internal/analytics"
	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
	"github.com/angelmondragon/visitorpass-backend/pkg/metrics"
)

const refreshTimeout = 30 * time.Second

// seenChanges bounds the memory of change IDs already applied.
const seenChanges = 256

// Loader reads the full record set.
type Loader interface {
	List(ctx context.Context) ([]models.Visitor, error)
	ListEvents(ctx context.Context) ([]models.VisitEvent, error)
}

// Synchronizer owns the single process-local dashboard cache. The cache is
// only ever replaced by a full refetch, never patched.
type Synchronizer struct {
	loader  Loader
	feed    Feed
	loc     *time.Location
	metrics *metrics.VisitorMetrics
	logg    *logger.Logger
	now     func() time.Time

	mu         sync.RWMutex
	current    *Snapshot
	generation uint64
	freshAt    uint64
	refreshes  singleflight.Group
	seen       map[uuid.UUID]struct{}
	seenOrder  []uuid.UUID
}

func NewSynchronizer(loader Loader, feed Feed, loc *time.Location, m *metrics.VisitorMetrics, logg *logger.Logger) (*Synchronizer, error) {
	if loader == nil {
		return nil, fmt.Errorf("loader required")
	}
	if feed == nil {
		return nil, fmt.Errorf("change feed required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Synchronizer{
		loader:  loader,
		feed:    feed,
		loc:     loc,
		metrics: m,
		logg:    logg,
		now:     time.Now,
		// generation starts ahead of freshAt so the first read loads.
		generation: 1,
		seen:       make(map[uuid.UUID]struct{}, seenChanges),
	}, nil
}

// Invalidate marks the cache stale; the next read refetches everything.
func (s *Synchronizer) Invalidate() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// applyChange invalidates the cache the first time a notification is seen.
// Watch and every open session receive the same notification, and only the
// first of them bumps the generation, so they all share one refetch.
func (s *Synchronizer) applyChange(change Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if change.ID != uuid.Nil {
		if _, ok := s.seen[change.ID]; ok {
			return
		}
		if len(s.seenOrder) == seenChanges {
			delete(s.seen, s.seenOrder[0])
			s.seenOrder = s.seenOrder[1:]
		}
		s.seen[change.ID] = struct{}{}
		s.seenOrder = append(s.seenOrder, change.ID)
	}
	s.generation++
}

// Snapshot returns the cached snapshot, refreshing it first when stale.
func (s *Synchronizer) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	current, fresh := s.current, s.freshAt == s.generation
	s.mu.RUnlock()
	if current != nil && fresh {
		return current, nil
	}
	return s.Refresh(ctx)
}

// Refresh refetches visitors and events and recomputes every aggregate.
// Concurrent callers share one refetch. The refetch is not bound to any one
// caller's ctx, so a caller that goes away does not fail the others.
func (s *Synchronizer) Refresh(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	gen := s.generation
	s.mu.RUnlock()

	detached := context.WithoutCancel(ctx)
	result := s.refreshes.DoChan(fmt.Sprintf("refresh-%d", gen), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(detached, refreshTimeout)
		defer cancel()
		return s.load(loadCtx, gen)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (s *Synchronizer) load(ctx context.Context, gen uint64) (*Snapshot, error) {
	start := s.now()
	snap, err := s.fetch(ctx)
	s.metrics.ObserveRefresh(s.now().Sub(start), err)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if gen >= s.freshAt {
		s.current = snap
		s.freshAt = gen
	}
	s.mu.Unlock()

	occ := snap.Dashboard.Occupancy
	s.metrics.SetOccupancy(occ.Registered, occ.CheckedIn, occ.CheckedOut)
	return snap, nil
}

func (s *Synchronizer) fetch(ctx context.Context) (*Snapshot, error) {
	visitorRows, err := s.loader.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list visitors: %w", err)
	}
	eventRows, err := s.loader.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list visit events: %w", err)
	}
	return &Snapshot{
		Dashboard:   analytics.Compute(visitorRows, eventRows, s.loc),
		Visitors:    visitorRows,
		Events:      eventRows,
		RefreshedAt: s.now().UTC(),
	}, nil
}

// Watch invalidates the shared cache on every change until ctx ends.
func (s *Synchronizer) Watch(ctx context.Context) error {
	sub, err := s.feed.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to changes: %w", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			s.logg.Error(ctx, "failed to close change subscription", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-sub.Changes():
			if !ok {
				return nil
			}
			s.applyChange(change)
		}
	}
}

// Session is one dashboard's live subscription.
type Session struct {
	sync    *Synchronizer
	sub     Subscription
	updates chan *Snapshot
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Open starts a session. Each change invalidates the cache once, and the
// session pushes the refetched snapshot on Updates. Close must be called to release the
// subscription.
func (s *Synchronizer) Open(ctx context.Context) (*Session, error) {
	sub, err := s.feed.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe to changes: %w", err)
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		sync:    s,
		sub:     sub,
		updates: make(chan *Snapshot, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go session.run(sessionCtx)
	return session, nil
}

// Updates yields the latest snapshot after each change. Older undelivered
// snapshots are replaced.
func (ss *Session) Updates() <-chan *Snapshot {
	return ss.updates
}

func (ss *Session) run(ctx context.Context) {
	defer close(ss.done)
	defer close(ss.updates)
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-ss.sub.Changes():
			if !ok {
				return
			}
			ss.sync.applyChange(change)
			snap, err := ss.sync.Snapshot(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				ss.sync.logg.Error(ctx, "live dashboard refresh failed", err)
				continue
			}
			ss.push(snap)
		}
	}
}

func (ss *Session) push(snap *Snapshot) {
	select {
	case <-ss.updates:
	default:
	}
	ss.updates <- snap
}

// Close ends the session and releases the subscription.
func (ss *Session) Close() error {
	var err error
	ss.once.Do(func() {
		ss.cancel()
		err = ss.sub.Close()
		<-ss.done
	})
	return err
}
