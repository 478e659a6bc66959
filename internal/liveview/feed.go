package liveview

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

// VisitorsTable scopes change notifications to the visitor table.
const VisitorsTable = "visitors"

const subscriptionBuffer = 16

// Change is one record-store change notification. ID is fresh per
// notification, so every subscriber of one publish sees the same ID.
type Change struct {
	ID        uuid.UUID `json:"id"`
	Table     string    `json:"table"`
	Op        string    `json:"op"`
	VisitorID uuid.UUID `json:"visitorId"`
	At        time.Time `json:"at"`
}

// Subscription delivers changes until closed. Close releases the underlying
// channel resource and closes Changes.
type Subscription interface {
	Changes() <-chan Change
	Close() error
}

// Feed opens change subscriptions.
type Feed interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

type redisPubSub interface {
	Publish(ctx context.Context, channel string, message any) error
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
	ChangeChannel(table string) string
}

// RedisFeed carries visitor changes over Redis pub/sub so every API instance
// sees writes made by any other.
type RedisFeed struct {
	client  redisPubSub
	channel string
	logg    *logger.Logger
}

func NewRedisFeed(client redisPubSub, logg *logger.Logger) *RedisFeed {
	return &RedisFeed{client: client, channel: client.ChangeChannel(VisitorsTable), logg: logg}
}

// Notify publishes a change for a visitor.
func (f *RedisFeed) Notify(ctx context.Context, op string, visitorID uuid.UUID) error {
	payload, err := json.Marshal(Change{ID: uuid.New(), Table: VisitorsTable, Op: op, VisitorID: visitorID, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, string(payload))
}

func (f *RedisFeed) Subscribe(ctx context.Context) (Subscription, error) {
	ps, err := f.client.Subscribe(ctx, f.channel)
	if err != nil {
		return nil, err
	}
	sub := &redisSubscription{ps: ps, out: make(chan Change, subscriptionBuffer)}
	go sub.pump(ctx, f.logg)
	return sub, nil
}

type redisSubscription struct {
	ps   *goredis.PubSub
	out  chan Change
	once sync.Once
}

func (s *redisSubscription) Changes() <-chan Change {
	return s.out
}

func (s *redisSubscription) pump(ctx context.Context, logg *logger.Logger) {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		change, err := decodeChange(msg.Payload)
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "payload", msg.Payload), "ignoring malformed change notification")
			}
			continue
		}
		deliver(s.out, change)
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
	})
	return err
}

func decodeChange(payload string) (Change, error) {
	var change Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return Change{}, err
	}
	if change.Table == "" {
		change.Table = VisitorsTable
	}
	return change, nil
}

// deliver never blocks; any pending change already forces a full refresh.
func deliver(out chan Change, change Change) {
	select {
	case out <- change:
	default:
	}
}

// MemoryFeed is an in-process feed for single-instance and sqlite setups.
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[*memorySubscription]struct{}
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[*memorySubscription]struct{})}
}

func (f *MemoryFeed) Notify(_ context.Context, op string, visitorID uuid.UUID) error {
	change := Change{ID: uuid.New(), Table: VisitorsTable, Op: op, VisitorID: visitorID, At: time.Now().UTC()}
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		deliver(sub.out, change)
	}
	return nil
}

func (f *MemoryFeed) Subscribe(context.Context) (Subscription, error) {
	sub := &memorySubscription{feed: f, out: make(chan Change, subscriptionBuffer)}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub, nil
}

// Subscribers reports how many subscriptions are open.
func (f *MemoryFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type memorySubscription struct {
	feed *MemoryFeed
	out  chan Change
	once sync.Once
}

func (s *memorySubscription) Changes() <-chan Change {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		close(s.out)
		s.feed.mu.Unlock()
	})
	return nil
}
