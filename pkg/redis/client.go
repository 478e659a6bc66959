package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

const defaultNamespace = "vp"

var errNotInitialized = errors.New("redis client not initialized")

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// store is the slice of the go-redis command set the service touches.
type store interface {
	redis.Scripter
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	Publish(context.Context, string, any) *redis.IntCmd
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore is what the HTTP replay cache and the notification dedup
// manager need.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

// Keyspace prefixes every key and channel with the deployment namespace so
// several environments can share one Redis.
type Keyspace string

// Key joins the non-empty parts under the namespace.
func (k Keyspace) Key(parts ...string) string {
	ns := strings.TrimSpace(string(k))
	if ns == "" {
		ns = defaultNamespace
	}
	out := make([]string, 0, len(parts)+1)
	out = append(out, ns)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, ":")
}

// Client is the shared Redis handle for idempotency, leases and the
// dashboard change feed.
type Client struct {
	cmd  store
	conn *redis.Client
	keys Keyspace
}

// New dials Redis and fails fast when the server does not answer.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn := redis.NewClient(opts)
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	client := &Client{cmd: conn, conn: conn, keys: Keyspace(cfg.Namespace)}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"addr":      opts.Addr,
			"db":        opts.DB,
			"namespace": client.keys.Key(),
		}), "redis connection established")
	}
	return client, nil
}

// optionsFromConfig prefers the URL form; explicit pool and timeout settings
// fill whatever the URL leaves unset.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
		if opts.DB == 0 {
			opts.DB = cfg.DB
		}
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, errors.New("redis url or address is required")
	}

	fillInt(&opts.PoolSize, cfg.PoolSize)
	fillInt(&opts.MinIdleConns, cfg.MinIdleConns)
	fillDuration(&opts.DialTimeout, cfg.DialTimeout)
	fillDuration(&opts.ReadTimeout, cfg.ReadTimeout)
	fillDuration(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func fillInt(dst *int, v int) {
	if *dst == 0 && v > 0 {
		*dst = v
	}
}

func fillDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 && v > 0 {
		*dst = v
	}
}

func (c *Client) ready() error {
	if c == nil || c.cmd == nil {
		return errNotInitialized
	}
	return nil
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.cmd.Set(ctx, key, value, ttl).Err()
}

// Get returns redis.Nil when key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	return c.cmd.Get(ctx, key).Result()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.cmd.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.cmd.Del(ctx, keys...).Err()
}

// CompareAndDelete removes key only if it still holds value. It reports
// whether a delete happened.
func (c *Client) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	n, err := releaseScript.Run(ctx, c.cmd, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("compare and delete %s: %w", key, err)
	}
	return n == 1, nil
}

func (c *Client) Publish(ctx context.Context, channel string, message any) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.cmd.Publish(ctx, channel, message).Err()
}

// Subscribe opens a dedicated pub/sub connection and waits for the
// subscription to be confirmed. The caller must Close the handle.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	if c == nil || c.conn == nil {
		return nil, errNotInitialized
	}
	if len(channels) == 0 {
		return nil, errors.New("at least one channel is required")
	}
	sub := c.conn.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", strings.Join(channels, ","), err)
	}
	return sub, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.cmd.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// IdempotencyKey is <ns>:idempotency:<scope>:<id>.
func (c *Client) IdempotencyKey(scope, id string) string {
	return c.keyspace().Key("idempotency", scope, id)
}

// ChangeChannel is the pub/sub channel carrying row changes for table.
func (c *Client) ChangeChannel(table string) string {
	return c.keyspace().Key("changes", table)
}

// LockKey names a worker lease, scoped by job and environment.
func (c *Client) LockKey(job, env string) string {
	if env == "" {
		env = "local"
	}
	return c.keyspace().Key(job, "lock", env)
}

func (c *Client) keyspace() Keyspace {
	if c == nil {
		return Keyspace("")
	}
	return c.keys
}
