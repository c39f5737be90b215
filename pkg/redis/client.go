package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	keyNamespace      = "cm"
	idempotencyPrefix = "idempotency"
	cartPrefix        = "cart"
	orderPrefix       = "order"
	lockPrefix        = "lock"
)

var errNotInitialized = errors.New("redis client not initialized")

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Incr(context.Context, string) *redis.IntCmd
	Expire(context.Context, string, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	ZAdd(context.Context, string, ...redis.Z) *redis.IntCmd
	ZRangeByScore(context.Context, string, *redis.ZRangeBy) *redis.StringSliceCmd
	ZRemRangeByScore(context.Context, string, string, string) *redis.IntCmd
	ZCard(context.Context, string) *redis.IntCmd
	SAdd(context.Context, string, ...any) *redis.IntCmd
	SRem(context.Context, string, ...any) *redis.IntCmd
	SRandMemberN(context.Context, string, int64) *redis.StringSliceCmd
	Publish(context.Context, string, any) *redis.IntCmd
}

// Client wraps the redis connection helpers needed by the platform.
type Client struct {
	store    cmdable
	scripter redis.Scripter
	raw      *redis.Client
}

// appendSequencedScript takes the next counter value (kept above ARGV[1]), stores
// "<seq>:<payload>" scored by it and marks ARGV[4] in the set at KEYS[3].
var appendSequencedScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
local floor = tonumber(ARGV[1])
if seq <= floor then
	redis.call('SET', KEYS[1], floor)
	seq = redis.call('INCR', KEYS[1])
end
redis.call('ZADD', KEYS[2], seq, seq .. ':' .. ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[2], ttl)
end
redis.call('SADD', KEYS[3], ARGV[4])
return seq
`)

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore exposes minimal operations used by idempotency helpers.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	Set(context.Context, string, any, time.Duration) error
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// New bootstraps a Redis client with pooling/timeouts and verifies connectivity.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "redis connection established")
	}
	return &Client{store: raw, scripter: raw, raw: raw}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL == "" && cfg.Address == "" {
		return nil, errors.New("redis url or address is required")
	}
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	}
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// IsNil reports whether err is the redis "key does not exist" sentinel.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Set stores a string value with an optional TTL.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Set(ctx, key, value, ttl).Err()
}

// Get returns a string value stored at key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.store == nil {
		return "", errNotInitialized
	}
	return c.store.Get(ctx, key).Result()
}

// SetNX sets a value only if the key does not exist yet.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	return c.store.SetNX(ctx, key, value, ttl).Result()
}

// Incr increments the counter stored at key.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	if c.store == nil {
		return 0, errNotInitialized
	}
	return c.store.Incr(ctx, key).Result()
}

// IncrWithTTL increments and ensures the key has the supplied TTL on the first increment.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := c.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	if ttl > 0 && count == 1 {
		if _, expErr := c.store.Expire(ctx, key, ttl).Result(); expErr != nil {
			return count, expErr
		}
	}
	return count, nil
}

// Expire refreshes the TTL on key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Expire(ctx, key, ttl).Err()
}

// Del removes the provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Del(ctx, keys...).Err()
}

// ZAddScored adds member to the sorted set at key with the given score.
func (c *Client) ZAddScored(ctx context.Context, key string, score int64, member string) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member}).Err()
}

// AppendSequenced assigns the next value of seqKey and adds payload to the sorted set at zsetKey
// under that score in one step, so a flush that has seen seq N has also seen every op below it.
// Members are stored as "<seq>:<payload>"; setMember is added to setKey.
func (c *Client) AppendSequenced(ctx context.Context, seqKey, zsetKey, setKey string, floor int64, ttl time.Duration, payload, setMember string) (int64, error) {
	if c.scripter == nil {
		return 0, errNotInitialized
	}
	keys := []string{seqKey, zsetKey, setKey}
	return appendSequencedScript.Run(ctx, c.scripter, keys, floor, payload, ttl.Milliseconds(), setMember).Int64()
}

// ZRangeAbove returns members whose score is strictly greater than min, lowest first.
func (c *Client) ZRangeAbove(ctx context.Context, key string, min int64) ([]string, error) {
	if c.store == nil {
		return nil, errNotInitialized
	}
	return c.store.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(min, 10),
		Max: "+inf",
	}).Result()
}

// ZRemUpTo removes members whose score is less than or equal to max.
func (c *Client) ZRemUpTo(ctx context.Context, key string, max int64) (int64, error) {
	if c.store == nil {
		return 0, errNotInitialized
	}
	return c.store.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(max, 10)).Result()
}

// ZCard returns the sorted set cardinality.
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	if c.store == nil {
		return 0, errNotInitialized
	}
	return c.store.ZCard(ctx, key).Result()
}

// SAdd adds members to the set at key.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.SAdd(ctx, key, toAny(members)...).Err()
}

// SRem removes members from the set at key.
func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.SRem(ctx, key, toAny(members)...).Err()
}

// SRandMembers samples up to count members from the set at key.
func (c *Client) SRandMembers(ctx context.Context, key string, count int64) ([]string, error) {
	if c.store == nil {
		return nil, errNotInitialized
	}
	return c.store.SRandMemberN(ctx, key, count).Result()
}

// Publish sends payload on channel.
func (c *Client) Publish(ctx context.Context, channel string, payload any) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a pubsub subscription on the given channels. Callers must Close it.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	if c.raw == nil {
		return nil, errNotInitialized
	}
	sub := c.raw.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}
	return sub, nil
}

// IdempotencyKey returns a namespaced key for idempotency storage.
func (c *Client) IdempotencyKey(scope, id string) string {
	return c.buildKey(idempotencyPrefix, scope, id)
}

// CartCacheKey holds the cached cart document for a user.
func (c *Client) CartCacheKey(userID string) string {
	return c.buildKey(cartPrefix, "doc", userID)
}

// CartOpsKey holds the pending operation queue for a user.
func (c *Client) CartOpsKey(userID string) string {
	return c.buildKey(cartPrefix, "ops", userID)
}

// CartSeqKey is the per-user operation sequence counter.
func (c *Client) CartSeqKey(userID string) string {
	return c.buildKey(cartPrefix, "seq", userID)
}

// CartAttemptsKey counts consecutive failed flushes for a user.
func (c *Client) CartAttemptsKey(userID string) string {
	return c.buildKey(cartPrefix, "attempts", userID)
}

// CartDirtyKey is the set of users with unflushed operations.
func (c *Client) CartDirtyKey() string {
	return c.buildKey(cartPrefix, "dirty")
}

// OrderChannel is the live update channel for an order.
func (c *Client) OrderChannel(orderID string) string {
	return c.buildKey(orderPrefix, orderID)
}

// LockKey returns a namespaced key for distributed locks.
func (c *Client) LockKey(name string) string {
	return c.buildKey(lockPrefix, name)
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return errNotInitialized
	}
	return c.store.Ping(ctx).Err()
}

// Close shuts down the underlying client if available.
func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func (c *Client) buildKey(parts ...string) string {
	clean := []string{keyNamespace}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			clean = append(clean, part)
		}
	}
	return strings.Join(clean, ":")
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
