package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/classhub/throttle/core"
	"github.com/classhub/throttle/validate"
)

const (
	// DefaultPrefix namespaces every key written to Redis
	DefaultPrefix = "throttle:"

	// DefaultTimeout bounds each Redis round trip
	DefaultTimeout = time.Second

	scanBatch = 500
)

var marshalRecord = json.Marshal

// RedisBackend keeps bucket state in Redis so that every instance of the
// service shares one quota per key.
//
// A check is GET followed by SET with expiry, without compare-and-swap. Two
// instances checking the same key in the same instant may both admit; rate
// limiting tolerates that.
type RedisBackend struct {
	client  redis.UniversalClient
	bucket  *core.TokenBucket
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Ensure RedisBackend implements Backend interface
var _ Backend = (*RedisBackend)(nil)

// record is the stored form of core.Entry
type record struct {
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"lastRefill"` // Unix milliseconds
}

// RedisConfig for creating a Redis client
type RedisConfig struct {
	Addr         string        // Redis address (e.g., "localhost:6379")
	Password     string        // Redis password (empty for no auth)
	DB           int           // Redis database number
	DialTimeout  time.Duration // Default: 5s
	ReadTimeout  time.Duration // Default: 1s
	WriteTimeout time.Duration // Default: 1s
	PoolSize     int           // Default: go-redis default
}

// NewRedisClient creates a go-redis client from config
func NewRedisClient(config RedisConfig) *redis.Client {
	dial := config.DialTimeout
	if dial == 0 {
		dial = 5 * time.Second
	}
	read := config.ReadTimeout
	if read == 0 {
		read = time.Second
	}
	write := config.WriteTimeout
	if write == 0 {
		write = time.Second
	}

	return redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  dial,
		ReadTimeout:  read,
		WriteTimeout: write,
		PoolSize:     config.PoolSize,
	})
}

// NewRedisBackend creates a backend for config on top of client.
// Entries expire after config.EffectiveTTL() without activity.
func NewRedisBackend(client redis.UniversalClient, config core.Config, opts ...Option) (*RedisBackend, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	bucket, err := core.NewTokenBucket(config)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return &RedisBackend{
		client:  client,
		bucket:  bucket,
		prefix:  o.prefix,
		ttl:     config.EffectiveTTL(),
		timeout: o.timeout,
		now:     o.now,
		logger:  o.logger,
	}, nil
}

// RedisFactory returns a Factory that namespaces each limiter under
// prefix + name + ":" on the shared client.
func RedisFactory(client redis.UniversalClient, opts ...Option) Factory {
	return func(name string, config core.Config) (Backend, error) {
		o := applyOptions(opts)
		scoped := append(append([]Option{}, opts...), WithPrefix(o.prefix+name+":"))
		return NewRedisBackend(client, config, scoped...)
	}
}

// IsAllowed loads, recomputes and stores the entry for key. Store failures
// produce VerdictBackendUnavailable; denials still refresh the expiry.
func (r *RedisBackend) IsAllowed(ctx context.Context, key string) Decision {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	redisKey := r.prefix + key

	prev, err := r.load(ctx, redisKey)
	if err != nil {
		r.warn("redis get failed", key, err)
		return Unavailable(err)
	}

	next, allowed := r.bucket.IsAllowed(prev, r.now())

	data, err := encode(next)
	if err != nil {
		r.warn("encoding rate limit entry failed", key, err)
		return Unavailable(err)
	}
	if err := r.client.Set(ctx, redisKey, data, r.ttl).Err(); err != nil {
		r.warn("redis set failed", key, err)
		return Unavailable(err)
	}

	return Decision{
		Verdict:   VerdictOK,
		Allowed:   allowed,
		Remaining: r.bucket.Remaining(&next),
	}
}

// Remaining reads the stored entry without writing. On error it returns
// MaxTokens alongside the error.
func (r *RedisBackend) Remaining(ctx context.Context, key string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prev, err := r.load(ctx, r.prefix+key)
	if err != nil {
		r.warn("redis get failed", key, err)
		return r.bucket.Config().MaxTokens, err
	}
	return r.bucket.Remaining(prev), nil
}

// Reset deletes the stored entry for key.
func (r *RedisBackend) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		r.warn("redis del failed", key, err)
		return err
	}
	return nil
}

// ClearAll deletes every key under the backend prefix.
func (r *RedisBackend) ClearAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	batch := make([]string, 0, scanBatch)
	iter := r.client.Scan(ctx, 0, r.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return r.client.Del(ctx, batch...).Err()
	}
	return nil
}

// Size counts distinct keys under the backend prefix. SCAN may return a key
// more than once.
func (r *RedisBackend) Size(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	seen := make(map[string]struct{})
	iter := r.client.Scan(ctx, 0, r.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		seen[iter.Val()] = struct{}{}
	}
	return len(seen), iter.Err()
}

// Status pings Redis and counts keys.
func (r *RedisBackend) Status(ctx context.Context) Status {
	status := Status{Kind: KindNetworked}

	pingCtx, cancel := context.WithTimeout(ctx, r.timeout)
	err := r.client.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		status.Error = err.Error()
		return status
	}

	size, err := r.Size(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Healthy = true
	status.Entries = size
	return status
}

func (r *RedisBackend) Kind() Kind {
	return KindNetworked
}

// load returns nil for a missing or unreadable entry and an error only when
// Redis itself failed.
func (r *RedisBackend) load(ctx context.Context, redisKey string) (*core.Entry, error) {
	data, err := r.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry, err := decode(data)
	if err != nil {
		r.logger.Debug("discarding corrupt rate limit entry",
			"key", validate.MaskKey(redisKey),
			"error", err,
		)
		return nil, nil
	}
	return entry, nil
}

func (r *RedisBackend) warn(msg, key string, err error) {
	r.logger.Warn(msg,
		"key", validate.MaskKey(key),
		"prefix", r.prefix,
		"error", err,
	)
}

func encode(entry core.Entry) ([]byte, error) {
	return marshalRecord(record{
		Tokens:     entry.Tokens,
		LastRefill: entry.LastRefill.UnixMilli(),
	})
}

func decode(data []byte) (*core.Entry, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if math.IsNaN(rec.Tokens) || math.IsInf(rec.Tokens, 0) || rec.LastRefill <= 0 {
		return nil, fmt.Errorf("invalid entry %s", data)
	}
	return &core.Entry{
		Tokens:     rec.Tokens,
		LastRefill: time.UnixMilli(rec.LastRefill),
	}, nil
}
