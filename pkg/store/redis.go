package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/logflow/waitlens/pkg/export"
)

// RedisConfig configures the Redis run archive.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`

	// Prefix is prepended to all keys (e.g., "waitlens:runs:")
	Prefix string `yaml:"prefix"`

	// TTL is the time-to-live for run keys (0 = no expiration)
	TTL time.Duration `yaml:"ttl"`

	Timeout time.Duration `yaml:"timeout"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address: address,
		Prefix:  "waitlens:runs:",
		Timeout: 5 * time.Second,
	}
}

// RedisClient is the subset of *redis.Client the backend uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
}

// RedisBackend stores each report as a string key and keeps a hash of
// entries for listing.
type RedisBackend struct {
	cfg    RedisConfig
	client RedisClient
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisConfig("").Prefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, storeError(err, "redis", "connect", "")
	}
	return NewRedisBackendWithClient(cfg, client), nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(cfg RedisConfig, client RedisClient) *RedisBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &RedisBackend{cfg: cfg, client: client}
}

func (b *RedisBackend) key(id string) string {
	return b.cfg.Prefix + "run:" + id
}

func (b *RedisBackend) indexKey() string {
	return b.cfg.Prefix + "index"
}

// Save stores the report and its index entry.
func (b *RedisBackend) Save(ctx context.Context, rep *export.RunReport) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var buf bytes.Buffer
	if err := export.WriteJSON(&buf, rep); err != nil {
		return storeError(err, "redis", "encode", rep.RunID)
	}
	entry, err := json.Marshal(entryOf(rep, int64(buf.Len())))
	if err != nil {
		return storeError(err, "redis", "encode", rep.RunID)
	}

	if err := b.client.Set(ctx, b.key(rep.RunID), buf.Bytes(), b.cfg.TTL).Err(); err != nil {
		return storeError(err, "redis", "save", rep.RunID)
	}
	return storeError(b.client.HSet(ctx, b.indexKey(), rep.RunID, string(entry)).Err(), "redis", "index", rep.RunID)
}

// Load retrieves a report.
func (b *RedisBackend) Load(ctx context.Context, id string) (*export.RunReport, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storeError(ErrNotFound, "redis", "load", id)
	}
	if err != nil {
		return nil, storeError(err, "redis", "load", id)
	}
	rep, err := export.ReadJSON(bytes.NewReader(data))
	if err != nil {
		return nil, storeError(err, "redis", "decode", id)
	}
	return rep, nil
}

// List returns the index entries. Entries whose report expired are dropped
// from the index.
func (b *RedisBackend) List(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	fields, err := b.client.HGetAll(ctx, b.indexKey()).Result()
	if err != nil {
		return nil, storeError(err, "redis", "list", "")
	}

	entries := make([]Entry, 0, len(fields))
	for id, raw := range fields {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		if b.cfg.TTL > 0 && time.Since(e.CreatedAt) > b.cfg.TTL {
			b.client.HDel(ctx, b.indexKey(), id)
			continue
		}
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

// Delete removes the report and its index entry.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	n, err := b.client.Del(ctx, b.key(id)).Result()
	if err != nil {
		return storeError(err, "redis", "delete", id)
	}
	if err := b.client.HDel(ctx, b.indexKey(), id).Err(); err != nil {
		return storeError(err, "redis", "delete", id)
	}
	if n == 0 {
		return storeError(ErrNotFound, "redis", "delete", id)
	}
	return nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string {
	return "redis"
}
