package risk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

const defaultRedisPrefix = "gatekeeper:ipblock:"

// The stored value is the expiry in unix milliseconds. A shorter expiry never replaces a longer one.
// ARGV[2] is the key deadline, one millisecond past the last blocked instant.
var extendBlockLua = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local requested = tonumber(ARGV[1])
if current and tonumber(current) >= requested then
	return tonumber(current)
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('PEXPIREAT', KEYS[1], ARGV[2])
return requested
`)

// RedisBlockList shares block entries between instances through Redis.
// Keys expire on their own, so Prune is a no-op.
type RedisBlockList struct {
	client *redis.Client
	prefix string
}

// NewRedisBlockList connects and pings the configured server
func NewRedisBlockList(cfg config.BlockListConfig) (*RedisBlockList, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisBlockListFromClient(client, cfg.RedisPrefix), nil
}

func NewRedisBlockListFromClient(client *redis.Client, prefix string) *RedisBlockList {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBlockList{client: client, prefix: prefix}
}

func (b *RedisBlockList) key(ip string) string {
	return b.prefix + ip
}

func (b *RedisBlockList) Lookup(ctx context.Context, ip string, now time.Time) (models.IPBlockEntry, bool, error) {
	raw, err := b.client.Get(ctx, b.key(ip)).Result()
	if errors.Is(err, redis.Nil) {
		return models.IPBlockEntry{}, false, nil
	}
	if err != nil {
		return models.IPBlockEntry{}, false, fmt.Errorf("lookup block entry: %w", err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return models.IPBlockEntry{}, false, fmt.Errorf("malformed block entry for %s: %w", ip, err)
	}

	entry := models.IPBlockEntry{IPAddress: ip, ExpiresAt: time.UnixMilli(ms)}
	if !entry.Active(now) {
		return models.IPBlockEntry{}, false, nil
	}
	return entry, true, nil
}

func (b *RedisBlockList) Extend(ctx context.Context, ip string, until time.Time) (models.IPBlockEntry, error) {
	ms, err := extendBlockLua.Run(ctx, b.client, []string{b.key(ip)}, until.UnixMilli(), until.UnixMilli()+1).Int64()
	if err != nil {
		return models.IPBlockEntry{}, fmt.Errorf("extend block entry: %w", err)
	}
	return models.IPBlockEntry{IPAddress: ip, ExpiresAt: time.UnixMilli(ms)}, nil
}

func (b *RedisBlockList) Remove(ctx context.Context, ip string) error {
	return b.client.Del(ctx, b.key(ip)).Err()
}

func (b *RedisBlockList) Prune(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (b *RedisBlockList) Close() error {
	return b.client.Close()
}
