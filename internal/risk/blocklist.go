package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

// BlockList is the shared IP block state. Implementations must be safe for concurrent use.
// An entry applies while now <= ExpiresAt; expired entries are ignored on read.
type BlockList interface {
	// Lookup returns the active entry for ip, if any.
	Lookup(ctx context.Context, ip string, now time.Time) (models.IPBlockEntry, bool, error)
	// Extend blocks ip until the later of until and any existing expiry.
	Extend(ctx context.Context, ip string, until time.Time) (models.IPBlockEntry, error)
	Remove(ctx context.Context, ip string) error
	// Prune drops entries expired at now and returns how many were removed.
	Prune(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// NewBlockList builds the block list selected by cfg.Driver
func NewBlockList(cfg config.BlockListConfig) (BlockList, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = config.BlockListMemory
	}

	switch driver {
	case config.BlockListMemory:
		return NewMemoryBlockList(), nil
	case config.BlockListRedis:
		return NewRedisBlockList(cfg)
	default:
		return nil, fmt.Errorf("unsupported block list driver: %s", driver)
	}
}

// MemoryBlockList keeps entries in a process-local map
type MemoryBlockList struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewMemoryBlockList() *MemoryBlockList {
	return &MemoryBlockList{entries: make(map[string]time.Time)}
}

func (b *MemoryBlockList) Lookup(_ context.Context, ip string, now time.Time) (models.IPBlockEntry, bool, error) {
	b.mu.RLock()
	expiresAt, ok := b.entries[ip]
	b.mu.RUnlock()

	entry := models.IPBlockEntry{IPAddress: ip, ExpiresAt: expiresAt}
	if !ok || !entry.Active(now) {
		return models.IPBlockEntry{}, false, nil
	}
	return entry, true, nil
}

func (b *MemoryBlockList) Extend(_ context.Context, ip string, until time.Time) (models.IPBlockEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.entries[ip]; ok && current.After(until) {
		until = current
	}
	b.entries[ip] = until
	return models.IPBlockEntry{IPAddress: ip, ExpiresAt: until}, nil
}

func (b *MemoryBlockList) Remove(_ context.Context, ip string) error {
	b.mu.Lock()
	delete(b.entries, ip)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBlockList) Prune(_ context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for ip, expiresAt := range b.entries {
		if now.After(expiresAt) {
			delete(b.entries, ip)
			removed++
		}
	}
	return removed, nil
}

// Len is the number of stored entries, expired or not
func (b *MemoryBlockList) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *MemoryBlockList) Close() error { return nil }
