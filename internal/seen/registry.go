// Package seen tracks upstream item IDs already observed locally. The count
// feeds the approximate "new items available" estimate; it is a cache, not
// a source of truth.
package seen

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/promptforge/internal/config"
)

// Registry records seen IDs.
type Registry interface {
	Add(ctx context.Context, ids ...string) error
	Count(ctx context.Context) (int64, error)
	Close() error
}

const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

// NewRegistry builds the registry selected by cfg.Type.
func NewRegistry(ctx context.Context, cfg config.SeenConfig, logger *zap.Logger) (Registry, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return NewMemoryRegistry(), nil
	case TypeRedis:
		r, err := NewRedisRegistry(ctx, cfg.RedisURL, cfg.Key)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Info("seen registry connected", zap.String("type", TypeRedis), zap.String("key", cfg.Key))
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown seen registry type: %s", cfg.Type)
	}
}

// MemoryRegistry is a process-local set.
type MemoryRegistry struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{ids: make(map[string]struct{})}
}

func (m *MemoryRegistry) Add(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			m.ids[id] = struct{}{}
		}
	}
	return nil
}

func (m *MemoryRegistry) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.ids)), nil
}

func (m *MemoryRegistry) Close() error { return nil }

// EstimateNew returns max(0, upstreamTotal-seen). A negative upstream total
// means unknown and yields 0.
func EstimateNew(upstreamTotal, seen int64) int64 {
	if upstreamTotal <= seen {
		return 0
	}
	return upstreamTotal - seen
}
