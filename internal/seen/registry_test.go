package seen

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hyperjump/promptforge/internal/config"
)

func exercise(t *testing.T, r Registry) {
	t.Helper()
	ctx := context.Background()
	if err := r.Add(ctx, "1", "2", "", "2"); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(ctx); err != nil {
		t.Fatal(err)
	}
	n, err := r.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestMemoryRegistry(t *testing.T) {
	exercise(t, NewMemoryRegistry())
}

func TestRedisRegistry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisRegistryFromClient(rdb, "")
	defer r.Close()

	exercise(t, r)
	if !mr.Exists(DefaultKey) {
		t.Errorf("expected set %s to exist", DefaultKey)
	}
}

func TestNewRegistry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	r, err := NewRegistry(ctx, config.SeenConfig{Type: TypeRedis, RedisURL: "redis://" + mr.Addr(), Key: "k"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, ok := r.(*RedisRegistry); !ok {
		t.Errorf("got %T", r)
	}

	if r, err := NewRegistry(ctx, config.SeenConfig{}, nil); err != nil {
		t.Fatal(err)
	} else if _, ok := r.(*MemoryRegistry); !ok {
		t.Errorf("got %T", r)
	}

	if _, err := NewRegistry(ctx, config.SeenConfig{Type: "etcd"}, nil); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestEstimateNew(t *testing.T) {
	tests := []struct {
		total, seen, want int64
	}{
		{100, 40, 60},
		{40, 100, 0},
		{-1, 0, 0},
		{10, 10, 0},
	}
	for _, tt := range tests {
		if got := EstimateNew(tt.total, tt.seen); got != tt.want {
			t.Errorf("EstimateNew(%d, %d) = %d, want %d", tt.total, tt.seen, got, tt.want)
		}
	}
}
