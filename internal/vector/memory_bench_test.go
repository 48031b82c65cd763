package vector

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/promptforge/internal/models"
)

func benchIndex(b *testing.B, n int) *MemoryIndex {
	b.Helper()
	idx, _ := NewMemoryIndex(384)
	ctx := context.Background()
	categories := []string{"Pony", "SDXL 1.0", "SD 1.5"}
	for i := 0; i < n; i++ {
		v := make([]float32, 384)
		v[0] = float32(i) / float32(n)
		v[1] = 1
		id := fmt.Sprint(i)
		_ = idx.Upsert(ctx, id, v, payload(id, categories[i%len(categories)]))
	}
	return idx
}

func BenchmarkMemoryIndexQuery(b *testing.B) {
	idx := benchIndex(b, 1000)
	ctx := context.Background()
	query := make([]float32, 384)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Query(ctx, query, nil, 10)
	}
}

func BenchmarkMemoryIndexQueryFiltered(b *testing.B) {
	idx := benchIndex(b, 1000)
	ctx := context.Background()
	query := make([]float32, 384)
	query[0] = 1.0
	filter := Filter{models.FieldCategory: "Pony"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Query(ctx, query, filter, 10)
	}
}
