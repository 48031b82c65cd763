package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/promptforge/internal/embedding"
	"github.com/hyperjump/promptforge/internal/models"
	"github.com/hyperjump/promptforge/internal/seen"
	"github.com/hyperjump/promptforge/internal/vector"
)

const dims = 16

type countingEmbedder struct {
	inner *embedding.HashEmbedder
	calls int
	fail  map[string]bool
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.fail[text] {
		return nil, errors.New("model unavailable")
	}
	return c.inner.Embed(ctx, text)
}

func newTestPipeline(t *testing.T, opts ...PipelineOption) (*Pipeline, *vector.MemoryIndex, *countingEmbedder) {
	t.Helper()
	idx, err := vector.NewMemoryIndex(dims)
	if err != nil {
		t.Fatal(err)
	}
	emb := &countingEmbedder{inner: embedding.NewHashEmbedder(dims)}
	return NewPipeline(idx, emb, opts...), idx, emb
}

func rawItem(id int, category, prompt string) models.RawItem {
	b, _ := json.Marshal(map[string]any{
		"id":        id,
		"url":       fmt.Sprintf("https://img.example/%d.png", id),
		"baseModel": category,
		"meta":      map[string]any{"prompt": prompt, "steps": 30},
	})
	return b
}

func checkBalanced(t *testing.T, s models.RunStats) {
	t.Helper()
	if !s.Balanced() {
		t.Errorf("counters not conserved: %+v", s)
	}
}

func TestProcess_IdempotentUpsert(t *testing.T) {
	p, idx, emb := newTestPipeline(t)
	ctx := context.Background()
	items := []models.RawItem{rawItem(1, "SDXL 1.0", "a red fox in snow")}

	first := p.Process(ctx, items, []string{"SDXL 1.0"})
	second := p.Process(ctx, items, []string{"SDXL 1.0"})

	if first.Stored != 1 || second.Stored != 0 || second.Skipped != 1 {
		t.Errorf("first = %+v second = %+v", first, second)
	}
	if n, _ := idx.Count(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	if emb.calls != 1 {
		t.Errorf("duplicate should not be re-embedded, embed calls = %d", emb.calls)
	}
	checkBalanced(t, first)
	checkBalanced(t, second)
}

func TestProcess_Outcomes(t *testing.T) {
	p, idx, emb := newTestPipeline(t)
	emb.fail = map[string]bool{"broken prompt": true}
	ctx := context.Background()

	items := []models.RawItem{
		rawItem(1, "A", "castle at dusk"),
		json.RawMessage(`null`),
		json.RawMessage(`{"id":2}`),
		json.RawMessage(`{"id":`),
		rawItem(3, "A", "   "),
		rawItem(4, "Unknown", "outside the list"),
		rawItem(5, "A", "broken prompt"),
		rawItem(6, "B", "harbor   at\nnight"),
	}
	stats := p.Process(ctx, items, []string{"A", "B"})

	want := models.RunStats{Processed: 8, Stored: 2, Skipped: 4, Errors: 2}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	checkBalanced(t, stats)
	for id, stored := range map[string]bool{"1": true, "6": true, "4": false, "5": false} {
		if ok, _ := idx.Exists(ctx, id); ok != stored {
			t.Errorf("Exists(%s) = %v, want %v", id, ok, stored)
		}
	}
}

func TestProcess_CategoryFilterExactness(t *testing.T) {
	p, idx, _ := newTestPipeline(t)
	ctx := context.Background()

	stats := p.Process(ctx, []models.RawItem{
		rawItem(1, "Unknown", "misty forest"),
		json.RawMessage(`{"id":2,"url":"u","meta":{"prompt":"misty forest"}}`),
	}, []string{"A", "B"})
	if stats.Skipped != 2 || stats.Stored != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	vec, _ := embedding.NewHashEmbedder(dims).Embed(ctx, "misty forest")
	hits, err := idx.Query(ctx, vec, vector.Filter{models.FieldCategory: "A"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %+v", hits)
	}
}

func TestProcess_EmptyAllowListSkipsEverything(t *testing.T) {
	p, _, emb := newTestPipeline(t)
	stats := p.Process(context.Background(), []models.RawItem{rawItem(1, "A", "x")}, nil)
	if stats.Skipped != 1 || emb.calls != 0 {
		t.Errorf("stats = %+v calls = %d", stats, emb.calls)
	}
}

func TestProcess_CancellationBetweenItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var steps []models.RunStats
	p, _, _ := newTestPipeline(t, WithProgress(func(s models.RunStats) {
		steps = append(steps, s)
		if s.Processed == 2 {
			cancel()
		}
	}))

	stats := p.Process(ctx, []models.RawItem{
		rawItem(1, "A", "one"),
		rawItem(2, "A", "two"),
		rawItem(3, "A", "three"),
	}, []string{"A"})
	if stats.Processed != 2 || stats.Stored != 2 {
		t.Errorf("stats = %+v", stats)
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].Processed < steps[i-1].Processed || steps[i].Stored < steps[i-1].Stored {
			t.Errorf("counters decreased: %+v -> %+v", steps[i-1], steps[i])
		}
	}
}

func TestProcess_RecordsSeenIDs(t *testing.T) {
	reg := seen.NewMemoryRegistry()
	p, _, _ := newTestPipeline(t, WithSeenRegistry(reg))
	ctx := context.Background()
	items := []models.RawItem{rawItem(1, "A", "one"), rawItem(2, "Z", "two")}

	p.Process(ctx, items, []string{"A"})
	p.Process(ctx, items, []string{"A"})

	if n, _ := reg.Count(ctx); n != 1 {
		t.Errorf("seen = %d, want 1", n)
	}
}

func TestSweep(t *testing.T) {
	p, idx, _ := newTestPipeline(t)
	ctx := context.Background()
	stats := p.Process(ctx, []models.RawItem{
		rawItem(1, "A", "alpha one"),
		rawItem(2, "A", "alpha two"),
		rawItem(3, "B", "beta"),
		rawItem(4, "C", "gamma"),
	}, []string{"A", "B", "C"})
	if stats.Stored != 4 {
		t.Fatalf("stats = %+v", stats)
	}

	n, err := p.Sweep(ctx, []string{"A"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	for id, want := range map[string]bool{"1": true, "2": true, "3": false, "4": false} {
		if ok, _ := idx.Exists(ctx, id); ok != want {
			t.Errorf("Exists(%s) = %v, want %v", id, ok, want)
		}
	}
}

func TestSweep_EmptyAllowList(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	if _, err := p.Sweep(context.Background(), nil); !errors.Is(err, ErrEmptyAllowList) {
		t.Errorf("err = %v", err)
	}
}
