package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperjump/promptforge/internal/models"
	"github.com/hyperjump/promptforge/internal/vector"
)

type fixedEmbedder map[string][]float32

func (f fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := f[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func seedIndex(t *testing.T, emb fixedEmbedder, records map[string][2]string) vector.Index {
	t.Helper()
	idx, err := vector.NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for id, rec := range records {
		prompt, category := rec[0], rec[1]
		payload := models.Payload{
			models.FieldID:       id,
			models.FieldPrompt:   prompt,
			models.FieldCategory: category,
			models.FieldParams:   map[string]any{models.ParamSteps: int64(30)},
		}
		if err := idx.Upsert(ctx, id, emb[prompt], payload); err != nil {
			t.Fatal(err)
		}
	}
	return idx
}

func TestSimilar_CategoryScenario(t *testing.T) {
	emb := fixedEmbedder{
		"first a":  {0, 1, 0},
		"second a": {0.8, 0.6, 0},
		"only b":   {1, 0, 0},
		"query":    {1, 0, 0},
	}
	idx := seedIndex(t, emb, map[string][2]string{
		"1": {"first a", "A"},
		"2": {"second a", "A"},
		"3": {"only b", "B"},
	})
	svc := NewService(idx, emb)

	got, err := svc.Similar(context.Background(), "query", "A", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if got[0].ID != "2" || got[1].ID != "1" {
		t.Errorf("order = %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Score < got[1].Score {
		t.Errorf("scores not descending: %v, %v", got[0].Score, got[1].Score)
	}
	for _, ex := range got {
		if ex.Metadata[models.FieldCategory] != "A" {
			t.Errorf("example %s has category %v", ex.ID, ex.Metadata[models.FieldCategory])
		}
		if _, ok := ex.Metadata[models.FieldPrompt]; ok {
			t.Error("prompt should not be duplicated in metadata")
		}
	}
}

func TestSimilar_DefaultTopK(t *testing.T) {
	emb := fixedEmbedder{
		"x": {1, 0, 0},
		"y": {0, 1, 0},
		"z": {0, 0, 1},
	}
	idx := seedIndex(t, emb, map[string][2]string{
		"1": {"x", "A"},
		"2": {"y", "A"},
		"3": {"z", "A"},
	})
	got, err := NewService(idx, emb, WithTopK(2)).Similar(context.Background(), "x", "A", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "1" {
		t.Errorf("got %+v", got)
	}
}

func TestSimilar_Errors(t *testing.T) {
	idx, _ := vector.NewMemoryIndex(3)
	svc := NewService(idx, fixedEmbedder{})
	if _, err := svc.Similar(context.Background(), "   ", "A", 5); !errors.Is(err, models.ErrEmptyQuery) {
		t.Errorf("err = %v", err)
	}
	for _, category := range []string{"", "   "} {
		if _, err := svc.Similar(context.Background(), "x", category, 5); !errors.Is(err, models.ErrEmptyCategory) {
			t.Errorf("category %q: err = %v, want ErrEmptyCategory", category, err)
		}
	}
	if _, err := svc.Similar(context.Background(), "unknown", "A", 5); err == nil {
		t.Error("expected embed error")
	}
}
