package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/hyperjump/promptforge/pkg/utils"
)

func TestHashEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()
	a, err := e.Embed(ctx, "a knight in shining armor")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(ctx, "a knight in shining armor")
	if len(a) != 384 {
		t.Fatalf("len = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding should be deterministic")
		}
	}
	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("norm^2 = %v, want 1", sum)
	}
}

func TestHashEmbedder_SharedWordsAreCloser(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "castle on a hill at sunset")
	near, _ := e.Embed(ctx, "castle on a hill")
	far, _ := e.Embed(ctx, "portrait of a cat")
	if utils.Cosine(q, near) <= utils.Cosine(q, far) {
		t.Errorf("expected shared-word prompt to score higher: near=%v far=%v",
			utils.Cosine(q, near), utils.Cosine(q, far))
	}
}

func TestHashEmbedder_EmbedBatch(t *testing.T) {
	e := NewHashEmbedder(0)
	if e.Dimensions() != 384 {
		t.Errorf("default dimensions = %d", e.Dimensions())
	}
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil || len(out) != 2 {
		t.Fatalf("EmbedBatch = %d, %v", len(out), err)
	}
}
