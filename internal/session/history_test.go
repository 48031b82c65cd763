package session

import (
	"context"
	"path/filepath"
	"testing"
)

func TestHistoryIndex_FuzzyAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.bleve")
	ctx := context.Background()

	h, err := OpenHistoryIndex(path, WithFuzziness(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Index(ctx, &PromptPair{ID: 7, Original: "samurai", Refined: "samurai, cherry blossoms"}); err != nil {
		t.Fatal(err)
	}
	hits, err := h.Search(ctx, "samurei", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != 7 {
		t.Errorf("fuzzy hits = %+v", hits)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}

	h, err = OpenHistoryIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	if n, _ := h.DocCount(); n != 1 {
		t.Errorf("doc count after reopen = %d", n)
	}
	if err := h.Delete(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if hits, _ := h.Search(ctx, "samurai", 5); len(hits) != 0 {
		t.Errorf("hits after delete = %+v", hits)
	}
}
