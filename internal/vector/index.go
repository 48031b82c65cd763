// Package vector stores prompt embeddings keyed by item ID and answers filtered cosine queries.
package vector

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperjump/promptforge/internal/models"
)

// DefaultPageSize bounds how many records one Scroll call returns during sweeps.
const DefaultPageSize = 1000

// Index is a content-addressed vector store. Upsert with an existing ID
// replaces the vector and payload.
type Index interface {
	Exists(ctx context.Context, id string) (bool, error)
	Upsert(ctx context.Context, id string, vector []float32, payload models.Payload) error
	// Query returns at most k hits matching filter, ordered by descending cosine score.
	Query(ctx context.Context, vector []float32, filter Filter, k int) ([]Hit, error)
	// Scroll returns up to limit records starting at offset ("" for the
	// beginning) and the offset of the next page ("" when done).
	Scroll(ctx context.Context, offset string, limit int) ([]Record, string, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Hit is one query result.
type Hit struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload models.Payload `json:"payload"`
}

// Record is a stored point as returned by Scroll. Vectors are not returned.
type Record struct {
	ID      string         `json:"id"`
	Payload models.Payload `json:"payload"`
}

// Filter is a conjunction of exact string matches on payload fields.
type Filter map[string]string

// Match reports whether payload satisfies every condition.
func (f Filter) Match(p models.Payload) bool {
	for k, v := range f {
		if p.Text(k) != v {
			return false
		}
	}
	return true
}

// keys returns the filter fields in sorted order.
func (f Filter) keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Predicate selects records by payload.
type Predicate func(models.Payload) bool

// DeleteWhere walks idx in pages of pageSize, collects the IDs whose payload
// satisfies pred, and removes them with one Delete call. It returns the number
// of records deleted.
func DeleteWhere(ctx context.Context, idx Index, pred Predicate, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var matched []string
	offset := ""
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		records, next, err := idx.Scroll(ctx, offset, pageSize)
		if err != nil {
			return 0, fmt.Errorf("failed to scroll index: %w", err)
		}
		for _, r := range records {
			if pred(r.Payload) {
				matched = append(matched, r.ID)
			}
		}
		if next == "" || len(records) == 0 {
			break
		}
		offset = next
	}
	if len(matched) == 0 {
		return 0, nil
	}
	if err := idx.Delete(ctx, matched); err != nil {
		return 0, fmt.Errorf("failed to delete %d records: %w", len(matched), err)
	}
	return len(matched), nil
}
