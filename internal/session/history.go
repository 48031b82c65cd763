package session

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// HistoryHit is one full-text match over prompt pairs.
type HistoryHit struct {
	ID    int64
	Score float64
}

// HistoryIndex is a Bleve index over original and refined prompts.
type HistoryIndex struct {
	index     bleve.Index
	fuzziness int
}

// HistoryOption configures a HistoryIndex.
type HistoryOption func(*HistoryIndex)

// WithFuzziness enables per-term fuzzy matching with the given edit distance (1 or 2).
func WithFuzziness(n int) HistoryOption {
	return func(h *HistoryIndex) {
		if n >= 0 && n <= 2 {
			h.fuzziness = n
		}
	}
}

type historyDoc struct {
	Original  string `json:"original"`
	Refined   string `json:"refined"`
	Category  string `json:"category"`
	SessionID string `json:"session_id"`
}

// OpenHistoryIndex opens the index at path, creating it if it does not exist.
func OpenHistoryIndex(path string, opts ...HistoryOption) (*HistoryIndex, error) {
	h := &HistoryIndex{}
	for _, opt := range opts {
		opt(h)
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open history index: %w", openErr)
		}
		h.index = index
		return h, nil
	}

	index, err := bleve.New(path, historyMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create history index: %w", err)
	}
	h.index = index
	return h, nil
}

func historyMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	text := bleve.NewTextFieldMapping()
	// Standard analyzer: prompt tags like "1girl" must match verbatim, not stemmed.
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt("original", text)
	doc.AddFieldMappingsAt("refined", text)
	kw := bleve.NewKeywordFieldMapping()
	doc.AddFieldMappingsAt("category", kw)
	doc.AddFieldMappingsAt("session_id", kw)
	im.AddDocumentMapping("pair", doc)
	im.DefaultType = "pair"
	im.DefaultMapping = doc
	return im
}

// Index adds or replaces pair.
func (h *HistoryIndex) Index(_ context.Context, pair *PromptPair) error {
	return h.index.Index(pairDocID(pair.ID), historyDoc{
		Original:  pair.Original,
		Refined:   pair.Refined,
		Category:  pair.Category,
		SessionID: pair.SessionID,
	})
}

// Delete removes the pair with id.
func (h *HistoryIndex) Delete(_ context.Context, id int64) error {
	return h.index.Delete(pairDocID(id))
}

// Search matches query against both prompt fields and returns up to limit hits.
func (h *HistoryIndex) Search(_ context.Context, query string, limit int) ([]HistoryHit, error) {
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequest(h.buildQuery(query))
	req.Size = limit
	res, err := h.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("history search failed: %w", err)
	}
	out := make([]HistoryHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, HistoryHit{ID: id, Score: hit.Score})
	}
	return out, nil
}

// buildQuery is a match query, or with fuzziness set, a disjunction of fuzzy term queries.
func (h *HistoryIndex) buildQuery(query string) blevequery.Query {
	terms := strings.Fields(strings.ToLower(query))
	if h.fuzziness == 0 || len(terms) == 0 {
		return bleve.NewMatchQuery(query)
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(h.fuzziness)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the number of indexed pairs.
func (h *HistoryIndex) DocCount() (uint64, error) {
	return h.index.DocCount()
}

// Close closes the index.
func (h *HistoryIndex) Close() error {
	return h.index.Close()
}
