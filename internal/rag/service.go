// Package rag retrieves stored prompts similar to a query and renders them as
// few-shot context for a generation request.
package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/promptforge/internal/models"
	"github.com/hyperjump/promptforge/internal/vector"
	"github.com/hyperjump/promptforge/pkg/utils"
)

// DefaultTopK is used when a caller passes k <= 0.
const DefaultTopK = 5

// TextEmbedder turns a query into a vector.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service answers similarity queries against a vector index.
type Service struct {
	index    vector.Index
	embedder TextEmbedder
	topK     int
	logger   *zap.Logger // optional
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithTopK sets the default number of results.
func WithTopK(k int) ServiceOption {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// NewService creates a retrieval service.
func NewService(index vector.Index, embedder TextEmbedder, opts ...ServiceOption) *Service {
	s := &Service{index: index, embedder: embedder, topK: DefaultTopK}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Similar returns up to k stored prompts whose category equals category
// exactly, ordered by descending cosine score.
func (s *Service) Similar(ctx context.Context, query, category string, k int) ([]models.Example, error) {
	query = utils.CollapseSpace(query)
	if query == "" {
		return nil, models.ErrEmptyQuery
	}
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, models.ErrEmptyCategory
	}
	if k <= 0 {
		k = s.topK
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := s.index.Query(ctx, vec, vector.Filter{models.FieldCategory: category}, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	out := make([]models.Example, 0, len(hits))
	for _, h := range hits {
		prompt := h.Payload.Text(models.FieldPrompt)
		if prompt == "" {
			continue
		}
		meta := make(map[string]any, len(h.Payload))
		for key, v := range h.Payload {
			if key == models.FieldPrompt || key == models.FieldNegativePrompt {
				continue
			}
			meta[key] = v
		}
		out = append(out, models.Example{
			ID:             h.ID,
			Prompt:         prompt,
			NegativePrompt: h.Payload.Text(models.FieldNegativePrompt),
			Score:          h.Score,
			Metadata:       meta,
		})
	}
	if s.logger != nil {
		s.logger.Debug("similar prompts retrieved",
			zap.String("category", category),
			zap.Int("k", k),
			zap.Int("results", len(out)))
	}
	return out, nil
}
