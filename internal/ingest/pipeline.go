// Package ingest validates fetched items and writes eligible prompts into the vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/promptforge/internal/models"
	"github.com/hyperjump/promptforge/internal/seen"
	"github.com/hyperjump/promptforge/internal/vector"
	"github.com/hyperjump/promptforge/pkg/utils"
)

// ErrEmptyAllowList is returned by Sweep when no category is allowed.
var ErrEmptyAllowList = errors.New("category allow-list is empty")

// TextEmbedder turns a prompt into a vector.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Pipeline processes raw items one at a time in input order.
type Pipeline struct {
	index    vector.Index
	embedder TextEmbedder
	seen     seen.Registry // optional
	progress func(models.RunStats)
	logger   *zap.Logger // optional
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets a logger for per-item diagnostics.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithSeenRegistry records stored and duplicate item IDs in r.
func WithSeenRegistry(r seen.Registry) PipelineOption {
	return func(p *Pipeline) { p.seen = r }
}

// WithProgress registers a callback invoked after each item with the running totals.
func WithProgress(fn func(models.RunStats)) PipelineOption {
	return func(p *Pipeline) { p.progress = fn }
}

// NewPipeline creates a pipeline writing to index.
func NewPipeline(index vector.Index, embedder TextEmbedder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{index: index, embedder: embedder}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type outcome int

const (
	outcomeStored outcome = iota
	outcomeSkipped
	outcomeError
)

// Process ingests items against the allow-list snapshot allowed. Cancellation
// is checked between items; items after the cancellation point are not counted.
func (p *Pipeline) Process(ctx context.Context, items []models.RawItem, allowed []string) models.RunStats {
	allow := make(map[string]struct{}, len(allowed))
	for _, c := range allowed {
		allow[c] = struct{}{}
	}

	var stats models.RunStats
	var seenIDs []string
	for i, raw := range items {
		if ctx.Err() != nil {
			p.debug("ingest cancelled", zap.Int("remaining", len(items)-i))
			break
		}
		stats.Processed++
		id, out := p.processOne(ctx, raw, allow)
		switch out {
		case outcomeStored:
			stats.Stored++
		case outcomeSkipped:
			stats.Skipped++
		default:
			stats.Errors++
		}
		if id != "" {
			seenIDs = append(seenIDs, id)
		}
		if p.progress != nil {
			p.progress(stats)
		}
	}

	if p.seen != nil && len(seenIDs) > 0 {
		if err := p.seen.Add(context.WithoutCancel(ctx), seenIDs...); err != nil && p.logger != nil {
			p.logger.Warn("failed to record seen ids", zap.Int("count", len(seenIDs)), zap.Error(err))
		}
	}
	if p.logger != nil {
		p.logger.Info("ingest finished",
			zap.Int("processed", stats.Processed),
			zap.Int("stored", stats.Stored),
			zap.Int("skipped", stats.Skipped),
			zap.Int("errors", stats.Errors))
	}
	return stats
}

// processOne returns the item ID to mark as seen ("" for none) and the outcome.
func (p *Pipeline) processOne(ctx context.Context, raw models.RawItem, allow map[string]struct{}) (string, outcome) {
	item, err := models.ParseItem(raw)
	if err != nil {
		if errors.Is(err, models.ErrInvalidItem) {
			p.debug("item skipped", zap.Error(err))
			return "", outcomeSkipped
		}
		p.warn("item undecodable", zap.Error(err))
		return "", outcomeError
	}
	if item.Prompt == "" {
		p.debug("item skipped: empty prompt", zap.String("id", item.ID))
		return "", outcomeSkipped
	}
	if _, ok := allow[item.Category]; !ok {
		p.debug("item skipped: category not allowed", zap.String("id", item.ID), zap.String("category", item.Category))
		return "", outcomeSkipped
	}

	exists, err := p.index.Exists(ctx, item.ID)
	if err != nil {
		p.warn("existence check failed", zap.String("id", item.ID), zap.Error(err))
		return "", outcomeError
	}
	if exists {
		p.debug("item skipped: already stored", zap.String("id", item.ID))
		return item.ID, outcomeSkipped
	}

	vec, err := p.embedder.Embed(ctx, utils.CollapseSpace(item.Prompt))
	if err != nil {
		p.warn("embedding failed", zap.String("id", item.ID), zap.Error(err))
		return "", outcomeError
	}
	if err := p.index.Upsert(ctx, item.ID, vec, item.Payload()); err != nil {
		p.warn("upsert failed", zap.String("id", item.ID), zap.Error(err))
		return "", outcomeError
	}
	return item.ID, outcomeStored
}

// Sweep deletes every record whose category is not in allowed and returns
// the number removed.
func (p *Pipeline) Sweep(ctx context.Context, allowed []string) (int, error) {
	if len(allowed) == 0 {
		return 0, ErrEmptyAllowList
	}
	allow := make(map[string]struct{}, len(allowed))
	for _, c := range allowed {
		allow[c] = struct{}{}
	}
	n, err := vector.DeleteWhere(ctx, p.index, func(payload models.Payload) bool {
		_, ok := allow[payload.Text(models.FieldCategory)]
		return !ok
	}, vector.DefaultPageSize)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep categories: %w", err)
	}
	if p.logger != nil {
		p.logger.Info("category sweep finished", zap.Int("deleted", n), zap.Strings("allowed", allowed))
	}
	return n, nil
}

func (p *Pipeline) debug(msg string, fields ...zap.Field) {
	if p.logger != nil {
		p.logger.Debug(msg, fields...)
	}
}

func (p *Pipeline) warn(msg string, fields ...zap.Field) {
	if p.logger != nil {
		p.logger.Warn(msg, fields...)
	}
}
