// Package embedding turns prompt text into fixed-length vectors.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/promptforge/internal/config"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// FactoryFromConfig returns a Factory that builds the embedder selected by
// cfg.Type, wrapped in an LRU cache.
func FactoryFromConfig(cfg config.EmbeddingConfig) Factory {
	return func(ctx context.Context) (Embedder, error) {
		var (
			inner Embedder
			err   error
		)
		switch cfg.Type {
		case "onnx":
			inner, err = NewONNXEmbedder(ONNXOptions{
				ModelPath:   cfg.ModelPath,
				LibraryPath: cfg.LibraryPath,
				Dimensions:  cfg.Dimensions,
				MaxTokens:   cfg.MaxTokens,
			})
		case "http":
			inner = NewHTTPEmbedder(cfg.Endpoint, cfg.ModelID, cfg.Dimensions, 15*time.Second)
		case "hash":
			inner = NewHashEmbedder(cfg.Dimensions)
		default:
			err = fmt.Errorf("unknown embedding type %q", cfg.Type)
		}
		if err != nil {
			return nil, err
		}
		return NewCachedEmbedder(inner, cfg.CacheSize), nil
	}
}

func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
