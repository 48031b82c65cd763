package vector

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/promptforge/internal/config"
)

// IndexType names a vector index backend.
type IndexType string

const (
	// IndexTypeMemory keeps vectors in process memory with optional snapshot files.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeQdrant stores vectors in a Qdrant collection over gRPC.
	IndexTypeQdrant IndexType = "qdrant"
)

// NewIndex creates the index selected by cfg.Type. snapshotPath is only used by
// the memory backend; it is loaded on open and written on Close.
func NewIndex(ctx context.Context, cfg config.VectorConfig, dimensions int, snapshotPath string, logger *zap.Logger) (Index, error) {
	switch IndexType(cfg.Type) {
	case IndexTypeMemory, "":
		idx, err := NewMemoryIndex(dimensions)
		if err != nil {
			return nil, err
		}
		if snapshotPath != "" {
			if err := idx.Load(snapshotPath); err != nil {
				return nil, err
			}
			idx.snapshotPath = snapshotPath
		}
		return idx, nil
	case IndexTypeQdrant:
		return NewQdrantIndex(ctx, QdrantOptions{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     os.Getenv(cfg.Qdrant.APIKeyEnv),
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Collection,
			Dimensions: dimensions,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, qdrant)", cfg.Type)
	}
}
