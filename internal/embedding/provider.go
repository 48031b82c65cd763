package embedding

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Factory builds the underlying embedder. It is called on first use.
type Factory func(ctx context.Context) (Embedder, error)

// Provider is a lazily initialized Embedder. Concurrent first calls share a
// single factory invocation; a failed initialization is returned to every
// waiting caller and attempted again on the next call.
type Provider struct {
	factory    Factory
	dimensions int
	group      singleflight.Group
	mu         sync.RWMutex
	embedder   Embedder
	logger     *zap.Logger // optional
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets the logger used for initialization events.
func WithLogger(l *zap.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// NewProvider returns a provider that builds its embedder with factory on first use.
// dimensions is reported by Dimensions before initialization.
func NewProvider(factory Factory, dimensions int, opts ...ProviderOption) *Provider {
	p := &Provider{factory: factory, dimensions: dimensions}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) current() Embedder {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.embedder
}

func (p *Provider) get(ctx context.Context) (Embedder, error) {
	if e := p.current(); e != nil {
		return e, nil
	}
	v, err, _ := p.group.Do("init", func() (any, error) {
		if e := p.current(); e != nil {
			return e, nil
		}
		// Detach from the first caller's cancellation so other waiters are not failed by it.
		e, err := p.factory(context.WithoutCancel(ctx))
		if err != nil {
			if p.logger != nil {
				p.logger.Error("embedder initialization failed", zap.Error(err))
			}
			return nil, err
		}
		if e.Dimensions() != p.dimensions && p.dimensions > 0 {
			_ = e.Close()
			return nil, fmt.Errorf("embedder dimensions %d do not match configured %d", e.Dimensions(), p.dimensions)
		}
		p.mu.Lock()
		p.embedder = e
		p.mu.Unlock()
		if p.logger != nil {
			p.logger.Info("embedder initialized", zap.Int("dimensions", e.Dimensions()))
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return v.(Embedder), nil
}

// Ready reports whether the embedder has been initialized.
func (p *Provider) Ready() bool {
	return p.current() != nil
}

// Embed initializes the embedder if needed and embeds text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := p.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

// EmbedBatch initializes the embedder if needed and embeds each text.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := p.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}

// Dimensions returns the configured dimension.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// Close releases the embedder if it was initialized. The provider may be used again afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	e := p.embedder
	p.embedder = nil
	p.mu.Unlock()
	if e == nil {
		return nil
	}
	return e.Close()
}
