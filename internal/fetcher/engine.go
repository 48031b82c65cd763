// Package fetcher drives paginated retrieval from the upstream API.
//
// A run moves INIT → FETCHING → DONE | STOPPED | ERROR. Cancellation is
// observed between pages only; an in-flight page request always completes.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/promptforge/internal/civitai"
	cursorstore "github.com/hyperjump/promptforge/internal/cursor"
	"github.com/hyperjump/promptforge/internal/models"
)

// Mode selects where a run starts.
type Mode string

const (
	ModeNew      Mode = "new"
	ModeContinue Mode = "continue"
)

// ParseMode accepts "new" or "continue" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeNew:
		return ModeNew, nil
	case ModeContinue, "":
		return ModeContinue, nil
	}
	return "", fmt.Errorf("unknown fetch mode %q (want new or continue)", s)
}

// State is the engine state of a run.
type State string

const (
	StateInit     State = "INIT"
	StateFetching State = "FETCHING"
	StateDone     State = "DONE"
	StateStopped  State = "STOPPED"
	StateError    State = "ERROR"
)

// Why a run left FETCHING.
const (
	ReasonTarget     = "target reached"
	ReasonExhausted  = "upstream exhausted"
	ReasonNoProgress = "no progress"
	ReasonCancelled  = "cancelled"
	ReasonFailed     = "failed"
)

// ErrInvalidTarget is returned in Result.Err for a non-positive target.
var ErrInvalidTarget = errors.New("target count must be positive")

// PageSource returns one upstream page.
type PageSource interface {
	FetchPage(ctx context.Context, cursor string, limit int) (*civitai.Page, error)
}

// CursorStore persists the pagination cursor.
type CursorStore interface {
	Load(ctx context.Context) string
	Save(ctx context.Context, token string) (string, error)
	Clear(ctx context.Context) error
}

// Request describes one run.
type Request struct {
	Mode        Mode
	TargetCount int
	// CapToTarget trims the returned items to TargetCount.
	CapToTarget bool
}

// Result is the outcome of a run. Items are kept whatever the final state.
type Result struct {
	State         State
	Reason        string
	Items         []models.RawItem
	TotalFetched  int
	Pages         int
	StartCursor   string
	Cursor        string
	UpstreamTotal int64
	Err           error
}

// Progress is reported after every page.
type Progress struct {
	Page    int
	Fetched int
	Target  int
	Cursor  string
}

// Engine runs fetches against a PageSource and a CursorStore.
type Engine struct {
	source     PageSource
	cursors    CursorStore
	pageSize   int
	limiter    *rate.Limiter
	onProgress func(Progress)
	logger     *zap.Logger // optional
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithLimiter paces page requests.
func WithLimiter(l *rate.Limiter) EngineOption {
	return func(e *Engine) { e.limiter = l }
}

// WithPageSize bounds the per-request limit; values outside 1..200 are clamped.
func WithPageSize(n int) EngineOption {
	return func(e *Engine) { e.pageSize = n }
}

// WithProgress registers a callback invoked after each page.
func WithProgress(fn func(Progress)) EngineOption {
	return func(e *Engine) { e.onProgress = fn }
}

// NewEngine creates an Engine.
func NewEngine(source PageSource, cursors CursorStore, opts ...EngineOption) *Engine {
	e := &Engine{source: source, cursors: cursors, pageSize: civitai.MaxLimit}
	for _, o := range opts {
		o(e)
	}
	if e.pageSize <= 0 || e.pageSize > civitai.MaxLimit {
		e.pageSize = civitai.MaxLimit
	}
	return e
}

// Run executes one fetch run and always returns a Result.
func (e *Engine) Run(ctx context.Context, req Request) *Result {
	res := &Result{State: StateInit, UpstreamTotal: -1}
	if req.TargetCount <= 0 {
		return e.fail(res, ErrInvalidTarget)
	}

	cursor := ""
	if req.Mode == ModeContinue {
		cursor = e.cursors.Load(ctx)
	}
	res.StartCursor = cursor
	res.Cursor = cursor
	res.State = StateFetching
	e.debug("fetch started", zap.String("mode", string(req.Mode)), zap.String("cursor", cursor), zap.Int("target", req.TargetCount))

	// Page requests and cursor writes run detached from ctx so that a
	// cancellation never lands mid-page.
	detached := context.WithoutCancel(ctx)

	for res.State == StateFetching {
		if ctx.Err() != nil {
			e.finish(res, StateStopped, ReasonCancelled)
			break
		}
		remaining := req.TargetCount - res.TotalFetched
		if remaining <= 0 {
			e.finish(res, StateDone, ReasonTarget)
			break
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					e.finish(res, StateStopped, ReasonCancelled)
				} else {
					e.fail(res, fmt.Errorf("failed to wait for rate limiter: %w", err))
				}
				break
			}
		}

		page, err := e.source.FetchPage(detached, cursor, min(remaining, e.pageSize))
		if err != nil {
			e.fail(res, err)
			break
		}
		res.Pages++
		res.Items = append(res.Items, page.Items...)
		res.TotalFetched += len(page.Items)
		if page.TotalItems >= 0 {
			res.UpstreamTotal = page.TotalItems
		}
		e.report(res, req.TargetCount)

		next := cursorstore.Normalize(page.NextCursor)
		if len(page.Items) == 0 || next == "" {
			if err := e.cursors.Clear(detached); err != nil && e.logger != nil {
				e.logger.Warn("failed to clear cursor after exhaustion", zap.Error(err))
			}
			res.Cursor = ""
			e.finish(res, StateDone, ReasonExhausted)
			break
		}
		if next == cursor {
			e.finish(res, StateDone, ReasonNoProgress)
			break
		}

		saved, err := e.cursors.Save(detached, next)
		if err != nil {
			e.fail(res, fmt.Errorf("failed to save cursor: %w", err))
			break
		}
		cursor = saved
		res.Cursor = saved

		if res.TotalFetched >= req.TargetCount {
			e.finish(res, StateDone, ReasonTarget)
		}
	}

	if req.CapToTarget && len(res.Items) > req.TargetCount {
		res.Items = res.Items[:req.TargetCount]
	}
	return res
}

func (e *Engine) finish(res *Result, state State, reason string) {
	res.State = state
	res.Reason = reason
	e.debug("fetch finished",
		zap.String("state", string(state)),
		zap.String("reason", reason),
		zap.Int("fetched", res.TotalFetched),
		zap.Int("pages", res.Pages))
}

func (e *Engine) fail(res *Result, err error) *Result {
	res.State = StateError
	res.Reason = ReasonFailed
	res.Err = err
	if e.logger != nil {
		e.logger.Error("fetch failed",
			zap.Error(err),
			zap.Int("fetched", res.TotalFetched),
			zap.String("cursor", res.Cursor))
	}
	return res
}

func (e *Engine) report(res *Result, target int) {
	if e.onProgress != nil {
		e.onProgress(Progress{Page: res.Pages, Fetched: res.TotalFetched, Target: target, Cursor: res.Cursor})
	}
}

func (e *Engine) debug(msg string, fields ...zap.Field) {
	if e.logger != nil {
		e.logger.Debug(msg, fields...)
	}
}
