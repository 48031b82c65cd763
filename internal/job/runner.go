// Package job runs one fetch-then-ingest cycle at a time and reports on it.
package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/promptforge/internal/fetcher"
	"github.com/hyperjump/promptforge/internal/models"
	"github.com/hyperjump/promptforge/internal/seen"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("a fetch run is already in progress")

// Fetcher runs the paginated fetch.
type Fetcher interface {
	Run(ctx context.Context, req fetcher.Request) *fetcher.Result
}

// Ingester stores fetched items.
type Ingester interface {
	Process(ctx context.Context, items []models.RawItem, allowed []string) models.RunStats
}

// AllowList yields the current category allow-list.
type AllowList interface {
	Snapshot() []string
}

// Request is what a caller asks for.
type Request = fetcher.Request

// Report is the run context: created when a run starts, filled in as it
// progresses and returned to the caller. Nothing about a run lives outside it.
type Report struct {
	RunID         string          `json:"run_id"`
	Mode          fetcher.Mode    `json:"mode"`
	TargetCount   int             `json:"target_count"`
	Categories    []string        `json:"categories"`
	State         fetcher.State   `json:"state"`
	Reason        string          `json:"reason,omitempty"`
	Error         string          `json:"error,omitempty"`
	Fetched       int             `json:"fetched"`
	Pages         int             `json:"pages"`
	StartCursor   string          `json:"start_cursor,omitempty"`
	Cursor        string          `json:"cursor,omitempty"`
	UpstreamTotal int64           `json:"upstream_total"`
	SeenCount     int64           `json:"seen_count"`
	NewEstimate   int64           `json:"new_estimate"`
	Stats         models.RunStats `json:"stats"`
	StartedAt     time.Time       `json:"started_at"`
	FetchTime     time.Duration   `json:"fetch_time"`
	IngestTime    time.Duration   `json:"ingest_time"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// Runner guards against concurrent runs within the process. Cursor writes
// from other processes remain last-write-wins.
type Runner struct {
	fetch      Fetcher
	ingest     Ingester
	categories AllowList
	seen       seen.Registry // optional
	logger     *zap.Logger   // optional

	mu      sync.Mutex
	active  string
	last    *Report
	started time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithSeenRegistry enables the new-items estimate.
func WithSeenRegistry(s seen.Registry) RunnerOption {
	return func(r *Runner) { r.seen = s }
}

// NewRunner creates a Runner.
func NewRunner(fetch Fetcher, ingest Ingester, categories AllowList, opts ...RunnerOption) *Runner {
	r := &Runner{fetch: fetch, ingest: ingest, categories: categories}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Active returns the ID and start time of the running run, if any.
func (r *Runner) Active() (string, time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.started, r.active != ""
}

// Last returns the most recent finished report, or nil.
func (r *Runner) Last() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Runner) acquire(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != "" {
		return false
	}
	r.active = id
	r.started = now
	return true
}

func (r *Runner) release(rep *Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = ""
	r.last = rep
}

// Run fetches according to req and ingests whatever was fetched, including
// partial results of a failed fetch. The only error returned is
// ErrRunInProgress; fetch failures are recorded in the report.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	rep := &Report{
		RunID:       uuid.New().String(),
		Mode:        req.Mode,
		TargetCount: req.TargetCount,
		StartedAt:   time.Now().UTC(),
		NewEstimate: -1,
	}
	if !r.acquire(rep.RunID, rep.StartedAt) {
		return nil, ErrRunInProgress
	}
	defer func() { r.release(rep) }()

	rep.Categories = r.categories.Snapshot()
	logger := zap.NewNop()
	if r.logger != nil {
		logger = r.logger.With(zap.String("run_id", rep.RunID))
	}
	logger.Info("run started",
		zap.String("mode", string(req.Mode)),
		zap.Int("target", req.TargetCount),
		zap.Strings("categories", rep.Categories))

	fetchStart := time.Now()
	res := r.fetch.Run(ctx, req)
	rep.FetchTime = time.Since(fetchStart)
	rep.State = res.State
	rep.Reason = res.Reason
	rep.Fetched = res.TotalFetched
	rep.Pages = res.Pages
	rep.StartCursor = res.StartCursor
	rep.Cursor = res.Cursor
	rep.UpstreamTotal = res.UpstreamTotal
	if res.Err != nil {
		rep.Error = res.Err.Error()
	}

	if len(res.Items) > 0 {
		ingestStart := time.Now()
		rep.Stats = r.ingest.Process(ctx, res.Items, rep.Categories)
		rep.IngestTime = time.Since(ingestStart)
	}

	if r.seen != nil && rep.UpstreamTotal >= 0 {
		n, err := r.seen.Count(context.WithoutCancel(ctx))
		if err != nil {
			logger.Warn("failed to count seen ids", zap.Error(err))
		} else {
			rep.SeenCount = n
			rep.NewEstimate = seen.EstimateNew(rep.UpstreamTotal, n)
		}
	}

	rep.FinishedAt = time.Now().UTC()
	logger.Info("run finished",
		zap.String("state", string(rep.State)),
		zap.String("reason", rep.Reason),
		zap.Int("fetched", rep.Fetched),
		zap.Int("stored", rep.Stats.Stored),
		zap.Int("skipped", rep.Stats.Skipped),
		zap.Int("errors", rep.Stats.Errors),
		zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)))
	return rep, nil
}
