package job

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hyperjump/promptforge/internal/civitai"
	"github.com/hyperjump/promptforge/internal/config"
	"github.com/hyperjump/promptforge/internal/embedding"
	"github.com/hyperjump/promptforge/internal/fetcher"
	"github.com/hyperjump/promptforge/internal/ingest"
	"github.com/hyperjump/promptforge/internal/models"
	"github.com/hyperjump/promptforge/internal/seen"
	"github.com/hyperjump/promptforge/internal/vector"
)

type blockingFetcher struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingFetcher) Run(ctx context.Context, req fetcher.Request) *fetcher.Result {
	close(b.entered)
	<-b.release
	return &fetcher.Result{State: fetcher.StateDone, UpstreamTotal: -1}
}

type recordingIngester struct {
	allowed []string
	items   int
}

func (r *recordingIngester) Process(_ context.Context, items []models.RawItem, allowed []string) models.RunStats {
	r.allowed = allowed
	r.items = len(items)
	return models.RunStats{Processed: len(items), Stored: len(items)}
}

func TestRunner_RejectsConcurrentRun(t *testing.T) {
	f := &blockingFetcher{entered: make(chan struct{}), release: make(chan struct{})}
	r := NewRunner(f, &recordingIngester{}, config.NewCategories([]string{"A"}))

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), Request{Mode: fetcher.ModeNew, TargetCount: 1})
		done <- err
	}()
	<-f.entered

	id, _, running := r.Active()
	if !running || id == "" {
		t.Fatal("expected an active run")
	}
	if _, err := r.Run(context.Background(), Request{Mode: fetcher.ModeNew, TargetCount: 1}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second run err = %v", err)
	}

	close(f.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if _, _, running := r.Active(); running {
		t.Error("run should be released")
	}
	if last := r.Last(); last == nil || last.RunID != id {
		t.Errorf("last = %+v", last)
	}
}

type scriptedSource struct {
	pages []*civitai.Page
	err   error
	n     int
}

func (s *scriptedSource) FetchPage(context.Context, string, int) (*civitai.Page, error) {
	if s.n >= len(s.pages) {
		return nil, s.err
	}
	p := s.pages[s.n]
	s.n++
	return p, nil
}

type memCursor struct{ v string }

func (m *memCursor) Load(context.Context) string { return m.v }
func (m *memCursor) Save(_ context.Context, t string) (string, error) {
	m.v = t
	return t, nil
}
func (m *memCursor) Clear(context.Context) error { m.v = ""; return nil }

func raw(s string) models.RawItem { return json.RawMessage(s) }

func TestRunner_EndToEnd(t *testing.T) {
	src := &scriptedSource{
		pages: []*civitai.Page{{
			Items: []models.RawItem{
				raw(`{"id":1,"url":"u1","baseModel":"A","meta":{"prompt":"red fox"}}`),
				raw(`{"id":2,"url":"u2","baseModel":"B","meta":{"prompt":"blue bird"}}`),
				raw(`{"id":3,"url":"u3","baseModel":"A","meta":{"prompt":""}}`),
			},
			NextCursor: "c1",
			TotalItems: 10,
		}},
		err: &civitai.StatusError{StatusCode: 500},
	}
	idx, _ := vector.NewMemoryIndex(8)
	reg := seen.NewMemoryRegistry()
	pipe := ingest.NewPipeline(idx, embedding.NewHashEmbedder(8), ingest.WithSeenRegistry(reg))
	cats := config.NewCategories([]string{"A"})
	r := NewRunner(fetcher.NewEngine(src, &memCursor{}), pipe, cats, WithSeenRegistry(reg))

	rep, err := r.Run(context.Background(), Request{Mode: fetcher.ModeNew, TargetCount: 100})
	if err != nil {
		t.Fatal(err)
	}
	if rep.State != fetcher.StateError || rep.Error == "" {
		t.Errorf("state = %s error = %q", rep.State, rep.Error)
	}
	want := models.RunStats{Processed: 3, Stored: 1, Skipped: 2}
	if rep.Stats != want {
		t.Errorf("stats = %+v, want %+v", rep.Stats, want)
	}
	if rep.Cursor != "c1" || rep.Fetched != 3 {
		t.Errorf("cursor = %q fetched = %d", rep.Cursor, rep.Fetched)
	}
	if rep.SeenCount != 1 || rep.NewEstimate != 9 {
		t.Errorf("seen = %d estimate = %d", rep.SeenCount, rep.NewEstimate)
	}
	if len(rep.Categories) != 1 || rep.Categories[0] != "A" || rep.RunID == "" {
		t.Errorf("report = %+v", rep)
	}
}

func TestRunner_AllowListSnapshotPerRun(t *testing.T) {
	ing := &recordingIngester{}
	cats := config.NewCategories([]string{"A"})
	f := &scriptedSource{pages: []*civitai.Page{{Items: []models.RawItem{raw(`{}`)}, TotalItems: -1}}}
	r := NewRunner(fetcher.NewEngine(f, &memCursor{}), ing, cats)

	if _, err := r.Run(context.Background(), Request{Mode: fetcher.ModeNew, TargetCount: 5}); err != nil {
		t.Fatal(err)
	}
	if len(ing.allowed) != 1 || ing.allowed[0] != "A" {
		t.Errorf("allowed = %v", ing.allowed)
	}

	cats.Set([]string{"B", "C"})
	f.n = 0
	rep, err := r.Run(context.Background(), Request{Mode: fetcher.ModeNew, TargetCount: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(ing.allowed) != 2 || rep.NewEstimate != -1 {
		t.Errorf("allowed = %v estimate = %d", ing.allowed, rep.NewEstimate)
	}
}
