package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/hyperjump/promptforge/internal/models"
)

type fakeQdrant struct {
	exists  bool
	created *qdrant.CreateCollection
	upserts []*qdrant.UpsertPoints
	queries []*qdrant.QueryPoints
	deletes []*qdrant.DeletePoints
	scored  []*qdrant.ScoredPoint
	got     []*qdrant.RetrievedPoint
	count   uint64
	err     error
}

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) { return f.exists, f.err }

func (f *fakeQdrant) CreateCollection(_ context.Context, r *qdrant.CreateCollection) error {
	f.created = r
	return f.err
}

func (f *fakeQdrant) Get(context.Context, *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	return f.got, f.err
}

func (f *fakeQdrant) Upsert(_ context.Context, r *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, r)
	return &qdrant.UpdateResult{}, f.err
}

func (f *fakeQdrant) Query(_ context.Context, r *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queries = append(f.queries, r)
	return f.scored, f.err
}

func (f *fakeQdrant) Delete(_ context.Context, r *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deletes = append(f.deletes, r)
	return &qdrant.UpdateResult{}, f.err
}

func (f *fakeQdrant) Count(context.Context, *qdrant.CountPoints) (uint64, error) {
	return f.count, f.err
}

func (f *fakeQdrant) Close() error { return nil }

func TestQdrantIndex_EnsureCollection(t *testing.T) {
	fake := &fakeQdrant{}
	idx := newQdrantIndex(fake, nil, "civitai_images", 384, nil)
	if err := idx.EnsureCollection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fake.created == nil || fake.created.GetCollectionName() != "civitai_images" {
		t.Fatalf("collection not created: %+v", fake.created)
	}
	params := fake.created.GetVectorsConfig().GetParams()
	if params.GetSize() != 384 || params.GetDistance() != qdrant.Distance_Cosine {
		t.Errorf("vector params = %+v", params)
	}

	existing := &fakeQdrant{exists: true}
	if err := newQdrantIndex(existing, nil, "c", 384, nil).EnsureCollection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if existing.created != nil {
		t.Error("existing collection must not be recreated")
	}
}

func TestQdrantIndex_UpsertKeepsOriginalID(t *testing.T) {
	fake := &fakeQdrant{}
	idx := newQdrantIndex(fake, nil, "c", 2, nil)
	err := idx.Upsert(context.Background(), "4242", []float32{1, 0}, models.Payload{
		models.FieldCategory: "Pony",
		models.FieldParams:   map[string]any{"steps": int64(30)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.upserts) != 1 {
		t.Fatalf("upserts = %d", len(fake.upserts))
	}
	point := fake.upserts[0].GetPoints()[0]
	if point.GetId().GetNum() != 4242 {
		t.Errorf("point id = %v", point.GetId())
	}
	if point.GetPayload()[models.FieldID].GetStringValue() != "4242" {
		t.Errorf("payload id = %v", point.GetPayload()[models.FieldID])
	}
	if !fake.upserts[0].GetWait() {
		t.Error("upsert should wait for the write")
	}

	if err := idx.Upsert(context.Background(), "x", []float32{1}, nil); err == nil {
		t.Error("dimension mismatch should fail")
	}
}

func TestQdrantIndex_QueryBuildsFilter(t *testing.T) {
	fake := &fakeQdrant{scored: []*qdrant.ScoredPoint{
		{
			Id:    qdrant.NewIDNum(7),
			Score: 0.9,
			Payload: qdrant.NewValueMap(map[string]any{
				"id":       "7",
				"category": "A",
				"params":   map[string]any{"steps": 20},
			}),
		},
	}}
	idx := newQdrantIndex(fake, nil, "c", 2, nil)
	hits, err := idx.Query(context.Background(), []float32{1, 0}, Filter{"category": "A"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "7" || hits[0].Score != 0.9 {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Payload.Params()["steps"] != int64(20) {
		t.Errorf("nested payload = %v", hits[0].Payload.Params())
	}
	req := fake.queries[0]
	if req.GetLimit() != 5 {
		t.Errorf("limit = %d", req.GetLimit())
	}
	must := req.GetFilter().GetMust()
	if len(must) != 1 {
		t.Fatalf("filter = %+v", req.GetFilter())
	}
	field := must[0].GetField()
	if field.GetKey() != "category" || field.GetMatch().GetKeyword() != "A" {
		t.Errorf("condition = %+v", field)
	}
}

func TestQdrantIndex_ScrollAndDelete(t *testing.T) {
	fake := &fakeQdrant{}
	var offsets []*qdrant.PointId
	pages := [][]*qdrant.RetrievedPoint{
		{
			{Id: qdrant.NewIDNum(1), Payload: qdrant.NewValueMap(map[string]any{"id": "1", "category": "A"})},
			{Id: qdrant.NewIDNum(2), Payload: qdrant.NewValueMap(map[string]any{"id": "2", "category": "B"})},
		},
		{
			{Id: qdrant.NewIDNum(3), Payload: qdrant.NewValueMap(map[string]any{"id": "3", "category": "Unknown"})},
		},
	}
	scroll := func(_ context.Context, r *qdrant.ScrollPoints) (*qdrant.ScrollResponse, error) {
		offsets = append(offsets, r.GetOffset())
		i := len(offsets) - 1
		resp := &qdrant.ScrollResponse{Result: pages[i]}
		if i == 0 {
			resp.NextPageOffset = qdrant.NewIDNum(3)
		}
		return resp, nil
	}
	idx := newQdrantIndex(fake, scroll, "c", 2, nil)
	n, err := DeleteWhere(context.Background(), idx, func(p models.Payload) bool {
		return p.Text(models.FieldCategory) != "A"
	}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	if len(offsets) != 2 || offsets[0] != nil || offsets[1].GetNum() != 3 {
		t.Errorf("offsets = %v", offsets)
	}
	if len(fake.deletes) != 1 {
		t.Fatalf("delete calls = %d, want 1", len(fake.deletes))
	}
	ids := fake.deletes[0].GetPoints().GetPoints().GetIds()
	if len(ids) != 2 || ids[0].GetNum() != 2 || ids[1].GetNum() != 3 {
		t.Errorf("deleted ids = %v", ids)
	}
}

func TestQdrantIndex_ExistsAndCount(t *testing.T) {
	fake := &fakeQdrant{got: []*qdrant.RetrievedPoint{{Id: qdrant.NewIDNum(1)}}, count: 42}
	idx := newQdrantIndex(fake, nil, "c", 2, nil)
	ctx := context.Background()
	if ok, err := idx.Exists(ctx, "1"); err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	if n, err := idx.Count(ctx); err != nil || n != 42 {
		t.Errorf("Count = %d, %v", n, err)
	}

	failing := newQdrantIndex(&fakeQdrant{err: errors.New("unavailable")}, nil, "c", 2, nil)
	if _, err := failing.Exists(ctx, "1"); err == nil {
		t.Error("Exists should surface backend errors")
	}
}

func TestPointID(t *testing.T) {
	if got := pointID("123").GetNum(); got != 123 {
		t.Errorf("numeric id = %d", got)
	}
	u := uuid.New().String()
	if got := pointID(u).GetUuid(); got != u {
		t.Errorf("uuid id = %s", got)
	}
	a, b := pointID("abc-1").GetUuid(), pointID("abc-1").GetUuid()
	if a == "" || a != b {
		t.Errorf("name-based id should be stable: %s vs %s", a, b)
	}
	if decodeOffset(encodeOffset(qdrant.NewIDNum(9))).GetNum() != 9 {
		t.Error("numeric offset round trip")
	}
	if decodeOffset(encodeOffset(qdrant.NewIDUUID(u))).GetUuid() != u {
		t.Error("uuid offset round trip")
	}
}
