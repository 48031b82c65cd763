package vector

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/hyperjump/promptforge/internal/models"
)

// QdrantOptions configures the Qdrant backend.
type QdrantOptions struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimensions int
}

// qdrantAPI is the subset of *qdrant.Client used by QdrantIndex.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Close() error
}

type scrollFunc func(ctx context.Context, request *qdrant.ScrollPoints) (*qdrant.ScrollResponse, error)

// QdrantIndex stores points in a Qdrant collection. Numeric item IDs are used
// as Qdrant point IDs directly; other IDs are mapped to name-based UUIDs. The
// original ID is always kept in the "id" payload field.
type QdrantIndex struct {
	client     qdrantAPI
	scroll     scrollFunc
	collection string
	dimensions int
	logger     *zap.Logger
}

// NewQdrantIndex connects to Qdrant and creates the collection (cosine
// distance) when it does not exist.
func NewQdrantIndex(ctx context.Context, opts QdrantOptions, logger *zap.Logger) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize qdrant client: %w", err)
	}
	scroll := func(ctx context.Context, req *qdrant.ScrollPoints) (*qdrant.ScrollResponse, error) {
		return client.GetPointsClient().Scroll(ctx, req)
	}
	idx := newQdrantIndex(client, scroll, opts.Collection, opts.Dimensions, logger)
	if err := idx.EnsureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

func newQdrantIndex(client qdrantAPI, scroll scrollFunc, collection string, dimensions int, logger *zap.Logger) *QdrantIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantIndex{
		client:     client,
		scroll:     scroll,
		collection: collection,
		dimensions: dimensions,
		logger:     logger,
	}
}

// EnsureCollection creates the collection if it is missing.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", q.collection, err)
	}
	if exists {
		return nil
	}
	q.logger.Info("creating qdrant collection", zap.String("collection", q.collection), zap.Int("dimensions", q.dimensions))
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", q.collection, err)
	}
	return nil
}

// Exists reports whether a point with id is stored.
func (q *QdrantIndex) Exists(ctx context.Context, id string) (bool, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    qdrant.NewWithPayload(false),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return false, fmt.Errorf("failed to get point %s: %w", id, err)
	}
	return len(points) > 0, nil
}

// Upsert writes the point and waits for the write to be applied.
func (q *QdrantIndex) Upsert(ctx context.Context, id string, vector []float32, payload models.Payload) error {
	if len(vector) != q.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vector), q.dimensions)
	}
	fields := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		fields[k] = v
	}
	fields[models.FieldID] = id
	values, err := qdrant.TryValueMap(fields)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", id, err)
	}
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      pointID(id),
				Vectors: qdrant.NewVectors(vector...),
				Payload: values,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point %s: %w", id, err)
	}
	return nil
}

// Query runs a filtered nearest-neighbor search.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, filter Filter, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         qdrantFilter(filter),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", q.collection, err)
	}
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		payload := payloadFromValues(p.GetPayload())
		hits = append(hits, Hit{ID: recordID(p.GetId(), payload), Score: p.GetScore(), Payload: payload})
	}
	return hits, nil
}

// Scroll pages through the collection without vectors.
func (q *QdrantIndex) Scroll(ctx context.Context, offset string, limit int) ([]Record, string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	req := &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	}
	if offset != "" {
		req.Offset = decodeOffset(offset)
	}
	resp, err := q.scroll(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to scroll collection %s: %w", q.collection, err)
	}
	records := make([]Record, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		payload := payloadFromValues(p.GetPayload())
		records = append(records, Record{ID: recordID(p.GetId(), payload), Payload: payload})
	}
	return records, encodeOffset(resp.GetNextPageOffset()), nil
}

// Delete removes points by item ID in a single request.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pids...),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int64, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count collection %s: %w", q.collection, err)
	}
	return int64(n), nil
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// pointID maps an item ID to a Qdrant point ID.
func pointID(id string) *qdrant.PointId {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return qdrant.NewIDNum(n)
	}
	if u, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(u.String())
	}
	return qdrant.NewIDUUID(uuid.NewMD5(uuid.NameSpaceURL, []byte(id)).String())
}

func encodeOffset(p *qdrant.PointId) string {
	if p == nil {
		return ""
	}
	if u := p.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(p.GetNum(), 10)
}

func decodeOffset(s string) *qdrant.PointId {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return qdrant.NewIDNum(n)
	}
	return qdrant.NewIDUUID(s)
}

func recordID(p *qdrant.PointId, payload models.Payload) string {
	if id := payload.Text(models.FieldID); id != "" {
		return id
	}
	return encodeOffset(p)
}

func qdrantFilter(f Filter) *qdrant.Filter {
	if len(f) == 0 {
		return nil
	}
	conds := make([]*qdrant.Condition, 0, len(f))
	for _, k := range f.keys() {
		conds = append(conds, qdrant.NewMatch(k, f[k]))
	}
	return &qdrant.Filter{Must: conds}
}

func payloadFromValues(values map[string]*qdrant.Value) models.Payload {
	p := make(models.Payload, len(values))
	for k, v := range values {
		p[k] = valueToAny(v)
	}
	return p
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_ListValue:
		out := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			out = append(out, valueToAny(item))
		}
		return out
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(kind.StructValue.GetFields()))
		for k, item := range kind.StructValue.GetFields() {
			out[k] = valueToAny(item)
		}
		return out
	}
	return nil
}
