package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/promptforge/internal/models"
	"github.com/hyperjump/promptforge/pkg/utils"
)

// MemoryIndex is an in-memory vector index using brute-force cosine search.
// Suitable for tests, local use and small collections.
type MemoryIndex struct {
	dimensions   int
	points       map[string]*memoryPoint
	snapshotPath string
	mu           sync.RWMutex
}

type memoryPoint struct {
	vector  []float32
	payload models.Payload
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		points:     make(map[string]*memoryPoint),
	}, nil
}

// Exists reports whether id is stored.
func (m *MemoryIndex) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.points[id]
	return ok, nil
}

// Upsert inserts or replaces the point for id. The vector and payload are copied.
func (m *MemoryIndex) Upsert(_ context.Context, id string, vector []float32, payload models.Payload) error {
	if id == "" {
		return errors.New("id must not be empty")
	}
	if len(vector) != m.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vector), m.dimensions)
	}
	vec := make([]float32, m.dimensions)
	copy(vec, vector)
	p := make(models.Payload, len(payload))
	for k, v := range payload {
		p[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[id] = &memoryPoint{vector: vec, payload: p}
	return nil
}

// Query returns the top-k points matching filter by cosine similarity.
// Ties are broken by ID so results are stable.
func (m *MemoryIndex) Query(_ context.Context, vector []float32, filter Filter, k int) ([]Hit, error) {
	if len(vector) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), m.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits := make([]Hit, 0, len(m.points))
	for id, p := range m.points {
		if !filter.Match(p.payload) {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: utils.Cosine(vector, p.vector), Payload: p.payload})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Scroll pages through points in ID order. offset is the first ID of the page.
func (m *MemoryIndex) Scroll(_ context.Context, offset string, limit int) ([]Record, string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.sortedIDsLocked()
	start := sort.SearchStrings(ids, offset)
	end := start + limit
	next := ""
	if end < len(ids) {
		next = ids[end]
	} else {
		end = len(ids)
	}
	records := make([]Record, 0, end-start)
	for _, id := range ids[start:end] {
		records = append(records, Record{ID: id, Payload: m.points[id].payload})
	}
	return records, next, nil
}

func (m *MemoryIndex) sortedIDsLocked() []string {
	ids := make([]string, 0, len(m.points))
	for id := range m.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete removes the given IDs. Unknown IDs are ignored.
func (m *MemoryIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

// Count returns the number of stored points.
func (m *MemoryIndex) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.points)), nil
}

// Save persists the index to path. Format: dimension (4), n (4), then per
// point in ID order: idLen (4), id, vector (dimension*4), payloadLen (4), payload JSON.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	w := bufio.NewWriter(f)
	err = m.writeLocked(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (m *MemoryIndex) writeLocked(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.points))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, id := range m.sortedIDsLocked() {
		p := m.points[id]
		if err := writeChunk(w, []byte(id)); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, p.vector); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
		payload, err := json.Marshal(p.payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", id, err)
		}
		if err := writeChunk(w, payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	return nil
}

// Load replaces the in-memory contents with the snapshot at path. Dimensions
// must match. A missing file leaves the index unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	points := make(map[string]*memoryPoint, n)
	for i := uint32(0); i < n; i++ {
		id, err := readChunk(r)
		if err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		vec := make([]float32, m.dimensions)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		raw, err := readChunk(r)
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
		var payload models.Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("decode payload for %s: %w", id, err)
		}
		points[string(id)] = &memoryPoint{vector: vec, payload: payload}
	}
	m.mu.Lock()
	m.points = points
	m.mu.Unlock()
	return nil
}

const maxChunk = 16 << 20

func writeChunk(w io.Writer, b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return fmt.Errorf("chunk too large: %d bytes", len(b))
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readChunk(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > maxChunk {
		return nil, fmt.Errorf("chunk length %d exceeds limit", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Close writes the snapshot when one is configured.
func (m *MemoryIndex) Close() error {
	return m.Save(m.snapshotPath)
}
