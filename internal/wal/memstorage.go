package wal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
)

// memSegment is the shared backing buffer for one in-memory segment. Both
// the writer and reader handles hold a normal Go pointer to it; there is no
// pointer-to-integer round trip.
type memSegment struct {
	mu   sync.Mutex
	data []byte
}

// MemStorage is an in-memory Storage implementation for tests and
// ephemeral runtimes. The segment map is owned by MemStorage; each
// segment's *memSegment is handed out to writers/readers as a normal
// shared reference.
type MemStorage struct {
	mu       sync.Mutex
	segments map[uint64]*memSegment
}

// NewMemStorage creates an empty in-memory storage backend.
func NewMemStorage() *MemStorage {
	return &MemStorage{segments: make(map[uint64]*memSegment)}
}

func (m *MemStorage) CreateSegment(segmentID uint64) (SegmentWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg := &memSegment{}
	m.segments[segmentID] = seg
	return &memSegmentWriter{seg: seg}, nil
}

func (m *MemStorage) AppendSegment(segmentID uint64) (SegmentWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, ok := m.segments[segmentID]
	if !ok {
		seg = &memSegment{}
		m.segments[segmentID] = seg
	}
	seg.mu.Lock()
	pos := uint64(len(seg.data))
	seg.mu.Unlock()
	return &memSegmentWriter{seg: seg, position: pos}, nil
}

func (m *MemStorage) OpenSegment(segmentID uint64) (SegmentReader, error) {
	m.mu.Lock()
	seg, ok := m.segments[segmentID]
	m.mu.Unlock()
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, fmt.Sprintf("segment %016x not found", segmentID))
	}
	return &memSegmentReader{seg: seg}, nil
}

func (m *MemStorage) ListSegments() ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.segments))
	for id := range m.segments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemStorage) RemoveSegment(segmentID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.segments, segmentID)
	return nil
}

func (m *MemStorage) RenameSegment(segmentID uint64, destPath string) error {
	// In-memory storage has no filesystem namespace distinct from the
	// segment id; "archival" simply deletes the segment, so it is no longer
	// listed or reachable and destPath is ignored.
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.segments, segmentID)
	return nil
}

type memSegmentWriter struct {
	seg      *memSegment
	position uint64
}

func (w *memSegmentWriter) WriteAll(data []byte) error {
	w.seg.mu.Lock()
	defer w.seg.mu.Unlock()
	w.seg.data = append(w.seg.data, data...)
	w.position = uint64(len(w.seg.data))
	return nil
}

func (w *memSegmentWriter) Flush() error     { return nil }
func (w *memSegmentWriter) Sync() error      { return nil }
func (w *memSegmentWriter) Position() uint64 { return w.position }
func (w *memSegmentWriter) Close() error     { return nil }

type memSegmentReader struct {
	seg    *memSegment
	offset uint64
}

func (r *memSegmentReader) ReadExact(buf []byte) error {
	r.seg.mu.Lock()
	defer r.seg.mu.Unlock()
	if r.offset+uint64(len(buf)) > uint64(len(r.seg.data)) {
		return fmt.Errorf("read exact: short buffer at offset %d", r.offset)
	}
	copy(buf, r.seg.data[r.offset:r.offset+uint64(len(buf))])
	r.offset += uint64(len(buf))
	return nil
}

func (r *memSegmentReader) ReadToEnd() ([]byte, error) {
	r.seg.mu.Lock()
	defer r.seg.mu.Unlock()
	rest := append([]byte(nil), r.seg.data[r.offset:]...)
	r.offset = uint64(len(r.seg.data))
	return rest, nil
}

func (r *memSegmentReader) Position() uint64 { return r.offset }

func (r *memSegmentReader) SeekTo(pos uint64) error {
	r.offset = pos
	return nil
}

func (r *memSegmentReader) Len() (uint64, error) {
	r.seg.mu.Lock()
	defer r.seg.mu.Unlock()
	return uint64(len(r.seg.data)), nil
}

func (r *memSegmentReader) Close() error { return nil }
