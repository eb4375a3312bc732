package wal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
	"github.com/mapleaiorg/accountability-core/internal/event"
)

// SyncMode controls how aggressively Append flushes to durable storage.
type SyncMode int

const (
	// Immediate calls Sync() after every append (fsync-equivalent).
	Immediate SyncMode = iota
	// Batched calls Flush() after every append but defers Sync().
	Batched
	// OsManaged performs neither, leaving durability to the OS page cache.
	OsManaged
)

// Config parametrizes a WAL instance.
type Config struct {
	MaxSegmentSize uint64
	SyncMode       SyncMode
	Logger         *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxSegmentSize == 0 {
		c.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// WAL is the durable, segmented, CRC-verified event journal.
type WAL struct {
	cfg     Config
	storage Storage

	writerMu sync.Mutex
	writer   SegmentWriter
	current  uint64

	metaMu   sync.RWMutex
	segments []*SegmentMeta

	counter atomic.Uint64
}

// Open recovers a WAL from storage: lists segments, scans each for valid
// entries (tolerating a torn tail), determines the highest sequence seen,
// and either reopens the last segment for append or starts a fresh one.
func Open(storage Storage, cfg Config) (*WAL, error) {
	cfg = cfg.withDefaults()
	w := &WAL{cfg: cfg, storage: storage}

	ids, err := storage.ListSegments()
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	if len(ids) == 0 {
		if err := w.bootstrapFirstSegment(); err != nil {
			return nil, err
		}
		return w, nil
	}

	var maxSeq uint64
	for _, id := range ids {
		reader, err := storage.OpenSegment(id)
		if err != nil {
			return nil, fmt.Errorf("open segment %016x: %w", id, err)
		}
		res := scanSegment(reader, cfg.Logger)
		reader.Close()

		meta := &SegmentMeta{ID: id, FirstSequence: res.firstSeq, LastSequence: res.lastSeq, SizeBytes: res.sizeBytes, EntryCount: res.entryCount}
		if res.entryCount == 0 {
			// Empty (possibly zero-length-with-header) segment: preserve
			// the first_sequence/last_sequence=first_sequence-1 convention.
			meta.FirstSequence = maxSeq + 1
			meta.LastSequence = maxSeq
		}
		w.segments = append(w.segments, meta)
		if res.lastSeq > maxSeq {
			maxSeq = res.lastSeq
		}
	}
	w.counter.Store(maxSeq)

	lastID := ids[len(ids)-1]
	lastMeta := w.segments[len(w.segments)-1]
	w.current = lastID

	if lastMeta.SizeBytes < cfg.MaxSegmentSize {
		writer, err := storage.AppendSegment(lastID)
		if err != nil {
			return nil, fmt.Errorf("reopen segment %016x for append: %w", lastID, err)
		}
		w.writer = writer
	} else {
		if err := w.rotateLocked(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *WAL) bootstrapFirstSegment() error {
	writer, err := w.storage.CreateSegment(0)
	if err != nil {
		return fmt.Errorf("create initial segment: %w", err)
	}
	if err := writer.WriteAll(encodeHeader()); err != nil {
		return fmt.Errorf("write initial segment header: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush initial segment header: %w", err)
	}
	w.writer = writer
	w.current = 0
	w.segments = []*SegmentMeta{{ID: 0, FirstSequence: 1, LastSequence: 0, SizeBytes: headerSize, EntryCount: 0}}
	return nil
}

// Append durably appends e, returning its assigned sequence number.
func (w *WAL) Append(e *event.Event) (uint64, error) {
	eventBytes, err := e.MarshalJSON()
	if err != nil {
		return 0, coreerr.Wrap(coreerr.Serialization, "marshal event for wal append", err)
	}

	sequence := w.counter.Add(1)
	entry := encodeEntry(sequence, eventBytes)

	w.writerMu.Lock()
	writeErr := w.writer.WriteAll(entry)
	var syncErr error
	if writeErr == nil {
		switch w.cfg.SyncMode {
		case Immediate:
			syncErr = w.writer.Sync()
		case Batched:
			syncErr = w.writer.Flush()
		case OsManaged:
			// no-op
		}
	}
	w.writerMu.Unlock()

	if writeErr != nil {
		return 0, coreerr.Wrap(coreerr.Backend, "wal append write", writeErr)
	}
	if syncErr != nil {
		return 0, coreerr.Wrap(coreerr.Backend, "wal append sync", syncErr)
	}

	shouldRotate := w.updateLastSegmentMeta(sequence, uint64(len(entry)))
	metrics.Appends.Inc()
	if shouldRotate {
		if err := w.rotate(); err != nil {
			return sequence, fmt.Errorf("rotate after append: %w", err)
		}
	}
	return sequence, nil
}

// AppendBatch appends every event in events in order, each through Append,
// and collects their assigned sequence numbers. An empty batch is a no-op:
// it returns a nil slice without touching the writer or segment metadata.
// A failed Append stops the batch immediately and returns the sequences
// assigned so far alongside the error, mirroring the kernel fabric's own
// append_batch (a per-event Append loop, not a single transactional
// write).
func (w *WAL) AppendBatch(events []*event.Event) ([]uint64, error) {
	if len(events) == 0 {
		return nil, nil
	}
	sequences := make([]uint64, 0, len(events))
	for _, e := range events {
		seq, err := w.Append(e)
		if err != nil {
			return sequences, err
		}
		sequences = append(sequences, seq)
	}
	return sequences, nil
}

// updateLastSegmentMeta records the new entry against the current segment
// and reports whether the rotation threshold has now been crossed.
func (w *WAL) updateLastSegmentMeta(sequence, entrySize uint64) bool {
	w.metaMu.Lock()
	defer w.metaMu.Unlock()
	last := w.segments[len(w.segments)-1]
	if last.EntryCount == 0 {
		last.FirstSequence = sequence
	}
	last.LastSequence = sequence
	last.SizeBytes += entrySize
	last.EntryCount++
	return last.SizeBytes >= w.cfg.MaxSegmentSize
}

// rotate closes the current writer and opens a fresh segment.
func (w *WAL) rotate() error {
	w.writerMu.Lock()
	defer w.writerMu.Unlock()
	return w.rotateLocked()
}

// rotateLocked assumes writerMu is already held (true both when called
// from Open, where no concurrent writer exists yet, and from rotate).
func (w *WAL) rotateLocked() error {
	if w.writer != nil {
		if err := w.writer.Sync(); err != nil {
			return coreerr.Wrap(coreerr.Backend, "sync segment before rotation", err)
		}
	}
	newID := w.current + 1
	newWriter, err := w.storage.CreateSegment(newID)
	if err != nil {
		return coreerr.Wrap(coreerr.Backend, "create rotated segment", err)
	}
	if err := newWriter.WriteAll(encodeHeader()); err != nil {
		return coreerr.Wrap(coreerr.Backend, "write rotated segment header", err)
	}
	if err := newWriter.Flush(); err != nil {
		return coreerr.Wrap(coreerr.Backend, "flush rotated segment header", err)
	}

	if w.writer != nil {
		w.writer.Close()
	}
	w.writer = newWriter
	w.current = newID

	firstSeq := w.counter.Load() + 1
	w.metaMu.Lock()
	w.segments = append(w.segments, &SegmentMeta{ID: newID, FirstSequence: firstSeq, LastSequence: firstSeq - 1, SizeBytes: headerSize, EntryCount: 0})
	w.metaMu.Unlock()

	metrics.Rotations.Inc()
	return nil
}

// snapshotSegments returns a stable copy of segment metadata for iteration
// without holding metaMu across I/O.
func (w *WAL) snapshotSegments() []*SegmentMeta {
	w.metaMu.RLock()
	defer w.metaMu.RUnlock()
	out := make([]*SegmentMeta, len(w.segments))
	for i, s := range w.segments {
		out[i] = s.clone()
	}
	return out
}

// SequencedEvent pairs a WAL sequence number with its decoded event.
type SequencedEvent struct {
	Sequence uint64
	Event    *event.Event
}

// iterateFrom walks segments in order, decoding every well-formed,
// CRC-valid entry with sequence >= fromSeq and invoking visit. visit
// returns false to stop iteration early.
func (w *WAL) iterateFrom(fromSeq uint64, visit func(SequencedEvent) bool) error {
	for _, meta := range w.snapshotSegments() {
		if meta.EntryCount == 0 || meta.LastSequence < fromSeq {
			continue
		}
		reader, err := w.storage.OpenSegment(meta.ID)
		if err != nil {
			return fmt.Errorf("open segment %016x for read: %w", meta.ID, err)
		}
		res := scanSegment(reader, w.cfg.Logger)
		reader.Close()

		for _, entry := range res.entries {
			if entry.sequence < fromSeq {
				continue
			}
			if !entry.crcOK() {
				w.cfg.Logger.Warn("wal: crc mismatch, skipping entry", "sequence", entry.sequence)
				metrics.CorruptedReads.WithLabelValues("crc").Inc()
				continue
			}
			var e event.Event
			if err := e.UnmarshalJSON(entry.eventBytes); err != nil {
				w.cfg.Logger.Warn("wal: deserialize failure, skipping entry", "sequence", entry.sequence, "error", err)
				metrics.CorruptedReads.WithLabelValues("deserialize").Inc()
				continue
			}
			if err := e.DecodePayload(); err != nil {
				w.cfg.Logger.Warn("wal: payload decode failure, skipping entry", "sequence", entry.sequence, "error", err)
				metrics.CorruptedReads.WithLabelValues("deserialize").Inc()
				continue
			}
			if !visit(SequencedEvent{Sequence: entry.sequence, Event: &e}) {
				return nil
			}
		}
	}
	return nil
}

// ReadFrom scans segments in order, returning up to limit (sequence, event)
// pairs with sequence >= fromSeq. limit <= 0 means unbounded.
func (w *WAL) ReadFrom(fromSeq uint64, limit int) ([]SequencedEvent, error) {
	var out []SequencedEvent
	err := w.iterateFrom(fromSeq, func(se SequencedEvent) bool {
		out = append(out, se)
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// ReadWorldline scans for entries belonging to worldline with sequence >=
// fromSeq, returning up to limit matches.
func (w *WAL) ReadWorldline(worldline string, fromSeq uint64, limit int) ([]SequencedEvent, error) {
	var out []SequencedEvent
	err := w.iterateFrom(fromSeq, func(se SequencedEvent) bool {
		if string(se.Event.WorldlineID) == worldline {
			out = append(out, se)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// Replay iterates all entries from fromSeq onward, invoking handler for
// each. A handler error stops replay and is returned to the caller.
func (w *WAL) Replay(fromSeq uint64, handler func(SequencedEvent) error) error {
	var handlerErr error
	err := w.iterateFrom(fromSeq, func(se SequencedEvent) bool {
		if err := handler(se); err != nil {
			handlerErr = err
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return handlerErr
}

// IntegrityReport is the result of VerifyIntegrity.
type IntegrityReport struct {
	Total            int
	Verified         int
	Corrupted        int
	CorruptedOffsets []string
	SegmentsChecked  int
}

// VerifyIntegrity scans every segment and counts CRC failures,
// deserialization failures, and Event.VerifyIntegrity() failures as
// corrupted.
func (w *WAL) VerifyIntegrity() (IntegrityReport, error) {
	var report IntegrityReport
	for _, meta := range w.snapshotSegments() {
		report.SegmentsChecked++
		if meta.EntryCount == 0 {
			continue
		}
		reader, err := w.storage.OpenSegment(meta.ID)
		if err != nil {
			return report, fmt.Errorf("open segment %016x for verify: %w", meta.ID, err)
		}
		res := scanSegment(reader, w.cfg.Logger)
		reader.Close()

		for _, entry := range res.entries {
			report.Total++
			offset := fmt.Sprintf("%016x:%d", meta.ID, entry.sequence)
			if !entry.crcOK() {
				report.Corrupted++
				report.CorruptedOffsets = append(report.CorruptedOffsets, offset)
				continue
			}
			var e event.Event
			if err := e.UnmarshalJSON(entry.eventBytes); err != nil {
				report.Corrupted++
				report.CorruptedOffsets = append(report.CorruptedOffsets, offset)
				continue
			}
			if !e.VerifyIntegrity() {
				report.Corrupted++
				report.CorruptedOffsets = append(report.CorruptedOffsets, offset)
				continue
			}
			report.Verified++
		}
	}
	return report, nil
}

// ArchiveBefore renames every segment whose last_sequence < seq into dir
// and drops its metadata. The currently-open writer
// segment is never archived.
func (w *WAL) ArchiveBefore(seq uint64, dir string) error {
	w.metaMu.Lock()
	defer w.metaMu.Unlock()

	var kept []*SegmentMeta
	for _, meta := range w.segments {
		if meta.ID != w.current && meta.EntryCount > 0 && meta.LastSequence < seq {
			dest := filepath.Join(dir, fmt.Sprintf("wal-%016x.seg", meta.ID))
			if err := w.storage.RenameSegment(meta.ID, dest); err != nil {
				return fmt.Errorf("archive segment %016x: %w", meta.ID, err)
			}
			continue
		}
		kept = append(kept, meta)
	}
	w.segments = kept
	return nil
}

// Close closes the active writer.
func (w *WAL) Close() error {
	w.writerMu.Lock()
	defer w.writerMu.Unlock()
	if w.writer == nil {
		return nil
	}
	return w.writer.Close()
}

// Segments returns a snapshot of current segment metadata, for tests and
// operational inspection.
func (w *WAL) Segments() []*SegmentMeta { return w.snapshotSegments() }
