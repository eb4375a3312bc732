package wal

// SegmentMeta is the in-memory record of one segment's bounds, rebuilt on
// open by scanning each segment file.
type SegmentMeta struct {
	ID             uint64
	FirstSequence  uint64
	LastSequence   uint64
	SizeBytes      uint64
	EntryCount     uint64
}

// Empty reports whether this segment has never had an entry appended
// (first_sequence = last_sequence + 1 convention from the rotation algorithm).
func (m SegmentMeta) Empty() bool {
	return m.EntryCount == 0
}

func (m SegmentMeta) clone() *SegmentMeta {
	c := m
	return &c
}
