package wal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapleaiorg/accountability-core/internal/event"
	"github.com/mapleaiorg/accountability-core/internal/ids"
)

func genesisEvent(t *testing.T, worldline string) *event.Event {
	t.Helper()
	e, err := event.New(ids.NewEventId(), ids.HLC{PhysicalMs: 1, Node: "n1"}, ids.WorldlineId(worldline), event.StageSystem, event.Genesis{Note: "boot"}, nil)
	require.NoError(t, err)
	return e
}

func childEvent(t *testing.T, worldline string, parent ids.EventId, physMs int64) *event.Event {
	t.Helper()
	e, err := event.New(ids.NewEventId(), ids.HLC{PhysicalMs: physMs, Node: "n1"}, ids.WorldlineId(worldline), event.StageMeaning, event.MeaningFormed{Confidence: 0.5}, []ids.EventId{parent})
	require.NoError(t, err)
	return e
}

func TestAppendAndReplay(t *testing.T) {
	w, err := Open(NewMemStorage(), Config{})
	require.NoError(t, err)

	g := genesisEvent(t, "wl1")
	seq1, err := w.Append(g)
	require.NoError(t, err)
	require.EqualValues(t, 1, seq1)

	e1 := childEvent(t, "wl1", g.ID, 2)
	seq2, err := w.Append(e1)
	require.NoError(t, err)
	require.EqualValues(t, 2, seq2)

	require.NoError(t, w.Close())

	w2, err := Open(NewMemStorage(), Config{}) // fresh storage demonstrates bootstrap path too
	require.NoError(t, err)
	_ = w2

	var got []SequencedEvent
	require.NoError(t, w.Replay(1, func(se SequencedEvent) error {
		got = append(got, se)
		return nil
	}))
	require.Len(t, got, 2)
	require.EqualValues(t, 1, got[0].Sequence)
	require.EqualValues(t, 2, got[1].Sequence)
	require.True(t, got[0].Event.VerifyIntegrity())
	require.True(t, got[1].Event.VerifyIntegrity())

	report, err := w.VerifyIntegrity()
	require.NoError(t, err)
	require.Equal(t, 2, report.Total)
	require.Equal(t, 2, report.Verified)
	require.Equal(t, 0, report.Corrupted)
}

func TestReopenAfterClose(t *testing.T) {
	storage := NewMemStorage()
	w, err := Open(storage, Config{})
	require.NoError(t, err)
	g := genesisEvent(t, "wl1")
	_, err = w.Append(g)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := Open(storage, Config{})
	require.NoError(t, err)
	events, err := w2.ReadFrom(1, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestSegmentRotation(t *testing.T) {
	w, err := Open(NewMemStorage(), Config{MaxSegmentSize: 200})
	require.NoError(t, err)

	var parent ids.EventId
	g := genesisEvent(t, "wl1")
	_, err = w.Append(g)
	require.NoError(t, err)
	parent = g.ID

	for i := 0; i < 19; i++ {
		e := childEvent(t, "wl1", parent, int64(i+2))
		_, err := w.Append(e)
		require.NoError(t, err)
		parent = e.ID
	}

	require.GreaterOrEqual(t, len(w.Segments()), 2)
	events, err := w.ReadFrom(1, 100)
	require.NoError(t, err)
	require.Len(t, events, 20)
}

func TestAppendBatchEmptyIsNoop(t *testing.T) {
	w, err := Open(NewMemStorage(), Config{})
	require.NoError(t, err)
	before := w.Segments()
	seq := w.counter.Load()

	sequences, err := w.AppendBatch(nil)
	require.NoError(t, err)
	require.Nil(t, sequences)
	require.Equal(t, seq, w.counter.Load())
	require.Equal(t, before, w.Segments())
}

func TestAppendBatchAssignsSequencesInOrder(t *testing.T) {
	w, err := Open(NewMemStorage(), Config{})
	require.NoError(t, err)

	g := genesisEvent(t, "wl1")
	e1 := childEvent(t, "wl1", g.ID, 2)
	e2 := childEvent(t, "wl1", g.ID, 3)

	sequences, err := w.AppendBatch([]*event.Event{g, e1, e2})
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, sequences)

	events, err := w.ReadFrom(1, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.EqualValues(t, 1, events[0].Sequence)
	require.EqualValues(t, 2, events[1].Sequence)
	require.EqualValues(t, 3, events[2].Sequence)
}

func TestReadWorldlineFiltersOtherWorldlines(t *testing.T) {
	w, err := Open(NewMemStorage(), Config{})
	require.NoError(t, err)

	gA := genesisEvent(t, "wlA")
	_, err = w.Append(gA)
	require.NoError(t, err)
	gB := genesisEvent(t, "wlB")
	_, err = w.Append(gB)
	require.NoError(t, err)
	eA := childEvent(t, "wlA", gA.ID, 5)
	_, err = w.Append(eA)
	require.NoError(t, err)

	got, err := w.ReadWorldline("wlA", 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, se := range got {
		require.Equal(t, ids.WorldlineId("wlA"), se.Event.WorldlineID)
	}
}

func TestVerifyIntegrityDetectsCorruption(t *testing.T) {
	storage := NewMemStorage()
	w, err := Open(storage, Config{})
	require.NoError(t, err)
	g := genesisEvent(t, "wl1")
	_, err = w.Append(g)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Flip a byte in the middle of the segment payload to break its CRC.
	seg, err := storage.OpenSegment(0)
	require.NoError(t, err)
	length, err := seg.Len()
	require.NoError(t, err)
	raw, err := seg.ReadToEnd()
	require.NoError(t, err)
	require.EqualValues(t, length, len(raw))
	seg.Close()

	mutated := append([]byte(nil), raw...)
	mutated[len(mutated)-10] ^= 0xFF
	ms := storage
	ms.segments[0].data = mutated

	w2, err := Open(storage, Config{})
	require.NoError(t, err)
	report, err := w2.VerifyIntegrity()
	require.NoError(t, err)
	require.Equal(t, 1, report.Corrupted)
}
