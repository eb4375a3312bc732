package provenance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapleaiorg/accountability-core/internal/event"
	"github.com/mapleaiorg/accountability-core/internal/ids"
)

func mkEvent(t *testing.T, worldline string, stage event.Stage, physMs int64, parents ...ids.EventId) *event.Event {
	t.Helper()
	var payload event.Payload
	switch stage {
	case event.StageSystem:
		payload = event.Genesis{Note: "boot"}
	case event.StageMeaning:
		payload = event.MeaningFormed{Confidence: 0.5}
	default:
		payload = event.MeaningFormed{Confidence: 0.5}
	}
	e, err := event.New(ids.NewEventId(), ids.HLC{PhysicalMs: physMs, Node: "n1"}, ids.WorldlineId(worldline), stage, payload, parents)
	require.NoError(t, err)
	return e
}

func TestAddEventRejectsDuplicateID(t *testing.T) {
	idx := New()
	g := mkEvent(t, "wl1", event.StageSystem, 100)
	require.NoError(t, idx.AddEvent(g))
	require.Error(t, idx.AddEvent(g))
}

func TestAddEventRejectsRootlessNonRootStage(t *testing.T) {
	idx := New()
	e, err := event.New(ids.NewEventId(), ids.HLC{PhysicalMs: 1, Node: "n1"}, "wl1", event.StageMeaning, event.MeaningFormed{Confidence: 0.1}, nil)
	require.Error(t, err)
	require.Nil(t, e)

	rootless := &event.Event{ID: ids.NewEventId(), Timestamp: ids.HLC{PhysicalMs: 1, Node: "n1"}, WorldlineID: "wl1", Stage: event.StageMeaning}
	require.Error(t, idx.AddEvent(rootless))
}

func TestOutOfOrderParentArrival(t *testing.T) {
	idx := New()
	parentID := ids.NewEventId()
	child, err := event.New(ids.NewEventId(), ids.HLC{PhysicalMs: 200, Node: "n1"}, "wl1", event.StageMeaning, event.MeaningFormed{Confidence: 0.5}, []ids.EventId{parentID})
	require.NoError(t, err)
	require.NoError(t, idx.AddEvent(child))

	parent, err := event.New(parentID, ids.HLC{PhysicalMs: 100, Node: "n1"}, "wl1", event.StageSystem, event.Genesis{Note: "boot"}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.AddEvent(parent))

	n, ok := idx.node(parentID)
	require.True(t, ok)
	require.Equal(t, []ids.EventId{child.ID}, n.Children)
}

func buildChain(t *testing.T) (idx *Index, g, e1, e2, e3 *event.Event) {
	idx = New()
	g = mkEvent(t, "wl1", event.StageSystem, 100)
	require.NoError(t, idx.AddEvent(g))
	e1 = mkEvent(t, "wl1", event.StageMeaning, 200, g.ID)
	require.NoError(t, idx.AddEvent(e1))
	e2 = mkEvent(t, "wl1", event.StageMeaning, 300, e1.ID)
	require.NoError(t, idx.AddEvent(e2))
	e3 = mkEvent(t, "wl1", event.StageMeaning, 400, e2.ID)
	require.NoError(t, idx.AddEvent(e3))
	return
}

func TestAncestorsAndDescendants(t *testing.T) {
	idx, g, e1, e2, e3 := buildChain(t)

	anc := idx.Ancestors(e3.ID, nil)
	require.ElementsMatch(t, []ids.EventId{e2.ID, e1.ID, g.ID}, anc)

	desc := idx.Descendants(g.ID, nil)
	require.ElementsMatch(t, []ids.EventId{e1.ID, e2.ID, e3.ID}, desc)

	cappedOne := 1
	require.ElementsMatch(t, []ids.EventId{e1.ID}, idx.Descendants(g.ID, &cappedOne))
}

func TestCausalPath(t *testing.T) {
	idx, g, e1, e2, e3 := buildChain(t)

	path := idx.CausalPath(e1.ID, e3.ID)
	require.Equal(t, []ids.EventId{e1.ID, e2.ID, e3.ID}, path)

	require.Equal(t, []ids.EventId{g.ID}, idx.CausalPath(g.ID, g.ID))
	require.Nil(t, idx.CausalPath(e3.ID, g.ID))
}

func TestCheckpointPreservesCausalPath(t *testing.T) {
	idx, g, e1, e2, e3 := buildChain(t)

	cp, err := idx.Checkpoint(ids.HLC{PhysicalMs: 250, Node: "n1"}, "cp-1")
	require.NoError(t, err)
	require.Equal(t, 2, cp.CompressedCount) // G and E1 are < 250
	require.Equal(t, []ids.EventId{e1.ID}, cp.BoundaryEvents)

	_, gStillThere := idx.node(g.ID)
	require.False(t, gStillThere)

	e1Node, ok := idx.node(e1.ID)
	require.True(t, ok)
	require.NotNil(t, e1Node.Checkpoint)
	require.Empty(t, e1Node.Parents) // dangling parent into removed G rewritten to empty

	path := idx.CausalPath(e1.ID, e3.ID)
	require.Equal(t, []ids.EventId{e1.ID, e2.ID, e3.ID}, path)
}

func TestCheckpointFailsWhenNothingEligible(t *testing.T) {
	idx := New()
	g := mkEvent(t, "wl1", event.StageSystem, 100)
	require.NoError(t, idx.AddEvent(g))
	_, err := idx.Checkpoint(ids.HLC{PhysicalMs: 50, Node: "n1"}, "cp-1")
	require.Error(t, err)
}

func TestAuditTrailAndRegulatorySlice(t *testing.T) {
	idx := New()
	g := mkEvent(t, "wl1", event.StageSystem, 100)
	require.NoError(t, idx.AddEvent(g))

	declared, err := event.New(ids.NewEventId(), ids.HLC{PhysicalMs: 200, Node: "n1"}, "wl1", event.StageCommitment, event.CommitmentDeclared{CommitmentID: "c1"}, []ids.EventId{g.ID})
	require.NoError(t, err)
	require.NoError(t, idx.AddEvent(declared))

	fulfilled, err := event.New(ids.NewEventId(), ids.HLC{PhysicalMs: 300, Node: "n1"}, "wl1", event.StageConsequence, event.CommitmentFulfilled{CommitmentID: "c1"}, []ids.EventId{declared.ID})
	require.NoError(t, err)
	require.NoError(t, idx.AddEvent(fulfilled))

	trail := idx.AuditTrail("c1")
	require.Len(t, trail, 2)
	require.Equal(t, declared.ID, trail[0].EventID)
	require.Equal(t, fulfilled.ID, trail[1].EventID)

	policyEval, err := event.New(ids.NewEventId(), ids.HLC{PhysicalMs: 400, Node: "n1"}, "wl1", event.StageGovernance, event.PolicyEvaluated{PolicyID: "p1", Result: "allow"}, []ids.EventId{fulfilled.ID})
	require.NoError(t, err)
	require.NoError(t, idx.AddEvent(policyEval))
	require.Len(t, idx.RegulatorySlice("p1"), 1)
}

func TestWorldlineHistoryRange(t *testing.T) {
	idx, g, e1, e2, e3 := buildChain(t)
	all := idx.WorldlineHistory("wl1", nil)
	require.Len(t, all, 4)

	ranged := idx.WorldlineHistory("wl1", &HLCRange{
		From: ids.HLC{PhysicalMs: 200, Node: "n1"},
		To:   ids.HLC{PhysicalMs: 300, Node: "n1"},
	})
	require.ElementsMatch(t, []ids.EventId{e1.ID, e2.ID}, []ids.EventId{ranged[0].EventID, ranged[1].EventID})
	_ = g
	_ = e3
}

func TestImpactAnalysis(t *testing.T) {
	idx, g, _, _, _ := buildChain(t)
	report := idx.ImpactAnalysis(g.ID)
	require.Equal(t, 3, report.TotalDescendants)
	require.Equal(t, 3, report.MaxDepth)
	require.Contains(t, report.AffectedWorldlines, ids.WorldlineId("wl1"))
	require.Equal(t, 3, report.StageBreakdown[event.StageMeaning])
}

func TestRiskContagionAcrossWorldlines(t *testing.T) {
	idx := New()
	g := mkEvent(t, "wlA", event.StageSystem, 100)
	require.NoError(t, idx.AddEvent(g))
	child := mkEvent(t, "wlB", event.StageMeaning, 200, g.ID)
	require.NoError(t, idx.AddEvent(child))

	report := idx.RiskContagion("wlA")
	require.Contains(t, report.DownstreamWorldlines, ids.WorldlineId("wlB"))
	require.NotContains(t, report.UpstreamWorldlines, ids.WorldlineId("wlA"))
}

func TestAddEventRejectsCycle(t *testing.T) {
	idx := New()
	futureParentID := ids.EventId("future-parent")
	child, err := event.New(ids.NewEventId(), ids.HLC{PhysicalMs: 200, Node: "n1"}, "wl1", event.StageMeaning, event.MeaningFormed{Confidence: 0.5}, []ids.EventId{futureParentID})
	require.NoError(t, err)
	require.NoError(t, idx.AddEvent(child))

	cyclic, err := event.New(futureParentID, ids.HLC{PhysicalMs: 100, Node: "n1"}, "wl1", event.StageMeaning, event.MeaningFormed{Confidence: 0.5}, []ids.EventId{child.ID})
	require.NoError(t, err)
	err = idx.AddEvent(cyclic)
	require.Error(t, err)
}
