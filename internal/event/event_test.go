package event

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapleaiorg/accountability-core/internal/ids"
)

func TestNew_RootStageAllowsNoParents(t *testing.T) {
	e, err := New(ids.NewEventId(), ids.HLC{PhysicalMs: 1, Node: "n1"}, "wl1", StageSystem, Genesis{Note: "boot"}, nil)
	require.NoError(t, err)
	require.True(t, e.VerifyIntegrity())
}

func TestNew_NonRootStageRequiresParents(t *testing.T) {
	_, err := New(ids.NewEventId(), ids.HLC{PhysicalMs: 1, Node: "n1"}, "wl1", StageMeaning, MeaningFormed{Confidence: 0.5}, nil)
	require.Error(t, err)
}

func TestVerifyIntegrity_DetectsMutation(t *testing.T) {
	parent := ids.NewEventId()
	e, err := New(ids.NewEventId(), ids.HLC{PhysicalMs: 2, Node: "n1"}, "wl1", StageMeaning, MeaningFormed{Confidence: 0.5}, []ids.EventId{parent})
	require.NoError(t, err)
	require.True(t, e.VerifyIntegrity())

	e.WorldlineID = "tampered"
	require.False(t, e.VerifyIntegrity())
}

func TestPayloadRoundTrip(t *testing.T) {
	original := CommitmentDeclared{CommitmentID: "c1", Scope: "finance.transfer", Parties: []string{"a", "b"}}
	wire, err := MarshalPayload(original)
	require.NoError(t, err)

	decoded, err := UnmarshalPayload(wire)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestPayloadRoundTrip_UnknownKindBecomesCustom(t *testing.T) {
	decoded, err := UnmarshalPayload([]byte(`{"kind":"SomethingFuture","data":{"x":1}}`))
	require.NoError(t, err)
	custom, ok := decoded.(Custom)
	require.True(t, ok)
	require.Equal(t, "SomethingFuture", custom.Tag)
}

func TestCloneIsIndependent(t *testing.T) {
	e, err := New(ids.NewEventId(), ids.HLC{PhysicalMs: 3, Node: "n1"}, "wl1", StageSystem, Genesis{}, nil)
	require.NoError(t, err)

	clone := e.Clone()
	clone.Parents = append(clone.Parents, ids.NewEventId())
	require.Len(t, e.Parents, 0)
	require.Len(t, clone.Parents, 1)
}

func TestCommitmentIDOf(t *testing.T) {
	id, ok := CommitmentIDOf(CommitmentDeclared{CommitmentID: "c1"})
	require.True(t, ok)
	require.Equal(t, "c1", id)

	_, ok = CommitmentIDOf(MeaningFormed{})
	require.False(t, ok)
}
