// Package provenance implements the in-memory causal DAG over emitted
// events: insertion with out-of-order parent tolerance, the
// eight supported queries, and checkpoint compaction.
package provenance

import (
	"github.com/mapleaiorg/accountability-core/internal/event"
	"github.com/mapleaiorg/accountability-core/internal/ids"
)

// CheckpointRef marks a node as having been folded into a checkpoint.
type CheckpointRef struct {
	CheckpointID string
	Before       ids.HLC
}

// Node is one vertex of the causal DAG: an event plus its resolved
// child edges and indexed metadata.
type Node struct {
	EventID      ids.EventId
	Parents      []ids.EventId
	Children     []ids.EventId
	Worldline    ids.WorldlineId
	Stage        event.Stage
	Timestamp    ids.HLC
	CommitmentID string
	PolicyID     string
	Checkpoint   *CheckpointRef
}

func nodeFromEvent(e *event.Event) *Node {
	n := &Node{
		EventID:   e.ID,
		Parents:   append([]ids.EventId(nil), e.Parents...),
		Worldline: e.WorldlineID,
		Stage:     e.Stage,
		Timestamp: e.Timestamp,
	}
	if cid, ok := event.CommitmentIDOf(e.Payload); ok {
		n.CommitmentID = cid
	}
	if pid, ok := event.PolicyIDOf(e.Payload); ok {
		n.PolicyID = pid
	} else if iid, ok := event.InvariantIDOf(e.Payload); ok {
		n.PolicyID = iid
	}
	return n
}
