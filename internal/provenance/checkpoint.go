package provenance

import (
	"fmt"
	"time"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
	"github.com/mapleaiorg/accountability-core/internal/ids"
)

// Checkpoint records one compaction run.
type Checkpoint struct {
	ID              string
	Before          ids.HLC
	BoundaryEvents  []ids.EventId
	CompressedCount int
	CreatedAt       time.Time
}

// nowFn is overridable in tests for deterministic CreatedAt stamps.
var nowFn = time.Now

// Checkpoint compresses every node with Timestamp < before and no existing
// Checkpoint tag. Boundary nodes (those with a child outside the set) are
// retained and tagged; non-boundary nodes are removed. A retained
// boundary node's parent pointers into removed ancestors are rewritten to
// empty so that no query can ever observe a dangling parent reference
// after compaction.
func (idx *Index) Checkpoint(before ids.HLC, id string) (*Checkpoint, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	set := make(map[ids.EventId]bool)
	for eid, n := range idx.nodes {
		if n.Checkpoint == nil && n.Timestamp.Before(before) {
			set[eid] = true
		}
	}
	if len(set) == 0 {
		return nil, coreerr.New(coreerr.InvariantViolation, "checkpoint: no eligible events before the given HLC")
	}

	boundary := make(map[ids.EventId]bool)
	for eid := range set {
		n := idx.nodes[eid]
		for _, child := range n.Children {
			if !set[child] {
				boundary[eid] = true
				break
			}
		}
	}

	ref := &CheckpointRef{CheckpointID: id, Before: before}
	var boundaryList []ids.EventId
	for eid := range set {
		idx.nodes[eid].Checkpoint = ref
		if boundary[eid] {
			boundaryList = append(boundaryList, eid)
		}
	}

	for eid := range set {
		if boundary[eid] {
			continue
		}
		n := idx.nodes[eid]
		delete(idx.nodes, eid)
		idx.removeFromIndices(n)
	}

	// Rewrite boundary nodes' parent lists so no surviving node points at
	// a removed ancestor: resolve as empty rather than a dangling reference.
	for _, eid := range boundaryList {
		n := idx.nodes[eid]
		var kept []ids.EventId
		for _, p := range n.Parents {
			if _, stillThere := idx.nodes[p]; stillThere {
				kept = append(kept, p)
			}
		}
		n.Parents = kept
	}

	cp := Checkpoint{
		ID:              id,
		Before:          before,
		BoundaryEvents:  boundaryList,
		CompressedCount: len(set),
		CreatedAt:       nowFn(),
	}
	idx.checkpoints = append(idx.checkpoints, cp)
	return &cp, nil
}

// removeFromIndices deletes n's entries from the secondary indices. The
// caller must hold idx.mu for writing.
func (idx *Index) removeFromIndices(n *Node) {
	idx.byWorldline[n.Worldline] = removeID(idx.byWorldline[n.Worldline], n.EventID)
	if n.CommitmentID != "" {
		idx.byCommitment[n.CommitmentID] = removeID(idx.byCommitment[n.CommitmentID], n.EventID)
	}
	if n.PolicyID != "" {
		idx.byPolicy[n.PolicyID] = removeID(idx.byPolicy[n.PolicyID], n.EventID)
	}
}

func removeID(list []ids.EventId, target ids.EventId) []ids.EventId {
	out := list[:0]
	for _, id := range list {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Checkpoints returns all compaction records in run order.
func (idx *Index) Checkpoints() []Checkpoint {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return append([]Checkpoint(nil), idx.checkpoints...)
}

// checkpointIDFmt is a helper for callers that want a deterministic,
// sequence-derived checkpoint id rather than supplying their own.
func checkpointIDFmt(seq int) string {
	return fmt.Sprintf("cp-%04d", seq)
}

// NextCheckpointID returns a sequence-derived checkpoint id suitable for
// passing to Checkpoint when the caller has no external id scheme.
func (idx *Index) NextCheckpointID() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return checkpointIDFmt(len(idx.checkpoints) + 1)
}
