package provenance

import (
	"fmt"
	"sync"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
	"github.com/mapleaiorg/accountability-core/internal/event"
	"github.com/mapleaiorg/accountability-core/internal/ids"
)

// Index is an in-memory causal DAG over inserted events, with secondary
// indices on commitment_id and policy_id and worldline membership.
type Index struct {
	mu sync.RWMutex

	nodes map[ids.EventId]*Node

	// pendingChildren tracks children already inserted whose declared
	// parent has not yet arrived (out-of-order ingestion); when
	// the parent finally arrives these become its Children.
	pendingChildren map[ids.EventId][]ids.EventId

	byWorldline  map[ids.WorldlineId][]ids.EventId
	byCommitment map[string][]ids.EventId
	byPolicy     map[string][]ids.EventId

	checkpoints []Checkpoint
}

// New creates an empty provenance index.
func New() *Index {
	return &Index{
		nodes:           make(map[ids.EventId]*Node),
		pendingChildren: make(map[ids.EventId][]ids.EventId),
		byWorldline:     make(map[ids.WorldlineId][]ids.EventId),
		byCommitment:    make(map[string][]ids.EventId),
		byPolicy:        make(map[string][]ids.EventId),
	}
}

// AddEvent inserts e into the DAG. Fails if e.ID already exists, if e has
// no parents and its stage is not root-eligible, or if inserting e would
// close a cycle via events that arrived out of order citing e as their
// parent.
func (idx *Index) AddEvent(e *event.Event) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.nodes[e.ID]; exists {
		return coreerr.New(coreerr.InvariantViolation, fmt.Sprintf("event %s already indexed", e.ID))
	}
	if len(e.Parents) == 0 && !e.Stage.RootEligible() {
		return coreerr.New(coreerr.InvariantViolation, fmt.Sprintf("event %s: stage %s requires parents", e.ID, e.Stage))
	}

	waitingChildren := idx.pendingChildren[e.ID]
	if len(waitingChildren) > 0 {
		for _, parentID := range e.Parents {
			if idx.reachableViaChildren(waitingChildren, parentID) {
				return coreerr.New(coreerr.InvariantViolation,
					fmt.Sprintf("event %s: parent %s would close a cycle", e.ID, parentID))
			}
		}
	}

	n := nodeFromEvent(e)
	n.Children = append([]ids.EventId(nil), waitingChildren...)
	idx.nodes[e.ID] = n
	delete(idx.pendingChildren, e.ID)

	for _, parentID := range e.Parents {
		if parent, ok := idx.nodes[parentID]; ok {
			parent.Children = append(parent.Children, e.ID)
		} else {
			idx.pendingChildren[parentID] = append(idx.pendingChildren[parentID], e.ID)
		}
	}

	idx.byWorldline[e.WorldlineID] = append(idx.byWorldline[e.WorldlineID], e.ID)
	if n.CommitmentID != "" {
		idx.byCommitment[n.CommitmentID] = append(idx.byCommitment[n.CommitmentID], e.ID)
	}
	if n.PolicyID != "" {
		idx.byPolicy[n.PolicyID] = append(idx.byPolicy[n.PolicyID], e.ID)
	}
	return nil
}

// reachableViaChildren reports whether target is reachable by following
// Children edges starting from the given frontier (BFS).
func (idx *Index) reachableViaChildren(frontier []ids.EventId, target ids.EventId) bool {
	visited := make(map[ids.EventId]bool)
	queue := append([]ids.EventId(nil), frontier...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if n, ok := idx.nodes[cur]; ok {
			queue = append(queue, n.Children...)
		}
	}
	return false
}

// node returns the indexed node for id without taking idx.mu; the returned
// pointer is the live node, not a copy, so callers must hold the lock or
// otherwise have exclusive access to idx.
func (idx *Index) node(id ids.EventId) (*Node, bool) {
	n, ok := idx.nodes[id]
	return n, ok
}

// Len returns the number of nodes currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}
