// Package ids provides the opaque identifier types and the hybrid logical
// clock shared by every subsystem of the accountability-gated event runtime.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// EventId identifies a single event in the fabric/WAL/provenance index.
type EventId string

// CommitmentId identifies a commitment record in the contract store.
type CommitmentId string

// WorldlineId identifies an identity-scoped ordering of events.
type WorldlineId string

// ResonatorId identifies a capability-hosting subsystem (e.g. "meaning",
// "intent", "consequence") that emits events on behalf of a worldline.
type ResonatorId string

// NodeId identifies the process/node that stamped an HLC tick.
type NodeId string

// ExecutionId identifies one bridge execution (a multi-leg settlement run).
type ExecutionId string

// NewEventId generates a new random EventId (128-bit, via UUIDv4).
func NewEventId() EventId {
	return EventId(uuid.NewString())
}

// NewExecutionId generates a new random ExecutionId (128-bit, via UUIDv4).
func NewExecutionId() ExecutionId {
	return ExecutionId(uuid.NewString())
}

// HLC is a hybrid logical clock tuple: (physical_ms, logical_counter, node_id).
// Total order is lexicographic on the tuple.
type HLC struct {
	PhysicalMs int64  `json:"physical_ms"`
	Logical    uint32 `json:"logical_counter"`
	Node       NodeId `json:"node_id"`
}

// Compare returns -1, 0, or 1 per the lexicographic tuple order.
func (h HLC) Compare(o HLC) int {
	if h.PhysicalMs != o.PhysicalMs {
		if h.PhysicalMs < o.PhysicalMs {
			return -1
		}
		return 1
	}
	if h.Logical != o.Logical {
		if h.Logical < o.Logical {
			return -1
		}
		return 1
	}
	if h.Node != o.Node {
		if h.Node < o.Node {
			return -1
		}
		return 1
	}
	return 0
}

// Before reports whether h sorts strictly before o.
func (h HLC) Before(o HLC) bool { return h.Compare(o) < 0 }

// String renders the HLC for logging/debugging.
func (h HLC) String() string {
	return fmt.Sprintf("%d.%d@%s", h.PhysicalMs, h.Logical, h.Node)
}
