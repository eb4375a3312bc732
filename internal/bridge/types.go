// Package bridge implements the Bridge Execution State Machine: a
// multi-leg settlement coordinator over a prior commitment, with strict
// state transitions, per-leg accountable wire messages, atomic LIFO
// compensation on partial failure, and one Unified Bridge Receipt.
package bridge

import (
	"time"

	"github.com/mapleaiorg/accountability-core/internal/ids"
)

// State is a bridge execution's lifecycle state.
type State string

const (
	Proposed  State = "Proposed"
	Authorized State = "Authorized"
	Executing State = "Executing"
	Settled   State = "Settled"
	Failed    State = "Failed"
	Recorded  State = "Recorded"
)

// allowedTransitions enumerates every (from, to) pair the state machine
// permits: a strict prefix of Proposed->Authorized->
// Executing->(Settled|Failed)->Recorded, no gaps, no repeats.
var allowedTransitions = map[State]map[State]bool{
	Proposed:   {Authorized: true},
	Authorized: {Executing: true},
	Executing:  {Settled: true, Failed: true},
	Settled:    {Recorded: true},
	Failed:     {Recorded: true},
}

// CanTransition reports whether from->to is a permitted state machine edge.
func CanTransition(from, to State) bool {
	return allowedTransitions[from][to]
}

// LegType distinguishes on-chain from off-chain (rail) settlement legs.
type LegType string

const (
	Chain LegType = "Chain"
	Rail  LegType = "Rail"
)

// Leg is one settlement step of a bridge execution, declared in the order
// it must execute.
type Leg struct {
	ID        string                 `json:"leg_id"`
	Type      LegType                `json:"leg_type"`
	AdapterID string                 `json:"adapter_id"`
	Payload   map[string]interface{} `json:"payload"`
}

// Request is the caller-supplied multi-leg execution request.
type Request struct {
	ExecutionID  ids.ExecutionId
	TraceID      string
	CommitmentID ids.CommitmentId
	OriginActor  string
	Legs         []Leg
}

// OriginProof is the signature over a wire message's canonical body,
// binding it to the actor who originated it.
type OriginProof struct {
	KeyID     string `json:"key_id"`
	Signature string `json:"signature"`
}

// Witness ties a wire message to the specific preceding audit entry that
// attests to the leg's preparation.
type Witness struct {
	AuditEntryID string `json:"audit_entry_id"`
	AuditHash    string `json:"audit_hash"`
}

// WireMessage is the accountable wire message built for one leg before
// its adapter is invoked.
type WireMessage struct {
	MessageID    string                 `json:"message_id"`
	TraceID      string                 `json:"trace_id"`
	OriginActor  string                 `json:"origin_actor"`
	Payload      map[string]interface{} `json:"payload"`
	Witness      Witness                `json:"witness"`
	CommitmentRef string                `json:"commitment_ref"`
	OriginProof  OriginProof            `json:"origin_proof"`
}

// RecoveryAction records one compensation attempt made against an
// already-settled leg after a later leg failed.
type RecoveryAction struct {
	LegID           string `json:"leg_id"`
	Attempted       bool   `json:"attempted"`
	Success         bool   `json:"success"`
	ActionReference string `json:"action_reference,omitempty"`
	Detail          string `json:"detail,omitempty"`
}

// RouteType classifies a bridge execution by the kinds of legs it ran.
type RouteType string

const (
	OnChain  RouteType = "OnChain"
	OffChain RouteType = "OffChain"
	Hybrid   RouteType = "Hybrid"
)

func routeTypeFor(legs []Leg) RouteType {
	var sawChain, sawRail bool
	for _, l := range legs {
		switch l.Type {
		case Chain:
			sawChain = true
		case Rail:
			sawRail = true
		}
	}
	switch {
	case sawChain && sawRail:
		return Hybrid
	case sawChain:
		return OnChain
	default:
		return OffChain
	}
}

// UnifiedBridgeLegReceipt is the uniform per-leg settlement record
// produced for both chain and rail legs.
type UnifiedBridgeLegReceipt struct {
	LegID           string    `json:"leg_id"`
	LegType         LegType   `json:"leg_type"`
	AdapterID       string    `json:"adapter_id"`
	BridgeReference string    `json:"bridge_reference"`
	SettledAt       time.Time `json:"settled_at"`
	WireMessageID   string    `json:"wire_message_id"`
}

// ExecutionStatus is the final outcome recorded on a Unified Bridge Receipt.
type ExecutionStatus string

const (
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusFailed    ExecutionStatus = "failed"
)

// UnifiedBridgeReceipt is the single cross-leg settlement artifact
// produced once a bridge execution reaches Recorded.
type UnifiedBridgeReceipt struct {
	ExecutionID  ids.ExecutionId           `json:"execution_id"`
	TraceID      string                    `json:"trace_id"`
	RouteType    RouteType                 `json:"route_type"`
	CommitmentID ids.CommitmentId          `json:"commitment_id"`
	SnapshotHash string                    `json:"snapshot_hash"`
	Status       ExecutionStatus           `json:"status"`
	State        State                     `json:"state"`
	LegReceipts  []UnifiedBridgeLegReceipt `json:"leg_receipts"`
	RecoveryPlan []RecoveryAction          `json:"recovery_plan"`
	RecordedAt   time.Time                 `json:"recorded_at"`
}
