// Package contractstore defines the Commitment record and its lifecycle,
// and the ContractStore seam the Commitment Gateway authorizes against.
package contractstore

import (
	"time"

	"github.com/mapleaiorg/accountability-core/internal/ids"
	"github.com/mapleaiorg/accountability-core/internal/identity"
)

// Reversibility classifies how recoverable a commitment's effect is.
type Reversibility struct {
	Kind   ReversibilityKind
	Reason string // populated only for PartiallyReversible
}

type ReversibilityKind string

const (
	Reversible           ReversibilityKind = "Reversible"
	PartiallyReversible  ReversibilityKind = "PartiallyReversible"
	Irreversible         ReversibilityKind = "Irreversible"
)

// State is a commitment's lifecycle state.
type State string

const (
	Pending   State = "Pending"
	Approved  State = "Approved"
	Executing State = "Executing"
	Completed State = "Completed"
	Failed    State = "Failed"
	Denied    State = "Denied"
	Expired   State = "Expired"
)

// allowedTransitions enumerates every (from, to) pair the lifecycle
// permits. Approved->Denied and Executing->Approved are explicitly
// forbidden.
var allowedTransitions = map[State]map[State]bool{
	Pending:   {Approved: true, Denied: true, Expired: true},
	Approved:  {Executing: true, Expired: true},
	Executing: {Completed: true, Failed: true},
}

// CanTransition reports whether from->to is a permitted lifecycle edge.
func CanTransition(from, to State) bool {
	return allowedTransitions[from][to]
}

// ScopeRule is one (target, operation-set) rule of a commitment's scope.
type ScopeRule struct {
	Target     string   `json:"target"`
	Operations []string `json:"operations"`
}

// Scope is the full set of scope rules a commitment covers.
type Scope struct {
	Rules []ScopeRule `json:"rules"`
}

// Covers reports whether every (target, operation) pair is matched by at
// least one rule. An empty requested set is trivially covered.
func (s Scope) Covers(requested []ScopeRule) bool {
	for _, req := range requested {
		if !s.coversOne(req) {
			return false
		}
	}
	return true
}

func (s Scope) coversOne(req ScopeRule) bool {
	for _, rule := range s.Rules {
		if rule.Target != req.Target {
			continue
		}
		if len(req.Operations) == 0 {
			return true
		}
		for _, op := range req.Operations {
			if !containsString(rule.Operations, op) {
				return false
			}
		}
		return true
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// CapabilityRef identifies a capability a commitment is bound to, in the
// form "cap:<resonator>:<name>".
type CapabilityRef string

// TemporalValidity is the inclusive window a commitment may be executed in.
type TemporalValidity struct {
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
}

// Covers reports whether t falls within [NotBefore, NotAfter] inclusive.
func (tv TemporalValidity) Covers(t time.Time) bool {
	return !t.Before(tv.NotBefore) && !t.After(tv.NotAfter)
}

// OutcomeCriteria describes how a commitment's outcome is judged, carried
// opaquely by the core (interpreted by the surface that declared it).
type OutcomeCriteria struct {
	Description string `json:"description"`
}

// Commitment is a declarative authorization record binding a principal to
// a permitted class of effects under a scope and time window.
type Commitment struct {
	CommitmentID         ids.CommitmentId      `json:"commitment_id"`
	Principal            identity.Ref          `json:"principal"`
	EffectDomain         string                `json:"effect_domain"`
	Scope                Scope                 `json:"scope"`
	TemporalValidity     TemporalValidity      `json:"temporal_validity"`
	RequiredCapabilities []CapabilityRef       `json:"required_capabilities"`
	Reversibility        Reversibility         `json:"reversibility"`
	OutcomeCriteria      OutcomeCriteria       `json:"outcome_criteria"`
	State                State                 `json:"state"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// RequiresCapability reports whether expected is among RequiredCapabilities.
func (c *Commitment) RequiresCapability(expected CapabilityRef) bool {
	for _, cap := range c.RequiredCapabilities {
		if cap == expected {
			return true
		}
	}
	return false
}

// Active reports whether the commitment is currently in a state eligible
// for contract lookup: any of Approved/Executing, the window in which the
// gateway may re-check and execute against it.
func (c *Commitment) Active() bool {
	return c.State == Approved || c.State == Executing
}
