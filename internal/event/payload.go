package event

import (
	"encoding/json"
	"fmt"
)

// PayloadKind identifies one of the closed set of event payload variants.
type PayloadKind string

const (
	KindWorldlineCreated   PayloadKind = "WorldlineCreated"
	KindMeaningFormed      PayloadKind = "MeaningFormed"
	KindIntentStabilized   PayloadKind = "IntentStabilized"
	KindCommitmentDeclared PayloadKind = "CommitmentDeclared"
	KindCommitmentApproved PayloadKind = "CommitmentApproved"
	KindCommitmentDenied   PayloadKind = "CommitmentDenied"
	KindCommitmentFulfilled PayloadKind = "CommitmentFulfilled"
	KindCommitmentFailed   PayloadKind = "CommitmentFailed"
	KindConsequenceObserved PayloadKind = "ConsequenceObserved"
	KindPolicyEvaluated    PayloadKind = "PolicyEvaluated"
	KindInvariantChecked   PayloadKind = "InvariantChecked"
	// KindGenesis / KindCustom round out the "other" bucket so surfaces
	// above the core (agent kernel, bridge, workflow orchestration) can
	// carry their own stage-tagged data without the core needing to know
	// about it; indexing metadata for these is simply absent.
	KindGenesis PayloadKind = "Genesis"
	KindCustom  PayloadKind = "Custom"
)

// Payload is the tagged-variant event body. Every concrete payload type
// implements Kind() and is round-trip stable through JSON.
type Payload interface {
	Kind() PayloadKind
}

type WorldlineCreated struct {
	Profile string `json:"profile"`
}

func (WorldlineCreated) Kind() PayloadKind { return KindWorldlineCreated }

type MeaningFormed struct {
	InterpretationCount int     `json:"interpretation_count"`
	Confidence          float64 `json:"confidence"`
	AmbiguityPreserved  bool    `json:"ambiguity_preserved"`
}

func (MeaningFormed) Kind() PayloadKind { return KindMeaningFormed }

type IntentStabilized struct {
	Direction  string   `json:"direction"`
	Confidence float64  `json:"confidence"`
	Conditions []string `json:"conditions"`
}

func (IntentStabilized) Kind() PayloadKind { return KindIntentStabilized }

type CommitmentDeclared struct {
	CommitmentID string   `json:"commitment_id"`
	Scope        string   `json:"scope"`
	Parties      []string `json:"parties"`
}

func (CommitmentDeclared) Kind() PayloadKind { return KindCommitmentDeclared }

type CommitmentApproved struct {
	CommitmentID string          `json:"commitment_id"`
	DecisionCard json.RawMessage `json:"decision_card"`
}

func (CommitmentApproved) Kind() PayloadKind { return KindCommitmentApproved }

type CommitmentDenied struct {
	CommitmentID string `json:"commitment_id"`
	Reason       string `json:"reason"`
}

func (CommitmentDenied) Kind() PayloadKind { return KindCommitmentDenied }

type CommitmentFulfilled struct {
	CommitmentID string `json:"commitment_id"`
}

func (CommitmentFulfilled) Kind() PayloadKind { return KindCommitmentFulfilled }

type CommitmentFailed struct {
	CommitmentID string `json:"commitment_id"`
	Reason       string `json:"reason"`
}

func (CommitmentFailed) Kind() PayloadKind { return KindCommitmentFailed }

type ConsequenceObserved struct {
	CommitmentID string `json:"commitment_id"`
	Summary      string `json:"summary"`
	Success      bool   `json:"success"`
}

func (ConsequenceObserved) Kind() PayloadKind { return KindConsequenceObserved }

type PolicyEvaluated struct {
	PolicyID string `json:"policy_id"`
	Result   string `json:"result"`
}

func (PolicyEvaluated) Kind() PayloadKind { return KindPolicyEvaluated }

type InvariantChecked struct {
	InvariantID string `json:"invariant_id"`
	Status      string `json:"status"`
}

func (InvariantChecked) Kind() PayloadKind { return KindInvariantChecked }

// Genesis is the System-stage root payload used to seed a worldline.
type Genesis struct {
	Note string `json:"note"`
}

func (Genesis) Kind() PayloadKind { return KindGenesis }

// Custom carries opaque, caller-defined data for stages/payloads the core
// does not assign any special indexing meaning to.
type Custom struct {
	Tag  string          `json:"tag"`
	Data json.RawMessage `json:"data"`
}

func (Custom) Kind() PayloadKind { return KindCustom }

// envelope is the wire representation of a Payload: a discriminator plus
// the variant's own JSON encoding, nested so decode can dispatch on Kind
// before unmarshaling the body.
type envelope struct {
	Kind PayloadKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalPayload encodes a Payload into its tagged wire form.
func MarshalPayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload body: %w", err)
	}
	return json.Marshal(envelope{Kind: p.Kind(), Data: data})
}

// UnmarshalPayload decodes a tagged wire form back into the concrete
// Payload variant. Unrecognized kinds decode as Custom so replay never
// fails on payload variants introduced by a newer writer (forward
// compatibility for the "other" bucket in §4.3's mapping table).
func UnmarshalPayload(raw []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal payload envelope: %w", err)
	}
	switch env.Kind {
	case KindWorldlineCreated:
		var p WorldlineCreated
		return p, json.Unmarshal(env.Data, &p)
	case KindMeaningFormed:
		var p MeaningFormed
		return p, json.Unmarshal(env.Data, &p)
	case KindIntentStabilized:
		var p IntentStabilized
		return p, json.Unmarshal(env.Data, &p)
	case KindCommitmentDeclared:
		var p CommitmentDeclared
		return p, json.Unmarshal(env.Data, &p)
	case KindCommitmentApproved:
		var p CommitmentApproved
		return p, json.Unmarshal(env.Data, &p)
	case KindCommitmentDenied:
		var p CommitmentDenied
		return p, json.Unmarshal(env.Data, &p)
	case KindCommitmentFulfilled:
		var p CommitmentFulfilled
		return p, json.Unmarshal(env.Data, &p)
	case KindCommitmentFailed:
		var p CommitmentFailed
		return p, json.Unmarshal(env.Data, &p)
	case KindConsequenceObserved:
		var p ConsequenceObserved
		return p, json.Unmarshal(env.Data, &p)
	case KindPolicyEvaluated:
		var p PolicyEvaluated
		return p, json.Unmarshal(env.Data, &p)
	case KindInvariantChecked:
		var p InvariantChecked
		return p, json.Unmarshal(env.Data, &p)
	case KindGenesis:
		var p Genesis
		return p, json.Unmarshal(env.Data, &p)
	default:
		var p Custom
		p.Tag = string(env.Kind)
		p.Data = env.Data
		return p, nil
	}
}
