package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
	"github.com/mapleaiorg/accountability-core/internal/ids"
)

// Event is the fundamental unit of the provenance journal.
type Event struct {
	ID            ids.EventId     `json:"id"`
	Timestamp     ids.HLC         `json:"timestamp"`
	WorldlineID   ids.WorldlineId `json:"worldline_id"`
	Stage         Stage           `json:"stage"`
	Payload       Payload         `json:"-"`
	PayloadWire   json.RawMessage `json:"payload"`
	Parents       []ids.EventId   `json:"parents"`
	IntegrityHash string          `json:"integrity_hash"`
}

// hashableView is the canonical, order-stable projection of an Event that
// the integrity hash covers. It excludes IntegrityHash itself.
type hashableView struct {
	ID          ids.EventId     `json:"id"`
	Timestamp   ids.HLC         `json:"timestamp"`
	WorldlineID ids.WorldlineId `json:"worldline_id"`
	Stage       Stage           `json:"stage"`
	Payload     json.RawMessage `json:"payload"`
	Parents     []ids.EventId   `json:"parents"`
}

// New constructs an Event, encoding payload, enforcing the parent-less
// root eligibility check, and computing the integrity hash over the
// event's final fields.
func New(id ids.EventId, ts ids.HLC, worldline ids.WorldlineId, stage Stage, payload Payload, parents []ids.EventId) (*Event, error) {
	wire, err := MarshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	e := &Event{
		ID:          id,
		Timestamp:   ts,
		WorldlineID: worldline,
		Stage:       stage,
		Payload:     payload,
		PayloadWire: wire,
		Parents:     append([]ids.EventId(nil), parents...),
	}
	if len(e.Parents) == 0 && !stage.RootEligible() {
		return nil, coreerr.New(coreerr.InvariantViolation, fmt.Sprintf("stage %s requires at least one parent", stage))
	}
	e.IntegrityHash = e.computeHash()
	return e, nil
}

// computeHash produces the content hash covering id, timestamp, worldline,
// stage, payload, and parents.
func (e *Event) computeHash() string {
	view := hashableView{
		ID:          e.ID,
		Timestamp:   e.Timestamp,
		WorldlineID: e.WorldlineID,
		Stage:       e.Stage,
		Payload:     e.PayloadWire,
		Parents:     e.Parents,
	}
	// json.Marshal on a fixed struct with no maps is deterministic field
	// order, which is sufficient for a stable content hash here; the
	// payload itself was already canonicalized by MarshalPayload.
	buf, err := json.Marshal(view)
	if err != nil {
		// Struct has no unmarshalable fields; this cannot happen in
		// practice, but surface deterministically rather than panic.
		return ""
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity reports whether the stored hash matches the content hash
// recomputed from the event's current fields.
func (e *Event) VerifyIntegrity() bool {
	return e.IntegrityHash != "" && e.IntegrityHash == e.computeHash()
}

// DecodePayload lazily decodes PayloadWire into Payload, used after the
// event has been deserialized from the WAL (where only PayloadWire and the
// other JSON fields are populated).
func (e *Event) DecodePayload() error {
	if e.Payload != nil {
		return nil
	}
	p, err := UnmarshalPayload(e.PayloadWire)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	e.Payload = p
	return nil
}

// Clone returns an independent deep copy safe to share across goroutines.
func (e *Event) Clone() *Event {
	clone := *e
	clone.Parents = append([]ids.EventId(nil), e.Parents...)
	clone.PayloadWire = append(json.RawMessage(nil), e.PayloadWire...)
	return &clone
}

// MarshalJSON implements json.Marshaler, serializing PayloadWire as the
// "payload" field directly (Payload itself is not marshaled; PayloadWire
// is the source of truth for wire form).
func (e *Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal((*alias)(e))
}

// UnmarshalJSON implements json.Unmarshaler. Callers must invoke
// DecodePayload afterward to populate the typed Payload field.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	return json.Unmarshal(data, (*alias)(e))
}
