// Package auditstore implements the append-only, hash-chained audit log
// that the Commitment Gateway and Bridge state
// machine write every stage transition and outcome to.
package auditstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"lukechampine.com/blake3"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
)

// Entry is one row of the audit log. Hash covers every preceding field
// except EntryID via canonical JSON, chained to the previous entry's hash.
type Entry struct {
	EntryID      string          `json:"entry_id"`
	Sequence     uint64          `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	Actor        string          `json:"actor"`
	Stage        string          `json:"stage"`
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	CommitmentID string          `json:"commitment_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	PreviousHash string          `json:"previous_hash,omitempty"`
	Hash         string          `json:"hash"`
}

// hashableView is the field set the BLAKE3 hash is computed over,
// excluding Hash itself and EntryID (entry_id is a storage-layer key, not
// part of the chained content per §6).
type hashableView struct {
	PreviousHash string          `json:"previous_hash,omitempty"`
	Sequence     uint64          `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	Actor        string          `json:"actor"`
	Stage        string          `json:"stage"`
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	CommitmentID string          `json:"commitment_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// computeHash produces the BLAKE3 hex digest covering e's chained fields.
func (e *Entry) computeHash() (string, error) {
	view := hashableView{
		PreviousHash: e.PreviousHash,
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp,
		Actor:        e.Actor,
		Stage:        e.Stage,
		Success:      e.Success,
		Message:      e.Message,
		CommitmentID: e.CommitmentID,
		Payload:      e.Payload,
	}
	buf, err := json.Marshal(view)
	if err != nil {
		return "", coreerr.Wrap(coreerr.Serialization, "encode audit entry for hashing", err)
	}
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain reports whether e.Hash matches the recomputed BLAKE3 digest
// and e.PreviousHash matches prev's hash (if prev is non-nil).
func (e *Entry) VerifyChain(prev *Entry) bool {
	if prev != nil && e.PreviousHash != prev.Hash {
		return false
	}
	want, err := e.computeHash()
	if err != nil {
		return false
	}
	return want == e.Hash
}

// CompactPayload implements the "compact-for-audit rule" (§4.4): payloads
// up to 2048 bytes inline; larger ones are replaced with a content
// reference. Receipts always carry the full hash separately.
const compactInlineLimit = 2048

type compactRef struct {
	Ref    string `json:"$ref"`
	Bytes  int    `json:"bytes"`
	Inline bool   `json:"inline"`
}

func CompactPayload(payload []byte) (json.RawMessage, error) {
	if len(payload) <= compactInlineLimit {
		return json.RawMessage(payload), nil
	}
	sum := sha256.Sum256(payload)
	ref := compactRef{Ref: "sha256:" + hex.EncodeToString(sum[:]), Bytes: len(payload), Inline: false}
	out, err := json.Marshal(ref)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Serialization, "encode compact audit ref", err)
	}
	return out, nil
}
