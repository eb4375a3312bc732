package auditstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
)

// AppendRequest is the caller-supplied content for one audit entry; the
// store assigns EntryID, Sequence, PreviousHash, and Hash.
type AppendRequest struct {
	Actor        string
	Stage        string
	Success      bool
	Message      string
	CommitmentID string
	Payload      interface{}
}

// Store is the append-only audit log seam. Appending is exclusive, to
// preserve the hash chain.
type Store interface {
	Append(ctx context.Context, req AppendRequest) (*Entry, error)
	// ByCommitment returns every entry for commitmentID, ascending by sequence.
	ByCommitment(ctx context.Context, commitmentID string) ([]*Entry, error)
	// Range returns entries with sequence in [from, to], ascending.
	Range(ctx context.Context, from, to uint64) ([]*Entry, error)
	// VerifyChain walks every entry in sequence order, recomputing each
	// entry's hash and checking that its PreviousHash matches the hash of
	// the entry before it.
	VerifyChain(ctx context.Context) error
}

// InMemory is the canonical Store implementation: append serialized under
// a single mutex.
type InMemory struct {
	mu      sync.Mutex
	entries []*Entry
	lastSeq uint64
}

// NewInMemory creates an empty in-memory audit store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, req AppendRequest) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := marshalPayload(req.Payload)
	if err != nil {
		return nil, err
	}
	compact, err := CompactPayload(payload)
	if err != nil {
		return nil, err
	}

	var prevHash string
	if len(s.entries) > 0 {
		prevHash = s.entries[len(s.entries)-1].Hash
	}

	s.lastSeq++
	e := &Entry{
		EntryID:      uuid.NewString(),
		Sequence:     s.lastSeq,
		Timestamp:    time.Now(),
		Actor:        req.Actor,
		Stage:        req.Stage,
		Success:      req.Success,
		Message:      req.Message,
		CommitmentID: req.CommitmentID,
		Payload:      compact,
		PreviousHash: prevHash,
	}
	hash, err := e.computeHash()
	if err != nil {
		return nil, err
	}
	e.Hash = hash

	s.entries = append(s.entries, e)
	clone := *e
	return &clone, nil
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Serialization, "encode audit payload", err)
	}
	return buf, nil
}

func (s *InMemory) ByCommitment(_ context.Context, commitmentID string) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Entry
	for _, e := range s.entries {
		if e.CommitmentID == commitmentID {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *InMemory) Range(_ context.Context, from, to uint64) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Entry
	for _, e := range s.entries {
		if e.Sequence >= from && e.Sequence <= to {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *InMemory) VerifyChain(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var prev *Entry
	for _, e := range s.entries {
		if !e.VerifyChain(prev) {
			return coreerr.New(coreerr.InvariantViolation,
				fmt.Sprintf("audit chain broken at sequence %d", e.Sequence))
		}
		prev = e
	}
	return nil
}
