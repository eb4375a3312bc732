package contractstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
	"github.com/mapleaiorg/accountability-core/internal/ids"
)

// Store is the seam the Commitment Gateway authorizes and transitions
// commitments against. Commitments are owned by a contract store; the
// gateway holds only a reference.
type Store interface {
	Get(ctx context.Context, id ids.CommitmentId) (*Commitment, error)
	Put(ctx context.Context, c *Commitment) error
	// Transition atomically moves a commitment from its current state to
	// to, rejecting the call if the edge is not permitted or the
	// commitment does not exist. Per-commitment calls are serialized.
	Transition(ctx context.Context, id ids.CommitmentId, to State) (*Commitment, error)
}

// InMemory is the canonical Store implementation: a mutex-guarded map,
// with per-commitment serialization provided by locking the whole map for
// the duration of a transition (small scale; the bridge/gateway never hold
// this lock across an adapter call).
type InMemory struct {
	mu          sync.Mutex
	commitments map[ids.CommitmentId]*Commitment
}

// NewInMemory creates an empty in-memory contract store.
func NewInMemory() *InMemory {
	return &InMemory{commitments: make(map[ids.CommitmentId]*Commitment)}
}

func (s *InMemory) Get(_ context.Context, id ids.CommitmentId) (*Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commitments[id]
	if !ok {
		return nil, coreerr.New(coreerr.CommitmentMissing, fmt.Sprintf("commitment %s not found", id))
	}
	clone := *c
	return &clone, nil
}

func (s *InMemory) Put(_ context.Context, c *Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *c
	s.commitments[c.CommitmentID] = &clone
	return nil
}

func (s *InMemory) Transition(_ context.Context, id ids.CommitmentId, to State) (*Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.commitments[id]
	if !ok {
		return nil, coreerr.New(coreerr.CommitmentMissing, fmt.Sprintf("commitment %s not found", id))
	}
	if !CanTransition(c.State, to) {
		return nil, coreerr.New(coreerr.InvariantViolation,
			fmt.Sprintf("commitment %s: transition %s -> %s not permitted", id, c.State, to))
	}
	c.State = to
	c.UpdatedAt = time.Now()
	clone := *c
	return &clone, nil
}
