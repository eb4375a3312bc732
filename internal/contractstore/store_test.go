package contractstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mapleaiorg/accountability-core/internal/identity"
)

func sampleCommitment() *Commitment {
	now := time.Now()
	return &Commitment{
		CommitmentID: "c1",
		Principal:    identity.Ref{Value: "agent-1"},
		EffectDomain: "tooling",
		Scope: Scope{Rules: []ScopeRule{
			{Target: "echo_log", Operations: []string{"invoke"}},
		}},
		TemporalValidity:     TemporalValidity{NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour)},
		RequiredCapabilities: []CapabilityRef{"cap:tooling:echo_log"},
		Reversibility:        Reversibility{Kind: Reversible},
		State:                Pending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func TestTransitionAllowedPath(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	c := sampleCommitment()
	require.NoError(t, s.Put(ctx, c))

	got, err := s.Transition(ctx, "c1", Approved)
	require.NoError(t, err)
	require.Equal(t, Approved, got.State)

	got, err = s.Transition(ctx, "c1", Executing)
	require.NoError(t, err)
	require.Equal(t, Executing, got.State)

	got, err = s.Transition(ctx, "c1", Completed)
	require.NoError(t, err)
	require.Equal(t, Completed, got.State)
}

func TestTransitionRejectsApprovedToDenied(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	c := sampleCommitment()
	c.State = Approved
	require.NoError(t, s.Put(ctx, c))

	_, err := s.Transition(ctx, "c1", Denied)
	require.Error(t, err)
}

func TestTransitionRejectsExecutingToApproved(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	c := sampleCommitment()
	c.State = Executing
	require.NoError(t, s.Put(ctx, c))

	_, err := s.Transition(ctx, "c1", Approved)
	require.Error(t, err)
}

func TestGetMissingCommitment(t *testing.T) {
	s := NewInMemory()
	_, err := s.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestScopeCoversRequiresMatchingOperations(t *testing.T) {
	scope := Scope{Rules: []ScopeRule{{Target: "wallet", Operations: []string{"read", "write"}}}}
	require.True(t, scope.Covers([]ScopeRule{{Target: "wallet", Operations: []string{"read"}}}))
	require.False(t, scope.Covers([]ScopeRule{{Target: "wallet", Operations: []string{"delete"}}}))
	require.True(t, scope.Covers(nil))
}

func TestTemporalValidityCovers(t *testing.T) {
	now := time.Now()
	tv := TemporalValidity{NotBefore: now.Add(-time.Minute), NotAfter: now.Add(time.Minute)}
	require.True(t, tv.Covers(now))
	require.False(t, tv.Covers(now.Add(-time.Hour)))
	require.False(t, tv.Covers(now.Add(time.Hour)))
}
