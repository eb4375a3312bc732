package auditstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendBuildsHashChain(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	e1, err := s.Append(ctx, AppendRequest{Actor: "gateway", Stage: "tool_call_issued", Success: true, Message: "issued"})
	require.NoError(t, err)
	require.Empty(t, e1.PreviousHash)
	require.EqualValues(t, 1, e1.Sequence)

	e2, err := s.Append(ctx, AppendRequest{Actor: "gateway", Stage: "tool_call_result", Success: true, Message: "ok"})
	require.NoError(t, err)
	require.Equal(t, e1.Hash, e2.PreviousHash)
	require.EqualValues(t, 2, e2.Sequence)

	require.NoError(t, s.VerifyChain(ctx))
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, err := s.Append(ctx, AppendRequest{Actor: "gateway", Stage: "a", Success: true, Message: "m1"})
	require.NoError(t, err)
	_, err = s.Append(ctx, AppendRequest{Actor: "gateway", Stage: "b", Success: true, Message: "m2"})
	require.NoError(t, err)

	s.entries[0].Message = "tampered"
	require.Error(t, s.VerifyChain(ctx))
}

func TestByCommitmentFiltersAndOrders(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_, err := s.Append(ctx, AppendRequest{Actor: "gateway", Stage: "x", CommitmentID: "other", Success: true})
	require.NoError(t, err)
	_, err = s.Append(ctx, AppendRequest{Actor: "gateway", Stage: "bridge_proposed", CommitmentID: "c1", Success: true})
	require.NoError(t, err)
	_, err = s.Append(ctx, AppendRequest{Actor: "gateway", Stage: "bridge_authorized", CommitmentID: "c1", Success: true})
	require.NoError(t, err)

	entries, err := s.ByCommitment(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "bridge_proposed", entries[0].Stage)
	require.Equal(t, "bridge_authorized", entries[1].Stage)
}

func TestCompactForAuditInlinesSmallPayloads(t *testing.T) {
	small := []byte(`{"a":1}`)
	out, err := CompactPayload(small)
	require.NoError(t, err)
	require.JSONEq(t, string(small), string(out))
}

func TestCompactForAuditRefsLargePayloads(t *testing.T) {
	large := []byte(`{"a":"` + strings.Repeat("x", 3000) + `"}`)
	out, err := CompactPayload(large)
	require.NoError(t, err)
	require.Contains(t, string(out), `"$ref":"sha256:`)
	require.Contains(t, string(out), `"inline":false`)
}
