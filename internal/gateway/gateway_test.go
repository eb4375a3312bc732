package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mapleaiorg/accountability-core/internal/auditstore"
	"github.com/mapleaiorg/accountability-core/internal/contractstore"
	"github.com/mapleaiorg/accountability-core/internal/coreerr"
	"github.com/mapleaiorg/accountability-core/internal/identity"
	"github.com/mapleaiorg/accountability-core/internal/ids"
)

const (
	testAgent   = "agent-1"
	testDomain  = "tooling"
	testCapID   = "echo"
	testContract = ids.CommitmentId("commitment-1")
)

func testCapability() Capability {
	return Capability{
		ID:     testCapID,
		Domain: testDomain,
		Scope:  []contractstore.ScopeRule{{Target: "files", Operations: []string{"read"}}},
	}
}

func seedCommitment(t *testing.T, store contractstore.Store, mutate func(*contractstore.Commitment)) *contractstore.Commitment {
	t.Helper()
	now := time.Now()
	c := &contractstore.Commitment{
		CommitmentID: testContract,
		Principal:    identity.Ref{Value: testAgent},
		EffectDomain: testDomain,
		Scope:        contractstore.Scope{Rules: []contractstore.ScopeRule{{Target: "files", Operations: []string{"read", "write"}}}},
		TemporalValidity: contractstore.TemporalValidity{
			NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour),
		},
		RequiredCapabilities: []contractstore.CapabilityRef{"cap:tooling:echo"},
		State:                contractstore.Approved,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, store.Put(context.Background(), c))
	return c
}

func testRequest() Request {
	return Request{
		Capability:     testCapability(),
		Params:         map[string]interface{}{"path": "a.txt"},
		ContractID:     testContract,
		CallerIdentity: identity.Ref{Value: testAgent},
		ToolCallID:     "tc-1",
		Profile:        "default",
	}
}

// stubExecutor returns a fixed result or error, and counts how many times
// it was called.
type stubExecutor struct {
	result  ExecutionResult
	err     error
	calls   int
}

func (s *stubExecutor) Execute(_ context.Context, inv Invocation, _ Token) (ExecutionResult, error) {
	s.calls++
	if s.err != nil {
		return ExecutionResult{}, s.err
	}
	return s.result, nil
}

func newGateway(t *testing.T, exec Executor, store contractstore.Store) (*Gateway, auditstore.Store) {
	t.Helper()
	audit := auditstore.NewInMemory()
	gw := New(Config{
		Store:    store,
		Audit:    audit,
		Executor: exec,
	})
	return gw, audit
}

func TestAuthorizeSucceedsForValidCommitment(t *testing.T) {
	store := contractstore.NewInMemory()
	seedCommitment(t, store, nil)
	gw, _ := newGateway(t, &stubExecutor{}, store)

	c, err := gw.Authorize(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, testContract, c.CommitmentID)
}

func TestAuthorizeRejectsUnknownCommitment(t *testing.T) {
	store := contractstore.NewInMemory()
	gw, _ := newGateway(t, &stubExecutor{}, store)

	_, err := gw.Authorize(context.Background(), testRequest())
	require.Error(t, err)
}

func TestAuthorizeRejectsExpiredCommitment(t *testing.T) {
	store := contractstore.NewInMemory()
	seedCommitment(t, store, func(c *contractstore.Commitment) {
		c.TemporalValidity = contractstore.TemporalValidity{
			NotBefore: time.Now().Add(-2 * time.Hour),
			NotAfter:  time.Now().Add(-time.Hour),
		}
	})
	gw, _ := newGateway(t, &stubExecutor{}, store)

	_, err := gw.Authorize(context.Background(), testRequest())
	require.Error(t, err)
	var coreErr *coreerr.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, coreerr.CommitmentCapabilityMismatch, coreErr.Kind)
}

func TestAuthorizeRejectsCapabilityReplayAcrossCapabilities(t *testing.T) {
	store := contractstore.NewInMemory()
	seedCommitment(t, store, nil)
	gw, _ := newGateway(t, &stubExecutor{}, store)

	req := testRequest()
	req.Capability.ID = "other-capability"
	req.Capability.Scope = []contractstore.ScopeRule{{Target: "files", Operations: []string{"read"}}}

	_, err := gw.Authorize(context.Background(), req)
	require.Error(t, err)
}

func TestAuthorizeRejectsPrincipalMismatch(t *testing.T) {
	store := contractstore.NewInMemory()
	seedCommitment(t, store, nil)
	gw, _ := newGateway(t, &stubExecutor{}, store)

	req := testRequest()
	req.CallerIdentity = identity.Ref{Value: "someone-else"}

	_, err := gw.Authorize(context.Background(), req)
	require.Error(t, err)
}

func TestExecuteRunsExecutorAndRecordsSuccess(t *testing.T) {
	store := contractstore.NewInMemory()
	seedCommitment(t, store, func(c *contractstore.Commitment) { c.State = contractstore.Executing })
	exec := &stubExecutor{result: ExecutionResult{Summary: "done", Payload: map[string]interface{}{"ok": true}}}
	gw, audit := newGateway(t, exec, store)

	receipt, err := gw.Execute(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, Succeeded, receipt.Status)
	require.Equal(t, 1, exec.calls)

	entries, err := audit.ByCommitment(context.Background(), string(testContract))
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	updated, err := store.Get(context.Background(), testContract)
	require.NoError(t, err)
	require.Equal(t, contractstore.Completed, updated.State)
}

func TestExecuteRecordsFailureAndReturnsToolFailure(t *testing.T) {
	store := contractstore.NewInMemory()
	seedCommitment(t, store, func(c *contractstore.Commitment) { c.State = contractstore.Executing })
	exec := &stubExecutor{err: coreerr.New(coreerr.ToolFailure, "boom")}
	gw, audit := newGateway(t, exec, store)

	receipt, err := gw.Execute(context.Background(), testRequest())
	require.Nil(t, receipt)
	require.Error(t, err)
	var coreErr *coreerr.Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, coreerr.ToolFailure, coreErr.Kind)

	updated, err := store.Get(context.Background(), testContract)
	require.NoError(t, err)
	require.Equal(t, contractstore.Failed, updated.State)

	entries, err := audit.ByCommitment(context.Background(), string(testContract))
	require.NoError(t, err)
	foundReceipt := false
	for _, e := range entries {
		if e.Stage == "tool_execution_receipt" {
			foundReceipt = true
		}
	}
	require.True(t, foundReceipt, "failure path must still persist a tool_execution_receipt")
}

func TestExecuteRejectsRealModeWithoutEnvironmentGate(t *testing.T) {
	store := contractstore.NewInMemory()
	seedCommitment(t, store, func(c *contractstore.Commitment) { c.State = contractstore.Executing })
	exec := &stubExecutor{result: ExecutionResult{Summary: "done"}}
	gw, _ := newGateway(t, exec, store)

	req := testRequest()
	req.Capability.ExecutionMode = Real

	_, err := gw.Execute(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, 0, exec.calls, "executor must never run when the environment gate is closed")
}

func TestReceiptHashIsDeterministicForSameInputs(t *testing.T) {
	r1, err := buildSuccessReceipt("tc", "c-1", "cap:1", "summary", map[string]interface{}{"a": 1})
	require.NoError(t, err)
	r2, err := buildSuccessReceipt("tc", "c-1", "cap:1", "summary", map[string]interface{}{"a": 1})
	require.NoError(t, err)
	require.Equal(t, r1.Hash, r2.Hash)
}
