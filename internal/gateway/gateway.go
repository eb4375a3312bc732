// Package gateway implements the Commitment Gateway: the only
// path by which a capability invocation becomes a side effect.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mapleaiorg/accountability-core/internal/auditstore"
	"github.com/mapleaiorg/accountability-core/internal/contractstore"
	"github.com/mapleaiorg/accountability-core/internal/coreerr"
	"github.com/mapleaiorg/accountability-core/internal/identity"
	"github.com/mapleaiorg/accountability-core/internal/ids"
)

// EnvAllowRealTools is the environment gate for real-mode capability
// execution.
const EnvAllowRealTools = "MAPLE_ALLOW_REAL_TOOLS"

func realToolsAllowed() bool {
	switch os.Getenv(EnvAllowRealTools) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	default:
		return false
	}
}

// Capability describes the invoked capability's own declared properties,
// supplied by the caller alongside the invocation.
type Capability struct {
	ID            string
	Domain        string
	Scope         []contractstore.ScopeRule
	ExecutionMode ExecutionMode
	Risk          float64
	Mode          string
	// Image is the sandbox image a SandboxExecutor runs this capability
	// in. Empty for capabilities that never execute in Real mode.
	Image string
}

// Request is the caller-supplied (capability, params, contract) triple.
type Request struct {
	Capability     Capability
	Params         map[string]interface{}
	ContractID     ids.CommitmentId
	CallerIdentity identity.Ref
	ToolCallID     string
	Profile        string
	AttentionAvailable float64
	AttentionRequired  float64
	RequestedValue     *float64
}

// Config wires the gateway's dependencies.
type Config struct {
	Store              contractstore.Store
	Audit              auditstore.Store
	Policy             PolicyEngine
	Capabilities       CapabilityRegistry
	Profiles           ProfileChecker
	Executor           Executor
	IdentityVerifier   identity.Verifier // optional; nil disables SPIFFE strengthening
	Logger             *slog.Logger
}

// Gateway is the Commitment Gateway.
type Gateway struct {
	store        contractstore.Store
	audit        auditstore.Store
	policy       PolicyEngine
	capabilities CapabilityRegistry
	profiles     ProfileChecker
	executor     Executor
	verifier     identity.Verifier
	logger       *slog.Logger

	mu    sync.Mutex
	locks map[ids.CommitmentId]*sync.Mutex
}

// New constructs a Gateway. Policy/Capabilities/Profiles default to
// permissive implementations when nil, matching the reference backend's
// habit of supplying no-op collaborators in constructors for components
// under active development.
func New(cfg Config) *Gateway {
	if cfg.Policy == nil {
		cfg.Policy = AllowAllPolicyEngine{}
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = AllowAllCapabilityRegistry{}
	}
	if cfg.Profiles == nil {
		cfg.Profiles = AllowAllProfileChecker{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		store: cfg.Store, audit: cfg.Audit, policy: cfg.Policy,
		capabilities: cfg.Capabilities, profiles: cfg.Profiles, executor: cfg.Executor,
		verifier: cfg.IdentityVerifier, logger: cfg.Logger,
		locks: make(map[ids.CommitmentId]*sync.Mutex),
	}
}

// commitmentLock returns the per-commitment mutex, serializing lifecycle
// operations on that commitment.
func (g *Gateway) commitmentLock(id ids.CommitmentId) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[id]
	if !ok {
		l = &sync.Mutex{}
		g.locks[id] = l
	}
	return l
}

func expectedCapabilityRef(domain, name string) contractstore.CapabilityRef {
	return contractstore.CapabilityRef(fmt.Sprintf("cap:%s:%s", domain, name))
}

// Authorize validates the binding between a capability invocation and a
// live commitment.
func (g *Gateway) Authorize(ctx context.Context, req Request) (*contractstore.Commitment, error) {
	lock := g.commitmentLock(req.ContractID)
	lock.Lock()
	defer lock.Unlock()

	c, err := g.store.Get(ctx, req.ContractID)
	if err != nil {
		return nil, err
	}
	if !c.Active() {
		return nil, coreerr.New(coreerr.CommitmentMissing, fmt.Sprintf("commitment %s is not active (state=%s)", c.CommitmentID, c.State))
	}

	if err := g.verifyPrincipal(c.Principal, req.CallerIdentity); err != nil {
		return nil, err
	}

	if !c.TemporalValidity.Covers(time.Now()) {
		return nil, mismatch(req.Capability.ID, string(c.CommitmentID), "commitment is outside temporal validity bounds")
	}

	if c.EffectDomain != req.Capability.Domain {
		return nil, mismatch(req.Capability.ID, string(c.CommitmentID), "effect domain does not match commitment")
	}

	if !c.Scope.Covers(req.Capability.Scope) {
		return nil, mismatch(req.Capability.ID, string(c.CommitmentID), "capability scope is not covered by commitment scope")
	}

	expected := expectedCapabilityRef(req.Capability.Domain, req.Capability.ID)
	if !c.RequiresCapability(expected) {
		return nil, mismatch(req.Capability.ID, string(c.CommitmentID), "required_capabilities does not include expected capability binding")
	}

	decision, err := g.policy.EvaluateCommitment(ctx, string(c.CommitmentID))
	if err != nil {
		return nil, coreerr.Wrap(coreerr.PolicyDenied, "evaluate commitment policy", err)
	}
	if !decision.AllowsExecution {
		return nil, coreerr.New(coreerr.PolicyDenied, decision.Reason)
	}

	return c, nil
}

func (g *Gateway) verifyPrincipal(committed, caller identity.Ref) error {
	if g.verifier != nil && caller.SpiffeID != "" {
		hash, err := g.verifier.VerifySVID(caller.SpiffeID)
		if err != nil {
			return mismatch("", "", fmt.Sprintf("SPIFFE verification failed: %v", err))
		}
		if hash == "" {
			return mismatch("", "", "SPIFFE verification returned empty hash")
		}
	}
	if !committed.Equal(caller) {
		return mismatch("", "", "principal")
	}
	return nil
}

func mismatch(capability, commitmentID, reason string) error {
	return coreerr.New(coreerr.CommitmentCapabilityMismatch, reason).
		WithField("capability", capability).
		WithField("commitment_id", commitmentID).
		WithField("reason", reason)
}

// Execute re-checks the contract, runs policy/capability/profile checks,
// and invokes the executor under a gateway token.
func (g *Gateway) Execute(ctx context.Context, req Request) (*Receipt, error) {
	lock := g.commitmentLock(req.ContractID)
	lock.Lock()
	defer lock.Unlock()

	c, err := g.store.Get(ctx, req.ContractID)
	if err != nil {
		return nil, err
	}
	if !c.Active() {
		return nil, coreerr.New(coreerr.CommitmentMissing, fmt.Sprintf("commitment %s is not active", c.CommitmentID))
	}

	allowed, err := g.profiles.Allows(ctx, req.Profile, req.Capability.Domain)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CapabilityDenied, "profile check failed", err)
	}
	if !allowed {
		return nil, coreerr.New(coreerr.CapabilityDenied, "profile does not allow effect domain")
	}

	pctx := PolicyContext{
		AgentID: req.CallerIdentity.Value, Capabilities: []string{req.Capability.ID},
		Profile: req.Profile, AttentionAvailable: req.AttentionAvailable, AttentionRequired: req.AttentionRequired,
		CapabilityRisk: req.Capability.Risk, CapabilityMode: req.Capability.Mode, RequestedValue: req.RequestedValue,
	}
	decision, err := g.policy.EvaluateInvocation(ctx, pctx)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.PolicyDenied, "evaluate invocation policy", err)
	}
	if !decision.AllowsExecution {
		return nil, coreerr.New(coreerr.PolicyDenied, decision.Reason)
	}

	ok, err := g.capabilities.Authorized(ctx, req.CallerIdentity.Value, req.Capability.Domain, req.Capability.ID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CapabilityDenied, "capability registry check failed", err)
	}
	if !ok {
		return nil, coreerr.New(coreerr.CapabilityDenied, "capability not authorized for agent/domain/scope")
	}

	if req.Capability.ExecutionMode == Real && !realToolsAllowed() {
		return nil, coreerr.New(coreerr.CapabilityDenied, "real-mode execution is not enabled by the environment gate")
	}

	if _, err := g.audit.Append(ctx, auditstore.AppendRequest{
		Actor: req.CallerIdentity.Value, Stage: "tool_call_issued", Success: true,
		CommitmentID: string(req.ContractID),
		Payload:      map[string]string{"capability_id": req.Capability.ID, "contract_id": string(req.ContractID)},
	}); err != nil {
		return nil, err
	}

	if c.State != contractstore.Executing {
		if _, err := g.store.Transition(ctx, req.ContractID, contractstore.Executing); err != nil {
			return nil, err
		}
	}

	token := newToken(string(req.ContractID))
	result, execErr := g.executor.Execute(ctx, Invocation{
		CapabilityID: req.Capability.ID, ContractID: string(req.ContractID),
		Params: req.Params, ExecutionMode: req.Capability.ExecutionMode,
		Image: req.Capability.Image,
	}, token)

	if execErr != nil {
		return g.recordFailure(ctx, req, c, execErr)
	}
	return g.recordSuccess(ctx, req, c, result)
}

func (g *Gateway) recordSuccess(ctx context.Context, req Request, c *contractstore.Commitment, result ExecutionResult) (*Receipt, error) {
	if _, err := g.audit.Append(ctx, auditstore.AppendRequest{
		Actor: req.CallerIdentity.Value, Stage: "tool_call_result", Success: true,
		CommitmentID: string(req.ContractID), Message: result.Summary,
		Payload: map[string]interface{}{"success": true, "summary": result.Summary},
	}); err != nil {
		return nil, err
	}

	if _, err := g.store.Transition(ctx, req.ContractID, contractstore.Completed); err != nil {
		return nil, err
	}

	receipt, err := buildSuccessReceipt(req.ToolCallID, string(req.ContractID), req.Capability.ID, result.Summary, result.Payload)
	if err != nil {
		return nil, err
	}

	if _, err := g.audit.Append(ctx, auditstore.AppendRequest{
		Actor: req.CallerIdentity.Value, Stage: "accountability_recorded", Success: true,
		CommitmentID: string(req.ContractID),
		Payload: map[string]interface{}{"contract_id": req.ContractID, "receipt_hash": receipt.Hash},
	}); err != nil {
		return nil, coreerr.Wrap(coreerr.ReceiptWriteFailure, "persist accountability_recorded entry", err)
	}

	if _, err := g.audit.Append(ctx, auditstore.AppendRequest{
		Actor: req.CallerIdentity.Value, Stage: "tool_execution_receipt", Success: true,
		CommitmentID: string(req.ContractID), Payload: receipt,
	}); err != nil {
		return nil, coreerr.Wrap(coreerr.ReceiptWriteFailure, "persist tool execution receipt", err)
	}

	g.logger.Info("gateway: executed capability", "capability_id", req.Capability.ID, "contract_id", req.ContractID, "status", "succeeded")
	return receipt, nil
}

func (g *Gateway) recordFailure(ctx context.Context, req Request, c *contractstore.Commitment, execErr error) (*Receipt, error) {
	if _, err := g.audit.Append(ctx, auditstore.AppendRequest{
		Actor: req.CallerIdentity.Value, Stage: "tool_call_result", Success: false,
		CommitmentID: string(req.ContractID), Message: execErr.Error(),
		Payload: map[string]interface{}{"success": false, "message": execErr.Error()},
	}); err != nil {
		return nil, err
	}

	if _, err := g.store.Transition(ctx, req.ContractID, contractstore.Failed); err != nil {
		return nil, err
	}

	receipt, hashErr := buildFailureReceipt(req.ToolCallID, string(req.ContractID), req.Capability.ID, execErr)
	if hashErr != nil {
		return nil, hashErr
	}
	if _, err := g.audit.Append(ctx, auditstore.AppendRequest{
		Actor: req.CallerIdentity.Value, Stage: "tool_execution_receipt", Success: false,
		CommitmentID: string(req.ContractID), Payload: receipt,
	}); err != nil {
		return nil, coreerr.Wrap(coreerr.ReceiptWriteFailure, "persist tool execution receipt", err)
	}

	g.logger.Warn("gateway: capability execution failed", "capability_id", req.Capability.ID, "contract_id", req.ContractID, "error", execErr)
	return nil, coreerr.Wrap(coreerr.ToolFailure, "capability execution failed", execErr)
}
