package gateway

import "context"

// PolicyContext is the context the policy engine evaluates against.
type PolicyContext struct {
	AgentID            string
	Capabilities       []string
	Profile            string
	AttentionAvailable float64
	AttentionRequired  float64
	CapabilityRisk     float64
	CapabilityMode     string
	RequestedValue     *float64
}

// PolicyDecisionCard is the result of submitting a commitment to the
// policy-decision surface.
type PolicyDecisionCard struct {
	AllowsExecution bool
	Reason          string
}

// PolicyEngine is the external policy-decision surface the gateway
// consults both at Authorize time (commitment-level) and Execute time
// (invocation-level).
type PolicyEngine interface {
	EvaluateCommitment(ctx context.Context, commitmentID string) (PolicyDecisionCard, error)
	EvaluateInvocation(ctx context.Context, pctx PolicyContext) (PolicyDecisionCard, error)
}

// CapabilityRegistry authorizes (agent, domain, scope) triples against
// registered capability grants.
type CapabilityRegistry interface {
	Authorized(ctx context.Context, agentID, domain, capabilityID string) (bool, error)
}

// ProfileChecker reports whether a profile permits an effect domain.
type ProfileChecker interface {
	Allows(ctx context.Context, profile, effectDomain string) (bool, error)
}

// AllowAllPolicyEngine is a permissive default used by tests and simple
// demos; production callers inject a real policy-decision surface.
type AllowAllPolicyEngine struct{}

func (AllowAllPolicyEngine) EvaluateCommitment(context.Context, string) (PolicyDecisionCard, error) {
	return PolicyDecisionCard{AllowsExecution: true}, nil
}

func (AllowAllPolicyEngine) EvaluateInvocation(context.Context, PolicyContext) (PolicyDecisionCard, error) {
	return PolicyDecisionCard{AllowsExecution: true}, nil
}

// AllowAllCapabilityRegistry authorizes every invocation; a real
// implementation consults a capability grant store.
type AllowAllCapabilityRegistry struct{}

func (AllowAllCapabilityRegistry) Authorized(context.Context, string, string, string) (bool, error) {
	return true, nil
}

// AllowAllProfileChecker allows every effect domain.
type AllowAllProfileChecker struct{}

func (AllowAllProfileChecker) Allows(context.Context, string, string) (bool, error) {
	return true, nil
}
