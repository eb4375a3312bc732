package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mapleaiorg/accountability-core/internal/auditstore"
	"github.com/mapleaiorg/accountability-core/internal/contractstore"
	"github.com/mapleaiorg/accountability-core/internal/coreerr"
	"github.com/mapleaiorg/accountability-core/internal/ids"
)

// Bridge is the multi-leg settlement coordinator. It holds no
// per-execution state between calls: every Execute call is a single pass
// through the state machine, backed entirely by the contract store, audit
// store and the leg adapters it is wired to.
type Bridge struct {
	commitments contractstore.Store
	audit       auditstore.Store
	adapters    AdapterRegistry
	dispatcher  WireDispatcher
	signer      Signer
	idempotency IdempotencyStore
	logger      *slog.Logger
}

// New builds a Bridge. dispatcher, signer and idempotency may be nil, in
// which case InProcessDispatcher, an HMACSigner with key id "default" and a
// fixed built-in secret, and InMemoryIdempotencyStore are used.
func New(commitments contractstore.Store, audit auditstore.Store, adapters AdapterRegistry, dispatcher WireDispatcher, signer Signer, idempotency IdempotencyStore, logger *slog.Logger) *Bridge {
	if dispatcher == nil {
		dispatcher = NewInProcessDispatcher(logger)
	}
	if signer == nil {
		signer = NewHMACSigner("default", "bridge-default-signing-key")
	}
	if idempotency == nil {
		idempotency = NewInMemoryIdempotencyStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		commitments: commitments,
		audit:       audit,
		adapters:    adapters,
		dispatcher:  dispatcher,
		signer:      signer,
		idempotency: idempotency,
		logger:      logger,
	}
}

// Execute runs the full 10-step bridge execution protocol and
// returns the Unified Bridge Receipt once the execution reaches Recorded.
// A leg failure is not itself an error return: it is reflected in the
// returned receipt's Status/RecoveryPlan. Execute returns a non-nil
// error only when the request itself cannot be authorized or processed
// (unknown commitment, malformed request, audit append failure).
func (b *Bridge) Execute(ctx context.Context, req Request) (*UnifiedBridgeReceipt, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if _, err := b.audit.Append(ctx, auditstore.AppendRequest{
		Actor: req.OriginActor, Stage: "bridge_proposed", Success: true,
		CommitmentID: string(req.CommitmentID),
		Message:      fmt.Sprintf("bridge execution %s proposed with %d legs", req.ExecutionID, len(req.Legs)),
		Payload:      map[string]interface{}{"execution_id": req.ExecutionID, "legs": len(req.Legs)},
	}); err != nil {
		return nil, err
	}

	commitmentHash, snapshotHash, err := b.authorize(ctx, req)
	if err != nil {
		return nil, err
	}

	state := Proposed
	if !advance(&state, Authorized) {
		return nil, coreerr.New(coreerr.InvariantViolation, "bridge state machine: Proposed->Authorized not permitted")
	}
	if _, err := b.audit.Append(ctx, auditstore.AppendRequest{
		Actor: req.OriginActor, Stage: "bridge_authorized", Success: true,
		CommitmentID: string(req.CommitmentID),
		Message:      "bridge execution authorized",
		Payload:      map[string]interface{}{"execution_id": req.ExecutionID, "commitment_hash": commitmentHash, "snapshot_hash": snapshotHash},
	}); err != nil {
		return nil, err
	}
	if !advance(&state, Executing) {
		return nil, coreerr.New(coreerr.InvariantViolation, "bridge state machine: Authorized->Executing not permitted")
	}
	if _, err := b.audit.Append(ctx, auditstore.AppendRequest{
		Actor: req.OriginActor, Stage: "bridge_executing", Success: true,
		CommitmentID: string(req.CommitmentID),
		Message:      "bridge execution entering leg settlement",
		Payload:      map[string]interface{}{"execution_id": req.ExecutionID},
	}); err != nil {
		return nil, err
	}

	legReceipts, settled, recoveryPlan, execErr := b.settleLegs(ctx, req)
	if execErr != nil {
		return nil, execErr
	}

	var status ExecutionStatus
	if len(recoveryPlan) > 0 || len(legReceipts) != len(req.Legs) {
		status = StatusFailed
		if !advance(&state, Failed) {
			return nil, coreerr.New(coreerr.InvariantViolation, "bridge state machine: Executing->Failed not permitted")
		}
		failureReason := "one or more legs failed settlement"
		if _, err := b.audit.Append(ctx, auditstore.AppendRequest{
			Actor: req.OriginActor, Stage: "bridge_consequence", Success: false,
			CommitmentID: string(req.CommitmentID),
			Message:      failureReason,
			Payload:      map[string]interface{}{"execution_id": req.ExecutionID, "failure_reason": failureReason, "recovery_plan": recoveryPlan},
		}); err != nil {
			return nil, err
		}
	} else {
		status = StatusSucceeded
		if !advance(&state, Settled) {
			return nil, coreerr.New(coreerr.InvariantViolation, "bridge state machine: Executing->Settled not permitted")
		}
		if _, err := b.audit.Append(ctx, auditstore.AppendRequest{
			Actor: req.OriginActor, Stage: "bridge_consequence", Success: true,
			CommitmentID: string(req.CommitmentID),
			Message:      "bridge execution settled",
			Payload:      map[string]interface{}{"execution_id": req.ExecutionID},
		}); err != nil {
			return nil, err
		}
	}

	if !advance(&state, Recorded) {
		return nil, coreerr.New(coreerr.InvariantViolation, fmt.Sprintf("bridge state machine: %s->Recorded not permitted", state))
	}
	receipt := &UnifiedBridgeReceipt{
		ExecutionID:  req.ExecutionID,
		TraceID:      req.TraceID,
		RouteType:    routeTypeFor(req.Legs),
		CommitmentID: req.CommitmentID,
		SnapshotHash: snapshotHash,
		Status:       status,
		State:        state,
		LegReceipts:  legReceipts,
		RecoveryPlan: recoveryPlan,
		RecordedAt:   time.Now(),
	}

	receiptPayload, err := json.Marshal(receipt)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Serialization, "encode unified bridge receipt", err)
	}
	if _, err := b.audit.Append(ctx, auditstore.AppendRequest{
		Actor: req.OriginActor, Stage: "bridge_unified_receipt", Success: status == StatusSucceeded,
		CommitmentID: string(req.CommitmentID),
		Message:      "unified bridge receipt recorded",
		Payload:      json.RawMessage(receiptPayload),
	}); err != nil {
		return nil, err
	}
	if _, err := b.audit.Append(ctx, auditstore.AppendRequest{
		Actor: req.OriginActor, Stage: "bridge_recorded", Success: status == StatusSucceeded,
		CommitmentID: string(req.CommitmentID),
		Message:      fmt.Sprintf("bridge execution %s recorded with status %s", req.ExecutionID, status),
		Payload:      map[string]interface{}{"execution_id": req.ExecutionID, "summary": fmt.Sprintf("%d/%d legs settled", len(settled), len(req.Legs))},
	}); err != nil {
		return nil, err
	}

	return receipt, nil
}

// advance moves *state to to if the edge is permitted, reporting whether it
// did so.
func advance(state *State, to State) bool {
	if !CanTransition(*state, to) {
		return false
	}
	*state = to
	return true
}

func validateRequest(req Request) error {
	if len(req.Legs) == 0 {
		return coreerr.New(coreerr.InvalidInput, "bridge execution requires at least one leg")
	}
	seen := make(map[string]bool, len(req.Legs))
	for _, leg := range req.Legs {
		if leg.ID == "" {
			return coreerr.New(coreerr.InvalidInput, "leg id must not be empty")
		}
		if seen[leg.ID] {
			return coreerr.New(coreerr.InvalidInput, "duplicate leg id "+leg.ID).WithField("leg_id", leg.ID)
		}
		seen[leg.ID] = true
	}
	return nil
}

// authorize locates the commitment backing this execution and captures the
// {commitment_hash, snapshot_hash} pair that the unified receipt and every
// subsequent audit entry reference. A commitment is
// considered to "exist in the audit store" when it has at least one prior
// audit trail entry of its own (the gateway's authorization/declaration
// entries); this guards against bridging a commitment the audit store has
// never witnessed, even if the contract store itself holds a record for it.
func (b *Bridge) authorize(ctx context.Context, req Request) (commitmentHash, snapshotHash string, err error) {
	c, err := b.commitments.Get(ctx, req.CommitmentID)
	if err != nil {
		return "", "", err
	}
	trail, err := b.audit.ByCommitment(ctx, string(req.CommitmentID))
	if err != nil {
		return "", "", err
	}
	if len(trail) == 0 {
		return "", "", coreerr.New(coreerr.CommitmentMissing, "commitment has no prior audit trail").WithField("commitment_id", string(req.CommitmentID))
	}

	commitmentHash, err = hashJSON(c)
	if err != nil {
		return "", "", err
	}
	snapshotHash, err = hashJSON(trail)
	if err != nil {
		return "", "", err
	}
	return commitmentHash, snapshotHash, nil
}

func hashJSON(v interface{}) (string, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return "", coreerr.Wrap(coreerr.Serialization, "encode value for hashing", err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// settleLegs runs every leg in order, stopping at the first failure, then
// compensates the already-settled legs in reverse order. It returns the leg
// receipts for every leg that settled, the settled legs themselves (for
// the final summary) and the recovery plan (empty on full success).
func (b *Bridge) settleLegs(ctx context.Context, req Request) (receipts []UnifiedBridgeLegReceipt, settled []Leg, recovery []RecoveryAction, err error) {
	for _, leg := range req.Legs {
		adapter, ok := b.adapters.Adapter(leg.AdapterID)
		if !ok {
			if _, aerr := b.audit.Append(ctx, auditstore.AppendRequest{
				Actor: req.OriginActor, Stage: "bridge_leg_failed", Success: false,
				CommitmentID: string(req.CommitmentID),
				Message:      "no adapter registered for leg",
				Payload:      map[string]interface{}{"leg_id": leg.ID, "adapter_id": leg.AdapterID},
			}); aerr != nil {
				return nil, nil, nil, aerr
			}
			recovery = b.compensate(ctx, req, settled, receipts)
			return receipts, settled, recovery, nil
		}

		prepEntry, aerr := b.audit.Append(ctx, auditstore.AppendRequest{
			Actor: req.OriginActor, Stage: "bridge_leg_prepared", Success: true,
			CommitmentID: string(req.CommitmentID),
			Message:      "leg prepared for settlement",
			Payload:      map[string]interface{}{"leg_id": leg.ID, "leg_type": leg.Type},
		})
		if aerr != nil {
			return nil, nil, nil, aerr
		}

		wire, werr := b.buildWireMessage(req, leg, prepEntry)
		if werr != nil {
			return nil, nil, nil, werr
		}

		if _, aerr := b.audit.Append(ctx, auditstore.AppendRequest{
			Actor: req.OriginActor, Stage: "bridge_leg_wire_emitted", Success: true,
			CommitmentID: string(req.CommitmentID),
			Message:      "accountable wire message emitted for leg",
			Payload:      map[string]interface{}{"leg_id": leg.ID, "wire_message_id": wire.MessageID, "commitment_id": req.CommitmentID, "wire": wire},
		}); aerr != nil {
			return nil, nil, nil, aerr
		}

		if leg.Type == Rail {
			if endpoint, ok := leg.Payload["endpoint"].(string); ok && endpoint != "" {
				if derr := b.dispatcher.Dispatch(ctx, endpoint, wire); derr != nil {
					b.logger.Warn("bridge: wire dispatch notification failed, continuing with adapter settlement", "leg_id", leg.ID, "error", derr)
				}
			}
		}

		fresh, ierr := b.idempotency.Reserve(ctx, wire.MessageID)
		if ierr != nil {
			return nil, nil, nil, coreerr.Wrap(coreerr.Backend, "reserve wire idempotency key", ierr)
		}
		if !fresh {
			b.logger.Warn("bridge: duplicate wire message suppressed", "leg_id", leg.ID, "message_id", wire.MessageID)
			continue
		}

		reference, serr := adapter.Settle(ctx, leg, wire)
		if serr != nil {
			if _, aerr := b.audit.Append(ctx, auditstore.AppendRequest{
				Actor: req.OriginActor, Stage: "bridge_leg_failed", Success: false,
				CommitmentID: string(req.CommitmentID),
				Message:      "leg settlement failed",
				Payload:      map[string]interface{}{"leg_id": leg.ID, "error": serr.Error()},
			}); aerr != nil {
				return nil, nil, nil, aerr
			}
			recovery = b.compensate(ctx, req, settled, receipts)
			return receipts, settled, recovery, nil
		}

		if _, aerr := b.audit.Append(ctx, auditstore.AppendRequest{
			Actor: req.OriginActor, Stage: "bridge_leg_settled", Success: true,
			CommitmentID: string(req.CommitmentID),
			Message:      "leg settled",
			Payload:      map[string]interface{}{"leg_id": leg.ID, "reference": reference},
		}); aerr != nil {
			return nil, nil, nil, aerr
		}

		receipts = append(receipts, UnifiedBridgeLegReceipt{
			LegID: leg.ID, LegType: leg.Type, AdapterID: leg.AdapterID,
			BridgeReference: reference, SettledAt: time.Now(), WireMessageID: wire.MessageID,
		})
		settled = append(settled, leg)
	}
	return receipts, settled, nil, nil
}

// compensate undoes every already-settled leg in reverse (LIFO) order,
// recording one RecoveryAction per leg regardless of whether the
// compensating call itself succeeds. receipts[i] is the leg receipt of
// settled[i] and supplies the settlement reference passed to Compensate.
func (b *Bridge) compensate(ctx context.Context, req Request, settled []Leg, receipts []UnifiedBridgeLegReceipt) []RecoveryAction {
	plan := make([]RecoveryAction, 0, len(settled))
	for i := len(settled) - 1; i >= 0; i-- {
		leg := settled[i]
		action := RecoveryAction{LegID: leg.ID, Attempted: true}

		adapter, ok := b.adapters.Adapter(leg.AdapterID)
		if !ok {
			action.Detail = "adapter no longer registered"
			plan = append(plan, action)
			continue
		}

		ref, err := adapter.Compensate(ctx, leg, receipts[i].BridgeReference)
		if err != nil {
			action.Detail = err.Error()
		} else {
			action.Success = true
			action.ActionReference = ref
		}
		plan = append(plan, action)

		if _, aerr := b.audit.Append(ctx, auditstore.AppendRequest{
			Actor: req.OriginActor, Stage: "bridge_compensation", Success: action.Success,
			CommitmentID: string(req.CommitmentID),
			Message:      "compensation attempted for settled leg",
			Payload:      action,
		}); aerr != nil {
			b.logger.Error("bridge: failed to audit compensation", "leg_id", leg.ID, "error", aerr)
		}
	}
	return plan
}

func (b *Bridge) buildWireMessage(req Request, leg Leg, prepEntry *auditstore.Entry) (WireMessage, error) {
	wire := WireMessage{
		MessageID:     uuid.NewString(),
		TraceID:       req.TraceID,
		OriginActor:   req.OriginActor,
		Payload:       leg.Payload,
		Witness:       Witness{AuditEntryID: prepEntry.EntryID, AuditHash: prepEntry.Hash},
		CommitmentRef: string(req.CommitmentID),
	}
	body, err := canonicalWireBody(wire)
	if err != nil {
		return WireMessage{}, err
	}
	keyID, signature, err := b.signer.Sign(body)
	if err != nil {
		return WireMessage{}, coreerr.Wrap(coreerr.Backend, "sign wire message", err)
	}
	wire.OriginProof = OriginProof{KeyID: keyID, Signature: signature}
	return wire, nil
}
