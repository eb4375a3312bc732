// coredemo wires the accountability-core runtime end to end: a WAL-backed
// Event Fabric feeding a Provenance Index, a Commitment Gateway authorizing
// and executing a capability against a commitment, and a Bridge settling a
// two-leg execution over that same commitment. It is a demonstration
// entrypoint, not a production server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mapleaiorg/accountability-core/internal/auditstore"
	"github.com/mapleaiorg/accountability-core/internal/bridge"
	"github.com/mapleaiorg/accountability-core/internal/contractstore"
	"github.com/mapleaiorg/accountability-core/internal/event"
	"github.com/mapleaiorg/accountability-core/internal/executor"
	"github.com/mapleaiorg/accountability-core/internal/fabric"
	"github.com/mapleaiorg/accountability-core/internal/gateway"
	"github.com/mapleaiorg/accountability-core/internal/identity"
	"github.com/mapleaiorg/accountability-core/internal/ids"
	"github.com/mapleaiorg/accountability-core/internal/infra"
	"github.com/mapleaiorg/accountability-core/internal/provenance"
	"github.com/mapleaiorg/accountability-core/internal/runtimeconfig"
	"github.com/mapleaiorg/accountability-core/internal/wal"
)

func main() {
	configPath := flag.String("config", "", "path to a runtimeconfig YAML file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var cfg *runtimeconfig.Config
	if *configPath != "" {
		loaded, err := runtimeconfig.LoadConfig(*configPath)
		if err != nil {
			logger.Error("failed to load runtime config, continuing with built-in defaults", "error", err)
		} else {
			cfg = loaded
			logger.Info("loaded runtime config", "env", cfg.Server.Env)
		}
	}

	if err := run(logger, cfg); err != nil {
		logger.Error("coredemo failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg *runtimeconfig.Config) error {
	ctx := context.Background()

	w, err := wal.Open(wal.NewMemStorage(), wal.Config{Logger: logger})
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	defer w.Close()

	fab := fabric.New(w, ids.NodeId("coredemo-node"), logger)

	var idempotency bridge.IdempotencyStore
	if cfg != nil && cfg.Redis.Addr != "" {
		client, rerr := infra.DialRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if rerr != nil {
			logger.Warn("redis unavailable, falling back to in-memory fabric relay and idempotency store", "error", rerr)
		} else {
			defer client.Close()
			relay := fabric.NewRedisRelay(fab, fabric.NewGoRedisAdapter(client), "", logger)
			defer relay.Close()
			idempotency = bridge.NewRedisIdempotencyStore(client, cfg.Bridge.IdempotencyPrefix, time.Duration(cfg.Bridge.IdempotencyTTLSec)*time.Second)
			logger.Info("wired redis-backed fabric relay and bridge idempotency store", "addr", cfg.Redis.Addr)
		}
	}

	index := provenance.New()
	fab.Subscribe(func(e *event.Event) {
		if err := index.AddEvent(e); err != nil {
			logger.Warn("provenance index rejected event", "event_id", e.ID, "error", err)
		}
	})

	worldline := ids.WorldlineId("agent-1")
	genesis, err := fab.Emit(worldline, event.StageSystem, event.Genesis{Note: "coredemo boot"}, nil)
	if err != nil {
		return fmt.Errorf("emit genesis: %w", err)
	}
	meaning, err := fab.Emit(worldline, event.StageMeaning, event.MeaningFormed{Confidence: 0.8}, []ids.EventId{genesis.ID})
	if err != nil {
		return fmt.Errorf("emit meaning: %w", err)
	}
	logger.Info("fabric emitted worldline events", "genesis", genesis.ID, "meaning", meaning.ID)

	commitments := contractstore.NewInMemory()
	audit := auditstore.NewInMemory()

	commitmentID := ids.CommitmentId("demo-commitment-1")
	principal := identity.Ref{Value: "agent-1"}
	now := time.Now()
	commitment := &contractstore.Commitment{
		CommitmentID: commitmentID,
		Principal:    principal,
		EffectDomain: "tooling",
		Scope:        contractstore.Scope{Rules: []contractstore.ScopeRule{{Target: "files", Operations: []string{"read"}}}},
		TemporalValidity: contractstore.TemporalValidity{
			NotBefore: now.Add(-time.Minute), NotAfter: now.Add(time.Hour),
		},
		RequiredCapabilities: []contractstore.CapabilityRef{"cap:tooling:echo"},
		State:                contractstore.Approved,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := commitments.Put(ctx, commitment); err != nil {
		return fmt.Errorf("seed commitment: %w", err)
	}
	if _, err := audit.Append(ctx, auditstore.AppendRequest{
		Actor: "agent-1", Stage: "commitment_declared", Success: true,
		CommitmentID: string(commitmentID), Message: "commitment declared for coredemo",
	}); err != nil {
		return fmt.Errorf("audit commitment declaration: %w", err)
	}

	gw := gateway.New(gateway.Config{
		Store:    commitments,
		Audit:    audit,
		Executor: executor.NewSimulated(logger),
		Logger:   logger,
	})

	capability := gateway.Capability{
		ID:     "echo",
		Domain: "tooling",
		Scope:  []contractstore.ScopeRule{{Target: "files", Operations: []string{"read"}}},
	}
	req := gateway.Request{
		Capability:     capability,
		Params:         map[string]interface{}{"path": "hello.txt"},
		ContractID:     commitmentID,
		CallerIdentity: principal,
		ToolCallID:     "demo-call-1",
	}
	receipt, err := gw.Execute(ctx, req)
	if err != nil {
		return fmt.Errorf("gateway execute: %w", err)
	}
	logger.Info("gateway execution recorded", "receipt_id", receipt.ReceiptID, "status", receipt.Status, "hash", receipt.Hash)

	chainAdapter := &demoAdapter{id: "chain-adapter"}
	railAdapter := &demoAdapter{id: "rail-adapter"}
	br := bridge.New(commitments, audit, bridge.MapAdapterRegistry{
		"chain-adapter": chainAdapter,
		"rail-adapter":  railAdapter,
	}, nil, nil, idempotency, logger)

	bridgeReq := bridge.Request{
		ExecutionID:  ids.NewExecutionId(),
		TraceID:      "coredemo-trace-1",
		CommitmentID: commitmentID,
		OriginActor:  "agent-1",
		Legs: []bridge.Leg{
			{ID: "chain-1", Type: bridge.Chain, AdapterID: "chain-adapter", Payload: map[string]interface{}{"amount": 42}},
			{ID: "rail-1", Type: bridge.Rail, AdapterID: "rail-adapter", Payload: map[string]interface{}{"amount": 42}},
		},
	}
	bridgeReceipt, err := br.Execute(ctx, bridgeReq)
	if err != nil {
		return fmt.Errorf("bridge execute: %w", err)
	}

	out, err := json.MarshalIndent(bridgeReceipt, "", "  ")
	if err != nil {
		return fmt.Errorf("encode unified bridge receipt: %w", err)
	}
	fmt.Println(string(out))

	report, err := w.VerifyIntegrity()
	if err != nil {
		return fmt.Errorf("verify wal integrity: %w", err)
	}
	logger.Info("wal integrity verified", "segments", len(w.Segments()), "events_verified", report.Verified, "events_total", report.Total)

	return nil
}

// demoAdapter is a minimal in-process bridge.Adapter, standing in for a
// real chain/rail adapter in this demonstration.
type demoAdapter struct {
	id string
}

func (a *demoAdapter) ID() string { return a.id }

func (a *demoAdapter) Settle(_ context.Context, leg bridge.Leg, _ bridge.WireMessage) (string, error) {
	return fmt.Sprintf("settlement-%s-%s", a.id, leg.ID), nil
}

func (a *demoAdapter) Compensate(_ context.Context, leg bridge.Leg, _ string) (string, error) {
	return fmt.Sprintf("compensation-%s-%s", a.id, leg.ID), nil
}
