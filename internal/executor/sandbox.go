package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
	"github.com/mapleaiorg/accountability-core/internal/gateway"
	"github.com/mapleaiorg/accountability-core/internal/ghostpool"
)

// SandboxExecutor runs a capability inside a short-lived, gVisor-isolated
// Docker container: network-jailed, read-only rootfs, one container
// pre-warmed per capability image by a small pool, scrubbed between uses.
// It is opt-in. The gateway refuses a Real-mode capability before calling
// Execute unless the environment gate is open; it does not check the gate
// for capabilities in other modes. Execute ignores its token, so it can
// also be called directly.
//
// Grounded on the reference backend's ghost-container pool
// (internal/ghostpool): one ghostpool.PoolManager per capability image,
// created lazily and reused across invocations.
type SandboxExecutor struct {
	mu      sync.Mutex
	pools   map[string]*ghostpool.PoolManager
	backend ghostpool.PoolBackend
	minIdle int
	maxCap  int
	logger  *slog.Logger
}

// NewSandboxExecutor creates a SandboxExecutor backed by backend (nil uses
// the local Docker daemon). minIdle/maxCap bound each per-image pool.
func NewSandboxExecutor(backend ghostpool.PoolBackend, minIdle, maxCap int, logger *slog.Logger) *SandboxExecutor {
	if backend == nil {
		backend = ghostpool.NewDockerBackend("runsc")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if minIdle <= 0 {
		minIdle = 1
	}
	if maxCap < minIdle {
		maxCap = minIdle
	}
	return &SandboxExecutor{
		pools:   make(map[string]*ghostpool.PoolManager),
		backend: backend,
		minIdle: minIdle,
		maxCap:  maxCap,
		logger:  logger,
	}
}

func (s *SandboxExecutor) poolFor(image string) *ghostpool.PoolManager {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pm, ok := s.pools[image]; ok {
		return pm
	}
	pm := ghostpool.NewPoolManagerWithBackend(s.backend, s.minIdle, s.maxCap, image)
	s.pools[image] = pm
	return pm
}

// Execute acquires a pre-warmed container for inv's capability image, runs
// the capability command inside it, and returns the container to the pool
// (scrubbed) once finished. The sandboxed process is run with the
// capability ID as its single argument; inv.Params is serialized and handed
// to the pool's Exec as its payload, which the default backends do not
// pass on to the process.
func (s *SandboxExecutor) Execute(ctx context.Context, inv gateway.Invocation, _ gateway.Token) (gateway.ExecutionResult, error) {
	if inv.Image == "" {
		return gateway.ExecutionResult{}, coreerr.New(coreerr.InvalidInput,
			fmt.Sprintf("sandbox: no image bound for capability %s", inv.CapabilityID))
	}

	pool := s.poolFor(inv.Image)
	ghost, err := pool.Get(ctx, inv.ContractID)
	if err != nil {
		return gateway.ExecutionResult{}, coreerr.Wrap(coreerr.Backend, "acquire sandbox container", err)
	}
	defer pool.Put(ghost)

	payload, err := json.Marshal(inv.Params)
	if err != nil {
		return gateway.ExecutionResult{}, coreerr.Wrap(coreerr.Serialization, "encode sandbox invocation params", err)
	}

	s.logger.Info("executor: sandbox execution", "capability_id", inv.CapabilityID, "image", inv.Image, "container_id", ghost.ID)

	output, err := pool.Exec(ctx, ghost.ID, []string{"/usr/local/bin/run-capability", inv.CapabilityID}, payload)
	if err != nil {
		return gateway.ExecutionResult{}, coreerr.Wrap(coreerr.ToolFailure, "sandbox execution failed", err)
	}

	return gateway.ExecutionResult{
		Summary: fmt.Sprintf("sandbox execution of %s", inv.CapabilityID),
		Payload: map[string]interface{}{
			"capability_id": inv.CapabilityID,
			"container_id":  ghost.ID,
			"output":        string(output),
		},
	}, nil
}
