// Package executor provides concrete Executor implementations invoked by
// the Commitment Gateway.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mapleaiorg/accountability-core/internal/gateway"
)

// Simulated is a deterministic in-process Executor. The gateway runs
// whichever Executor it is configured with for every capability; it does
// not switch to Simulated by execution mode, and it refuses a Real-mode
// capability while the environment gate is closed. Simulated never
// performs an actual side effect.
type Simulated struct {
	logger *slog.Logger
}

// NewSimulated creates a Simulated executor.
func NewSimulated(logger *slog.Logger) *Simulated {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulated{logger: logger}
}

// Execute returns a deterministic simulated result for inv. Token is
// accepted only to satisfy gateway.Executor; it carries no usable
// information outside the gateway package.
func (s *Simulated) Execute(_ context.Context, inv gateway.Invocation, _ gateway.Token) (gateway.ExecutionResult, error) {
	s.logger.Debug("executor: simulated execution", "capability_id", inv.CapabilityID, "contract_id", inv.ContractID)
	return gateway.ExecutionResult{
		Summary: fmt.Sprintf("simulated execution of %s", inv.CapabilityID),
		Payload: map[string]interface{}{
			"simulated":     true,
			"capability_id": inv.CapabilityID,
			"params":        inv.Params,
		},
	}, nil
}
