package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mapleaiorg/accountability-core/internal/gateway"
)

func TestSimulatedExecuteIsDeterministicAndNeverFails(t *testing.T) {
	sim := NewSimulated(nil)
	inv := gateway.Invocation{CapabilityID: "cap:tooling:echo", ContractID: "c-1", Params: map[string]interface{}{"x": 1}}

	result, err := sim.Execute(context.Background(), inv, gateway.Token{})
	require.NoError(t, err)
	require.Contains(t, result.Summary, "cap:tooling:echo")

	payload, ok := result.Payload.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, true, payload["simulated"])
	require.Equal(t, inv.CapabilityID, payload["capability_id"])
}

// fakeBackend is an in-memory ghostpool.PoolBackend used to test
// SandboxExecutor without a Docker daemon.
type fakeBackend struct {
	created   int32
	execCalls int32
	execOut   []byte
	execErr   error
}

func (f *fakeBackend) CreateContainer(_ context.Context, image string) (string, error) {
	n := atomic.AddInt32(&f.created, 1)
	return fmt.Sprintf("ctr-%s-%d", image, n), nil
}

func (f *fakeBackend) StartContainer(context.Context, string) error { return nil }
func (f *fakeBackend) StopContainer(context.Context, string) error  { return nil }
func (f *fakeBackend) RemoveContainer(context.Context, string) error { return nil }

func (f *fakeBackend) ExecInContainer(_ context.Context, _ string, _ []string) ([]byte, error) {
	atomic.AddInt32(&f.execCalls, 1)
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.execOut != nil {
		return f.execOut, nil
	}
	return []byte("ok"), nil
}

func (f *fakeBackend) Name() string { return "fake" }

func TestSandboxExecutorRejectsMissingImage(t *testing.T) {
	sb := NewSandboxExecutor(&fakeBackend{}, 1, 1, nil)
	_, err := sb.Execute(context.Background(), gateway.Invocation{CapabilityID: "cap:x"}, gateway.Token{})
	require.Error(t, err)
}

func TestSandboxExecutorRunsInsideAcquiredContainer(t *testing.T) {
	backend := &fakeBackend{execOut: []byte("result-bytes")}
	sb := NewSandboxExecutor(backend, 1, 2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inv := gateway.Invocation{CapabilityID: "cap:tooling:build", ContractID: "c-9", Image: "maple/build-sandbox:latest"}
	result, err := sb.Execute(ctx, inv, gateway.Token{})
	require.NoError(t, err)

	payload, ok := result.Payload.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "result-bytes", payload["output"])
	require.NotEmpty(t, payload["container_id"])
}

func TestSandboxExecutorReusesPoolPerImage(t *testing.T) {
	backend := &fakeBackend{}
	sb := NewSandboxExecutor(backend, 1, 2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inv := gateway.Invocation{CapabilityID: "cap:tooling:build", Image: "maple/build-sandbox:latest"}
	_, err := sb.Execute(ctx, inv, gateway.Token{})
	require.NoError(t, err)

	sb.mu.Lock()
	poolCount := len(sb.pools)
	sb.mu.Unlock()
	require.Equal(t, 1, poolCount)

	_, err = sb.Execute(ctx, inv, gateway.Token{})
	require.NoError(t, err)

	sb.mu.Lock()
	poolCount = len(sb.pools)
	sb.mu.Unlock()
	require.Equal(t, 1, poolCount, "same image should reuse the same pool")
}
