package fabric

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mapleaiorg/accountability-core/internal/event"
	"github.com/mapleaiorg/accountability-core/internal/ids"
	"github.com/mapleaiorg/accountability-core/internal/wal"
)

// publishFunc adapts a plain function to RedisPubSubClient for tests.
type publishFunc func(channel string, message []byte) error

func (f publishFunc) Publish(_ context.Context, channel string, message []byte) error {
	return f(channel, message)
}

func newTestFabric(t *testing.T) *Fabric {
	t.Helper()
	w, err := wal.Open(wal.NewMemStorage(), wal.Config{})
	require.NoError(t, err)
	return New(w, "node-a", nil)
}

func TestEmitAppendsAndStampsHLC(t *testing.T) {
	f := newTestFabric(t)
	e, err := f.Emit("wl1", event.StageSystem, event.Genesis{Note: "boot"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)
	require.Equal(t, ids.NodeId("node-a"), e.Timestamp.Node)
	require.True(t, e.VerifyIntegrity())
}

func TestSubscribeReceivesEmittedEvents(t *testing.T) {
	f := newTestFabric(t)

	var mu sync.Mutex
	var received []*event.Event
	done := make(chan struct{}, 1)

	unsub := f.Subscribe(func(e *event.Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	defer unsub()

	g, err := f.Emit("wl1", event.StageSystem, event.Genesis{Note: "boot"}, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, g.ID, received[0].ID)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := newTestFabric(t)

	var count int
	var mu sync.Mutex
	unsub := f.Subscribe(func(e *event.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsub()

	_, err := f.Emit("wl1", event.StageSystem, event.Genesis{Note: "boot"}, nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, count)
}

func TestCloseUnregistersAllSubscribers(t *testing.T) {
	f := newTestFabric(t)
	f.Subscribe(func(e *event.Event) {})
	f.Subscribe(func(e *event.Event) {})
	require.Len(t, f.subscribers, 2)
	f.Close()
	require.Len(t, f.subscribers, 0)
}

func TestRedisRelayMirrorsEmittedEvents(t *testing.T) {
	f := newTestFabric(t)

	var mu sync.Mutex
	var gotChannel string
	var gotPayload []byte
	done := make(chan struct{}, 1)

	relay := NewRedisRelay(f, publishFunc(func(channel string, message []byte) error {
		mu.Lock()
		gotChannel = channel
		gotPayload = message
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}), "", nil)
	defer relay.Close()

	g, err := f.Emit("wl-relay", event.StageSystem, event.Genesis{Note: "boot"}, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relay publish")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "maple:events:wl-relay", gotChannel)
	require.Contains(t, string(gotPayload), string(g.ID))
}
