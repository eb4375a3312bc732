// Package fabric implements the Event Fabric: the emit surface
// over the WAL. Emit() generates an id, stamps an HLC, computes the
// integrity hash, appends to the WAL, and fans the event out to bounded,
// best-effort subscribers (the provenance index, metrics, optional
// cross-process relays). The WAL remains the single source of truth:
// subscribers may miss deliveries under load; nothing downstream may
// assume broadcast delivery is reliable.
package fabric

import (
	"log/slog"
	"sync"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
	"github.com/mapleaiorg/accountability-core/internal/event"
	"github.com/mapleaiorg/accountability-core/internal/ids"
	"github.com/mapleaiorg/accountability-core/internal/wal"
)

// Subscriber receives events published by the fabric. Handlers must not
// block for long: a slow subscriber drops deliveries once its backlog is
// full.
type Subscriber func(*event.Event)

// DefaultBacklog is the bounded channel capacity per subscriber.
const DefaultBacklog = 256

// Fabric is the emit surface over a WAL for one node.
type Fabric struct {
	wal    *wal.WAL
	clock  *ids.Clock
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[int]*subscription
	nextSubID   int
}

type subscription struct {
	ch   chan *event.Event
	done chan struct{}
}

// New creates a Fabric emitting onto w, with HLC ticks stamped for node.
func New(w *wal.WAL, node ids.NodeId, logger *slog.Logger) *Fabric {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fabric{
		wal:         w,
		clock:       ids.NewClock(node),
		logger:      logger,
		subscribers: make(map[int]*subscription),
	}
}

// Emit generates an id, stamps an HLC tick, builds and seals the event,
// appends it to the WAL, and fans it out to subscribers.
func (f *Fabric) Emit(worldline ids.WorldlineId, stage event.Stage, payload event.Payload, parents []ids.EventId) (*event.Event, error) {
	e, err := event.New(ids.NewEventId(), f.clock.Next(), worldline, stage, payload, parents)
	if err != nil {
		return nil, err
	}
	if _, err := f.wal.Append(e); err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "append event to wal", err)
	}
	f.publish(e)
	return e, nil
}

// publish fans e out to all live subscribers without blocking the emitter;
// a full subscriber channel drops the delivery.
func (f *Fabric) publish(e *event.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subscribers {
		select {
		case sub.ch <- e.Clone():
		default:
			f.logger.Warn("fabric: subscriber backlog full, dropping delivery", "event_id", e.ID)
		}
	}
}

// Subscribe registers handler to receive a best-effort copy of every
// subsequently emitted event. Returns an unsubscribe function.
func (f *Fabric) Subscribe(handler Subscriber) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextSubID
	f.nextSubID++
	sub := &subscription{
		ch:   make(chan *event.Event, DefaultBacklog),
		done: make(chan struct{}),
	}
	f.subscribers[id] = sub
	f.mu.Unlock()

	go func() {
		for {
			select {
			case e := <-sub.ch:
				handler(e)
			case <-sub.done:
				return
			}
		}
	}()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if s, ok := f.subscribers[id]; ok {
			close(s.done)
			delete(f.subscribers, id)
		}
	}
}

// Close unregisters all subscribers. It does not close the underlying WAL.
func (f *Fabric) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sub := range f.subscribers {
		close(sub.done)
		delete(f.subscribers, id)
	}
}
