package ids

import (
	"sync"
	"time"
)

// Clock generates monotonically increasing HLC values for a single node.
// Safe for concurrent use.
type Clock struct {
	mu      sync.Mutex
	node    NodeId
	last    int64
	logical uint32
	nowFn   func() time.Time
}

// NewClock creates an HLC generator stamped with node.
func NewClock(node NodeId) *Clock {
	return &Clock{node: node, nowFn: time.Now}
}

// NewClockWithSource creates an HLC generator using an injected time source,
// for deterministic tests.
func NewClockWithSource(node NodeId, nowFn func() time.Time) *Clock {
	return &Clock{node: node, nowFn: nowFn}
}

// Next returns the next HLC tick. If wall-clock time has not advanced past
// the previous physical reading, the logical counter is incremented instead
// so that ticks remain strictly increasing within a process.
func (c *Clock) Next() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()

	physical := c.nowFn().UnixMilli()
	if physical > c.last {
		c.last = physical
		c.logical = 0
	} else {
		c.logical++
	}
	return HLC{PhysicalMs: c.last, Logical: c.logical, Node: c.node}
}
