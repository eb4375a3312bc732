package ghostpool

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// GhostContainer represents a recyclable sandbox instance used to run one
// capability invocation at a time.
type GhostContainer struct {
	ID         string
	ContractID string // bound while checked out, cleared on scrub
	LastUsed   time.Time
}

// PoolManager handles the lifecycle of GhostContainers for a single
// capability image: Pre-warm -> Acquire -> Scrub -> Release. It drives a
// PoolBackend rather than talking to Docker directly, so it works
// unchanged against DockerBackend or KubernetesBackend.
type PoolManager struct {
	mu          sync.Mutex
	available   chan *GhostContainer
	active      map[string]*GhostContainer
	minIdle     int
	maxCapacity int
	image       string
	backend     PoolBackend
	stop        chan struct{}
}

// NewPoolManagerWithBackend creates a pool of minIdle..maxCap containers
// running image, provisioned through backend, and starts pre-warming.
func NewPoolManagerWithBackend(backend PoolBackend, minIdle, maxCap int, image string) *PoolManager {
	pm := &PoolManager{
		available:   make(chan *GhostContainer, maxCap),
		active:      make(map[string]*GhostContainer),
		minIdle:     minIdle,
		maxCapacity: maxCap,
		image:       image,
		backend:     backend,
		stop:        make(chan struct{}),
	}
	go pm.maintainPool()
	return pm
}

// NewPoolManager creates a pool backed by the local Docker daemon with
// gVisor isolation, matching SandboxExecutor's default.
func NewPoolManager(minIdle, maxCap int, image string) *PoolManager {
	return NewPoolManagerWithBackend(NewDockerBackend("runsc"), minIdle, maxCap, image)
}

// Get retrieves a pre-warmed container or blocks until one is ready or ctx
// is done.
func (pm *PoolManager) Get(ctx context.Context, contractID string) (*GhostContainer, error) {
	select {
	case c := <-pm.available:
		pm.mu.Lock()
		pm.active[c.ID] = c
		pm.mu.Unlock()

		c.LastUsed = time.Now()
		c.ContractID = contractID

		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a container to the pool after scrubbing its state. If the
// scrub fails the container is destroyed instead of recycled.
func (pm *PoolManager) Put(c *GhostContainer) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := pm.scrubContainer(ctx, c); err != nil {
			slog.Warn("ghostpool: scrub failed, destroying container", "container_id", c.ID, "error", err)
			pm.destroyContainer(ctx, c)
			pm.mu.Lock()
			delete(pm.active, c.ID)
			pm.mu.Unlock()
			return
		}

		c.ContractID = ""
		pm.mu.Lock()
		delete(pm.active, c.ID)
		pm.mu.Unlock()
		pm.available <- c
	}()
}

// scrubContainer resets a container's mutable state between invocations.
func (pm *PoolManager) scrubContainer(ctx context.Context, c *GhostContainer) error {
	_, err := pm.backend.ExecInContainer(ctx, c.ID, []string{"/bin/sh", "-c", "rm -rf /tmp/* && pkill -u ghostuser"})
	return err
}

// maintainPool keeps the idle count at or above minIdle without exceeding
// maxCapacity, until Close is called.
func (pm *PoolManager) maintainPool() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	pm.scaleUp()
	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
			pm.scaleUp()
		}
	}
}

// scaleUp provisions fresh containers until idle supply reaches minIdle,
// never exceeding maxCapacity in flight.
func (pm *PoolManager) scaleUp() {
	pm.mu.Lock()
	activeCount := len(pm.active)
	pm.mu.Unlock()

	availableCount := len(pm.available)
	total := activeCount + availableCount

	if availableCount < pm.minIdle && total < pm.maxCapacity {
		deficit := pm.minIdle - availableCount
		for i := 0; i < deficit; i++ {
			if total+i >= pm.maxCapacity {
				break
			}
			go pm.createContainer()
		}
	}
}

func (pm *PoolManager) createContainer() {
	ctx := context.Background()

	id, err := pm.backend.CreateContainer(ctx, pm.image)
	if err != nil {
		slog.Warn("ghostpool: failed to create container", "image", pm.image, "backend", pm.backend.Name(), "error", err)
		return
	}
	if err := pm.backend.StartContainer(ctx, id); err != nil {
		slog.Warn("ghostpool: failed to start container", "container_id", id, "error", err)
		return
	}

	c := &GhostContainer{ID: id, LastUsed: time.Now()}

	select {
	case pm.available <- c:
		slog.Info("ghostpool: container pre-warmed", "container_id", id, "image", pm.image)
	default:
		pm.destroyContainer(ctx, c)
	}
}

func (pm *PoolManager) destroyContainer(ctx context.Context, c *GhostContainer) {
	if err := pm.backend.RemoveContainer(ctx, c.ID); err != nil {
		slog.Warn("ghostpool: failed to remove container", "container_id", c.ID, "error", err)
	}
}

// Exec runs cmd inside containerID via the pool's backend. payload is
// reserved for callers that need to stage input files before exec; the
// default backends pass cmd directly.
func (pm *PoolManager) Exec(ctx context.Context, containerID string, cmd []string, payload []byte) ([]byte, error) {
	return pm.backend.ExecInContainer(ctx, containerID, cmd)
}

// Close stops the background maintainer and tears down every container
// currently idle in the pool.
func (pm *PoolManager) Close() {
	close(pm.stop)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case c := <-pm.available:
			pm.destroyContainer(ctx, c)
		default:
			return
		}
	}
}

// Stats returns current pool statistics.
func (pm *PoolManager) Stats() map[string]interface{} {
	pm.mu.Lock()
	activeCount := len(pm.active)
	pm.mu.Unlock()

	return map[string]interface{}{
		"active_containers": activeCount,
		"idle_containers":   len(pm.available),
		"total_capacity":    pm.maxCapacity,
		"min_idle":          pm.minIdle,
		"image":             pm.image,
		"backend":           pm.backend.Name(),
	}
}
