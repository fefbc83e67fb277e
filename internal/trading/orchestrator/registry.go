package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rebuybot/internal/trading/runner"
	apperrors "rebuybot/pkg/errors"
)

// Handle is one worker generation for a bot. Handles are compared by identity,
// so a stale worker can never deregister its replacement.
type Handle struct {
	Generation string
	Runner     *runner.Runner
	StartedAt  time.Time

	done     chan struct{}
	doneOnce sync.Once
}

func newHandle(r *runner.Runner, generation string) *Handle {
	if generation == "" {
		generation = uuid.NewString()
	}
	return &Handle{
		Generation: generation,
		Runner:     r,
		StartedAt:  time.Now(),
		done:       make(chan struct{}),
	}
}

// Done is closed once the worker has finished its cleanup
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Alive reports whether the worker has not finished yet
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}

// Registry maps bot id to its live worker handle
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*Handle
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]*Handle)}
}

// RegistryTx is the registry as seen from inside WithLock
type RegistryTx struct {
	r *Registry
}

// Get returns the handle registered for id
func (tx RegistryTx) Get(id int64) (*Handle, bool) {
	h, ok := tx.r.entries[id]
	return h, ok
}

// Register stores h unless an alive handle is already registered
func (tx RegistryTx) Register(id int64, h *Handle) error {
	if cur, ok := tx.r.entries[id]; ok && cur.Alive() {
		return fmt.Errorf("%w: bot %d (generation %s)", apperrors.ErrAlreadyRunning, id, cur.Generation)
	}
	tx.r.entries[id] = h
	return nil
}

// Replace stores h unconditionally
func (tx RegistryTx) Replace(id int64, h *Handle) {
	tx.r.entries[id] = h
}

// RemoveIf deletes the entry only when it is exactly h
func (tx RegistryTx) RemoveIf(id int64, h *Handle) bool {
	if cur, ok := tx.r.entries[id]; ok && cur == h {
		delete(tx.r.entries, id)
		return true
	}
	return false
}

// WithLock runs fn while holding the registry lock
func (r *Registry) WithLock(fn func(tx RegistryTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(RegistryTx{r: r})
}

func (r *Registry) Register(id int64, h *Handle) error {
	return r.WithLock(func(tx RegistryTx) error { return tx.Register(id, h) })
}

func (r *Registry) Replace(id int64, h *Handle) {
	_ = r.WithLock(func(tx RegistryTx) error {
		tx.Replace(id, h)
		return nil
	})
}

func (r *Registry) Get(id int64) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[id]
	return h, ok
}

func (r *Registry) RemoveIf(id int64, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RegistryTx{r: r}.RemoveIf(id, h)
}

// Release is the worker's exit path. It reports whether h still owns the
// bot's persisted status: true when h was the registered handle (the entry is
// removed) or the entry is already gone, false once a replacement generation
// took over.
func (r *Registry) Release(id int64, h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[id]
	if ok && cur != h {
		return false
	}
	if ok {
		delete(r.entries, id)
	}
	return true
}

// IDs returns the registered bot ids in ascending order
func (r *Registry) IDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
