// Package registry is the dispatcher side of fleet membership: an in-memory
// table of workers fed by register and heartbeat calls.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"operator/internal/dispatcher"
)

var ErrUnknownWorker = errors.New("registry: unknown worker")

type Worker struct {
	NodeID       string    `json:"node_id"`
	RestURL      string    `json:"rest_url"`
	OuterURL     string    `json:"outer_url"`
	AIModels     []string  `json:"ai_models"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

func (w *Worker) copy() *Worker {
	c := *w
	c.AIModels = append([]string{}, w.AIModels...)
	return &c
}

// ServesModel reports whether the worker advertised model.
func (w *Worker) ServesModel(model string) bool {
	for _, m := range w.AIModels {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}

type Registry struct {
	workers map[string]*Worker
	mu      sync.RWMutex
	now     func() time.Time
}

func New() *Registry {
	return &Registry{workers: make(map[string]*Worker), now: time.Now}
}

// Register adds or replaces the worker announced by info.
func (r *Registry) Register(info dispatcher.WorkerInfo) error {
	id := normalizeID(info.NodeID)
	if id == "" {
		return fmt.Errorf("worker node_id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.workers[id] = &Worker{
		NodeID:       info.NodeID,
		RestURL:      info.RestURL,
		OuterURL:     info.OuterURL,
		AIModels:     append([]string{}, info.AIModels...),
		RegisteredAt: now,
		LastSeen:     now,
	}
	return nil
}

// Heartbeat refreshes a registered worker. Unknown workers must register first.
func (r *Registry) Heartbeat(info dispatcher.WorkerInfo) error {
	id := normalizeID(info.NodeID)

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, info.NodeID)
	}
	w.LastSeen = r.now()
	if info.OuterURL != "" {
		w.OuterURL = info.OuterURL
	}
	return nil
}

func (r *Registry) Get(nodeID string) (*Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[normalizeID(nodeID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, nodeID)
	}
	return w.copy(), nil
}

// List returns copies of all workers sorted by node id. A non-empty model
// filters to workers that advertised it.
func (r *Registry) List(model string) []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		if model != "" && !w.ServesModel(model) {
			continue
		}
		workers = append(workers, w.copy())
	}
	sort.Slice(workers, func(i, j int) bool {
		return normalizeID(workers[i].NodeID) < normalizeID(workers[j].NodeID)
	})
	return workers
}

// CleanupStale drops workers not seen within maxAge and returns how many.
func (r *Registry) CleanupStale(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, w := range r.workers {
		if w.LastSeen.Before(cutoff) {
			delete(r.workers, id)
			removed++
		}
	}
	return removed
}

// Node ids are addresses; compare them case-insensitively.
func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
