package run

import (
	"sort"
	"sync"
)

// registry is the in-memory table of active runs. The orchestrator is its
// only writer. Removing an absent id is a no-op so the timeout and
// cancellation paths can race without double-removal errors.
type registry struct {
	mu   sync.Mutex
	runs map[string]*activeRun
}

func newRegistry() *registry {
	return &registry{runs: make(map[string]*activeRun)}
}

// insert adds ar under id. It returns false if the id is already present,
// leaving the existing entry untouched.
func (r *registry) insert(id string, ar *activeRun) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[id]; ok {
		return false
	}
	r.runs[id] = ar
	return true
}

// remove deletes id and reports whether it was present.
func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[id]; !ok {
		return false
	}
	delete(r.runs, id)
	return true
}

func (r *registry) get(id string) (*activeRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ar, ok := r.runs[id]
	return ar, ok
}

// ids returns a sorted snapshot of active run ids.
func (r *registry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.runs))
	for id := range r.runs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
