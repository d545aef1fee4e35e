// Package pending tracks exchanges whose response has not been persisted yet.
package pending

import "sync"

// Index is a concurrency-safe set of correlation keys.
// Keys are a set, not a multiset: two in-flight requests with the same key
// share one slot and only the first response to arrive claims it.
type Index struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func New() *Index {
	return &Index{keys: make(map[string]struct{})}
}

func (x *Index) Add(key string) {
	x.mu.Lock()
	x.keys[key] = struct{}{}
	x.mu.Unlock()
}

func (x *Index) Contains(key string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.keys[key]
	return ok
}

// Take removes key and reports whether it was present, as one step.
func (x *Index) Take(key string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.keys[key]; !ok {
		return false
	}
	delete(x.keys, key)
	return true
}

func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.keys)
}
