// Package registry holds in-flight call state between a probe's entry and
// return firings.
//
// An entry probe stores the call's buffer address (and resolved descriptor)
// keyed by pid_tgid; the matching return probe takes it back out. The store
// is capacity-bounded: a call whose return never fires leaves an orphan that
// is reclaimed by LRU eviction, not by timers. Entries are best-effort.
package registry

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// CallContext is the state bridged from an entry firing to its return firing.
type CallContext struct {
	// BufAddr is the raw address of the caller's data buffer.
	BufAddr uint64
	// FD is the descriptor resolved at entry, or the invalid sentinel.
	FD uint32
}

// Registry is a thread-keyed transient store for one call direction.
type Registry struct {
	cache *lru.Cache
}

// New creates a registry bounded to capacity entries.
func New(capacity int) (*Registry, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("creating pending-call store: %w", err)
	}
	return &Registry{cache: cache}, nil
}

// Put stores the context for a thread, overwriting any previous entry.
// Nested calls on one thread are not tracked separately; last writer wins.
func (r *Registry) Put(pidTgid uint64, ctx CallContext) {
	r.cache.Add(pidTgid, ctx)
}

// Take returns the context stored for a thread and removes it. The removal
// is attempted whether or not an entry was found, so a consumed or evicted
// entry never lingers. A miss is not an error.
func (r *Registry) Take(pidTgid uint64) (CallContext, bool) {
	v, ok := r.cache.Get(pidTgid)
	r.cache.Remove(pidTgid)
	if !ok {
		return CallContext{}, false
	}
	return v.(CallContext), true
}

// Len reports the number of pending entries.
func (r *Registry) Len() int {
	return r.cache.Len()
}
