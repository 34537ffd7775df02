// Package procname resolves a pid to the kernel's fixed-width process name.
package procname

import (
	"bytes"
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru"

	"github.com/zxd1994/ecapture/internal/event"
)

// Resolver reads /proc/<pid>/comm with a small LRU cache in front.
//
// The cache can go stale across an exec, which telemetry tolerates; a
// process that has already exited yields an all-zero name.
type Resolver struct {
	cache *lru.Cache
}

// NewResolver creates a resolver caching up to capacity names.
func NewResolver(capacity int) (*Resolver, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("creating comm cache: %w", err)
	}
	return &Resolver{cache: cache}, nil
}

// Comm returns the process name, truncated to the kernel's fixed width.
func (r *Resolver) Comm(pid uint32) [event.TaskCommLen]byte {
	if v, ok := r.cache.Get(pid); ok {
		return v.([event.TaskCommLen]byte)
	}

	var comm [event.TaskCommLen]byte
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return comm
	}

	raw = bytes.TrimRight(raw, "\n")
	// Keep the trailing NUL the fixed-width record expects.
	copy(comm[:event.TaskCommLen-1], raw)

	r.cache.Add(pid, comm)
	return comm
}

// Invalidate drops a cached name, e.g. after observing an exec.
func (r *Resolver) Invalidate(pid uint32) {
	r.cache.Remove(pid)
}
