package chat

import (
	"sort"
	"sync"
)

// Sink delivers one framed line to a single connected client.
type Sink interface {
	Deliver(line string) error
}

type registryEntry struct {
	sink Sink
}

// Registry maps claimed handles to delivery sinks.
// Every read and mutation goes through one mutex, so claims are indivisible and
// snapshots never observe a half-applied update.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// TryClaim marks handle as held. It returns false if another session holds it.
func (r *Registry) TryClaim(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[handle]; ok {
		return false
	}
	r.entries[handle] = &registryEntry{}
	return true
}

// Release drops handle and its sink. No-op if handle is not held.
func (r *Registry) Release(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, handle)
}

// SetSink binds sink to a held handle. Unheld handles are ignored.
func (r *Registry) SetSink(handle string, sink Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[handle]
	if !ok {
		return false
	}
	entry.sink = sink
	return true
}

// RemoveSink unbinds the sink but keeps the handle held.
func (r *Registry) RemoveSink(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[handle]; ok {
		entry.sink = nil
	}
}

func (r *Registry) LookupSink(handle string) (Sink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[handle]
	if !ok || entry.sink == nil {
		return nil, false
	}
	return entry.sink, true
}

// SnapshotSinks copies every bound sink under the lock.
func (r *Registry) SnapshotSinks() []Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sink, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.sink != nil {
			out = append(out, entry.sink)
		}
	}
	return out
}

// Handles returns held handles in lexical order.
func (r *Registry) Handles() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.entries))
	for handle := range r.entries {
		out = append(out, handle)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
