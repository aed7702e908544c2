// Package provider holds the extractors available to the waterfall, keyed
// by provider id.
package provider

import (
	"sort"
	"sync"

	"github.com/sells-group/assessment-ingest/internal/extract"
)

// Registry manages the configured extractors.
type Registry struct {
	mu         sync.RWMutex
	extractors map[extract.ProviderID]extract.Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[extract.ProviderID]extract.Extractor),
	}
}

// Register adds or replaces the extractor for id.
func (r *Registry) Register(id extract.ProviderID, e extract.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[id] = e
}

// Get returns the extractor for id, or nil if none is registered.
func (r *Registry) Get(id extract.ProviderID) extract.Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extractors[id]
}

// List returns the registered ids in sorted order.
func (r *Registry) List() []extract.ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]extract.ProviderID, 0, len(r.extractors))
	for id := range r.extractors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
