package dispatch

import (
	"fmt"
	"sync"

	"github.com/aschepis/backscratcher/gateway/llm"
)

// Operation identifies one capability a vendor module can implement.
type Operation string

const (
	OpOpenSession        Operation = "open_session"
	OpCloseSession       Operation = "close_session"
	OpRefreshCredentials Operation = "refresh_credentials"
	OpListModels         Operation = "list_models"
	OpStreamChat         Operation = "stream_chat"
	OpStreamFollowup     Operation = "stream_followup"
)

// Registry maps (vendor, operation) pairs to concrete implementations.
// It is an explicit table resolved at startup, never by reflection or
// naming convention.
type Registry struct {
	mu    sync.RWMutex
	impls map[string]map[Operation]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{impls: make(map[string]map[Operation]any)}
}

// Register binds an implementation to a (vendor, operation) pair,
// replacing any previous binding.
func (r *Registry) Register(vendor string, op Operation, impl any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.impls[vendor] == nil {
		r.impls[vendor] = make(map[Operation]any)
	}
	r.impls[vendor][op] = impl
}

// Resolve returns the implementation registered for the pair.
func (r *Registry) Resolve(vendor string, op Operation) (any, error) {
	if !llm.KnownVendor(vendor) {
		return nil, llm.NewUnsupportedVendorError(vendor)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[vendor][op]
	if !ok {
		return nil, llm.NewNotImplementedError(fmt.Sprintf("no implementation registered for %s/%s", vendor, op))
	}
	return impl, nil
}
