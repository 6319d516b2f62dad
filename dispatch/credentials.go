package dispatch

import (
	"sync"

	"github.com/aschepis/backscratcher/gateway/llm"
)

// StaticCredentials is a config-backed credential resolver: one API key per
// vendor, every non-empty session reference for a configured vendor resolves
// to that vendor's handle. It satisfies the resolver contract for
// deployments that do not run a separate credential service.
type StaticCredentials struct {
	mu      sync.RWMutex
	vendors map[string]llm.CredentialHandle
}

// NewStaticCredentials creates an empty resolver.
func NewStaticCredentials() *StaticCredentials {
	return &StaticCredentials{vendors: make(map[string]llm.CredentialHandle)}
}

// AddVendor stores credentials for a vendor. An empty apiKey removes it.
func (s *StaticCredentials) AddVendor(vendor, apiKey, baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if apiKey == "" {
		delete(s.vendors, vendor)
		return
	}
	s.vendors[vendor] = llm.CredentialHandle{Vendor: vendor, APIKey: apiKey, BaseURL: baseURL}
}

// ResolveSession implements llm.CredentialResolver.
func (s *StaticCredentials) ResolveSession(vendor, sessionRef string) (llm.CredentialHandle, error) {
	if sessionRef == "" {
		return llm.CredentialHandle{}, llm.NewSessionNotFoundError(sessionRef)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.vendors[vendor]
	if !ok {
		return llm.CredentialHandle{}, llm.NewSessionNotFoundError(sessionRef)
	}
	cred.Identity = sessionRef
	return cred, nil
}

var _ llm.CredentialResolver = (*StaticCredentials)(nil)
