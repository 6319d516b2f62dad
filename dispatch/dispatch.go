// Package dispatch resolves a (vendor, operation) pair to a concrete
// implementation behind a uniform interface and validates inputs before
// delegating. It owns no I/O of its own; transports and session managers
// are registered by the wiring layer.
package dispatch

import (
	"context"

	"github.com/aschepis/backscratcher/gateway/llm"
	"github.com/aschepis/backscratcher/gateway/translate"
	"github.com/rs/zerolog"
)

// ModelLister enumerates the models a vendor exposes for a credential.
type ModelLister interface {
	ListModels(ctx context.Context, credentials llm.CredentialHandle) ([]string, error)
}

// SessionManager opens and closes vendor-side sessions.
type SessionManager interface {
	OpenSession(ctx context.Context, vendor, sessionRef string) error
	CloseSession(ctx context.Context, vendor, sessionRef string) error
}

// CredentialRefresher refreshes stored credentials for a session.
// Acquisition and refresh protocols live outside the gateway core.
type CredentialRefresher interface {
	Refresh(ctx context.Context, vendor, sessionRef string) error
}

// Dispatcher validates requests and routes them to registered vendor
// implementations.
type Dispatcher struct {
	registry *Registry
	creds    llm.CredentialResolver
	logger   zerolog.Logger
}

// New creates a Dispatcher with an empty registry.
func New(creds llm.CredentialResolver, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: NewRegistry(),
		creds:    creds,
		logger:   logger.With().Str("component", "dispatch").Logger(),
	}
}

// Registry exposes the underlying registry for wiring additional operations.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// RegisterTransport binds a transport to both streaming operations for a vendor.
func (d *Dispatcher) RegisterTransport(vendor string, t llm.Transport) {
	d.registry.Register(vendor, OpStreamChat, t)
	d.registry.Register(vendor, OpStreamFollowup, t)
}

// StreamChat validates the request, translates the canonical conversation to
// the vendor's native shape, and opens a vendor stream.
func (d *Dispatcher) StreamChat(ctx context.Context, vendor, sessionRef string, msgs []llm.Message, model string, opts llm.Options) (llm.ChunkStream, error) {
	if !llm.KnownVendor(vendor) {
		return nil, llm.NewUnsupportedVendorError(vendor)
	}
	if err := llm.ValidateMessages(msgs); err != nil {
		return nil, err
	}
	cred, err := d.resolveCredentials(vendor, sessionRef)
	if err != nil {
		return nil, err
	}

	vendorMsgs, err := translate.ToVendor(vendor, msgs)
	if err != nil {
		return nil, err
	}

	return d.open(ctx, OpStreamChat, vendor, cred, vendorMsgs, model, opts)
}

// StreamFollowup opens a vendor stream for pre-built vendor-native follow-up
// items (the orchestrator builds them via translate.BuildFollowup).
func (d *Dispatcher) StreamFollowup(ctx context.Context, vendor, sessionRef string, vendorMsgs []any, model string, opts llm.Options) (llm.ChunkStream, error) {
	if !llm.KnownVendor(vendor) {
		return nil, llm.NewUnsupportedVendorError(vendor)
	}
	if len(vendorMsgs) == 0 {
		return nil, llm.NewInvalidMessagesError("empty follow-up message list", nil)
	}
	cred, err := d.resolveCredentials(vendor, sessionRef)
	if err != nil {
		return nil, err
	}
	return d.open(ctx, OpStreamFollowup, vendor, cred, vendorMsgs, model, opts)
}

func (d *Dispatcher) open(ctx context.Context, op Operation, vendor string, cred llm.CredentialHandle, vendorMsgs []any, model string, opts llm.Options) (llm.ChunkStream, error) {
	impl, err := d.registry.Resolve(vendor, op)
	if err != nil {
		return nil, err
	}
	transport, ok := impl.(llm.Transport)
	if !ok {
		return nil, llm.NewNotImplementedError("registered implementation is not a transport")
	}

	d.logger.Debug().
		Str("vendor", vendor).
		Str("model", model).
		Int("messages", len(vendorMsgs)).
		Str("operation", string(op)).
		Msg("opening vendor stream")

	stream, err := transport.Open(ctx, vendor, cred, vendorMsgs, model, opts)
	if err != nil {
		return nil, llm.NewTransportError("vendor stream open failed", err)
	}
	return stream, nil
}

// ListModels resolves and delegates to the vendor's model lister.
func (d *Dispatcher) ListModels(ctx context.Context, vendor, sessionRef string) ([]string, error) {
	cred, err := d.resolveCredentials(vendor, sessionRef)
	if err != nil {
		return nil, err
	}
	impl, err := d.registry.Resolve(vendor, OpListModels)
	if err != nil {
		return nil, err
	}
	lister, ok := impl.(ModelLister)
	if !ok {
		return nil, llm.NewNotImplementedError("registered implementation is not a model lister")
	}
	return lister.ListModels(ctx, cred)
}

// OpenSession resolves and delegates to the vendor's session manager.
func (d *Dispatcher) OpenSession(ctx context.Context, vendor, sessionRef string) error {
	return d.manageSession(ctx, OpOpenSession, vendor, sessionRef)
}

// CloseSession resolves and delegates to the vendor's session manager.
func (d *Dispatcher) CloseSession(ctx context.Context, vendor, sessionRef string) error {
	return d.manageSession(ctx, OpCloseSession, vendor, sessionRef)
}

func (d *Dispatcher) manageSession(ctx context.Context, op Operation, vendor, sessionRef string) error {
	impl, err := d.registry.Resolve(vendor, op)
	if err != nil {
		return err
	}
	mgr, ok := impl.(SessionManager)
	if !ok {
		return llm.NewNotImplementedError("registered implementation is not a session manager")
	}
	if op == OpOpenSession {
		return mgr.OpenSession(ctx, vendor, sessionRef)
	}
	return mgr.CloseSession(ctx, vendor, sessionRef)
}

// RefreshCredentials resolves and delegates to the vendor's credential refresher.
func (d *Dispatcher) RefreshCredentials(ctx context.Context, vendor, sessionRef string) error {
	impl, err := d.registry.Resolve(vendor, OpRefreshCredentials)
	if err != nil {
		return err
	}
	refresher, ok := impl.(CredentialRefresher)
	if !ok {
		return llm.NewNotImplementedError("registered implementation is not a credential refresher")
	}
	return refresher.Refresh(ctx, vendor, sessionRef)
}

// resolveCredentials performs an existence check against the credential
// resolver. Refreshing expired credentials is the refresher's concern.
func (d *Dispatcher) resolveCredentials(vendor, sessionRef string) (llm.CredentialHandle, error) {
	if d.creds == nil {
		return llm.CredentialHandle{}, llm.NewSessionNotFoundError(sessionRef)
	}
	cred, err := d.creds.ResolveSession(vendor, sessionRef)
	if err != nil {
		if llm.IsSessionNotFound(err) {
			return llm.CredentialHandle{}, err
		}
		return llm.CredentialHandle{}, llm.NewSessionNotFoundError(sessionRef)
	}
	return cred, nil
}
