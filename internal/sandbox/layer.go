// Package sandbox manages test-marketplace connections. It owns a Manager bound to
// the sandbox environment and its own storage namespace, so nothing here can read
// or write a production connection.
package sandbox

import (
	"context"
	"errors"
	"time"

	"bookkeepingcpa/internal/connection"
	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/pkg/logger"
	"bookkeepingcpa/pkg/problems"
)

// Defaults returns the product-wide sandbox credential and identity hints for a provider.
type Defaults func(provider string) (refreshToken string, identity map[string]string)

type Options struct {
	Manager  *connection.Manager
	Adapters connection.AdapterSource
	Defaults Defaults
	Timeout  time.Duration
	Log      logger.Sugared
}

type Layer struct {
	mgr      *connection.Manager
	adapters connection.AdapterSource
	defaults Defaults
	timeout  time.Duration
	log      logger.Sugared
}

func NewLayer(opts Options) (*Layer, error) {
	if opts.Manager == nil || opts.Manager.Environment() != providers.Sandbox {
		return nil, errors.New("sandbox: manager must be bound to the sandbox environment")
	}
	l := &Layer{
		mgr:      opts.Manager,
		adapters: opts.Adapters,
		defaults: opts.Defaults,
		timeout:  opts.Timeout,
		log:      logger.OrNop(opts.Log),
	}
	if l.defaults == nil {
		l.defaults = func(string) (string, map[string]string) { return "", nil }
	}
	if l.timeout <= 0 {
		l.timeout = 15 * time.Second
	}
	return l, nil
}

func (l *Layer) Manager() *connection.Manager { return l.mgr }

func key(tenantID, provider string) connection.Key {
	return connection.Key{TenantID: tenantID, Provider: provider, Environment: providers.Sandbox}
}

type InitializeRequest struct {
	TenantID     string
	Provider     string
	RefreshToken string            // optional; the product default is used when empty
	Params       map[string]string // optional identity hints, e.g. realm_id
}

// InitializeSandbox connects the tenant's sandbox account from a long-lived refresh token,
// without a browser redirect.
func (l *Layer) InitializeSandbox(ctx context.Context, req InitializeRequest) (connection.View, error) {
	if req.TenantID == "" {
		return connection.View{}, problems.New(problems.InvalidRequest, "tenant is required")
	}
	adapter, err := l.adapters.Adapter(req.Provider)
	if err != nil {
		return connection.View{}, err
	}
	if !adapter.Supports(providers.Sandbox) {
		return connection.View{}, problems.Newf(problems.ProviderUnavailable, "%s has no sandbox", adapter.Definition().DisplayName)
	}

	defToken, defIdentity := l.defaults(req.Provider)
	refresh := req.RefreshToken
	if refresh == "" {
		refresh = defToken
	}
	if refresh == "" {
		return connection.View{}, problems.Newf(problems.ProviderUnavailable, "no sandbox credential is configured for %s", adapter.Definition().DisplayName)
	}
	hints := map[string]string{}
	for k, v := range defIdentity {
		hints[k] = v
	}
	for k, v := range req.Params {
		hints[k] = v
	}

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	tok, err := adapter.Refresh(cctx, providers.Sandbox, providers.RefreshRequest{RefreshToken: refresh, Identity: hints})
	if err != nil {
		if problems.Is(err, problems.ReauthorizationRequired) {
			return connection.View{}, problems.Wrap(problems.TokenExchangeFailed, err, "the sandbox credential was rejected")
		}
		return connection.View{}, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refresh
	}
	identity, err := adapter.FetchIdentity(cctx, providers.Sandbox, providers.IdentityRequest{Token: tok, Params: hints})
	if err != nil {
		if problems.Is(err, problems.Unauthorized) {
			return connection.View{}, problems.Wrap(problems.TokenExchangeFailed, err, "the sandbox credential was rejected")
		}
		return connection.View{}, err
	}
	v, err := l.mgr.Connect(ctx, key(req.TenantID, req.Provider), tok, identity)
	if err != nil {
		return v, err
	}
	l.log.Infow("sandbox initialized", "tenant_id", req.TenantID, "provider", req.Provider, "default_credential", req.RefreshToken == "")
	return v, nil
}

func (l *Layer) GetStatus(ctx context.Context, tenantID, provider string) (connection.View, error) {
	return l.mgr.GetStatus(ctx, key(tenantID, provider))
}

func (l *Layer) EnsureValidToken(ctx context.Context, tenantID, provider string) (*connection.Token, error) {
	return l.mgr.EnsureValidToken(ctx, key(tenantID, provider))
}

// ResetSandbox removes every sandbox connection of the tenant, identity included.
func (l *Layer) ResetSandbox(ctx context.Context, tenantID string) (int, error) {
	n, err := l.mgr.DisconnectTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	l.log.Infow("sandbox reset", "tenant_id", tenantID, "removed", n)
	return n, nil
}
