// Package authflow runs the OAuth authorization-code flow that creates connections.
package authflow

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"bookkeepingcpa/internal/connection"
	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/pkg/logger"
	"bookkeepingcpa/pkg/metrics"
	"bookkeepingcpa/pkg/problems"
)

// Entitlements gates providers by plan. *entitlement.Checker satisfies it.
type Entitlements interface {
	Check(ctx context.Context, tenantID, provider string, env providers.Environment) error
}

type Options struct {
	Adapters     connection.AdapterSource
	States       StateStore
	Connections  *connection.Directory
	Entitlements Entitlements // nil: every provider is allowed
	StateTTL     time.Duration
	Timeout      time.Duration // bounds the code exchange and identity lookup
	Now          func() time.Time
	Log          logger.Sugared
}

type Controller struct {
	adapters connection.AdapterSource
	states   StateStore
	conns    *connection.Directory
	ent      Entitlements
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      logger.Sugared
}

func NewController(opts Options) *Controller {
	c := &Controller{
		adapters: opts.Adapters,
		states:   opts.States,
		conns:    opts.Connections,
		ent:      opts.Entitlements,
		ttl:      opts.StateTTL,
		timeout:  opts.Timeout,
		now:      opts.Now,
		log:      logger.OrNop(opts.Log),
	}
	if c.ttl <= 0 {
		c.ttl = 10 * time.Minute
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

type BeginRequest struct {
	TenantID    string
	Provider    string
	Environment providers.Environment
	Params      map[string]string // provider specific, e.g. shop_domain
}

type BeginResult struct {
	AuthorizationURL string    `json:"authorization_url"`
	State            string    `json:"state"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Begin records a pending authorization and returns the provider URL to send the user to.
func (c *Controller) Begin(ctx context.Context, req BeginRequest) (res *BeginResult, err error) {
	defer func() { c.observe(req.Provider, req.Environment, "begin", err) }()

	if req.TenantID == "" {
		return nil, problems.New(problems.InvalidRequest, "tenant is required")
	}
	if !req.Environment.Valid() {
		return nil, problems.Newf(problems.InvalidRequest, "unknown environment %q", req.Environment)
	}
	adapter, err := c.adapters.Adapter(req.Provider)
	if err != nil {
		return nil, err
	}
	if !adapter.Supports(req.Environment) {
		return nil, problems.Newf(problems.ProviderUnavailable, "%s has no %s environment", adapter.Definition().DisplayName, req.Environment)
	}
	if _, err := c.conns.For(req.Environment); err != nil {
		return nil, err
	}
	if c.ent != nil {
		if err := c.ent.Check(ctx, req.TenantID, req.Provider, req.Environment); err != nil {
			return nil, err
		}
	}
	params, err := adapter.PrepareAuthorization(req.Environment, req.Params)
	if err != nil {
		return nil, err
	}

	state, err := newState()
	if err != nil {
		return nil, problems.Wrap(problems.Internal, err, "")
	}
	now := c.now()
	ar := &AuthorizationRequest{
		State:       state,
		TenantID:    req.TenantID,
		Provider:    req.Provider,
		Environment: req.Environment,
		Params:      params,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	}
	if adapter.Definition().PKCE {
		ar.Verifier = oauth2.GenerateVerifier()
	}
	u, err := adapter.AuthCodeURL(req.Environment, providers.AuthCodeRequest{State: state, Verifier: ar.Verifier, Params: params})
	if err != nil {
		return nil, err
	}
	if err := c.states.Save(ctx, ar); err != nil {
		return nil, problems.Wrap(problems.Internal, err, "")
	}
	c.log.Infow("authorization started", "tenant_id", req.TenantID, "provider", req.Provider, "environment", req.Environment)
	return &BeginResult{AuthorizationURL: u, State: state, ExpiresAt: ar.ExpiresAt}, nil
}

// CallbackParams is what the provider redirected back with.
type CallbackParams struct {
	Provider         string
	Code             string
	State            string
	Error            string
	ErrorDescription string
	Extras           map[string]string // selling_partner_id, shop, realmId, ...
}

// Complete redeems the state, exchanges the code and stores the connection.
// Nothing is written unless every step succeeds.
func (c *Controller) Complete(ctx context.Context, cb CallbackParams) (view connection.View, err error) {
	var ar *AuthorizationRequest
	defer func() {
		env := providers.Environment("")
		if ar != nil {
			env = ar.Environment
		}
		c.observe(cb.Provider, env, "complete", err)
	}()

	if cb.Error != "" {
		// A denial burns the state too; the user has to start over either way.
		if cb.State != "" {
			ar, _ = c.states.Consume(ctx, cb.State)
		}
		c.log.Infow("authorization denied by user or provider", "provider", cb.Provider,
			"error", cb.Error, "description", cb.ErrorDescription)
		return view, problems.New(problems.AuthorizationDenied, "")
	}
	if cb.State == "" {
		return view, problems.New(problems.InvalidOrExpiredState, "")
	}
	ar, err = c.states.Consume(ctx, cb.State)
	if errors.Is(err, ErrStateNotFound) {
		return view, problems.New(problems.InvalidOrExpiredState, "")
	}
	if err != nil {
		return view, problems.Wrap(problems.Internal, err, "")
	}
	if ar.Provider != cb.Provider {
		c.log.Warnw("callback provider mismatch", "expected", ar.Provider, "got", cb.Provider, "tenant_id", ar.TenantID)
		return view, problems.New(problems.InvalidOrExpiredState, "")
	}
	if cb.Code == "" {
		return view, problems.New(problems.AuthorizationDenied, "the provider did not return an authorization code")
	}

	mgr, err := c.conns.For(ar.Environment)
	if err != nil {
		return view, err
	}
	adapter, err := c.adapters.Adapter(ar.Provider)
	if err != nil {
		return view, err
	}

	ectx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	tok, err := adapter.Exchange(ectx, ar.Environment, providers.ExchangeRequest{Code: cb.Code, Verifier: ar.Verifier, Params: ar.Params})
	if err != nil {
		c.log.Warnw("code exchange failed", "tenant_id", ar.TenantID, "provider", ar.Provider, "err", err)
		return view, err
	}
	identity, err := adapter.FetchIdentity(ectx, ar.Environment, providers.IdentityRequest{Token: tok, Params: ar.Params, Callback: cb.Extras})
	if err != nil {
		c.log.Warnw("identity lookup failed", "tenant_id", ar.TenantID, "provider", ar.Provider, "err", err)
		if problems.Is(err, problems.Unauthorized) {
			return view, problems.Wrap(problems.TokenExchangeFailed, err, "the provider rejected the new access token")
		}
		return view, err
	}

	key := connection.Key{TenantID: ar.TenantID, Provider: ar.Provider, Environment: ar.Environment}
	return mgr.Connect(ctx, key, tok, identity)
}

func (c *Controller) observe(provider string, env providers.Environment, stage string, err error) {
	metrics.AuthorizationFlows.WithLabelValues(provider, string(env), stage, metrics.Outcome(string(problems.KindOf(err)))).Inc()
}
