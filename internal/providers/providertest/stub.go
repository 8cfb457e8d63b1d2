// Package providertest provides an in-memory provider adapter for tests of the
// layers above the provider registry.
package providertest

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/pkg/problems"
)

// Stub answers exchanges for Code "good-code" and refreshes for RefreshToken "rt-1"
// unless the hook functions say otherwise. Identity echoes the request params and callback extras.
type Stub struct {
	Def providers.Definition

	RefreshFn  func(env providers.Environment, req providers.RefreshRequest) (*providers.Token, error)
	IdentityFn func(env providers.Environment, req providers.IdentityRequest) (providers.Identity, error)
	FetchFn    func(ctx context.Context, env providers.Environment, req providers.FetchRequest) (*providers.FetchResult, error)

	Exchanges atomic.Int32
	Refreshes atomic.Int32
	Fetches   atomic.Int32

	mu           sync.Mutex
	lastVerifier string
	lastFetch    providers.FetchRequest
}

// NewStub builds a stub for id supporting envs (production when none given).
func NewStub(id string, envs ...providers.Environment) *Stub {
	if len(envs) == 0 {
		envs = []providers.Environment{providers.Production}
	}
	def := providers.Definition{ID: id, DisplayName: id, Kind: providers.Kind(id)}
	for _, env := range envs {
		ep := &providers.Endpoints{AuthURL: "https://" + id + ".test/authorize", TokenURL: "https://" + id + ".test/token"}
		if env == providers.Sandbox {
			def.Sandbox = ep
		} else {
			def.Production = ep
		}
	}
	return &Stub{Def: def}
}

func (s *Stub) Definition() providers.Definition { return s.Def }

func (s *Stub) Supports(env providers.Environment) bool { return s.Def.Supports(env) }

func (s *Stub) PrepareAuthorization(env providers.Environment, params map[string]string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range params {
		out[k] = v
	}
	return out, nil
}

func (s *Stub) AuthCodeURL(env providers.Environment, req providers.AuthCodeRequest) (string, error) {
	ep, ok := s.Def.Endpoints(env)
	if !ok {
		return "", problems.New(problems.ProviderUnavailable, "")
	}
	q := url.Values{"state": {req.State}}
	if req.Verifier != "" {
		q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(req.Verifier))
		q.Set("code_challenge_method", "S256")
	}
	return ep.AuthURL + "?" + q.Encode(), nil
}

func (s *Stub) Exchange(ctx context.Context, env providers.Environment, req providers.ExchangeRequest) (*providers.Token, error) {
	s.Exchanges.Add(1)
	s.mu.Lock()
	s.lastVerifier = req.Verifier
	s.mu.Unlock()
	if req.Code != "good-code" {
		return nil, problems.New(problems.TokenExchangeFailed, "")
	}
	return &providers.Token{AccessToken: "at-1", RefreshToken: "rt-1", Expiry: time.Now().Add(time.Hour)}, nil
}

func (s *Stub) Refresh(ctx context.Context, env providers.Environment, req providers.RefreshRequest) (*providers.Token, error) {
	s.Refreshes.Add(1)
	if s.RefreshFn != nil {
		return s.RefreshFn(env, req)
	}
	if req.RefreshToken != "rt-1" {
		return nil, problems.New(problems.ReauthorizationRequired, "")
	}
	return &providers.Token{AccessToken: "at-2", RefreshToken: "rt-2", Expiry: time.Now().Add(time.Hour)}, nil
}

func (s *Stub) FetchIdentity(ctx context.Context, env providers.Environment, req providers.IdentityRequest) (providers.Identity, error) {
	if s.IdentityFn != nil {
		return s.IdentityFn(env, req)
	}
	id := providers.Identity{}
	for k, v := range req.Params {
		id[k] = v
	}
	for k, v := range req.Callback {
		id[k] = v
	}
	return id, nil
}

func (s *Stub) Fetch(ctx context.Context, env providers.Environment, req providers.FetchRequest) (*providers.FetchResult, error) {
	s.Fetches.Add(1)
	s.mu.Lock()
	s.lastFetch = req
	s.mu.Unlock()
	if s.FetchFn != nil {
		return s.FetchFn(ctx, env, req)
	}
	return &providers.FetchResult{Data: map[string]any{"items": []any{}, "next_cursor": nil}}, nil
}

// LastVerifier is the PKCE verifier sent with the most recent exchange.
func (s *Stub) LastVerifier() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastVerifier
}

func (s *Stub) LastFetch() providers.FetchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFetch
}

// Source resolves stubs by provider id, mimicking the registry's errors.
type Source map[string]*Stub

func Of(stubs ...*Stub) Source {
	out := Source{}
	for _, s := range stubs {
		out[s.Def.ID] = s
	}
	return out
}

func (src Source) Adapter(id string) (providers.Adapter, error) {
	s, ok := src[id]
	if !ok {
		return nil, problems.Newf(problems.ProviderUnavailable, "unknown provider %q", id)
	}
	return s, nil
}

func (src Source) Definition(id string) (providers.Definition, error) {
	s, ok := src[id]
	if !ok {
		return providers.Definition{}, problems.Newf(problems.ProviderUnavailable, "unknown provider %q", id)
	}
	return s.Def, nil
}

// List returns the stub definitions ordered by id.
func (src Source) List() []providers.Definition {
	out := make([]providers.Definition, 0, len(src))
	for _, s := range src {
		out = append(out, s.Def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
