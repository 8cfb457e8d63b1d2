package providers

import (
	"context"
	"time"
)

// Token is what a provider hands back from a code exchange or refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time // zero: does not expire
}

// Identity holds provider-side account identifiers (seller_id, marketplace_id,
// shop_domain, realm_id, ...). Identity values always win over caller params.
type Identity map[string]string

func (id Identity) Clone() Identity {
	out := make(Identity, len(id))
	for k, v := range id {
		out[k] = v
	}
	return out
}

type AuthCodeRequest struct {
	State    string
	Verifier string            // PKCE verifier, empty when the provider does not use PKCE
	Params   map[string]string // output of PrepareAuthorization
}

type ExchangeRequest struct {
	Code     string
	Verifier string
	Params   map[string]string
}

type RefreshRequest struct {
	RefreshToken string
	Identity     Identity
}

type IdentityRequest struct {
	Token    *Token
	Params   map[string]string // stored when the flow began
	Callback map[string]string // extra query params the provider sent to the callback
}

type FetchRequest struct {
	Operation   string
	Params      map[string]string
	AccessToken string
	Identity    Identity
}

// FetchResult.Data is the normalized payload. Provider cursors are returned untouched.
type FetchResult struct {
	Data any
}

// Adapter is implemented once per provider dialect.
type Adapter interface {
	Definition() Definition
	Supports(env Environment) bool
	// PrepareAuthorization validates and normalizes the params a flow needs (e.g. shop domain).
	PrepareAuthorization(env Environment, params map[string]string) (map[string]string, error)
	AuthCodeURL(env Environment, req AuthCodeRequest) (string, error)
	Exchange(ctx context.Context, env Environment, req ExchangeRequest) (*Token, error)
	Refresh(ctx context.Context, env Environment, req RefreshRequest) (*Token, error)
	FetchIdentity(ctx context.Context, env Environment, req IdentityRequest) (Identity, error)
	Fetch(ctx context.Context, env Environment, req FetchRequest) (*FetchResult, error)
}
