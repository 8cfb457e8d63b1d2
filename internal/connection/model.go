package connection

import (
	"time"

	"bookkeepingcpa/internal/providers"
)

// Key identifies the single active connection of a tenant to a provider in one environment.
type Key struct {
	TenantID    string
	Provider    string
	Environment providers.Environment
}

func (k Key) String() string { return k.TenantID + "|" + k.Provider + "|" + string(k.Environment) }

// State is what is persisted. Status is what callers see; it is derived from State and time.
type State string

const (
	StateConnected    State = "connected"
	StateTokenExpired State = "token_expired"
	StatePaused       State = "paused"
	StateError        State = "error"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusTokenExpired Status = "token_expired"
	StatusPaused       Status = "paused"
	StatusError        Status = "error"
)

// Connection is one stored authorization. Token fields never leave this package
// except through Manager.EnsureValidToken.
type Connection struct {
	ID             string // changes every time the connection is re-established
	TenantID       string
	Provider       string
	Environment    providers.Environment
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time // zero: provider token does not expire
	Identity       providers.Identity
	State          State
	LastError      string
	ConnectedSince time.Time
	LastSyncedAt   time.Time
	UpdatedAt      time.Time
}

func (c *Connection) Key() Key {
	return Key{TenantID: c.TenantID, Provider: c.Provider, Environment: c.Environment}
}

func (c *Connection) clone() *Connection {
	cp := *c
	cp.Identity = c.Identity.Clone()
	return &cp
}

// Token is what EnsureValidToken hands to provider calls.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
	Identity    providers.Identity
}

// View is the caller-facing, token-free status of one connection.
type View struct {
	TenantID       string                `json:"tenant_id"`
	Provider       string                `json:"provider"`
	Environment    providers.Environment `json:"environment"`
	Status         Status                `json:"status"`
	Identity       providers.Identity    `json:"identity,omitempty"`
	ConnectedSince *time.Time            `json:"connected_since,omitempty"`
	LastSyncedAt   *time.Time            `json:"last_synced_at,omitempty"`
	TokenExpiresAt *time.Time            `json:"token_expires_at,omitempty"`
	LastError      string                `json:"last_error,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
