package authflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"bookkeepingcpa/internal/providers"
)

var ErrStateNotFound = errors.New("authorization state not found")

// AuthorizationRequest is the pending half of an authorization flow, keyed by its state token.
type AuthorizationRequest struct {
	State       string                `json:"state"`
	TenantID    string                `json:"tenant_id"`
	Provider    string                `json:"provider"`
	Environment providers.Environment `json:"environment"`
	Verifier    string                `json:"verifier,omitempty"`
	Params      map[string]string     `json:"params,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	ExpiresAt   time.Time             `json:"expires_at"`
}

func (r *AuthorizationRequest) pendingKey() string {
	return pendingKey(r.TenantID, r.Provider, r.Environment)
}

func pendingKey(tenantID, provider string, env providers.Environment) string {
	return tenantID + "|" + provider + "|" + string(env)
}

// newState returns 256 bits of randomness, URL safe.
func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StateStore holds AuthorizationRequests until their callback or TTL.
// Consume must delete-if-present atomically so a state can be redeemed once.
type StateStore interface {
	Save(ctx context.Context, req *AuthorizationRequest) error
	Consume(ctx context.Context, state string) (*AuthorizationRequest, error)
	HasPending(ctx context.Context, tenantID, provider string, env providers.Environment) (bool, error)
}

// MemoryStateStore is process-local; expired entries are dropped lazily on Save.
type MemoryStateStore struct {
	mu      sync.Mutex
	byState map[string]*AuthorizationRequest
	now     func() time.Time
}

func NewMemoryStateStore(now func() time.Time) *MemoryStateStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStateStore{byState: map[string]*AuthorizationRequest{}, now: now}
}

func (s *MemoryStateStore) Save(ctx context.Context, req *AuthorizationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	cp := *req
	s.byState[req.State] = &cp
	return nil
}

func (s *MemoryStateStore) Consume(ctx context.Context, state string) (*AuthorizationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.byState[state]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(s.byState, state)
	if !s.now().Before(req.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	return req, nil
}

func (s *MemoryStateStore) HasPending(ctx context.Context, tenantID, provider string, env providers.Environment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := pendingKey(tenantID, provider, env)
	now := s.now()
	for _, r := range s.byState {
		if r.pendingKey() == want && now.Before(r.ExpiresAt) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStateStore) sweepLocked() {
	now := s.now()
	for k, r := range s.byState {
		if !now.Before(r.ExpiresAt) {
			delete(s.byState, k)
		}
	}
}
