package connection

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/pkg/logger"
	"bookkeepingcpa/pkg/metrics"
	"bookkeepingcpa/pkg/problems"
)

// AdapterSource resolves the provider adapter used for refreshes. *providers.Registry satisfies it.
type AdapterSource interface {
	Adapter(id string) (providers.Adapter, error)
}

// PendingAuthorizations reports whether an authorization flow is in flight for a key,
// which is how GetStatus tells "connecting" apart from "disconnected".
type PendingAuthorizations interface {
	HasPending(ctx context.Context, tenantID, provider string, env providers.Environment) (bool, error)
}

type Options struct {
	Environment    providers.Environment
	Store          Store
	Adapters       AdapterSource
	Locker         Locker // nil: in-process only
	Pending        PendingAuthorizations
	ExpirySkew     time.Duration
	LockTTL        time.Duration
	RefreshTimeout time.Duration
	Now            func() time.Time
	Log            logger.Sugared
}

// Manager owns the connections of one environment. It is the only reader of raw tokens.
type Manager struct {
	env      providers.Environment
	store    Store
	adapters AdapterSource
	locker   Locker
	pending  PendingAuthorizations
	skew     time.Duration
	lockTTL  time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      logger.Sugared
	group    singleflight.Group
}

func NewManager(opts Options) (*Manager, error) {
	if !opts.Environment.Valid() {
		return nil, problems.Newf(problems.InvalidRequest, "unknown environment %q", opts.Environment)
	}
	if opts.Store == nil || opts.Adapters == nil {
		return nil, errors.New("connection: store and adapters are required")
	}
	m := &Manager{
		env:      opts.Environment,
		store:    opts.Store,
		adapters: opts.Adapters,
		locker:   opts.Locker,
		pending:  opts.Pending,
		skew:     opts.ExpirySkew,
		lockTTL:  opts.LockTTL,
		timeout:  opts.RefreshTimeout,
		now:      opts.Now,
		log:      logger.OrNop(opts.Log),
	}
	if m.locker == nil {
		m.locker = nopLocker{}
	}
	if m.lockTTL <= 0 {
		m.lockTTL = 30 * time.Second
	}
	if m.timeout <= 0 {
		m.timeout = 15 * time.Second
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

func (m *Manager) Environment() providers.Environment { return m.env }

func (m *Manager) check(key Key) error {
	if key.TenantID == "" || key.Provider == "" {
		return problems.New(problems.InvalidRequest, "tenant and provider are required")
	}
	if key.Environment != m.env {
		return problems.Newf(problems.InvalidRequest, "%s connections are not managed here", key.Environment)
	}
	return nil
}

func (m *Manager) get(ctx context.Context, key Key) (*Connection, error) {
	c, err := m.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, problems.New(problems.NotConnected, "")
	}
	if err != nil {
		return nil, problems.Wrap(problems.Internal, err, "")
	}
	return c, nil
}

// expired reports whether the access token is at or within the skew of its expiry.
func (m *Manager) expired(c *Connection) bool {
	return !c.TokenExpiresAt.IsZero() && !m.now().Before(c.TokenExpiresAt.Add(-m.skew))
}

func (m *Manager) status(c *Connection) Status {
	switch c.State {
	case StatePaused:
		return StatusPaused
	case StateError:
		return StatusError
	case StateTokenExpired:
		return StatusTokenExpired
	}
	if m.expired(c) {
		return StatusTokenExpired
	}
	return StatusConnected
}

func (m *Manager) view(c *Connection) View {
	return View{
		TenantID:       c.TenantID,
		Provider:       c.Provider,
		Environment:    c.Environment,
		Status:         m.status(c),
		Identity:       c.Identity.Clone(),
		ConnectedSince: timePtr(c.ConnectedSince),
		LastSyncedAt:   timePtr(c.LastSyncedAt),
		TokenExpiresAt: timePtr(c.TokenExpiresAt),
		LastError:      c.LastError,
	}
}

// GetStatus is a pure read: it never contacts the provider.
func (m *Manager) GetStatus(ctx context.Context, key Key) (View, error) {
	if err := m.check(key); err != nil {
		return View{}, err
	}
	c, err := m.store.Get(ctx, key)
	if err == nil {
		return m.view(c), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return View{}, problems.Wrap(problems.Internal, err, "")
	}
	v := View{TenantID: key.TenantID, Provider: key.Provider, Environment: key.Environment, Status: StatusDisconnected}
	if m.pending != nil {
		ok, perr := m.pending.HasPending(ctx, key.TenantID, key.Provider, key.Environment)
		if perr != nil {
			m.log.Warnw("pending authorization lookup failed", "key", key.String(), "err", perr)
		}
		if ok {
			v.Status = StatusConnecting
		}
	}
	return v, nil
}

// List returns the views of every connection the tenant has in this environment.
func (m *Manager) List(ctx context.Context, tenantID string) ([]View, error) {
	cs, err := m.store.List(ctx, tenantID)
	if err != nil {
		return nil, problems.Wrap(problems.Internal, err, "")
	}
	out := make([]View, 0, len(cs))
	for _, c := range cs {
		out = append(out, m.view(c))
	}
	return out, nil
}

func tokenOf(c *Connection) *Token {
	return &Token{AccessToken: c.AccessToken, ExpiresAt: c.TokenExpiresAt, Identity: c.Identity.Clone()}
}

// EnsureValidToken returns a usable access token, refreshing it at most once per key
// no matter how many callers observe the expiry at the same time.
func (m *Manager) EnsureValidToken(ctx context.Context, key Key) (*Token, error) {
	if err := m.check(key); err != nil {
		return nil, err
	}
	c, err := m.get(ctx, key)
	if err != nil {
		return nil, err
	}
	switch c.State {
	case StatePaused:
		return nil, problems.New(problems.ConnectionPaused, "")
	case StateError:
		return nil, problems.New(problems.ReauthorizationRequired, "")
	case StateConnected:
		if !m.expired(c) {
			return tokenOf(c), nil
		}
	}

	ch := m.group.DoChan(key.String(), func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout+m.lockTTL)
		defer cancel()
		return m.refresh(rctx, key)
	})
	select {
	case <-ctx.Done():
		return nil, problems.Wrap(problems.UpstreamTimeout, ctx.Err(), "")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	}
}

func (m *Manager) refresh(ctx context.Context, key Key) (*Token, error) {
	release, err := m.locker.Acquire(ctx, key.String(), m.lockTTL)
	if err != nil {
		return nil, problems.Wrap(problems.UpstreamTimeout, err, "")
	}
	defer release()

	// Another instance may have refreshed while we waited for the lock.
	c, err := m.get(ctx, key)
	if err != nil {
		return nil, err
	}
	switch c.State {
	case StatePaused:
		return nil, problems.New(problems.ConnectionPaused, "")
	case StateError:
		return nil, problems.New(problems.ReauthorizationRequired, "")
	case StateConnected:
		if !m.expired(c) {
			return tokenOf(c), nil
		}
	}
	if c.RefreshToken == "" {
		return nil, m.fail(ctx, c, problems.New(problems.ReauthorizationRequired, "the provider did not issue a refresh token"))
	}

	adapter, err := m.adapters.Adapter(key.Provider)
	if err != nil {
		return nil, err
	}
	fctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	fresh, err := adapter.Refresh(fctx, key.Environment, providers.RefreshRequest{RefreshToken: c.RefreshToken, Identity: c.Identity})
	if err != nil {
		kind := problems.KindOf(err)
		metrics.TokenRefreshes.WithLabelValues(key.Provider, string(key.Environment), metrics.Outcome(string(kind))).Inc()
		if kind == problems.ReauthorizationRequired {
			return nil, m.fail(ctx, c, err)
		}
		// Transient: leave the record as it is so the next call retries.
		m.log.Warnw("token refresh failed", "key", key.String(), "kind", kind, "err", err)
		return nil, err
	}

	id := c.ID
	updated, err := m.store.Update(ctx, key, func(cur *Connection) error {
		if cur.ID != id {
			return errSuperseded
		}
		cur.AccessToken = fresh.AccessToken
		if fresh.RefreshToken != "" {
			cur.RefreshToken = fresh.RefreshToken
		}
		cur.TokenExpiresAt = fresh.Expiry
		cur.State = StateConnected
		cur.LastError = ""
		cur.UpdatedAt = m.now()
		return nil
	})
	if errors.Is(err, errSuperseded) || errors.Is(err, ErrNotFound) {
		// Reconnected or disconnected mid-refresh; the refreshed token belongs to a dead record.
		return nil, problems.New(problems.ReauthorizationRequired, "the connection changed while refreshing, try again")
	}
	if err != nil {
		return nil, problems.Wrap(problems.Internal, err, "")
	}
	metrics.TokenRefreshes.WithLabelValues(key.Provider, string(key.Environment), "ok").Inc()
	metrics.StateTransitions.WithLabelValues(key.Provider, string(key.Environment), string(StateConnected)).Inc()
	m.log.Infow("token refreshed", "key", key.String(), "expires_at", fresh.Expiry)
	return tokenOf(updated), nil
}

var errSuperseded = errors.New("connection superseded")

// fail moves the connection to error and returns a ReauthorizationRequired carrying cause.
func (m *Manager) fail(ctx context.Context, c *Connection, cause error) error {
	id := c.ID
	_, err := m.store.Update(ctx, c.Key(), func(cur *Connection) error {
		if cur.ID != id {
			return errSuperseded
		}
		cur.State = StateError
		cur.LastError = problems.Message(cause)
		cur.UpdatedAt = m.now()
		return nil
	})
	if err != nil && !errors.Is(err, errSuperseded) && !errors.Is(err, ErrNotFound) {
		m.log.Errorw("could not record refresh failure", "key", c.Key().String(), "err", err)
	} else if err == nil {
		metrics.StateTransitions.WithLabelValues(c.Provider, string(c.Environment), string(StateError)).Inc()
	}
	m.log.Warnw("connection requires reauthorization", "key", c.Key().String(), "err", cause)
	if problems.Is(cause, problems.ReauthorizationRequired) {
		return cause
	}
	return problems.Wrap(problems.ReauthorizationRequired, cause, "")
}

// Connect stores a fresh connection, superseding whatever was there for the key.
func (m *Manager) Connect(ctx context.Context, key Key, tok *providers.Token, identity providers.Identity) (View, error) {
	if err := m.check(key); err != nil {
		return View{}, err
	}
	if tok == nil || tok.AccessToken == "" {
		return View{}, problems.New(problems.TokenExchangeFailed, "the provider returned no access token")
	}
	now := m.now()
	c := &Connection{
		ID:             uuid.NewString(),
		TenantID:       key.TenantID,
		Provider:       key.Provider,
		Environment:    key.Environment,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		TokenExpiresAt: tok.Expiry,
		Identity:       identity.Clone(),
		State:          StateConnected,
		ConnectedSince: now,
		UpdatedAt:      now,
	}
	if err := m.store.Put(ctx, c); err != nil {
		return View{}, problems.Wrap(problems.Internal, err, "")
	}
	metrics.StateTransitions.WithLabelValues(key.Provider, string(key.Environment), string(StateConnected)).Inc()
	m.log.Infow("connection established", "key", key.String(), "connection_id", c.ID)
	return m.view(c), nil
}

// Disconnect wipes the stored tokens. It never contacts the provider and succeeds when nothing is stored.
func (m *Manager) Disconnect(ctx context.Context, key Key) error {
	if err := m.check(key); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, key); err != nil {
		return problems.Wrap(problems.Internal, err, "")
	}
	metrics.StateTransitions.WithLabelValues(key.Provider, string(key.Environment), string(StatusDisconnected)).Inc()
	m.log.Infow("connection removed", "key", key.String())
	return nil
}

// DisconnectTenant removes every connection the tenant has in this environment.
func (m *Manager) DisconnectTenant(ctx context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, problems.New(problems.InvalidRequest, "tenant is required")
	}
	n, err := m.store.DeleteTenant(ctx, tenantID)
	if err != nil {
		return 0, problems.Wrap(problems.Internal, err, "")
	}
	m.log.Infow("tenant connections removed", "tenant_id", tenantID, "environment", m.env, "count", n)
	return n, nil
}

func (m *Manager) transition(ctx context.Context, key Key, fn func(c *Connection) bool) (View, error) {
	if err := m.check(key); err != nil {
		return View{}, err
	}
	changed := false
	c, err := m.store.Update(ctx, key, func(c *Connection) error {
		changed = fn(c)
		if changed {
			c.UpdatedAt = m.now()
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return View{}, problems.New(problems.NotConnected, "")
	}
	if err != nil {
		return View{}, problems.Wrap(problems.Internal, err, "")
	}
	if changed {
		metrics.StateTransitions.WithLabelValues(key.Provider, string(key.Environment), string(c.State)).Inc()
		m.log.Infow("connection state changed", "key", key.String(), "state", c.State)
	}
	return m.view(c), nil
}

// Pause blocks data calls while keeping credentials. Only connected or token_expired
// connections move; paused and error connections are returned unchanged.
func (m *Manager) Pause(ctx context.Context, key Key) (View, error) {
	return m.transition(ctx, key, func(c *Connection) bool {
		if c.State != StateConnected && c.State != StateTokenExpired {
			return false
		}
		c.State = StatePaused
		return true
	})
}

// Resume returns a paused connection to connected. Expiry is re-derived on the next read.
func (m *Manager) Resume(ctx context.Context, key Key) (View, error) {
	return m.transition(ctx, key, func(c *Connection) bool {
		if c.State != StatePaused {
			return false
		}
		c.State = StateConnected
		return true
	})
}

// MarkTokenExpired forces the next EnsureValidToken to refresh. Used when the provider
// rejects a token that looked valid.
func (m *Manager) MarkTokenExpired(ctx context.Context, key Key) error {
	_, err := m.transition(ctx, key, func(c *Connection) bool {
		if c.State != StateConnected {
			return false
		}
		c.State = StateTokenExpired
		return true
	})
	return err
}

// RecordSync stamps the last successful data call.
func (m *Manager) RecordSync(ctx context.Context, key Key) error {
	if err := m.check(key); err != nil {
		return err
	}
	_, err := m.store.Update(ctx, key, func(c *Connection) error {
		c.LastSyncedAt = m.now()
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return problems.Wrap(problems.Internal, err, "")
	}
	return nil
}
