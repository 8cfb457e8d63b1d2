package authflow

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"bookkeepingcpa/internal/connection"
	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/internal/providers/providertest"
	"bookkeepingcpa/pkg/problems"
)

type denyAll struct{}

func (denyAll) Check(ctx context.Context, tenantID, provider string, env providers.Environment) error {
	return problems.New(problems.ProviderUnavailable, "not in plan")
}

type fixture struct {
	ctl    *Controller
	stub   *providertest.Stub
	states *MemoryStateStore
	prod   *connection.Manager
	sbx    *connection.Manager
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.stub = providertest.NewStub("amazon", providers.Production, providers.Sandbox)
	src := providertest.Of(f.stub, providertest.NewStub("shopify"))
	f.states = NewMemoryStateStore(clock)

	var err error
	f.prod, err = connection.NewManager(connection.Options{Environment: providers.Production, Store: connection.NewMemoryStore(), Adapters: src, Pending: f.states})
	require.NoError(t, err)
	f.sbx, err = connection.NewManager(connection.Options{Environment: providers.Sandbox, Store: connection.NewMemoryStore(), Adapters: src, Pending: f.states})
	require.NoError(t, err)

	f.ctl = NewController(Options{
		Adapters:    src,
		States:      f.states,
		Connections: connection.NewDirectory(f.prod, f.sbx),
		StateTTL:    10 * time.Minute,
		Now:         clock,
	})
	return f
}

func (f *fixture) begin(t *testing.T, tenant string, env providers.Environment) *BeginResult {
	t.Helper()
	res, err := f.ctl.Begin(context.Background(), BeginRequest{TenantID: tenant, Provider: "amazon", Environment: env})
	require.NoError(t, err)
	return res
}

func TestBeginIssuesUniqueStateAndShowsConnecting(t *testing.T) {
	f := newFixture(t)
	a := f.begin(t, "t-a", providers.Production)
	b := f.begin(t, "t-a", providers.Production)
	require.NotEqual(t, a.State, b.State)
	require.GreaterOrEqual(t, len(a.State), 43)
	require.Equal(t, f.now.Add(10*time.Minute), a.ExpiresAt)

	u, err := url.Parse(a.AuthorizationURL)
	require.NoError(t, err)
	require.Equal(t, a.State, u.Query().Get("state"))

	v, err := f.prod.GetStatus(context.Background(), connection.Key{TenantID: "t-a", Provider: "amazon", Environment: providers.Production})
	require.NoError(t, err)
	require.Equal(t, connection.StatusConnecting, v.Status)
}

func TestBeginFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctl.Begin(ctx, BeginRequest{TenantID: "t-a", Provider: "etsy", Environment: providers.Production})
	require.True(t, problems.Is(err, problems.ProviderUnavailable))

	_, err = f.ctl.Begin(ctx, BeginRequest{TenantID: "t-a", Provider: "shopify", Environment: providers.Sandbox})
	require.True(t, problems.Is(err, problems.ProviderUnavailable))

	_, err = f.ctl.Begin(ctx, BeginRequest{TenantID: "t-a", Provider: "amazon"})
	require.True(t, problems.Is(err, problems.InvalidRequest))

	f.ctl.ent = denyAll{}
	_, err = f.ctl.Begin(ctx, BeginRequest{TenantID: "t-a", Provider: "amazon", Environment: providers.Production})
	require.True(t, problems.Is(err, problems.ProviderUnavailable))
}

func TestCompleteCreatesConnection(t *testing.T) {
	f := newFixture(t)
	res := f.begin(t, "t-a", providers.Production)

	v, err := f.ctl.Complete(context.Background(), CallbackParams{
		Provider: "amazon", Code: "good-code", State: res.State,
		Extras: map[string]string{"selling_partner_id": "A1SELLER"},
	})
	require.NoError(t, err)
	require.Equal(t, connection.StatusConnected, v.Status)
	require.Equal(t, "A1SELLER", v.Identity["selling_partner_id"])
	require.NotNil(t, v.ConnectedSince)

	sbx, err := f.sbx.GetStatus(context.Background(), connection.Key{TenantID: "t-a", Provider: "amazon", Environment: providers.Sandbox})
	require.NoError(t, err)
	require.Equal(t, connection.StatusDisconnected, sbx.Status)
}

func TestCompleteReplayFails(t *testing.T) {
	f := newFixture(t)
	res := f.begin(t, "t-a", providers.Production)
	cb := CallbackParams{Provider: "amazon", Code: "good-code", State: res.State}

	_, err := f.ctl.Complete(context.Background(), cb)
	require.NoError(t, err)
	_, err = f.ctl.Complete(context.Background(), cb)
	require.True(t, problems.Is(err, problems.InvalidOrExpiredState))
	require.EqualValues(t, 1, f.stub.Exchanges.Load())
}

func TestCompleteConcurrentCallbacksRedeemOnce(t *testing.T) {
	f := newFixture(t)
	res := f.begin(t, "t-a", providers.Production)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ctl.Complete(context.Background(), CallbackParams{Provider: "amazon", Code: "good-code", State: res.State})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.True(t, problems.Is(err, problems.InvalidOrExpiredState))
	}
	require.Equal(t, 1, ok)
}

func TestCompleteExpiredOrForgedState(t *testing.T) {
	f := newFixture(t)
	res := f.begin(t, "t-a", providers.Production)
	f.now = f.now.Add(11 * time.Minute)

	_, err := f.ctl.Complete(context.Background(), CallbackParams{Provider: "amazon", Code: "good-code", State: res.State})
	require.True(t, problems.Is(err, problems.InvalidOrExpiredState))

	_, err = f.ctl.Complete(context.Background(), CallbackParams{Provider: "amazon", Code: "good-code", State: "forged"})
	require.True(t, problems.Is(err, problems.InvalidOrExpiredState))

	_, err = f.ctl.Complete(context.Background(), CallbackParams{Provider: "amazon", Code: "good-code"})
	require.True(t, problems.Is(err, problems.InvalidOrExpiredState))
	require.Zero(t, f.stub.Exchanges.Load())
}

func TestCompleteProviderMismatchIsInvalidState(t *testing.T) {
	f := newFixture(t)
	res := f.begin(t, "t-a", providers.Production)
	_, err := f.ctl.Complete(context.Background(), CallbackParams{Provider: "shopify", Code: "good-code", State: res.State})
	require.True(t, problems.Is(err, problems.InvalidOrExpiredState))
}

func TestCompleteDenied(t *testing.T) {
	f := newFixture(t)
	res := f.begin(t, "t-a", providers.Production)

	_, err := f.ctl.Complete(context.Background(), CallbackParams{Provider: "amazon", State: res.State, Error: "access_denied", ErrorDescription: "user said no"})
	require.True(t, problems.Is(err, problems.AuthorizationDenied))

	// The state was consumed by the denial.
	_, err = f.ctl.Complete(context.Background(), CallbackParams{Provider: "amazon", Code: "good-code", State: res.State})
	require.True(t, problems.Is(err, problems.InvalidOrExpiredState))
	require.Zero(t, f.stub.Exchanges.Load())
}

func TestCompleteExchangeFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	res := f.begin(t, "t-a", providers.Production)

	_, err := f.ctl.Complete(context.Background(), CallbackParams{Provider: "amazon", Code: "used-code", State: res.State})
	require.True(t, problems.Is(err, problems.TokenExchangeFailed))

	v, err := f.prod.GetStatus(context.Background(), connection.Key{TenantID: "t-a", Provider: "amazon", Environment: providers.Production})
	require.NoError(t, err)
	require.Equal(t, connection.StatusDisconnected, v.Status)
}

func TestCompleteIdentityRejectedIsExchangeFailure(t *testing.T) {
	f := newFixture(t)
	f.stub.IdentityFn = func(providers.Environment, providers.IdentityRequest) (providers.Identity, error) {
		return nil, problems.New(problems.Unauthorized, "")
	}
	res := f.begin(t, "t-a", providers.Production)

	_, err := f.ctl.Complete(context.Background(), CallbackParams{Provider: "amazon", Code: "good-code", State: res.State})
	require.True(t, problems.Is(err, problems.TokenExchangeFailed))

	all, err := f.prod.List(context.Background(), "t-a")
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestPKCEVerifierRoundTrips(t *testing.T) {
	f := newFixture(t)
	f.stub.Def.PKCE = true
	res := f.begin(t, "t-a", providers.Production)

	u, err := url.Parse(res.AuthorizationURL)
	require.NoError(t, err)
	challenge := u.Query().Get("code_challenge")
	require.NotEmpty(t, challenge)

	_, err = f.ctl.Complete(context.Background(), CallbackParams{Provider: "amazon", Code: "good-code", State: res.State})
	require.NoError(t, err)
	require.Equal(t, challenge, oauth2.S256ChallengeFromVerifier(f.stub.LastVerifier()))
}

func TestSandboxFlowUsesSandboxNamespace(t *testing.T) {
	f := newFixture(t)
	res := f.begin(t, "t-a", providers.Sandbox)
	_, err := f.ctl.Complete(context.Background(), CallbackParams{Provider: "amazon", Code: "good-code", State: res.State})
	require.NoError(t, err)

	prod, err := f.prod.List(context.Background(), "t-a")
	require.NoError(t, err)
	require.Empty(t, prod)
	sbx, err := f.sbx.List(context.Background(), "t-a")
	require.NoError(t, err)
	require.Len(t, sbx, 1)
}
