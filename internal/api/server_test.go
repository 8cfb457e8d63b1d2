package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bookkeepingcpa/internal/authflow"
	"bookkeepingcpa/internal/connection"
	"bookkeepingcpa/internal/gateway"
	"bookkeepingcpa/internal/override"
	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/internal/providers/providertest"
	"bookkeepingcpa/internal/sandbox"
	"bookkeepingcpa/internal/usage"
	"bookkeepingcpa/pkg/middleware"
	"bookkeepingcpa/pkg/problems"
	"bookkeepingcpa/pkg/respond"
	"bookkeepingcpa/pkg/tenants"
)

type fixture struct {
	srv   *httptest.Server
	api   *Server
	stub  *providertest.Stub
	prod  *connection.Manager
	sbx   *connection.Manager
	usage *usage.MemoryRecorder
}

func newFixture(t *testing.T, configure func(*Deps)) *fixture {
	t.Helper()
	stub := providertest.NewStub("amazon", providers.Production, providers.Sandbox)
	stub.Def.DisplayName = "Amazon Seller Central"
	stub.Def.Operations = []providers.Operation{{ID: "orders", Path: "/orders/v0/orders"}}
	stub.FetchFn = func(ctx context.Context, env providers.Environment, req providers.FetchRequest) (*providers.FetchResult, error) {
		return &providers.FetchResult{Data: map[string]any{"seller": req.Identity["selling_partner_id"], "next_cursor": req.Params["cursor"]}}, nil
	}
	src := providertest.Of(stub)
	states := authflow.NewMemoryStateStore(time.Now)

	prod, err := connection.NewManager(connection.Options{Environment: providers.Production, Store: connection.NewMemoryStore(), Adapters: src, Pending: states})
	require.NoError(t, err)
	sbx, err := connection.NewManager(connection.Options{Environment: providers.Sandbox, Store: connection.NewMemoryStore(), Adapters: src, Pending: states})
	require.NoError(t, err)
	dir := connection.NewDirectory(prod, sbx)

	layer, err := sandbox.NewLayer(sandbox.Options{Manager: sbx, Adapters: src, Defaults: func(string) (string, map[string]string) {
		return "rt-1", map[string]string{"selling_partner_id": "SBX"}
	}})
	require.NoError(t, err)

	tp := tenants.NewMemoryProvider(
		tenants.Tenant{ID: "t-a", Active: true},
		tenants.Tenant{ID: "t-b", Active: true},
		tenants.Tenant{ID: "staff-home", Active: true},
	)
	rec := usage.NewMemoryRecorder()
	d := Deps{
		Catalog:     src,
		Flow:        authflow.NewController(authflow.Options{Adapters: src, States: states, Connections: dir}),
		Connections: dir,
		Sandbox:     layer,
		Gateway:     gateway.New(gateway.Options{Adapters: src, Connections: dir, Usage: rec}),
		Resolver:    override.NewResolver(tp, nil),
		Auth:        middleware.AuthConfig{Dev: true},
	}
	if configure != nil {
		configure(&d)
	}
	a := New(d)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, api: a, stub: stub, prod: prod, sbx: sbx, usage: rec}
}

func (f *fixture) do(t *testing.T, method, path, tenant, role, body string) (*http.Response, respond.Envelope) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	if role != "" {
		req.Header.Set("X-Role", role)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var env respond.Envelope
	if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	}
	return res, env
}

func (f *fixture) connect(t *testing.T, m *connection.Manager, tenant string) {
	t.Helper()
	_, err := m.Connect(context.Background(), connection.Key{TenantID: tenant, Provider: "amazon", Environment: m.Environment()},
		&providers.Token{AccessToken: "at-1", RefreshToken: "rt-1", Expiry: time.Now().Add(time.Hour)},
		providers.Identity{"selling_partner_id": "SP-" + tenant})
	require.NoError(t, err)
}

func dataOf(t *testing.T, env respond.Envelope) map[string]any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	require.True(t, ok, "data is %T", env.Data)
	return m
}

func TestAuthorizeAndCallbackConnect(t *testing.T) {
	f := newFixture(t, nil)

	res, env := f.do(t, "POST", "/v1/integrations/amazon/production/authorize", "t-a", "client", `{"params":{"region":"na"}}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, env.Success)
	state := dataOf(t, env)["state"].(string)
	require.Contains(t, dataOf(t, env)["authorization_url"], "state="+url.QueryEscape(state))

	_, env = f.do(t, "GET", "/v1/integrations/amazon/production/status", "t-a", "client", "")
	require.Equal(t, "connecting", dataOf(t, env)["status"])

	q := url.Values{"state": {state}, "spapi_oauth_code": {"good-code"}, "selling_partner_id": {"A1B2"}}
	res, env = f.do(t, "GET", "/v1/integrations/amazon/callback?"+q.Encode(), "", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "connected", dataOf(t, env)["status"])
	require.Equal(t, "A1B2", dataOf(t, env)["identity"].(map[string]any)["selling_partner_id"])

	// single use
	res, env = f.do(t, "GET", "/v1/integrations/amazon/callback?"+q.Encode(), "", "", "")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, problems.InvalidOrExpiredState, env.Error)

	v, err := f.prod.GetStatus(context.Background(), connection.Key{TenantID: "t-a", Provider: "amazon", Environment: providers.Production})
	require.NoError(t, err)
	require.Equal(t, connection.StatusConnected, v.Status)
}

func TestCallbackRedirects(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.CallbackSuccessURL = "https://app.example.com/integrations?tab=done"
		d.CallbackFailureURL = "https://app.example.com/integrations/failed"
	})

	res, env := f.do(t, "POST", "/v1/integrations/amazon/sandbox/authorize", "t-a", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	state := dataOf(t, env)["state"].(string)

	res, _ = f.do(t, "GET", "/v1/integrations/amazon/callback?code=good-code&state="+url.QueryEscape(state), "", "", "")
	require.Equal(t, http.StatusFound, res.StatusCode)
	loc, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/integrations", loc.Path)
	require.Equal(t, "done", loc.Query().Get("tab"))
	require.Equal(t, "sandbox", loc.Query().Get("environment"))
	require.Equal(t, "connected", loc.Query().Get("status"))

	res, _ = f.do(t, "GET", "/v1/integrations/amazon/callback?error=access_denied&state=whatever", "", "", "")
	require.Equal(t, http.StatusFound, res.StatusCode)
	loc, err = url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/integrations/failed", loc.Path)
	require.Equal(t, string(problems.AuthorizationDenied), loc.Query().Get("error"))
}

func TestStaffOverrideActsOnRequestedTenant(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t, f.prod, "t-b")

	res, env := f.do(t, "GET", "/v1/data/amazon/production/orders?tenant_id=t-b&cursor=abc%3D%3D", "staff-home", "staff", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, env.Success)
	require.Equal(t, "SP-t-b", dataOf(t, env)["seller"])
	require.Equal(t, "abc==", dataOf(t, env)["next_cursor"])
	_, sent := f.stub.LastFetch().Params["tenant_id"]
	require.False(t, sent, "tenant_id is consumed by the override resolver")

	s, err := f.usage.Summary(context.Background(), "t-b")
	require.NoError(t, err)
	require.Equal(t, 1, s.Totals.Count)
}

func TestClientOverrideForbidden(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t, f.prod, "t-b")

	res, env := f.do(t, "GET", "/v1/data/amazon/production/orders?tenant_id=t-b", "t-a", "client", "")
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	require.False(t, env.Success)
	require.Equal(t, problems.Forbidden, env.Error)
	require.Zero(t, f.stub.Fetches.Load())

	res, _ = f.do(t, "DELETE", "/v1/integrations/amazon/production?tenant_id=t-b", "t-a", "client", "")
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	v, err := f.prod.GetStatus(context.Background(), connection.Key{TenantID: "t-b", Provider: "amazon", Environment: providers.Production})
	require.NoError(t, err)
	require.Equal(t, connection.StatusConnected, v.Status)
}

func TestEnvironmentIsRequired(t *testing.T) {
	f := newFixture(t, nil)
	res, env := f.do(t, "GET", "/v1/integrations/amazon/staging/status", "t-a", "", "")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, problems.InvalidRequest, env.Error)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t, f.prod, "t-a")
	f.connect(t, f.sbx, "t-a")

	for i := 0; i < 2; i++ {
		res, env := f.do(t, "DELETE", "/v1/integrations/amazon/production", "t-a", "", "")
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.True(t, env.Success)
	}
	_, env := f.do(t, "GET", "/v1/integrations/amazon/production/status", "t-a", "", "")
	require.Equal(t, "disconnected", dataOf(t, env)["status"])
	_, env = f.do(t, "GET", "/v1/integrations/amazon/sandbox/status", "t-a", "", "")
	require.Equal(t, "connected", dataOf(t, env)["status"], "sandbox is untouched")
}

func TestListIntegrations(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t, f.sbx, "t-a")

	res, env := f.do(t, "GET", "/v1/integrations", "t-a", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	items := dataOf(t, env)["integrations"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	require.Equal(t, "Amazon Seller Central", item["display_name"])
	envs := item["environments"].([]any)
	require.Len(t, envs, 2)
	require.Equal(t, "disconnected", envs[0].(map[string]any)["status"])
	require.Equal(t, "connected", envs[1].(map[string]any)["status"])
}

func TestSandboxLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	res, env := f.do(t, "POST", "/v1/sandbox/amazon/initialize", "t-a", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode, env.Message)
	require.Equal(t, "sandbox", dataOf(t, env)["environment"])

	_, env = f.do(t, "GET", "/v1/sandbox/amazon/status", "t-a", "", "")
	require.Equal(t, "connected", dataOf(t, env)["status"])

	res, env = f.do(t, "GET", "/v1/data/amazon/sandbox/orders", "t-a", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "SBX", dataOf(t, env)["seller"])

	_, env = f.do(t, "GET", "/v1/integrations/amazon/production/status", "t-a", "", "")
	require.Equal(t, "disconnected", dataOf(t, env)["status"], "production is untouched")

	_, env = f.do(t, "DELETE", "/v1/sandbox", "t-a", "", "")
	require.Equal(t, float64(1), dataOf(t, env)["removed"])
	_, env = f.do(t, "GET", "/v1/sandbox/amazon/status", "t-a", "", "")
	require.Equal(t, "disconnected", dataOf(t, env)["status"])
}

func TestUnauthenticatedAndPublicRoutes(t *testing.T) {
	f := newFixture(t, nil)
	res, env := f.do(t, "GET", "/v1/integrations", "", "", "")
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, problems.Unauthenticated, env.Error)

	res, _ = f.do(t, "GET", "/healthz", "", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	resp, err := http.Get(f.srv.URL + "/.well-known/openapi.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	paths := doc["paths"].(map[string]any)
	require.Contains(t, paths, "/v1/data/amazon/{environment}/orders")
	require.Contains(t, paths, "/v1/integrations/{provider}/callback")
}
