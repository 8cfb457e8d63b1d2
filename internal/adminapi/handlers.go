package adminapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookkeepingcpa/internal/connection"
	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/pkg/middleware"
	"bookkeepingcpa/pkg/problems"
	"bookkeepingcpa/pkg/respond"
	"bookkeepingcpa/pkg/tenants"
)

func (a *App) listTenants(w http.ResponseWriter, r *http.Request) {
	ts, err := a.tenants.ListTenants(r.Context())
	if err != nil {
		respond.Error(w, problems.Wrap(problems.Internal, err, ""))
		return
	}
	respond.OK(w, "", map[string]any{"items": ts})
}

// tenant resolves the {tenant} path parameter to a known tenant.
func (a *App) tenant(r *http.Request) (tenants.Tenant, error) {
	id := chi.URLParam(r, "tenant")
	t, err := a.tenants.ResolveTenantByID(r.Context(), id)
	if errors.Is(err, tenants.ErrNotFound) {
		return t, problems.Newf(problems.TenantNotFound, "client %q not found", id)
	}
	if err != nil {
		return t, problems.Wrap(problems.Internal, err, "")
	}
	return t, nil
}

func (a *App) listConnections(w http.ResponseWriter, r *http.Request) {
	t, err := a.tenant(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	out := []connection.View{}
	for _, env := range []providers.Environment{providers.Production, providers.Sandbox} {
		mgr, err := a.conns.For(env)
		if err != nil {
			continue
		}
		vs, err := mgr.List(r.Context(), t.ID)
		if err != nil {
			respond.Error(w, err)
			return
		}
		out = append(out, vs...)
	}
	respond.OK(w, "", map[string]any{"tenant": t, "items": out})
}

// offboardTenant removes every stored connection of the tenant in both environments.
func (a *App) offboardTenant(w http.ResponseWriter, r *http.Request) {
	t, err := a.tenant(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	removed := map[providers.Environment]int{}
	for _, env := range []providers.Environment{providers.Production, providers.Sandbox} {
		mgr, err := a.conns.For(env)
		if err != nil {
			continue
		}
		n, err := mgr.DisconnectTenant(r.Context(), t.ID)
		if err != nil {
			respond.Error(w, err)
			return
		}
		removed[env] = n
	}
	a.audit(r, "offboard", t.ID, "", "")
	respond.OK(w, "connections removed", map[string]any{"removed": removed})
}

func (a *App) pauseConnection(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, "pause", (*connection.Manager).Pause)
}

func (a *App) resumeConnection(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, "resume", (*connection.Manager).Resume)
}

type transitionFn = func(*connection.Manager, context.Context, connection.Key) (connection.View, error)

func (a *App) transition(w http.ResponseWriter, r *http.Request, action string, fn transitionFn) {
	t, err := a.tenant(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	env, err := providers.ParseEnvironment(chi.URLParam(r, "environment"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	mgr, err := a.conns.For(env)
	if err != nil {
		respond.Error(w, err)
		return
	}
	provider := chi.URLParam(r, "provider")
	v, err := fn(mgr, r.Context(), connection.Key{TenantID: t.ID, Provider: provider, Environment: env})
	if err != nil {
		respond.Error(w, err)
		return
	}
	a.audit(r, action, t.ID, provider, env)
	respond.OK(w, "", v)
}

func (a *App) getUsageSummary(w http.ResponseWriter, r *http.Request) {
	tid := r.URL.Query().Get("tenant_id")
	s, err := a.usage.Summary(r.Context(), tid)
	if err != nil {
		respond.Error(w, problems.Wrap(problems.Internal, err, ""))
		return
	}
	respond.OK(w, "", s)
}

func (a *App) audit(r *http.Request, action, tenantID, provider string, env providers.Environment) {
	c, _ := middleware.CallerFrom(r.Context())
	a.log.Infow("admin action", "action", action, "tenant_id", tenantID, "provider", provider, "environment", env,
		"actor_tenant_id", c.TenantID, "actor_role", c.Role, "actor_sub", c.Subject, "request_id", middleware.RequestIDFrom(r.Context()))
}
