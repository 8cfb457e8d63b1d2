package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"bookkeepingcpa/internal/authflow"
	"bookkeepingcpa/internal/connection"
	"bookkeepingcpa/internal/override"
	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/pkg/middleware"
	"bookkeepingcpa/pkg/problems"
	"bookkeepingcpa/pkg/respond"
)

// resolve turns the authenticated caller and the optional tenant_id query into the tenant to act on.
func (s *Server) resolve(r *http.Request) (override.Context, error) {
	c, ok := middleware.CallerFrom(r.Context())
	if !ok {
		return override.Context{}, problems.New(problems.Unauthenticated, "")
	}
	return s.Resolver.Resolve(r.Context(), override.Request{
		CallerTenantID:    c.TenantID,
		CallerRole:        c.Role,
		CallerSubject:     c.Subject,
		RequestedTenantID: r.URL.Query().Get("tenant_id"),
	})
}

func pathEnvironment(r *http.Request) (providers.Environment, error) {
	return providers.ParseEnvironment(chi.URLParam(r, "environment"))
}

// decodeOptional reads a JSON body into v. An empty body is not an error.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return problems.Wrap(problems.InvalidRequest, err, "request body is not valid JSON")
}

type integrationStatus struct {
	Provider     string            `json:"provider"`
	DisplayName  string            `json:"display_name"`
	Category     string            `json:"category"`
	Environments []connection.View `json:"environments"`
}

func (s *Server) listIntegrations(w http.ResponseWriter, r *http.Request) {
	oc, err := s.resolve(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	out := []integrationStatus{}
	for _, def := range s.Catalog.List() {
		item := integrationStatus{Provider: def.ID, DisplayName: def.DisplayName, Category: def.Category, Environments: []connection.View{}}
		for _, env := range []providers.Environment{providers.Production, providers.Sandbox} {
			if _, ok := def.Endpoints(env); !ok {
				continue
			}
			mgr, err := s.Connections.For(env)
			if err != nil {
				continue
			}
			v, err := mgr.GetStatus(r.Context(), connection.Key{TenantID: oc.EffectiveTenantID, Provider: def.ID, Environment: env})
			if err != nil {
				respond.Error(w, err)
				return
			}
			item.Environments = append(item.Environments, v)
		}
		out = append(out, item)
	}
	respond.OK(w, "", map[string]any{"tenant": oc, "integrations": out})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	oc, err := s.resolve(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	env, err := pathEnvironment(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	var body struct {
		Params map[string]string `json:"params"`
	}
	if err := decodeOptional(r, &body); err != nil {
		respond.Error(w, err)
		return
	}
	res, err := s.Flow.Begin(r.Context(), authflow.BeginRequest{
		TenantID:    oc.EffectiveTenantID,
		Provider:    chi.URLParam(r, "provider"),
		Environment: env,
		Params:      body.Params,
	})
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w, "redirect the user to authorization_url", res)
}

var callbackReserved = map[string]bool{
	"code": true, "spapi_oauth_code": true, "state": true, "error": true, "error_description": true,
}

func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.callbackDone(w, r, connection.View{}, problems.Wrap(problems.InvalidRequest, err, ""))
		return
	}
	f := r.Form
	cb := authflow.CallbackParams{
		Provider:         chi.URLParam(r, "provider"),
		Code:             f.Get("code"),
		State:            f.Get("state"),
		Error:            f.Get("error"),
		ErrorDescription: f.Get("error_description"),
		Extras:           map[string]string{},
	}
	// Amazon SP-API names its code differently.
	if cb.Code == "" {
		cb.Code = f.Get("spapi_oauth_code")
	}
	for k := range f {
		if !callbackReserved[k] {
			cb.Extras[k] = f.Get(k)
		}
	}
	view, err := s.Flow.Complete(r.Context(), cb)
	s.callbackDone(w, r, view, err)
}

func (s *Server) callbackDone(w http.ResponseWriter, r *http.Request, view connection.View, err error) {
	target := s.CallbackSuccessURL
	if err != nil {
		target = s.CallbackFailureURL
	}
	if target == "" {
		if err != nil {
			respond.Error(w, err)
			return
		}
		respond.OK(w, "connected", view)
		return
	}
	u, perr := url.Parse(target)
	if perr != nil {
		s.Log.Errorw("bad callback redirect url", "url", target, "err", perr)
		respond.Error(w, problems.Wrap(problems.Internal, perr, ""))
		return
	}
	q := u.Query()
	q.Set("provider", chi.URLParam(r, "provider"))
	if err != nil {
		q.Set("error", string(problems.KindOf(err)))
		q.Set("message", problems.Message(err))
	} else {
		q.Set("environment", string(view.Environment))
		q.Set("status", string(view.Status))
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	oc, err := s.resolve(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	env, err := pathEnvironment(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	mgr, err := s.Connections.For(env)
	if err != nil {
		respond.Error(w, err)
		return
	}
	provider := chi.URLParam(r, "provider")
	if _, err := s.Catalog.Adapter(provider); err != nil {
		respond.Error(w, err)
		return
	}
	v, err := mgr.GetStatus(r.Context(), connection.Key{TenantID: oc.EffectiveTenantID, Provider: provider, Environment: env})
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w, "", v)
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	oc, err := s.resolve(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	env, err := pathEnvironment(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	mgr, err := s.Connections.For(env)
	if err != nil {
		respond.Error(w, err)
		return
	}
	provider := chi.URLParam(r, "provider")
	if err := mgr.Disconnect(r.Context(), connection.Key{TenantID: oc.EffectiveTenantID, Provider: provider, Environment: env}); err != nil {
		respond.Error(w, err)
		return
	}
	s.Log.Infow("disconnected", "tenant_id", oc.EffectiveTenantID, "provider", provider, "environment", env, "overridden", oc.Overridden)
	respond.OK(w, "disconnected", nil)
}
