package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bookkeepingcpa/internal/gateway"
	"bookkeepingcpa/pkg/middleware"
	"bookkeepingcpa/pkg/problems"
	"bookkeepingcpa/pkg/respond"
)

// fetch proxies one provider read. Every query parameter except tenant_id is handed to the adapter.
func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
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
	params := map[string]string{}
	for k := range r.URL.Query() {
		if k != "tenant_id" {
			params[k] = r.URL.Query().Get(k)
		}
	}
	envl, err := s.Gateway.Fetch(r.Context(), gateway.Request{
		Operation:         chi.URLParam(r, "operation"),
		Provider:          chi.URLParam(r, "provider"),
		EffectiveTenantID: oc.EffectiveTenantID,
		Environment:       env,
		Params:            params,
		ActorRole:         oc.CallerRole,
		Overridden:        oc.Overridden,
		RequestID:         middleware.RequestIDFrom(r.Context()),
	})
	if err != nil {
		if envl.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(envl.RetryAfterSeconds))
		}
		respond.JSON(w, envl, problems.Status(problems.KindOf(err)))
		return
	}
	respond.JSON(w, envl, http.StatusOK)
}
