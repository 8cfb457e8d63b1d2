// Package api is the HTTP surface of connection-service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookkeepingcpa/internal/authflow"
	"bookkeepingcpa/internal/connection"
	"bookkeepingcpa/internal/gateway"
	"bookkeepingcpa/internal/override"
	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/internal/sandbox"
	"bookkeepingcpa/pkg/logger"
	"bookkeepingcpa/pkg/middleware"
	"bookkeepingcpa/pkg/openapi"
)

const ServiceName = "connection-service"

// Catalog lists and resolves providers. *providers.Registry satisfies it.
type Catalog interface {
	connection.AdapterSource
	List() []providers.Definition
}

type Deps struct {
	Log         logger.Sugared
	Catalog     Catalog
	Flow        *authflow.Controller
	Connections *connection.Directory
	Sandbox     *sandbox.Layer
	Gateway     *gateway.Gateway
	Resolver    *override.Resolver
	Auth        middleware.AuthConfig
	CORSOrigins []string
	// Browser destinations after a provider callback. Empty: answer with the JSON envelope.
	CallbackSuccessURL string
	CallbackFailureURL string
}

type Server struct {
	Deps
	docs *openapi.Registry
}

func New(d Deps) *Server {
	d.Log = logger.OrNop(d.Log)
	s := &Server{Deps: d, docs: openapi.NewRegistry()}
	s.describe()
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(s.Log))
	r.Use(middleware.AccessLog(s.Log))
	r.Use(middleware.CORS(s.CORSOrigins))
	r.Use(middleware.Tracing(ServiceName))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/.well-known/openapi.json", s.docs.ServeHandler(ServiceName, "1.0.0"))

	// The provider redirects the user's browser here; the state token is the credential.
	r.Get("/v1/integrations/{provider}/callback", s.callback)
	r.Post("/v1/integrations/{provider}/callback", s.callback)

	r.Group(func(r chi.Router) {
		r.Use(middleware.CallerAuth(s.Auth))
		r.Get("/v1/integrations", s.listIntegrations)
		r.Post("/v1/integrations/{provider}/{environment}/authorize", s.authorize)
		r.Get("/v1/integrations/{provider}/{environment}/status", s.status)
		r.Delete("/v1/integrations/{provider}/{environment}", s.disconnect)

		r.Post("/v1/sandbox/{provider}/initialize", s.initializeSandbox)
		r.Get("/v1/sandbox/{provider}/status", s.sandboxStatus)
		r.Delete("/v1/sandbox", s.resetSandbox)

		r.Get("/v1/data/{provider}/{environment}/{operation}", s.fetch)
	})
	return r
}

func (s *Server) describe() {
	provider := openapi.PathParam("provider", "provider id")
	env := openapi.PathParam("environment", "target environment", string(providers.Production), string(providers.Sandbox))
	tenant := openapi.QueryParam("tenant_id", "act on another client (admin and staff only)")
	tags := []string{"integrations"}
	for _, op := range []openapi.Operation{
		{Method: "GET", Path: "/v1/integrations", OperationID: "listIntegrations", Summary: "Every provider with its connection status", Parameters: []openapi.Parameter{tenant}},
		{Method: "POST", Path: "/v1/integrations/{provider}/{environment}/authorize", OperationID: "beginAuthorization", Summary: "Start connecting a provider", Parameters: []openapi.Parameter{provider, env, tenant}},
		{Method: "GET", Path: "/v1/integrations/{provider}/callback", OperationID: "completeAuthorization", Summary: "Provider redirect target", Parameters: []openapi.Parameter{provider}, Public: true},
		{Method: "GET", Path: "/v1/integrations/{provider}/{environment}/status", OperationID: "getStatus", Summary: "Connection status", Parameters: []openapi.Parameter{provider, env, tenant}},
		{Method: "DELETE", Path: "/v1/integrations/{provider}/{environment}", OperationID: "disconnect", Summary: "Remove a connection and its tokens", Parameters: []openapi.Parameter{provider, env, tenant}},
		{Method: "POST", Path: "/v1/sandbox/{provider}/initialize", OperationID: "initializeSandbox", Summary: "Connect the sandbox account", Parameters: []openapi.Parameter{provider, tenant}},
		{Method: "GET", Path: "/v1/sandbox/{provider}/status", OperationID: "sandboxStatus", Summary: "Sandbox connection status", Parameters: []openapi.Parameter{provider, tenant}},
		{Method: "DELETE", Path: "/v1/sandbox", OperationID: "resetSandbox", Summary: "Remove every sandbox connection", Parameters: []openapi.Parameter{tenant}},
	} {
		op.Tags = tags
		s.docs.Register(op)
	}
	if s.Catalog == nil {
		return
	}
	for _, def := range s.Catalog.List() {
		for _, op := range def.Operations {
			s.docs.Register(openapi.Operation{
				Method:      "GET",
				Path:        "/v1/data/" + def.ID + "/{environment}/" + op.ID,
				OperationID: def.ID + "_" + op.ID,
				Summary:     op.Summary,
				Tags:        []string{def.ID},
				Parameters:  []openapi.Parameter{env, tenant, openapi.QueryParam("cursor", "opaque next-page token from a previous response")},
			})
		}
	}
}
