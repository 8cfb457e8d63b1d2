package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookkeepingcpa/pkg/middleware"
)

const ServiceName = "admin-api-service"

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(a.log))
	r.Use(middleware.AccessLog(a.log))
	r.Use(middleware.Tracing(ServiceName))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(middleware.CORS(a.cfg.CORSOrigins))
		ar.Use(middleware.CallerAuth(a.authConfig()))
		ar.Use(staffOnly)
		ar.Get("/tenants", a.listTenants)
		ar.Get("/connections/{tenant}", a.listConnections)
		ar.Delete("/connections/{tenant}", a.offboardTenant)
		ar.Post("/connections/{tenant}/{provider}/{environment}/pause", a.pauseConnection)
		ar.Post("/connections/{tenant}/{provider}/{environment}/resume", a.resumeConnection)
		ar.Get("/usage/summary", a.getUsageSummary)
	})

	return r
}
