package adminapi

import (
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"bookkeepingcpa/internal/connection"
	"bookkeepingcpa/internal/usage"
	"bookkeepingcpa/pkg/logger"
	"bookkeepingcpa/pkg/tenants"
)

// Config holds admin-api specific configuration.
type Config struct {
	OIDCIssuer   string
	OIDCAudience string
	JWKSURL      string
	ClockSkew    time.Duration
	CORSOrigins  []string
	// Dev accepts X-Tenant-ID / X-Role headers instead of a bearer token.
	Dev bool
}

// App is the admin-api application container.
// Handlers and middleware have methods on this type.
//
// Keep it lean: shared deps and config only.
// Request-scoped work should use context.
type App struct {
	log       logger.Sugared
	conns     *connection.Directory
	usage     usage.Recorder
	tenants   tenants.Provider
	adminJWKS jwk.Set
	cfg       Config
}

// New constructs App. The JWKS is fetched once at startup when configured.
func New(log logger.Sugared, conns *connection.Directory, rec usage.Recorder, tp tenants.Provider, cfg Config) *App {
	app := &App{
		log:     logger.OrNop(log),
		conns:   conns,
		usage:   rec,
		tenants: tp,
		cfg:     cfg,
	}
	if cfg.JWKSURL != "" && !cfg.Dev {
		app.adminJWKS = mustJWKS(cfg.JWKSURL)
	}
	return app
}
