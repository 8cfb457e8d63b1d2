package adminapi

import (
	"context"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"bookkeepingcpa/internal/override"
	"bookkeepingcpa/pkg/middleware"
)

// mustJWKS fetches JWKS and panics on failure.
func mustJWKS(url string) jwk.Set {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		panic(err)
	}
	return set
}

func (a *App) authConfig() middleware.AuthConfig {
	return middleware.AuthConfig{
		Issuer:    a.cfg.OIDCIssuer,
		Audience:  a.cfg.OIDCAudience,
		JWKSURL:   a.cfg.JWKSURL,
		Keys:      a.adminJWKS,
		ClockSkew: a.cfg.ClockSkew,
		Dev:       a.cfg.Dev,
	}
}

// staffOnly admits admin and staff callers; client roles never reach admin routes.
var staffOnly = middleware.RequireRole(override.RoleAdmin, override.RoleStaff)
