package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"bookkeepingcpa/internal/adminapi"
	"bookkeepingcpa/internal/bootstrap"
	"bookkeepingcpa/pkg/config"
	"bookkeepingcpa/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	infra, err := bootstrap.Build(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Fatalw("bootstrap", "err", err)
	}
	defer infra.Close()

	app := adminapi.New(log, infra.Connections, infra.Usage, infra.Tenants, adminapi.Config{
		OIDCIssuer:   env("ADMIN_OIDC_ISSUER", cfg.Issuer),
		OIDCAudience: env("ADMIN_OIDC_AUDIENCE", cfg.Audience),
		JWKSURL:      env("ADMIN_JWKS_URL", cfg.JWKSURL),
		ClockSkew:    cfg.ClockSkew,
		CORSOrigins:  cfg.AdminCORSOrigins,
		Dev:          cfg.Dev(),
	})

	log.Infof("admin-api listening at %s", cfg.AdminAddr)
	if err := http.ListenAndServe(cfg.AdminAddr, app.Handler()); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

func env(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
