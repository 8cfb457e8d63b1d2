// cmd/connection-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookkeepingcpa/internal/api"
	"bookkeepingcpa/internal/authflow"
	"bookkeepingcpa/internal/bootstrap"
	"bookkeepingcpa/internal/entitlement"
	"bookkeepingcpa/internal/gateway"
	"bookkeepingcpa/internal/override"
	"bookkeepingcpa/internal/sandbox"
	"bookkeepingcpa/pkg/config"
	"bookkeepingcpa/pkg/logger"
	"bookkeepingcpa/pkg/middleware"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	infra, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Fatalw("bootstrap", "err", err)
	}
	policy, err := entitlement.LoadPolicy(ctx, cfg.EntitlementPolicyFile)
	cancel()
	if err != nil {
		log.Fatalw("entitlement policy", "err", err)
	}
	defer infra.Close()

	flow := authflow.NewController(authflow.Options{
		Adapters:     infra.Registry,
		States:       infra.States,
		Connections:  infra.Connections,
		Entitlements: entitlement.NewChecker(policy, infra.Tenants, infra.Registry, log),
		StateTTL:     cfg.AuthStateTTL,
		Timeout:      cfg.ProviderTimeout,
		Log:          log,
	})
	layer, err := sandbox.NewLayer(sandbox.Options{
		Manager:  infra.Sandbox,
		Adapters: infra.Registry,
		Defaults: func(provider string) (string, map[string]string) {
			return cfg.SandboxRefreshToken(provider), cfg.SandboxIdentity(provider)
		},
		Timeout: cfg.ProviderTimeout,
		Log:     log,
	})
	if err != nil {
		log.Fatalw("sandbox layer", "err", err)
	}

	server := api.New(api.Deps{
		Log:         log,
		Catalog:     infra.Registry,
		Flow:        flow,
		Connections: infra.Connections,
		Sandbox:     layer,
		Gateway: gateway.New(gateway.Options{
			Adapters:    infra.Registry,
			Connections: infra.Connections,
			Usage:       infra.Usage,
			Timeout:     cfg.ProviderTimeout,
			Log:         log,
		}),
		Resolver: override.NewResolver(infra.Tenants, log),
		Auth: middleware.AuthConfig{
			Issuer:    cfg.Issuer,
			Audience:  cfg.Audience,
			JWKSURL:   cfg.JWKSURL,
			ClockSkew: cfg.ClockSkew,
			Dev:       cfg.Dev(),
		},
		CORSOrigins:        cfg.CORSOrigins,
		CallbackSuccessURL: cfg.CallbackSuccessURL,
		CallbackFailureURL: cfg.CallbackFailureURL,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("connection-service listening", "addr", cfg.HTTPAddr, "providers", len(infra.Registry.List()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
	fmt.Println("connection-service stopped")
}
