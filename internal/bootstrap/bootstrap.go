// Package bootstrap wires the storage and provider layers both services share.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"bookkeepingcpa/internal/authflow"
	"bookkeepingcpa/internal/connection"
	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/internal/usage"
	"bookkeepingcpa/pkg/config"
	"bookkeepingcpa/pkg/db"
	"bookkeepingcpa/pkg/logger"
	"bookkeepingcpa/pkg/secrets"
	"bookkeepingcpa/pkg/tenants"
)

// Infra is everything below the HTTP layer. Pool and Redis are nil in memory mode.
type Infra struct {
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Tenants     tenants.Provider
	Registry    *providers.Registry
	States      authflow.StateStore
	Connections *connection.Directory
	Production  *connection.Manager
	Sandbox     *connection.Manager
	Usage       usage.Recorder
}

func Build(ctx context.Context, cfg config.Config, log logger.Sugared) (*Infra, error) {
	in := &Infra{
		Pool:  db.MustConnect(cfg, log),
		Redis: db.MustRedis(cfg, log),
	}

	if in.Pool != nil {
		in.Tenants = tenants.NewPostgresProvider(in.Pool, log)
		if err := tenants.EnsureSchema(ctx, in.Pool); err != nil {
			return nil, fmt.Errorf("tenant schema: %w", err)
		}
		if err := tenants.SeedFromEnv(ctx, in.Pool, os.Getenv("TENANT_SEED_JSON")); err != nil {
			log.Warnw("tenant seed", "err", err)
		}
	} else {
		in.Tenants = tenants.NewMemoryProviderFromEnv(log)
	}

	reg, err := providers.NewRegistry(providers.Options{
		RedirectBaseURL: cfg.BasePublicURL,
		Timeout:         cfg.ProviderTimeout,
		Credentials:     cfg.ProviderCreds,
	}, providers.Builtins()...)
	if err != nil {
		return nil, err
	}
	if n, err := reg.LoadDir(cfg.ProviderRegistryDir); err != nil {
		return nil, fmt.Errorf("provider registry %s: %w", cfg.ProviderRegistryDir, err)
	} else if n > 0 {
		log.Infow("provider definitions loaded", "dir", cfg.ProviderRegistryDir, "count", n)
	}
	in.Registry = reg

	var locker connection.Locker
	if in.Redis != nil {
		in.States = authflow.NewRedisStateStore(in.Redis)
		locker = connection.NewRedisLocker(in.Redis)
	} else {
		in.States = authflow.NewMemoryStateStore(nil)
	}

	sealer := secrets.NewSealer(cfg.EncryptionKey)
	newManager := func(env providers.Environment, table string) (*connection.Manager, error) {
		var store connection.Store = connection.NewMemoryStore()
		if in.Pool != nil {
			ps, err := connection.NewPostgresStore(in.Pool, sealer, table)
			if err != nil {
				return nil, err
			}
			if err := ps.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("%s schema: %w", table, err)
			}
			store = ps
		}
		return connection.NewManager(connection.Options{
			Environment:    env,
			Store:          store,
			Adapters:       reg,
			Locker:         locker,
			Pending:        in.States,
			ExpirySkew:     cfg.TokenExpirySkew,
			LockTTL:        cfg.RefreshLockTTL,
			RefreshTimeout: cfg.ProviderTimeout,
			Log:            log.With("environment", env),
		})
	}
	if in.Production, err = newManager(providers.Production, connection.ProductionTable); err != nil {
		return nil, err
	}
	if in.Sandbox, err = newManager(providers.Sandbox, connection.SandboxTable); err != nil {
		return nil, err
	}
	in.Connections = connection.NewDirectory(in.Production, in.Sandbox)

	if in.Pool != nil {
		rec := usage.NewPostgresRecorder(in.Pool)
		if err := rec.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("usage schema: %w", err)
		}
		in.Usage = rec
	} else {
		in.Usage = usage.NewMemoryRecorder()
	}
	return in, nil
}

func (in *Infra) Close() {
	if in.Redis != nil {
		_ = in.Redis.Close()
	}
	if in.Pool != nil {
		in.Pool.Close()
	}
}
