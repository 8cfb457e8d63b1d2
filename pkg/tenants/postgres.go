// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresProvider constructs a PostgreSQL-backed tenant provider.
func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates the tenants table. Safe to call repeatedly.
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id uuid PRIMARY KEY,
  slug text UNIQUE,
  name text NOT NULL DEFAULT '',
  plan text NOT NULL DEFAULT 'starter',
  active boolean NOT NULL DEFAULT true,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS plan text NOT NULL DEFAULT 'starter';
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS active boolean NOT NULL DEFAULT true;
`)
	return err
}

// SeedFromEnv upserts tenants from TENANT_SEED_JSON (same format as the memory provider).
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	entries, err := parseSeed(jsonSeed)
	if err != nil {
		return err
	}
	for _, t := range entries {
		if _, err := dbPool.Exec(ctx, `INSERT INTO tenants(id,slug,name,plan)
		  VALUES ($1,$2,$3,COALESCE(NULLIF($4,''),'starter'))
		  ON CONFLICT (id) DO UPDATE SET slug=EXCLUDED.slug,name=EXCLUDED.name,plan=EXCLUDED.plan,updated_at=NOW()`,
			t.ID, t.Slug, t.Name, t.Plan); err != nil {
			return err
		}
	}
	return nil
}

const tenantColumns = `id::text, COALESCE(slug,''), name, plan, active, created_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.Plan, &t.Active, &t.CreatedAt)
	return t, err
}

func (p *pgProvider) ResolveTenantByID(ctx context.Context, id string) (Tenant, error) {
	t, err := scanTenant(p.dbPool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id::text=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	return t, err
}

func (p *pgProvider) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
