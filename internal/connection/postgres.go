package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/pkg/db"
	"bookkeepingcpa/pkg/secrets"
)

const (
	ProductionTable = "connections"
	SandboxTable    = "sandbox_connections"
)

var tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresStore keeps one table per namespace. Tokens are sealed with the configured key;
// every statement runs in a transaction scoped to the tenant (app.tenant_id) for RLS.
type PostgresStore struct {
	pool   *pgxpool.Pool
	sealer *secrets.Sealer
	table  string
}

func NewPostgresStore(pool *pgxpool.Pool, sealer *secrets.Sealer, table string) (*PostgresStore, error) {
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{pool: pool, sealer: sealer, table: table}, nil
}

// EnsureSchema creates the namespace table and its tenant policy. Safe to call repeatedly.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id uuid NOT NULL,
	tenant_id text NOT NULL,
	provider text NOT NULL,
	environment text NOT NULL,
	access_token bytea,
	refresh_token bytea,
	token_expires_at timestamptz,
	identity jsonb NOT NULL DEFAULT '{}'::jsonb,
	state text NOT NULL,
	last_error text NOT NULL DEFAULT '',
	connected_since timestamptz NOT NULL DEFAULT NOW(),
	last_synced_at timestamptz,
	updated_at timestamptz NOT NULL DEFAULT NOW(),
	PRIMARY KEY (tenant_id, provider, environment)
);
ALTER TABLE %[1]s ENABLE ROW LEVEL SECURITY;
DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE tablename = '%[1]s' AND policyname = '%[1]s_tenant') THEN
		EXECUTE 'CREATE POLICY %[1]s_tenant ON %[1]s USING (tenant_id = current_setting(''app.tenant_id'', true))';
	END IF;
END $$;
`, s.table))
	return err
}

func (s *PostgresStore) columns() string {
	return `id::text, tenant_id, provider, environment, access_token, refresh_token, token_expires_at, identity, state, last_error, connected_since, last_synced_at, updated_at`
}

func (s *PostgresStore) scan(row pgx.Row) (*Connection, error) {
	var (
		c                   Connection
		env                 string
		state               string
		at, rt, identityRaw []byte
		expires, synced     *time.Time
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.Provider, &env, &at, &rt, &expires, &identityRaw, &state, &c.LastError, &c.ConnectedSince, &synced, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Environment = providers.Environment(env)
	c.State = State(state)
	var err error
	if c.AccessToken, err = s.sealer.OpenString(at); err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	if c.RefreshToken, err = s.sealer.OpenString(rt); err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	if expires != nil {
		c.TokenExpiresAt = *expires
	}
	if synced != nil {
		c.LastSyncedAt = *synced
	}
	if len(identityRaw) > 0 {
		if err := json.Unmarshal(identityRaw, &c.Identity); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*Connection, error) {
	var out *Connection
	err := db.InTenantTx(ctx, s.pool, key.TenantID, func(tx pgx.Tx) error {
		c, err := s.scan(tx.QueryRow(ctx, `SELECT `+s.columns()+` FROM `+s.table+` WHERE tenant_id=$1 AND provider=$2 AND environment=$3`,
			key.TenantID, key.Provider, string(key.Environment)))
		out = c
		return err
	})
	return out, err
}

func (s *PostgresStore) write(ctx context.Context, tx pgx.Tx, c *Connection) error {
	at, err := s.sealer.SealString(c.AccessToken)
	if err != nil {
		return err
	}
	rt, err := s.sealer.SealString(c.RefreshToken)
	if err != nil {
		return err
	}
	identity, err := json.Marshal(c.Identity)
	if err != nil {
		return err
	}
	if c.Identity == nil {
		identity = []byte(`{}`)
	}
	_, err = tx.Exec(ctx, `INSERT INTO `+s.table+` (id, tenant_id, provider, environment, access_token, refresh_token, token_expires_at, identity, state, last_error, connected_since, last_synced_at, updated_at)
		VALUES ($1::uuid,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (tenant_id, provider, environment) DO UPDATE SET
		  id=EXCLUDED.id, access_token=EXCLUDED.access_token, refresh_token=EXCLUDED.refresh_token,
		  token_expires_at=EXCLUDED.token_expires_at, identity=EXCLUDED.identity, state=EXCLUDED.state,
		  last_error=EXCLUDED.last_error, connected_since=EXCLUDED.connected_since,
		  last_synced_at=EXCLUDED.last_synced_at, updated_at=EXCLUDED.updated_at`,
		c.ID, c.TenantID, c.Provider, string(c.Environment), at, rt, timePtr(c.TokenExpiresAt), identity,
		string(c.State), c.LastError, c.ConnectedSince, timePtr(c.LastSyncedAt), c.UpdatedAt)
	return err
}

func (s *PostgresStore) Put(ctx context.Context, c *Connection) error {
	return db.InTenantTx(ctx, s.pool, c.TenantID, func(tx pgx.Tx) error { return s.write(ctx, tx, c) })
}

func (s *PostgresStore) Update(ctx context.Context, key Key, fn func(c *Connection) error) (*Connection, error) {
	var out *Connection
	err := db.InTenantTx(ctx, s.pool, key.TenantID, func(tx pgx.Tx) error {
		c, err := s.scan(tx.QueryRow(ctx, `SELECT `+s.columns()+` FROM `+s.table+` WHERE tenant_id=$1 AND provider=$2 AND environment=$3 FOR UPDATE`,
			key.TenantID, key.Provider, string(key.Environment)))
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		out = c
		return s.write(ctx, tx, c)
	})
	return out, err
}

func (s *PostgresStore) Delete(ctx context.Context, key Key) error {
	return db.InTenantTx(ctx, s.pool, key.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM `+s.table+` WHERE tenant_id=$1 AND provider=$2 AND environment=$3`,
			key.TenantID, key.Provider, string(key.Environment))
		return err
	})
}

func (s *PostgresStore) DeleteTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := db.InTenantTx(ctx, s.pool, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM `+s.table+` WHERE tenant_id=$1`, tenantID)
		n = int(tag.RowsAffected())
		return err
	})
	return n, err
}

func (s *PostgresStore) List(ctx context.Context, tenantID string) ([]*Connection, error) {
	var out []*Connection
	err := db.InTenantTx(ctx, s.pool, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+s.columns()+` FROM `+s.table+` WHERE tenant_id=$1 ORDER BY provider, environment`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := s.scan(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}
