package usage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRecorder struct {
	pool *pgxpool.Pool
}

func NewPostgresRecorder(pool *pgxpool.Pool) *PostgresRecorder { return &PostgresRecorder{pool: pool} }

func (p *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS integration_usage_events (
	id bigserial PRIMARY KEY,
	tenant_id text NOT NULL,
	provider text NOT NULL,
	environment text NOT NULL,
	operation text NOT NULL,
	outcome text NOT NULL,
	actor_role text NOT NULL DEFAULT '',
	overridden boolean NOT NULL DEFAULT false,
	request_id text NOT NULL DEFAULT '',
	duration_ms integer NOT NULL,
	started_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS integration_usage_events_tenant_idx ON integration_usage_events (tenant_id, started_at DESC);
`)
	return err
}

func (p *PostgresRecorder) Record(ctx context.Context, ev Event) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO integration_usage_events(tenant_id, provider, environment, operation, outcome, actor_role, overridden, request_id, duration_ms, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		ev.TenantID, ev.Provider, ev.Environment, ev.Operation, ev.Outcome, ev.ActorRole, ev.Overridden, ev.RequestID,
		int(ev.Duration.Milliseconds()), ev.StartedAt.UTC())
	return err
}

func (p *PostgresRecorder) Summary(ctx context.Context, tenantID string) (Summary, error) {
	out := Summary{Daily: []DailyRow{}}
	rows, err := p.pool.Query(ctx, `
		SELECT date_trunc('day', started_at) AS day, provider, operation,
			   COUNT(*),
			   SUM(CASE WHEN outcome = 'ok' THEN 1 ELSE 0 END),
			   COALESCE(AVG(duration_ms)::int, 0)
		FROM integration_usage_events
		WHERE ($1::text = '' OR tenant_id = $1::text)
		GROUP BY 1, 2, 3
		ORDER BY 1 DESC, 2, 3`, tenantID)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var r DailyRow
		if err := rows.Scan(&r.Day, &r.Provider, &r.Operation, &r.Count, &r.OK, &r.AvgMs); err != nil {
			return out, err
		}
		out.Daily = append(out.Daily, r)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	err = p.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN outcome = 'ok' THEN 1 ELSE 0 END), 0), COALESCE(AVG(duration_ms)::int, 0)
		FROM integration_usage_events WHERE ($1::text = '' OR tenant_id = $1::text)`, tenantID).
		Scan(&out.Totals.Count, &out.Totals.OK, &out.Totals.AvgMs)
	return out, err
}
