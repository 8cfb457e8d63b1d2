// Package gateway performs provider data reads on behalf of a resolved tenant.
package gateway

import (
	"context"
	"time"

	"bookkeepingcpa/internal/connection"
	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/internal/usage"
	"bookkeepingcpa/pkg/logger"
	"bookkeepingcpa/pkg/metrics"
	"bookkeepingcpa/pkg/problems"
	"bookkeepingcpa/pkg/respond"
)

type Options struct {
	Adapters    connection.AdapterSource
	Connections *connection.Directory
	Usage       usage.Recorder // nil: usage is not recorded
	Timeout     time.Duration
	Log         logger.Sugared
}

type Gateway struct {
	adapters connection.AdapterSource
	conns    *connection.Directory
	usage    usage.Recorder
	timeout  time.Duration
	log      logger.Sugared
}

func New(opts Options) *Gateway {
	g := &Gateway{
		adapters: opts.Adapters,
		conns:    opts.Connections,
		usage:    opts.Usage,
		timeout:  opts.Timeout,
		log:      logger.OrNop(opts.Log),
	}
	if g.timeout <= 0 {
		g.timeout = 15 * time.Second
	}
	return g
}

// Request names the tenant explicitly. EffectiveTenantID must come from the override
// resolver; the gateway never looks at who the caller is.
type Request struct {
	Operation         string
	Provider          string
	EffectiveTenantID string
	Environment       providers.Environment
	Params            map[string]string

	// audit only
	ActorRole  string
	Overridden bool
	RequestID  string
}

// Fetch always returns an envelope; err is set alongside it on failure so callers
// can pick the HTTP status.
func (g *Gateway) Fetch(ctx context.Context, req Request) (respond.Envelope, error) {
	start := time.Now()
	data, err := g.fetch(ctx, req)
	g.observe(req, start, err)
	if err != nil {
		env, _ := respond.FromError(err)
		return env, err
	}
	return respond.Envelope{Success: true, Data: data}, nil
}

func (g *Gateway) fetch(ctx context.Context, req Request) (any, error) {
	if req.EffectiveTenantID == "" {
		return nil, problems.New(problems.InvalidRequest, "tenant is required")
	}
	if req.Operation == "" {
		return nil, problems.New(problems.InvalidRequest, "operation is required")
	}
	mgr, err := g.conns.For(req.Environment)
	if err != nil {
		return nil, err
	}
	adapter, err := g.adapters.Adapter(req.Provider)
	if err != nil {
		return nil, err
	}
	if !adapter.Supports(req.Environment) {
		return nil, problems.Newf(problems.ProviderUnavailable, "%s has no %s environment", adapter.Definition().DisplayName, req.Environment)
	}
	if _, ok := adapter.Definition().Operation(req.Operation); !ok {
		return nil, problems.Newf(problems.InvalidRequest, "unknown operation %q for %s", req.Operation, req.Provider)
	}

	key := connection.Key{TenantID: req.EffectiveTenantID, Provider: req.Provider, Environment: req.Environment}
	tok, err := mgr.EnsureValidToken(ctx, key)
	if err != nil {
		return nil, err
	}

	fctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	res, err := adapter.Fetch(fctx, req.Environment, providers.FetchRequest{
		Operation:   req.Operation,
		Params:      req.Params,
		AccessToken: tok.AccessToken,
		Identity:    tok.Identity,
	})
	if err != nil {
		if problems.Is(err, problems.Unauthorized) {
			// The current call still fails; the next one refreshes.
			if merr := mgr.MarkTokenExpired(context.WithoutCancel(ctx), key); merr != nil {
				g.log.Warnw("could not mark token expired", "key", key.String(), "err", merr)
			}
		}
		return nil, err
	}
	if err := mgr.RecordSync(context.WithoutCancel(ctx), key); err != nil {
		g.log.Warnw("could not record sync", "key", key.String(), "err", err)
	}
	return res.Data, nil
}

func (g *Gateway) observe(req Request, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := metrics.Outcome(string(problems.KindOf(err)))
	metrics.GatewayRequests.WithLabelValues(req.Provider, string(req.Environment), req.Operation, outcome).Inc()
	metrics.GatewayLatency.WithLabelValues(req.Provider, req.Operation).Observe(elapsed.Seconds())

	fields := []any{"tenant_id", req.EffectiveTenantID, "provider", req.Provider, "environment", req.Environment,
		"operation", req.Operation, "outcome", outcome, "duration_ms", elapsed.Milliseconds(), "overridden", req.Overridden}
	if err != nil {
		g.log.Warnw("provider fetch failed", append(fields, "err", err)...)
	} else {
		g.log.Debugw("provider fetch", fields...)
	}

	if g.usage == nil || req.EffectiveTenantID == "" {
		return
	}
	ev := usage.Event{
		TenantID:    req.EffectiveTenantID,
		Provider:    req.Provider,
		Environment: string(req.Environment),
		Operation:   req.Operation,
		Outcome:     outcome,
		ActorRole:   req.ActorRole,
		Overridden:  req.Overridden,
		RequestID:   req.RequestID,
		Duration:    elapsed,
		StartedAt:   start.UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.usage.Record(ctx, ev); err != nil {
		g.log.Warnw("usage record failed", "err", err)
	}
}
