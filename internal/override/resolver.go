// Package override decides which tenant a request acts on.
//
// Admin and staff users may act for another tenant by naming it; everyone else
// is pinned to their own tenant. The resolved Context is the only tenant id
// handed to connection and gateway calls.
package override

import (
	"context"
	"errors"
	"strings"

	"bookkeepingcpa/pkg/logger"
	"bookkeepingcpa/pkg/problems"
	"bookkeepingcpa/pkg/tenants"
)

const (
	RoleAdmin  = "admin"
	RoleStaff  = "staff"
	RoleClient = "client"
)

// Privileged reports whether role may act on behalf of other tenants.
func Privileged(role string) bool {
	switch strings.ToLower(role) {
	case RoleAdmin, RoleStaff:
		return true
	}
	return false
}

type Request struct {
	CallerTenantID    string
	CallerRole        string
	CallerSubject     string
	RequestedTenantID string
}

type Context struct {
	CallerTenantID    string `json:"caller_tenant_id"`
	CallerRole        string `json:"caller_role"`
	RequestedTenantID string `json:"requested_tenant_id,omitempty"`
	EffectiveTenantID string `json:"effective_tenant_id"`
	Overridden        bool   `json:"overridden"`
}

type Resolver struct {
	tenants tenants.Provider
	log     logger.Sugared
}

func NewResolver(tp tenants.Provider, log logger.Sugared) *Resolver {
	return &Resolver{tenants: tp, log: logger.OrNop(log)}
}

func (r *Resolver) Resolve(ctx context.Context, req Request) (Context, error) {
	requested := strings.TrimSpace(req.RequestedTenantID)
	out := Context{CallerTenantID: req.CallerTenantID, CallerRole: req.CallerRole, RequestedTenantID: requested}

	if requested == "" || requested == req.CallerTenantID {
		if req.CallerTenantID == "" {
			return Context{}, problems.New(problems.InvalidRequest, "a client must be selected")
		}
		out.EffectiveTenantID = req.CallerTenantID
		return out, nil
	}
	if !Privileged(req.CallerRole) {
		r.log.Warnw("tenant override refused", "caller_tenant_id", req.CallerTenantID, "role", req.CallerRole,
			"subject", req.CallerSubject, "requested_tenant_id", requested)
		return Context{}, problems.New(problems.Forbidden, "")
	}
	if _, err := r.tenants.ResolveTenantByID(ctx, requested); err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			return Context{}, problems.New(problems.TenantNotFound, "")
		}
		return Context{}, problems.Wrap(problems.Internal, err, "")
	}
	out.EffectiveTenantID = requested
	out.Overridden = true
	r.log.Infow("tenant override", "caller_tenant_id", req.CallerTenantID, "role", req.CallerRole,
		"subject", req.CallerSubject, "effective_tenant_id", requested)
	return out, nil
}
