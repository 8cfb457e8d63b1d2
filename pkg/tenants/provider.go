package tenants

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("tenant not found")

type Provider interface {
	// ResolveTenantByID returns ErrNotFound for unknown ids.
	ResolveTenantByID(ctx context.Context, id string) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
}
