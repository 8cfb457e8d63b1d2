package tenants

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryProviderFromEnvSeed(t *testing.T) {
	t.Setenv("TENANT_SEED_JSON", `[{"id":"t-2","slug":"beta","name":"Beta LLC","plan":"growth"},{"id":"t-1","slug":"acme","plan":"starter"},{"slug":"no-id"}]`)
	p := NewMemoryProviderFromEnv(zap.NewNop().Sugar())

	got, err := p.ResolveTenantByID(context.Background(), "t-2")
	require.NoError(t, err)
	require.Equal(t, "growth", got.Plan)
	require.True(t, got.Active)

	all, err := p.ListTenants(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "t-1", all[0].ID)

	_, err = p.ResolveTenantByID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryProviderDevFallback(t *testing.T) {
	t.Setenv("TENANT_SEED_JSON", "")
	p := NewMemoryProviderFromEnv(zap.NewNop().Sugar())
	got, err := p.ResolveTenantByID(context.Background(), DevTenantID)
	require.NoError(t, err)
	require.Equal(t, "dev", got.Slug)
}
