package entitlement

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/pkg/problems"
	"bookkeepingcpa/pkg/tenants"
)

type defs map[string]providers.Definition

func (d defs) Definition(id string) (providers.Definition, error) {
	def, ok := d[id]
	if !ok {
		return providers.Definition{}, problems.New(problems.ProviderUnavailable, "")
	}
	return def, nil
}

func TestDefaultPolicy(t *testing.T) {
	p, err := NewPolicy(context.Background(), "")
	require.NoError(t, err)

	cases := []struct {
		name string
		in   Input
		want bool
	}{
		{"plan listed", Input{Plan: "growth", Environment: "production", ProviderPlans: []string{"growth", "enterprise"}}, true},
		{"plan missing", Input{Plan: "starter", Environment: "production", ProviderPlans: []string{"growth"}}, false},
		{"no plan list", Input{Plan: "starter", Environment: "production"}, true},
		{"sandbox ungated", Input{Plan: "starter", Environment: "sandbox", ProviderPlans: []string{"enterprise"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := p.Allow(context.Background(), tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, ok)
		})
	}
}

func TestLoadPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deny.rego")
	require.NoError(t, os.WriteFile(path, []byte("package entitlement\n\nimport rego.v1\n\ndefault allow := false\n"), 0o600))

	p, err := LoadPolicy(context.Background(), path)
	require.NoError(t, err)
	ok, err := p.Allow(context.Background(), Input{Environment: "sandbox"})
	require.NoError(t, err)
	require.False(t, ok)

	_, err = NewPolicy(context.Background(), "package entitlement\nallow if {")
	require.Error(t, err)
}

func TestCheckerUsesTenantPlan(t *testing.T) {
	p, err := NewPolicy(context.Background(), "")
	require.NoError(t, err)
	tp := tenants.NewMemoryProvider(
		tenants.Tenant{ID: "t-pro", Plan: "professional", Active: true},
		tenants.Tenant{ID: "t-starter", Plan: "starter", Active: true},
		tenants.Tenant{ID: "t-off", Plan: "enterprise", Active: false},
	)
	c := NewChecker(p, tp, defs{"amazon": {ID: "amazon", DisplayName: "Amazon", Plans: []string{"professional", "enterprise"}}}, nil)
	ctx := context.Background()

	require.NoError(t, c.Check(ctx, "t-pro", "amazon", providers.Production))

	err = c.Check(ctx, "t-starter", "amazon", providers.Production)
	require.True(t, problems.Is(err, problems.ProviderUnavailable))
	require.Contains(t, problems.Message(err), "starter")

	require.NoError(t, c.Check(ctx, "t-starter", "amazon", providers.Sandbox))
	require.True(t, problems.Is(c.Check(ctx, "t-off", "amazon", providers.Production), problems.Forbidden))
	require.True(t, problems.Is(c.Check(ctx, "nobody", "amazon", providers.Production), problems.TenantNotFound))
	require.True(t, problems.Is(c.Check(ctx, "t-pro", "etsy", providers.Production), problems.ProviderUnavailable))
}
