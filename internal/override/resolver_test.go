package override

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"bookkeepingcpa/pkg/problems"
	"bookkeepingcpa/pkg/tenants"
)

func newResolver() *Resolver {
	return NewResolver(tenants.NewMemoryProvider(
		tenants.Tenant{ID: "t-a", Active: true},
		tenants.Tenant{ID: "t-b", Active: true},
	), nil)
}

func TestResolve(t *testing.T) {
	r := newResolver()
	cases := []struct {
		name      string
		req       Request
		effective string
		override  bool
		kind      problems.Kind
	}{
		{"own tenant", Request{CallerTenantID: "t-a", CallerRole: RoleClient}, "t-a", false, ""},
		{"client names own tenant", Request{CallerTenantID: "t-a", CallerRole: RoleClient, RequestedTenantID: "t-a"}, "t-a", false, ""},
		{"client names other tenant", Request{CallerTenantID: "t-a", CallerRole: RoleClient, RequestedTenantID: "t-b"}, "", false, problems.Forbidden},
		{"empty role names other tenant", Request{CallerTenantID: "t-a", RequestedTenantID: "t-b"}, "", false, problems.Forbidden},
		{"admin override", Request{CallerTenantID: "t-a", CallerRole: RoleAdmin, RequestedTenantID: "t-b"}, "t-b", true, ""},
		{"staff override without own tenant", Request{CallerRole: "Staff", RequestedTenantID: "t-b"}, "t-b", true, ""},
		{"staff unknown tenant", Request{CallerTenantID: "t-a", CallerRole: RoleStaff, RequestedTenantID: "t-zzz"}, "", false, problems.TenantNotFound},
		{"staff with nothing selected", Request{CallerRole: RoleStaff}, "", false, problems.InvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tc.req)
			if tc.kind != "" {
				require.True(t, problems.Is(err, tc.kind), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.effective, got.EffectiveTenantID)
			require.Equal(t, tc.override, got.Overridden)
		})
	}
}

func TestOverrideNeverFallsBackToCaller(t *testing.T) {
	got, err := newResolver().Resolve(context.Background(), Request{CallerTenantID: "t-a", CallerRole: RoleAdmin, RequestedTenantID: " t-b "})
	require.NoError(t, err)
	require.Equal(t, "t-b", got.EffectiveTenantID)
	require.NotEqual(t, got.CallerTenantID, got.EffectiveTenantID)
}
