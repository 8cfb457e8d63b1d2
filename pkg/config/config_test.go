package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_STATE_TTL_SEC", "")
	t.Setenv("PROVIDER_TIMEOUT_SEC", "7")
	t.Setenv("BASE_PUBLIC_URL", "https://api.example.com/")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, ,https://b.example.com")

	cfg := Load()
	require.Equal(t, 10*time.Minute, cfg.AuthStateTTL)
	require.Equal(t, 7*time.Second, cfg.ProviderTimeout)
	require.Equal(t, "https://api.example.com", cfg.BasePublicURL)
	require.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
}

func TestProviderCredsSandboxFallsBack(t *testing.T) {
	t.Setenv("QUICKBOOKS_CLIENT_ID", "prod-id")
	t.Setenv("QUICKBOOKS_CLIENT_SECRET", "prod-secret")
	t.Setenv("QUICKBOOKS_SANDBOX_CLIENT_ID", "sbx-id")

	var cfg Config
	prod := cfg.ProviderCreds("quickbooks", false)
	require.Equal(t, "prod-id", prod.ClientID)

	sbx := cfg.ProviderCreds("quickbooks", true)
	require.Equal(t, "sbx-id", sbx.ClientID)
	require.Equal(t, "prod-secret", sbx.ClientSecret)
}

func TestSandboxRefreshToken(t *testing.T) {
	t.Setenv("SANDBOX_REFRESH_TOKEN_AMAZON", "Atzr|default")
	require.Equal(t, "Atzr|default", Config{}.SandboxRefreshToken("amazon"))
	require.Empty(t, Config{}.SandboxRefreshToken("shopify"))
}

func TestSandboxIdentity(t *testing.T) {
	t.Setenv("SANDBOX_IDENTITY_QUICKBOOKS", "realm_id=4620816365&company_name=Sandbox+Co")
	require.Equal(t, map[string]string{"realm_id": "4620816365", "company_name": "Sandbox Co"}, Config{}.SandboxIdentity("quickbooks"))
	require.Empty(t, Config{}.SandboxIdentity("amazon"))
}
