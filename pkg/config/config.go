// pkg/config/config.go
package config

import (
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env       string
	HTTPAddr  string // connection-service
	AdminAddr string // admin-api-service

	// Public base URL of connection-service; OAuth redirect URIs are built from it.
	BasePublicURL string

	// Where the browser lands after a provider callback. Empty -> JSON envelope.
	CallbackSuccessURL string
	CallbackFailureURL string
	CORSOrigins        []string
	AdminCORSOrigins   []string

	// OIDC / JWT for callers of the API
	Issuer    string
	Audience  string
	JWKSURL   string
	ClockSkew time.Duration

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string

	// Key used to seal provider tokens at rest. Empty -> stored unsealed (dev only).
	EncryptionKey string

	AuthStateTTL    time.Duration
	TokenExpirySkew time.Duration
	ProviderTimeout time.Duration
	RefreshLockTTL  time.Duration

	ProviderRegistryDir   string
	EntitlementPolicyFile string
}

// ProviderCreds are the OAuth client credentials the product holds for one provider variant.
type ProviderCreds struct {
	ClientID      string
	ClientSecret  string
	ApplicationID string // amazon only
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                   env("APP_ENV", "dev"),
		HTTPAddr:              env("HTTP_ADDR", ":8080"),
		AdminAddr:             env("ADMIN_HTTP_ADDR", ":8082"),
		BasePublicURL:         strings.TrimRight(env("BASE_PUBLIC_URL", "http://localhost:8080"), "/"),
		CallbackSuccessURL:    env("CALLBACK_SUCCESS_URL", ""),
		CallbackFailureURL:    env("CALLBACK_FAILURE_URL", ""),
		CORSOrigins:           envList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		AdminCORSOrigins:      envList("ADMIN_CORS_ORIGINS", []string{"http://localhost:3001"}),
		Issuer:                env("OIDC_ISSUER", ""),
		Audience:              env("OIDC_AUDIENCE", "bookkeeping-api"),
		JWKSURL:               env("JWKS_URL", ""),
		ClockSkew:             envDur("JWT_CLOCK_SKEW_SEC", 60) * time.Second,
		RedisURL:              env("REDIS_URL", ""),
		DatabaseURL:           env("DATABASE_URL", ""),
		EncryptionKey:         env("ENCRYPTION_KEY", ""),
		AuthStateTTL:          envDur("AUTH_STATE_TTL_SEC", 600) * time.Second,
		TokenExpirySkew:       envDur("TOKEN_EXPIRY_SKEW_SEC", 60) * time.Second,
		ProviderTimeout:       envDur("PROVIDER_TIMEOUT_SEC", 15) * time.Second,
		RefreshLockTTL:        envDur("REFRESH_LOCK_TTL_SEC", 30) * time.Second,
		ProviderRegistryDir:   env("PROVIDER_REGISTRY_DIR", ""),
		EntitlementPolicyFile: env("ENTITLEMENT_POLICY_FILE", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set, connections are kept in memory")
	}
	if cfg.RedisURL == "" {
		log.Println("[WARN] REDIS_URL not set, authorization state and refresh locks are process-local")
	}
	if cfg.EncryptionKey == "" && cfg.Env == "prod" {
		log.Println("[WARN] ENCRYPTION_KEY not set in prod, provider tokens are stored unsealed")
	}
	return cfg
}

// ProviderCreds reads <PROVIDER>_CLIENT_ID / _CLIENT_SECRET / _APPLICATION_ID.
// The sandbox variant reads <PROVIDER>_SANDBOX_* and falls back to the production values.
func (c Config) ProviderCreds(provider string, sandbox bool) ProviderCreds {
	prefix := envPrefix(provider)
	pc := ProviderCreds{
		ClientID:      os.Getenv(prefix + "_CLIENT_ID"),
		ClientSecret:  os.Getenv(prefix + "_CLIENT_SECRET"),
		ApplicationID: os.Getenv(prefix + "_APPLICATION_ID"),
	}
	if !sandbox {
		return pc
	}
	return ProviderCreds{
		ClientID:      env(prefix+"_SANDBOX_CLIENT_ID", pc.ClientID),
		ClientSecret:  env(prefix+"_SANDBOX_CLIENT_SECRET", pc.ClientSecret),
		ApplicationID: env(prefix+"_SANDBOX_APPLICATION_ID", pc.ApplicationID),
	}
}

// SandboxRefreshToken is the product-wide default sandbox credential for a provider.
func (c Config) SandboxRefreshToken(provider string) string {
	return os.Getenv("SANDBOX_REFRESH_TOKEN_" + envPrefix(provider))
}

// SandboxIdentity reads SANDBOX_IDENTITY_<PROVIDER> as a query string, e.g. "realm_id=4620816365".
// It seeds the identity lookup when the sandbox credential alone cannot name the account.
func (c Config) SandboxIdentity(provider string) map[string]string {
	out := map[string]string{}
	q, err := url.ParseQuery(os.Getenv("SANDBOX_IDENTITY_" + envPrefix(provider)))
	if err != nil {
		return out
	}
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}

func envPrefix(provider string) string {
	return strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
func envList(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// Dev reports whether header-based caller identity is accepted.
func (c Config) Dev() bool { return envBool("DEV_AUTH", c.Env == "dev") }
