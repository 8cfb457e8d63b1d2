// pkg/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"bookkeepingcpa/pkg/problems"
	"bookkeepingcpa/pkg/respond"
)

// Caller is the authenticated principal behind a request.
type Caller struct {
	TenantID string
	Role     string
	Subject  string
}

type callerCtxKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerCtxKey{}, c)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerCtxKey{}).(Caller)
	return c, ok
}

// AuthConfig configures CallerAuth. Keys, when set, is used instead of fetching JWKSURL.
type AuthConfig struct {
	Issuer    string
	Audience  string
	JWKSURL   string
	Keys      jwk.Set
	ClockSkew time.Duration
	// Dev accepts X-Tenant-ID / X-Role headers when no Authorization header is sent.
	Dev bool
	// Public path prefixes that skip authentication entirely.
	Public []string
}

// jwksCache caches JWKS sets per URL.
type jwksCache struct {
	mu   sync.RWMutex
	sets map[string]cachedJWKS
}

type cachedJWKS struct {
	set     jwk.Set
	expires time.Time
}

func (c *jwksCache) get(ctx context.Context, url string, ttl time.Duration) (jwk.Set, error) {
	c.mu.RLock()
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		c.mu.RUnlock()
		return e.set, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == nil {
		c.sets = map[string]cachedJWKS{}
	}
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		return e.set, nil
	}
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.sets[url] = cachedJWKS{set: set, expires: time.Now().Add(ttl)}
	return set, nil
}

// CallerAuth validates the bearer token and stores the Caller (tid, role, sub claims) in context.
func CallerAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	cache := &jwksCache{}
	jwksTTL := 6 * time.Hour
	public := append([]string{"/healthz", "/metrics", "/.well-known/"}, cfg.Public...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range public {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			if cfg.Dev && authz == "" {
				c := Caller{
					TenantID: strings.TrimSpace(r.Header.Get("X-Tenant-ID")),
					Role:     strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role"))),
					Subject:  "dev",
				}
				if c.TenantID == "" && c.Role == "" {
					respond.Error(w, problems.New(problems.Unauthenticated, "missing X-Tenant-ID"))
					return
				}
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), c)))
				return
			}
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				respond.Error(w, problems.New(problems.Unauthenticated, "missing bearer token"))
				return
			}
			set := cfg.Keys
			if set == nil {
				if cfg.JWKSURL == "" {
					respond.Error(w, problems.New(problems.Internal, "auth not configured"))
					return
				}
				var err error
				if set, err = cache.get(r.Context(), cfg.JWKSURL, jwksTTL); err != nil {
					respond.Error(w, problems.Wrap(problems.Internal, err, "jwks fetch failed"))
					return
				}
			}
			parseOpts := []jwt.ParseOption{jwt.WithKeySet(set), jwt.WithValidate(true), jwt.WithVerify(true), jwt.WithAcceptableSkew(cfg.ClockSkew)}
			if cfg.Issuer != "" {
				parseOpts = append(parseOpts, jwt.WithIssuer(strings.TrimRight(cfg.Issuer, "/")))
			}
			if cfg.Audience != "" {
				parseOpts = append(parseOpts, jwt.WithAudience(cfg.Audience))
			}
			raw := strings.TrimSpace(authz[len("Bearer "):])
			jt, err := jwt.Parse([]byte(raw), parseOpts...)
			if err != nil {
				respond.Error(w, problems.Wrap(problems.Unauthenticated, err, "invalid token"))
				return
			}
			c := Caller{
				TenantID: claimString(jt, "tid"),
				Role:     strings.ToLower(claimString(jt, "role")),
				Subject:  jt.Subject(),
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), c)))
		})
	}
}

func claimString(jt jwt.Token, name string) string {
	if v, ok := jt.Get(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
