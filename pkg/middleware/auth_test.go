package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://id.example.com"
	testAudience = "bookkeeping-api"
)

func testKeys(t *testing.T) (jwk.Key, jwk.Set) {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))
	pub, err := jwk.PublicKeyOf(key)
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	return key, set
}

func signToken(t *testing.T, key jwk.Key, claims map[string]any, exp time.Time) string {
	t.Helper()
	b := jwt.NewBuilder().Issuer(testIssuer).Audience([]string{testAudience}).Subject("user-1").IssuedAt(time.Now()).Expiration(exp)
	for k, v := range claims {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

func callerEcho(t *testing.T, got *Caller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := CallerFrom(r.Context())
		require.True(t, ok)
		*got = c
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestCallerAuthBearer(t *testing.T) {
	key, set := testKeys(t)
	mw := CallerAuth(AuthConfig{Issuer: testIssuer, Audience: testAudience, Keys: set})

	var got Caller
	req := httptest.NewRequest(http.MethodGet, "/v1/integrations", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, map[string]any{"tid": "tenant-a", "role": "Staff"}, time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	mw(callerEcho(t, &got)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, Caller{TenantID: "tenant-a", Role: "staff", Subject: "user-1"}, got)
}

func TestCallerAuthRejectsExpiredAndMissing(t *testing.T) {
	key, set := testKeys(t)
	mw := CallerAuth(AuthConfig{Issuer: testIssuer, Audience: testAudience, Keys: set})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { t.Fatal("must not reach handler") })

	req := httptest.NewRequest(http.MethodGet, "/v1/integrations", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, map[string]any{"tid": "t"}, time.Now().Add(-time.Hour)))
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	mw(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/integrations", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallerAuthDevHeaders(t *testing.T) {
	mw := CallerAuth(AuthConfig{Dev: true})
	var got Caller
	req := httptest.NewRequest(http.MethodGet, "/v1/integrations", nil)
	req.Header.Set("X-Tenant-ID", "tenant-b")
	req.Header.Set("X-Role", "client")
	rec := httptest.NewRecorder()
	mw(callerEcho(t, &got)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "tenant-b", got.TenantID)
	require.Equal(t, "client", got.Role)
}

func TestCallerAuthPublicPaths(t *testing.T) {
	mw := CallerAuth(AuthConfig{Public: []string{"/v1/integrations/amazon/callback"}})
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { reached = true })

	mw(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/integrations/amazon/callback?state=x", nil))
	require.True(t, reached)
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("admin", "staff")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(WithCaller(req.Context(), Caller{TenantID: "t", Role: "client"})))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(WithCaller(req.Context(), Caller{Role: "staff"})))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = RequestIDFrom(r.Context()) }))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "abc", seen)
	require.Equal(t, "abc", rec.Header().Get("X-Request-Id"))
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { t.Fatal("preflight must short-circuit") }))
	req := httptest.NewRequest(http.MethodOptions, "/v1/integrations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
