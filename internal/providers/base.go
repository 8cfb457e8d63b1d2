package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"bookkeepingcpa/pkg/config"
	"bookkeepingcpa/pkg/problems"
)

const maxResponseBytes = 8 << 20

// base carries what every adapter variant shares: OAuth2 plumbing and the
// bounded HTTP client used for provider reads.
type base struct {
	def         Definition
	creds       func(sandbox bool) config.ProviderCreds
	redirectURL string
	client      *http.Client
}

func (b *base) Definition() Definition { return b.def }
func (b *base) Supports(env Environment) bool { return b.def.Supports(env) }
func (b *base) PrepareAuthorization(env Environment, params map[string]string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (b *base) endpoints(env Environment) (*Endpoints, error) {
	ep, ok := b.def.Endpoints(env)
	if !ok {
		return nil, problems.Newf(problems.ProviderUnavailable, "%s has no %s variant", b.def.DisplayName, env)
	}
	return ep, nil
}

func (b *base) oauthConfig(env Environment, vars map[string]string) (*oauth2.Config, error) {
	ep, err := b.endpoints(env)
	if err != nil {
		return nil, err
	}
	c := b.creds(env == Sandbox)
	if c.ClientID == "" {
		return nil, problems.Newf(problems.ProviderUnavailable, "%s is not configured", b.def.DisplayName)
	}
	authURL, err := expand(ep.AuthURL, vars, url.PathEscape)
	if err != nil {
		return nil, err
	}
	tokenURL, err := expand(ep.TokenURL, vars, url.PathEscape)
	if err != nil {
		return nil, err
	}
	style := oauth2.AuthStyleInParams
	if b.def.AuthStyle == "header" {
		style = oauth2.AuthStyleInHeader
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  b.redirectURL,
		Scopes:       b.def.Scopes,
		Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL, AuthStyle: style},
	}, nil
}

func (b *base) authCodeURL(env Environment, req AuthCodeRequest, extra ...oauth2.AuthCodeOption) (string, error) {
	cfg, err := b.oauthConfig(env, req.Params)
	if err != nil {
		return "", err
	}
	opts := []oauth2.AuthCodeOption{}
	if b.def.PKCE && req.Verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(req.Verifier))
	}
	for k, v := range b.def.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	opts = append(opts, extra...)
	return cfg.AuthCodeURL(req.State, opts...), nil
}

func (b *base) AuthCodeURL(env Environment, req AuthCodeRequest) (string, error) {
	return b.authCodeURL(env, req)
}

// Exchange is attempted exactly once; authorization codes are single-use upstream too.
func (b *base) Exchange(ctx context.Context, env Environment, req ExchangeRequest) (*Token, error) {
	cfg, err := b.oauthConfig(env, req.Params)
	if err != nil {
		return nil, err
	}
	var opts []oauth2.AuthCodeOption
	if b.def.PKCE && req.Verifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.Verifier))
	}
	t, err := cfg.Exchange(b.oauthContext(ctx), req.Code, opts...)
	if err != nil {
		return nil, classifyOAuth(err, problems.TokenExchangeFailed)
	}
	return fromOAuth(t), nil
}

func (b *base) Refresh(ctx context.Context, env Environment, req RefreshRequest) (*Token, error) {
	if req.RefreshToken == "" {
		return nil, problems.New(problems.ReauthorizationRequired, "no refresh token on file")
	}
	cfg, err := b.oauthConfig(env, req.Identity)
	if err != nil {
		return nil, err
	}
	// An oauth2.Token without an access token is never valid, so Token() always refreshes.
	t, err := cfg.TokenSource(b.oauthContext(ctx), &oauth2.Token{RefreshToken: req.RefreshToken}).Token()
	if err != nil {
		return nil, classifyOAuth(err, problems.ReauthorizationRequired)
	}
	return fromOAuth(t), nil
}

func (b *base) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.client)
}

func fromOAuth(t *oauth2.Token) *Token {
	return &Token{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, Expiry: t.Expiry}
}

// classifyOAuth maps token endpoint failures. A 4xx from the token endpoint is a rejection.
func classifyOAuth(err error, rejected problems.Kind) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch sc := re.Response.StatusCode; {
		case sc == http.StatusTooManyRequests:
			return &problems.Error{Kind: problems.UpstreamRateLimited, RetryAfter: retryAfter(re.Response.Header), Err: err}
		case sc >= 500:
			return problems.Wrap(problems.UpstreamError, err, "")
		default:
			return problems.Wrap(rejected, err, "")
		}
	}
	if isTimeout(err) {
		return problems.Wrap(problems.UpstreamTimeout, err, "")
	}
	return problems.Wrap(problems.UpstreamError, err, "")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// call is one prepared provider read.
type call struct {
	op    Operation
	vars  map[string]string
	query url.Values
}

// prepare resolves the operation and merges params with identity; identity wins.
// Params not consumed by the path and not part of the identity are forwarded as query.
func (b *base) prepare(req FetchRequest) (*call, error) {
	op, ok := b.def.Operation(req.Operation)
	if !ok {
		return nil, problems.Newf(problems.InvalidRequest, "unknown operation %q for %s", req.Operation, b.def.ID)
	}
	vars := map[string]string{}
	for k, v := range req.Params {
		vars[k] = v
	}
	for k, v := range req.Identity {
		vars[k] = v
	}
	q := url.Values{}
	for k, tmpl := range op.Query {
		if v, err := expand(tmpl, vars, func(s string) string { return s }); err == nil && v != "" {
			q.Set(k, v)
		}
	}
	used := placeholders(op.Path)
	for k, v := range req.Params {
		if _, isIdentity := req.Identity[k]; isIdentity || used[k] || v == "" {
			continue
		}
		if k == "cursor" {
			if op.CursorParam != "" {
				q.Set(op.CursorParam, v)
			}
			continue
		}
		q.Set(k, v)
	}
	return &call{op: op, vars: vars, query: q}, nil
}

// execute performs the GET and decodes the JSON body.
func (b *base) execute(ctx context.Context, env Environment, c *call, authorize func(http.Header)) (any, http.Header, error) {
	ep, err := b.endpoints(env)
	if err != nil {
		return nil, nil, err
	}
	baseURL, err := expand(ep.APIBaseURL, c.vars, url.PathEscape)
	if err != nil {
		return nil, nil, err
	}
	path, err := expand(c.op.Path, c.vars, url.PathEscape)
	if err != nil {
		return nil, nil, err
	}
	u := strings.TrimRight(baseURL, "/") + path
	if enc := c.query.Encode(); enc != "" {
		u += "?" + enc
	}
	method := c.op.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, nil, problems.Wrap(problems.InvalidRequest, err, "invalid upstream url")
	}
	req.Header.Set("Accept", "application/json")
	authorize(req.Header)
	body, hdr, err := b.do(req)
	if err != nil {
		return nil, nil, err
	}
	var doc any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, nil, problems.Wrap(problems.UpstreamError, err, "malformed provider response")
		}
	}
	return doc, hdr, nil
}

// do runs req and classifies the outcome into the gateway's failure taxonomy.
func (b *base) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		if isTimeout(err) || errors.Is(req.Context().Err(), context.DeadlineExceeded) {
			return nil, nil, problems.Wrap(problems.UpstreamTimeout, err, "")
		}
		return nil, nil, problems.Wrap(problems.UpstreamError, err, "")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, nil, problems.Wrap(problems.UpstreamTimeout, err, "")
		}
		return nil, nil, problems.Wrap(problems.UpstreamError, err, "")
	}
	switch sc := resp.StatusCode; {
	case sc == http.StatusTooManyRequests:
		return nil, nil, &problems.Error{Kind: problems.UpstreamRateLimited, RetryAfter: retryAfter(resp.Header), Err: fmt.Errorf("%s %s: 429", req.Method, req.URL.Path)}
	case sc == http.StatusUnauthorized || sc == http.StatusForbidden:
		return nil, nil, problems.Wrap(problems.Unauthorized, fmt.Errorf("%s %s: %d", req.Method, req.URL.Path, sc), "")
	case sc >= 400:
		return nil, nil, problems.Wrap(problems.UpstreamError, fmt.Errorf("%s %s: %d %s", req.Method, req.URL.Path, sc, truncate(body, 256)), "")
	}
	return body, resp.Header, nil
}

func (b *base) getJSON(ctx context.Context, u string, authorize func(http.Header)) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, problems.Wrap(problems.InvalidRequest, err, "invalid upstream url")
	}
	req.Header.Set("Accept", "application/json")
	authorize(req.Header)
	body, _, err := b.do(req)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, problems.Wrap(problems.UpstreamError, err, "malformed provider response")
	}
	return doc, nil
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

func placeholders(tmpl string) map[string]bool {
	out := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		out[m[1]] = true
	}
	return out
}

// expand fills {name} placeholders; a missing value is an InvalidRequest.
func expand(tmpl string, vars map[string]string, escape func(string) string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := vars[name]
		if !ok || v == "" {
			if missing == "" {
				missing = name
			}
			return ""
		}
		return escape(v)
	})
	if missing != "" {
		return "", problems.Newf(problems.InvalidRequest, "missing parameter %q", missing)
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
