package providers

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"bookkeepingcpa/pkg/problems"
)

// amazonAdapter speaks Login with Amazon + Selling Partner API.
type amazonAdapter struct{ *base }

func (a *amazonAdapter) AuthCodeURL(env Environment, req AuthCodeRequest) (string, error) {
	var extra []oauth2.AuthCodeOption
	if c := a.creds(env == Sandbox); c.ApplicationID != "" {
		extra = append(extra, oauth2.SetAuthURLParam("application_id", c.ApplicationID))
	}
	if env == Sandbox {
		// draft apps authorize through the beta consent flow
		extra = append(extra, oauth2.SetAuthURLParam("version", "beta"))
	}
	return a.authCodeURL(env, req, extra...)
}

func (a *amazonAdapter) authorize(token string) func(http.Header) {
	return func(h http.Header) { h.Set("x-amz-access-token", token) }
}

func (a *amazonAdapter) FetchIdentity(ctx context.Context, env Environment, req IdentityRequest) (Identity, error) {
	id := Identity{}
	if v := req.Callback["selling_partner_id"]; v != "" {
		id["seller_id"] = v
	} else if v := req.Params["seller_id"]; v != "" {
		id["seller_id"] = v
	}
	ep, err := a.endpoints(env)
	if err != nil {
		return nil, err
	}
	doc, err := a.getJSON(ctx, strings.TrimRight(ep.APIBaseURL, "/")+"/sellers/v1/marketplaceParticipations", a.authorize(req.Token.AccessToken))
	if err != nil {
		return nil, err
	}
	mk := searchString("payload[?participation.isParticipating].marketplace.id | [0]", doc)
	if mk == "" {
		mk = searchString("payload[0].marketplace.id", doc)
	}
	if mk == "" {
		return nil, problems.New(problems.UpstreamError, "seller has no marketplace participation")
	}
	id["marketplace_id"] = mk
	return id, nil
}

func (a *amazonAdapter) Fetch(ctx context.Context, env Environment, req FetchRequest) (*FetchResult, error) {
	c, err := a.prepare(req)
	if err != nil {
		return nil, err
	}
	doc, _, err := a.execute(ctx, env, c, a.authorize(req.AccessToken))
	if err != nil {
		return nil, err
	}
	cursor, err := search(c.op.Cursor, doc)
	if err != nil {
		return nil, err
	}
	data, err := page(c.op, doc, cursor)
	if err != nil {
		return nil, err
	}
	return &FetchResult{Data: data}, nil
}
