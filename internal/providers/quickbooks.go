package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bookkeepingcpa/pkg/problems"
)

const (
	qbDefaultPageSize = 100
	qbMaxPageSize     = 1000
)

// quickbooksAdapter reads through the QuickBooks Online query and reports APIs.
type quickbooksAdapter struct{ *base }

func bearer(token string) func(http.Header) {
	return func(h http.Header) { h.Set("Authorization", "Bearer "+token) }
}

func (q *quickbooksAdapter) FetchIdentity(ctx context.Context, env Environment, req IdentityRequest) (Identity, error) {
	realm := req.Callback["realmId"]
	if realm == "" {
		realm = req.Params["realm_id"]
	}
	if realm == "" {
		return nil, problems.New(problems.TokenExchangeFailed, "provider did not return a company id")
	}
	ep, err := q.endpoints(env)
	if err != nil {
		return nil, err
	}
	r := url.PathEscape(realm)
	doc, err := q.getJSON(ctx, strings.TrimRight(ep.APIBaseURL, "/")+"/v3/company/"+r+"/companyinfo/"+r, bearer(req.Token.AccessToken))
	if err != nil {
		return nil, err
	}
	id := Identity{"realm_id": realm}
	if name := searchString("CompanyInfo.CompanyName", doc); name != "" {
		id["company_name"] = name
	}
	return id, nil
}

func (q *quickbooksAdapter) Fetch(ctx context.Context, env Environment, req FetchRequest) (*FetchResult, error) {
	c, err := q.prepare(req)
	if err != nil {
		return nil, err
	}
	if c.op.Entity == "" {
		doc, _, err := q.execute(ctx, env, c, bearer(req.AccessToken))
		if err != nil {
			return nil, err
		}
		return &FetchResult{Data: doc}, nil
	}

	limit := qbDefaultPageSize
	if v := c.query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, problems.Newf(problems.InvalidRequest, "invalid limit %q", v)
		}
		limit = min(n, qbMaxPageSize)
	}
	start := 1
	if v := req.Params["cursor"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, problems.Newf(problems.InvalidRequest, "invalid cursor %q", v)
		}
		start = n
	}
	c.query.Del("limit")
	c.query.Set("query", fmt.Sprintf("select * from %s STARTPOSITION %d MAXRESULTS %d", c.op.Entity, start, limit))

	doc, _, err := q.execute(ctx, env, c, bearer(req.AccessToken))
	if err != nil {
		return nil, err
	}
	items, err := search("QueryResponse."+c.op.Entity, doc)
	if err != nil {
		return nil, err
	}
	list, _ := items.([]any)
	if list == nil {
		list = []any{}
	}
	out := map[string]any{"items": list}
	if len(list) == limit {
		out["next_cursor"] = strconv.Itoa(start + limit)
	}
	return &FetchResult{Data: out}, nil
}
