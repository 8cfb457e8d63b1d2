package providers

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"bookkeepingcpa/pkg/problems"
)

// shopifyAdapter handles per-shop OAuth endpoints and Link-header pagination.
type shopifyAdapter struct{ *base }

var (
	shopDomainRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)
	linkNextRe   = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)
)

func normalizeShop(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(strings.TrimPrefix(s, "https://"), "http://")
	s = strings.TrimRight(s, "/")
	if s != "" && !strings.Contains(s, ".") {
		s += ".myshopify.com"
	}
	if !shopDomainRe.MatchString(s) {
		return "", problems.Newf(problems.InvalidRequest, "invalid shop domain %q", s)
	}
	return s, nil
}

func (s *shopifyAdapter) PrepareAuthorization(env Environment, params map[string]string) (map[string]string, error) {
	shop := params["shop_domain"]
	if shop == "" {
		shop = params["shop"]
	}
	if shop == "" {
		return nil, problems.New(problems.InvalidRequest, "shop is required")
	}
	d, err := normalizeShop(shop)
	if err != nil {
		return nil, err
	}
	return map[string]string{"shop_domain": d}, nil
}

func (s *shopifyAdapter) authorize(token string) func(http.Header) {
	return func(h http.Header) { h.Set("X-Shopify-Access-Token", token) }
}

func (s *shopifyAdapter) FetchIdentity(ctx context.Context, env Environment, req IdentityRequest) (Identity, error) {
	shop := req.Params["shop_domain"]
	if cb := req.Callback["shop"]; cb != "" {
		if n, err := normalizeShop(cb); err != nil || n != shop {
			return nil, problems.New(problems.TokenExchangeFailed, "callback shop does not match the shop being connected")
		}
	}
	ep, err := s.endpoints(env)
	if err != nil {
		return nil, err
	}
	apiBase, err := expand(ep.APIBaseURL, map[string]string{"shop_domain": shop}, url.PathEscape)
	if err != nil {
		return nil, err
	}
	doc, err := s.getJSON(ctx, strings.TrimRight(apiBase, "/")+"/shop.json", s.authorize(req.Token.AccessToken))
	if err != nil {
		return nil, err
	}
	id := Identity{"shop_domain": shop}
	if v := searchString("shop.id", doc); v != "" {
		id["shop_id"] = v
	}
	if v := searchString("shop.name", doc); v != "" {
		id["shop_name"] = v
	}
	return id, nil
}

func (s *shopifyAdapter) Fetch(ctx context.Context, env Environment, req FetchRequest) (*FetchResult, error) {
	c, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	if pi := c.query.Get("page_info"); pi != "" {
		// Shopify rejects filters alongside page_info
		keep := url.Values{"page_info": {pi}}
		if l := c.query.Get("limit"); l != "" {
			keep.Set("limit", l)
		}
		c.query = keep
	}
	doc, hdr, err := s.execute(ctx, env, c, s.authorize(req.AccessToken))
	if err != nil {
		return nil, err
	}
	data, err := page(c.op, doc, nextPageInfo(hdr.Get("Link")))
	if err != nil {
		return nil, err
	}
	return &FetchResult{Data: data}, nil
}

func nextPageInfo(link string) any {
	m := linkNextRe.FindStringSubmatch(link)
	if m == nil {
		return nil
	}
	u, err := url.Parse(m[1])
	if err != nil {
		return nil
	}
	if pi := u.Query().Get("page_info"); pi != "" {
		return pi
	}
	return nil
}
