package providers

import "sort"

// Kind selects the adapter variant that speaks a provider's dialect.
type Kind string

const (
	KindAmazon     Kind = "amazon"
	KindShopify    Kind = "shopify"
	KindQuickBooks Kind = "quickbooks"
)

type Endpoints struct {
	AuthURL    string `json:"auth_url" yaml:"auth_url"`
	TokenURL   string `json:"token_url" yaml:"token_url"`
	APIBaseURL string `json:"api_base_url" yaml:"api_base_url"`
}

// Operation is one read the gateway can perform. Path, Query values and
// endpoint URLs may reference {name} placeholders filled from the request
// params and the connection identity.
type Operation struct {
	ID          string            `json:"id" yaml:"id"`
	Summary     string            `json:"summary,omitempty" yaml:"summary,omitempty"`
	Method      string            `json:"method,omitempty" yaml:"method,omitempty"`
	Path        string            `json:"path" yaml:"path"`
	Query       map[string]string `json:"query,omitempty" yaml:"query,omitempty"`
	Items       string            `json:"items,omitempty" yaml:"items,omitempty"`   // JMESPath to the record list
	Cursor      string            `json:"cursor,omitempty" yaml:"cursor,omitempty"` // JMESPath to the next-page token
	CursorParam string            `json:"cursor_param,omitempty" yaml:"cursor_param,omitempty"`
	Entity      string            `json:"entity,omitempty" yaml:"entity,omitempty"` // quickbooks query entity
}

type Definition struct {
	ID          string            `json:"id" yaml:"id"`
	Kind        Kind              `json:"kind" yaml:"kind"`
	DisplayName string            `json:"display_name" yaml:"display_name"`
	Category    string            `json:"category" yaml:"category"` // marketplace | storefront | accounting
	Scopes      []string          `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	PKCE        bool              `json:"pkce,omitempty" yaml:"pkce,omitempty"`
	AuthStyle   string            `json:"auth_style,omitempty" yaml:"auth_style,omitempty"` // header | params
	AuthParams  map[string]string `json:"auth_params,omitempty" yaml:"auth_params,omitempty"`
	Production  *Endpoints        `json:"production,omitempty" yaml:"production,omitempty"`
	Sandbox     *Endpoints        `json:"sandbox,omitempty" yaml:"sandbox,omitempty"`
	// Plans allowed to connect in production. Empty means every plan.
	Plans      []string    `json:"plans,omitempty" yaml:"plans,omitempty"`
	Operations []Operation `json:"operations" yaml:"operations"`
}

func (d Definition) Endpoints(env Environment) (*Endpoints, bool) {
	switch env {
	case Production:
		return d.Production, d.Production != nil
	case Sandbox:
		return d.Sandbox, d.Sandbox != nil
	}
	return nil, false
}

func (d Definition) Supports(env Environment) bool {
	_, ok := d.Endpoints(env)
	return ok
}

func (d Definition) Operation(id string) (Operation, bool) {
	for _, op := range d.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}

func (d Definition) OperationIDs() []string {
	out := make([]string, 0, len(d.Operations))
	for _, op := range d.Operations {
		out = append(out, op.ID)
	}
	sort.Strings(out)
	return out
}
