// Package entitlement decides whether a tenant's plan lets it connect a provider.
package entitlement

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/pkg/logger"
	"bookkeepingcpa/pkg/problems"
	"bookkeepingcpa/pkg/tenants"
)

//go:embed default.rego
var defaultPolicy string

// Input is what the policy sees as `input`.
type Input struct {
	TenantID      string   `json:"tenant_id"`
	Plan          string   `json:"plan"`
	Provider      string   `json:"provider"`
	Environment   string   `json:"environment"`
	ProviderPlans []string `json:"provider_plans"`
}

// Policy is a prepared `data.entitlement.allow` query.
type Policy struct {
	query rego.PreparedEvalQuery
}

// NewPolicy compiles module; an empty module means the built-in plan policy.
func NewPolicy(ctx context.Context, module string) (*Policy, error) {
	if module == "" {
		module = defaultPolicy
	}
	q, err := rego.New(
		rego.Query("data.entitlement.allow"),
		rego.Module("entitlement.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile entitlement policy: %w", err)
	}
	return &Policy{query: q}, nil
}

// LoadPolicy reads the policy file, or uses the built-in policy when path is empty.
func LoadPolicy(ctx context.Context, path string) (*Policy, error) {
	if path == "" {
		return NewPolicy(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewPolicy(ctx, string(b))
}

func (p *Policy) Allow(ctx context.Context, in Input) (bool, error) {
	if in.ProviderPlans == nil {
		in.ProviderPlans = []string{}
	}
	rs, err := p.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}

// DefinitionSource is satisfied by *providers.Registry.
type DefinitionSource interface {
	Definition(id string) (providers.Definition, error)
}

// Checker joins the tenant's plan with the provider's plan list and asks the policy.
type Checker struct {
	policy  *Policy
	tenants tenants.Provider
	defs    DefinitionSource
	log     logger.Sugared
}

func NewChecker(policy *Policy, tp tenants.Provider, defs DefinitionSource, log logger.Sugared) *Checker {
	return &Checker{policy: policy, tenants: tp, defs: defs, log: logger.OrNop(log)}
}

// Check returns nil when the tenant may connect provider in env.
func (c *Checker) Check(ctx context.Context, tenantID, provider string, env providers.Environment) error {
	t, err := c.tenants.ResolveTenantByID(ctx, tenantID)
	if errors.Is(err, tenants.ErrNotFound) {
		return problems.New(problems.TenantNotFound, "")
	}
	if err != nil {
		return problems.Wrap(problems.Internal, err, "")
	}
	if !t.Active {
		return problems.New(problems.Forbidden, "this client account is inactive")
	}
	def, err := c.defs.Definition(provider)
	if err != nil {
		return err
	}
	ok, err := c.policy.Allow(ctx, Input{
		TenantID:      t.ID,
		Plan:          t.Plan,
		Provider:      def.ID,
		Environment:   string(env),
		ProviderPlans: def.Plans,
	})
	if err != nil {
		return problems.Wrap(problems.Internal, err, "entitlement check failed")
	}
	if !ok {
		c.log.Infow("provider not included in plan", "tenant_id", t.ID, "plan", t.Plan, "provider", def.ID)
		return problems.Newf(problems.ProviderUnavailable, "%s is not included in the %s plan", def.DisplayName, t.Plan)
	}
	return nil
}
