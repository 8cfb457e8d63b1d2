package connection

import (
	"bookkeepingcpa/internal/providers"
	"bookkeepingcpa/pkg/problems"
)

// Directory picks the Manager for an environment. Production and sandbox never share one.
type Directory struct {
	byEnv map[providers.Environment]*Manager
}

func NewDirectory(managers ...*Manager) *Directory {
	d := &Directory{byEnv: map[providers.Environment]*Manager{}}
	for _, m := range managers {
		d.byEnv[m.Environment()] = m
	}
	return d
}

func (d *Directory) For(env providers.Environment) (*Manager, error) {
	if !env.Valid() {
		return nil, problems.Newf(problems.InvalidRequest, "unknown environment %q", env)
	}
	m, ok := d.byEnv[env]
	if !ok {
		return nil, problems.Newf(problems.ProviderUnavailable, "%s connections are not enabled", env)
	}
	return m, nil
}
