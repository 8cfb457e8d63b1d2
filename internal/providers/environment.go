package providers

import (
	"strings"

	"bookkeepingcpa/pkg/problems"
)

// Environment selects which provider variant (and which storage namespace) a call targets.
type Environment string

const (
	Production Environment = "production"
	Sandbox    Environment = "sandbox"
)

func (e Environment) Valid() bool { return e == Production || e == Sandbox }

// ParseEnvironment has no default: an empty value is an error.
func ParseEnvironment(s string) (Environment, error) {
	e := Environment(strings.ToLower(strings.TrimSpace(s)))
	if e == "" {
		return "", problems.New(problems.InvalidRequest, "environment is required")
	}
	if !e.Valid() {
		return "", problems.Newf(problems.InvalidRequest, "unknown environment %q", s)
	}
	return e, nil
}
