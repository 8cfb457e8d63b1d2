package middleware

import (
	"net/http"

	"bookkeepingcpa/pkg/problems"
	"bookkeepingcpa/pkg/respond"
)

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := CallerFrom(r.Context())
			if !ok {
				respond.Error(w, problems.New(problems.Unauthenticated, ""))
				return
			}
			if _, ok := allowed[c.Role]; !ok {
				respond.Error(w, problems.New(problems.Forbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
