package problems

import (
	"os"
	"strings"
)

// TypeBase is the prefix of the `type` URI in failure envelopes.
// PROBLEM_BASE_URL wins; otherwise the docs hang off BASE_PUBLIC_URL.
func TypeBase() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	base := os.Getenv("BASE_PUBLIC_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return strings.TrimRight(base, "/") + "/problems"
}

// Type is the documentation URI of a kind, e.g. .../problems/upstream-rate-limited.
func Type(k Kind) string {
	return TypeBase() + "/" + strings.ReplaceAll(string(k), "_", "-")
}
