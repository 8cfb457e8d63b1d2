// Package respond writes the {success, message, data} envelope every endpoint answers with.
package respond

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"bookkeepingcpa/pkg/problems"
)

type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`

	// failure-only fields
	Error             problems.Kind `json:"error,omitempty"`
	Type              string        `json:"type,omitempty"`
	Retryable         bool          `json:"retryable,omitempty"`
	RetryAfterSeconds int           `json:"retry_after_seconds,omitempty"`
}

func JSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func OK(w http.ResponseWriter, message string, data any) {
	JSON(w, Envelope{Success: true, Message: message, Data: data}, http.StatusOK)
}

// FromError converts err into a failure envelope and the HTTP status to send it with.
func FromError(err error) (Envelope, int) {
	k := problems.KindOf(err)
	env := Envelope{
		Success:   false,
		Message:   problems.Message(err),
		Error:     k,
		Type:      problems.Type(k),
		Retryable: problems.Retryable(k),
	}
	if ra := problems.RetryAfter(err); ra > 0 {
		env.RetryAfterSeconds = int(math.Ceil(ra.Seconds()))
	}
	return env, problems.Status(k)
}

func Error(w http.ResponseWriter, err error) {
	env, status := FromError(err)
	if env.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(env.RetryAfterSeconds))
	}
	JSON(w, env, status)
}
