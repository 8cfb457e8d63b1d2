package openapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Operation is one HTTP operation surfaced in the document.
type Operation struct {
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	OperationID string         `json:"operationId,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Parameters  []Parameter    `json:"parameters,omitempty"`
	RequestBody any            `json:"requestBody,omitempty"`
	Responses   map[string]any `json:"responses"`
	// Public operations carry no bearer requirement (e.g. provider callbacks).
	Public bool `json:"-"`
}

type Parameter struct {
	Name        string         `json:"name"`
	In          string         `json:"in"` // path | query | header
	Required    bool           `json:"required,omitempty"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema"`
}

// PathParam and QueryParam build string parameters.
func PathParam(name, desc string, enum ...string) Parameter {
	s := map[string]any{"type": "string"}
	if len(enum) > 0 {
		s["enum"] = enum
	}
	return Parameter{Name: name, In: "path", Required: true, Description: desc, Schema: s}
}

func QueryParam(name, desc string) Parameter {
	return Parameter{Name: name, In: "query", Description: desc, Schema: map[string]any{"type": "string"}}
}

// Registry collects operations; Build renders them sorted by path then method.
type Registry struct {
	Ops []Operation
}

func NewRegistry() *Registry { return &Registry{Ops: []Operation{}} }

func (r *Registry) Register(op Operation) {
	op.Method = strings.ToLower(op.Method)
	if op.Responses == nil {
		op.Responses = EnvelopeResponses()
	}
	r.Ops = append(r.Ops, op)
}

// EnvelopeResponses describes the {success, message, data} envelope every endpoint answers with.
func EnvelopeResponses() map[string]any {
	ref := map[string]any{"content": map[string]any{"application/json": map[string]any{
		"schema": map[string]any{"$ref": "#/components/schemas/Envelope"},
	}}}
	ok := map[string]any{"description": "success"}
	fail := map[string]any{"description": "failure; `error` carries the kind"}
	for k, v := range ref {
		ok[k] = v
		fail[k] = v
	}
	return map[string]any{"200": ok, "default": fail}
}

func (r *Registry) Build(serviceName, version string) map[string]any {
	ops := append([]Operation(nil), r.Ops...)
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Path != ops[j].Path {
			return ops[i].Path < ops[j].Path
		}
		return ops[i].Method < ops[j].Method
	})
	paths := map[string]any{}
	for _, op := range ops {
		if _, ok := paths[op.Path]; !ok {
			paths[op.Path] = map[string]any{}
		}
		m := map[string]any{
			"summary":   op.Summary,
			"tags":      op.Tags,
			"responses": op.Responses,
		}
		if op.OperationID != "" {
			m["operationId"] = op.OperationID
		}
		if op.Description != "" {
			m["description"] = op.Description
		}
		if len(op.Parameters) > 0 {
			m["parameters"] = op.Parameters
		}
		if op.RequestBody != nil {
			m["requestBody"] = op.RequestBody
		}
		if op.Public {
			m["security"] = []any{}
		}
		paths[op.Path].(map[string]any)[op.Method] = m
	}
	return map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": serviceName, "version": version},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearer": map[string]any{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
			"schemas": map[string]any{
				"Envelope": map[string]any{
					"type":     "object",
					"required": []string{"success"},
					"properties": map[string]any{
						"success":             map[string]any{"type": "boolean"},
						"message":             map[string]any{"type": "string"},
						"data":                map[string]any{},
						"error":               map[string]any{"type": "string"},
						"type":                map[string]any{"type": "string"},
						"retryable":           map[string]any{"type": "boolean"},
						"retry_after_seconds": map[string]any{"type": "integer"},
					},
				},
			},
		},
		"security": []map[string]any{{"bearer": []string{}}},
	}
}

// ServeHandler serves the built document as JSON.
func (r *Registry) ServeHandler(serviceName, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Build(serviceName, version))
	}
}
