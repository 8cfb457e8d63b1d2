package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookkeepingcpa/internal/sandbox"
	"bookkeepingcpa/pkg/respond"
)

func (s *Server) initializeSandbox(w http.ResponseWriter, r *http.Request) {
	oc, err := s.resolve(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	var body struct {
		RefreshToken string            `json:"refresh_token"`
		Params       map[string]string `json:"params"`
	}
	if err := decodeOptional(r, &body); err != nil {
		respond.Error(w, err)
		return
	}
	v, err := s.Sandbox.InitializeSandbox(r.Context(), sandbox.InitializeRequest{
		TenantID:     oc.EffectiveTenantID,
		Provider:     chi.URLParam(r, "provider"),
		RefreshToken: body.RefreshToken,
		Params:       body.Params,
	})
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w, "sandbox connected", v)
}

func (s *Server) sandboxStatus(w http.ResponseWriter, r *http.Request) {
	oc, err := s.resolve(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	v, err := s.Sandbox.GetStatus(r.Context(), oc.EffectiveTenantID, chi.URLParam(r, "provider"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w, "", v)
}

func (s *Server) resetSandbox(w http.ResponseWriter, r *http.Request) {
	oc, err := s.resolve(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	n, err := s.Sandbox.ResetSandbox(r.Context(), oc.EffectiveTenantID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w, "sandbox reset", map[string]int{"removed": n})
}
