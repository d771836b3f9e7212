package api

import (
	"fmt"
	"net/http"
	"strings"

	"lastmile/internal/auth"
	"lastmile/internal/lifecycle"
	"lastmile/internal/model"
)

// getPrincipal extracts the caller identity from the Authorization header,
// falling back to the X-Role/X-Courier-Id development headers when no bearer
// token is present. In dev mode a missing role defaults to operator so bare
// curl against the memory store keeps working.
func (s *Server) getPrincipal(r *http.Request) auth.Principal {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if p, err := s.Auth.Verify(strings.TrimPrefix(h, "Bearer ")); err == nil {
			return p
		}
	}
	p := auth.Principal{
		Role:      r.Header.Get("X-Role"),
		CourierID: r.Header.Get("X-Courier-Id"),
	}
	if p.Role == "" && s.Auth.Mode == "dev" {
		p.Role = "operator"
	}
	return p
}

// actorOf maps the caller's role onto a transition actor. Unknown roles map
// to no actor and fail every authority check.
func actorOf(p auth.Principal) lifecycle.Actor {
	switch {
	case p.IsOperator():
		return lifecycle.ActorWarehouse
	case p.Role == "courier":
		return lifecycle.ActorCourier
	}
	return ""
}

// authorizeTransition rejects callers whose role does not own the track of
// the target status: couriers drive the field track, operators the
// back-office track. Cross-track writes happen only inside the syncer,
// below this layer.
func (s *Server) authorizeTransition(w http.ResponseWriter, r *http.Request, to model.Status) (auth.Principal, bool) {
	pr := s.getPrincipal(r)
	if !lifecycle.Authorized(actorOf(pr), to) {
		writeProblem(w, http.StatusForbidden, "Forbidden",
			fmt.Sprintf("role %q may not set status %s", pr.Role, to), r.URL.Path)
		return pr, false
	}
	return pr, true
}

func (s *Server) requireOperator(w http.ResponseWriter, r *http.Request) bool {
	if !s.getPrincipal(r).IsOperator() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator role required", r.URL.Path)
		return false
	}
	return true
}
