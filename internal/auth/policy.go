package auth

import (
	"net/http"
	"strings"
)

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves the required role for the request.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	method := r.Method

	switch {
	case path == "/api/v1/heartbeats":
		return RoleContact, true
	case path == "/api/v1/activity":
		return RoleContact, true
	case path == "/api/v1/peer-reports":
		return RoleContact, true
	case path == "/api/v1/notices":
		return RoleContact, true
	case strings.HasPrefix(path, "/api/v1/confirmations/"):
		return RoleContact, true
	case strings.HasPrefix(path, "/api/v1/evaluations"):
		return RoleCaretaker, true
	case path == "/api/v1/alerts":
		return RoleCaretaker, true
	case strings.HasPrefix(path, "/api/v1/subjects/"):
		if method == http.MethodGet {
			return RoleCaretaker, true
		}
		if strings.HasSuffix(path, "/rules") {
			return RoleCaretaker, true
		}
		return RoleAdmin, true
	case strings.HasPrefix(path, "/api/v1/exports/"):
		return RoleAdmin, true
	}

	if strings.HasPrefix(path, "/api/") {
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return RoleCaretaker, true
		}
		return RoleAdmin, true
	}
	return "", false
}
