package auth

import "context"

type contextKey string

const (
	contextKeyRole    contextKey = "auth.role"
	contextKeySubject contextKey = "auth.subject"
)

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return ctx
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts the caller subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeySubject)
	if subject, ok := value.(string); ok {
		return subject
	}
	return ""
}

// ActsAsContact reports whether the caller may submit a confirmation
// response or peer report as the given contact. Contacts only act as
// themselves; caretakers and admins may act for any contact. A request
// that never passed the middleware carries no role and is not
// restricted here.
func ActsAsContact(ctx context.Context, contactID string) bool {
	role := RoleFromContext(ctx)
	if role == "" {
		return true
	}
	if RoleAtLeast(role, RoleCaretaker) {
		return true
	}
	return SubjectFromContext(ctx) == contactID
}
