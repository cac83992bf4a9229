package auth

import "context"

type contextKey string

const contextKeyIdentity contextKey = "auth.identity"

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject string
	Role    Role
}

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, role Role, subject string) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, Identity{Subject: subject, Role: role})
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(contextKeyIdentity).(Identity)
	return identity, ok
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	identity, _ := IdentityFromContext(ctx)
	return identity.Role
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	identity, _ := IdentityFromContext(ctx)
	return identity.Subject
}
