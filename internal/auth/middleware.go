package auth

import (
	"errors"
	"log"
	"net/http"
	"strings"
)

// Middleware validates JWTs and enforces RBAC.
type Middleware struct {
	Secret []byte
	Policy Policy
	Logger *log.Logger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// WithLogger logs rejected requests to logger.
func (m *Middleware) WithLogger(logger *log.Logger) *Middleware {
	if m != nil {
		m.Logger = logger
	}
	return m
}

// Wrap applies auth and RBAC to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(m.token(r), m.Secret)
		if err != nil {
			m.deny(r, err)
			if errors.Is(err, ErrTokenExpired) {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="expired"`)
			} else {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			m.deny(r, ErrForbidden)
			http.Error(w, ErrForbidden.Error(), http.StatusForbidden)
			return
		}
		ctx := WithIdentity(r.Context(), role, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// token reads the bearer header, or the access_token query parameter on
// paths the policy allows it for (browsers cannot set headers on EventSource).
func (m *Middleware) token(r *http.Request) string {
	if token := extractBearer(r); token != "" {
		return token
	}
	if m.Policy.AllowsQueryToken(r) {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func (m *Middleware) deny(r *http.Request, err error) {
	if m.Logger == nil {
		return
	}
	m.Logger.Printf("auth denied %s %s: %v", r.Method, r.URL.Path, err)
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
