package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware verifies bearer tokens, enforces the role the policy asks for and puts
// the caller's tenant, role and subject on the request context.
type Middleware struct {
	Secret []byte
	Policy Policy
	Logger *zap.Logger
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy, Logger: zap.NewNop()}
}

// WithLogger sets the logger used for rejected requests.
func (m *Middleware) WithLogger(logger *zap.Logger) *Middleware {
	if m != nil && logger != nil {
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

		claims, err := ParseJWT(extractBearer(r), m.Secret)
		if err != nil {
			m.reject(r, "invalid token", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="factory-telemetry"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			m.reject(r, "insufficient role", nil, zap.String("tenant", claims.Tenant), zap.String("role", string(role)), zap.String("required", string(required)))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ctx := WithIdentity(r.Context(), claims.Tenant, role, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) reject(r *http.Request, reason string, err error, fields ...zap.Field) {
	if m.Logger == nil {
		return
	}
	fields = append(fields,
		zap.String("reason", reason),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	m.Logger.Debug("request rejected", fields...)
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
