package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"aura-gateway/internal/util"
)

type contextKey string

const principalContextKey contextKey = "aura-principal"

// Gate authenticates callers and enforces the single role each route declares.
// It fails closed: any problem with the credential resolves to
// RoleUnauthenticated.
type Gate struct {
	idp    IdentityProvider
	realm  string
	logger *zap.Logger
	// OnReject is invoked for every rejected request, e.g. to count it.
	OnReject func(r *http.Request, required Role, got Principal)
}

func NewGate(idp IdentityProvider, realm string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{idp: idp, realm: realm, logger: logger}
}

// Resolve maps the request's credential to a principal.
func (g *Gate) Resolve(r *http.Request) Principal {
	principal, _ := g.resolve(r)
	return principal
}

// resolve also reports why a credential was not accepted.
func (g *Gate) resolve(r *http.Request) (Principal, error) {
	username, password, ok := r.BasicAuth()
	if !ok || username == "" {
		return Anonymous, nil
	}
	if g.idp == nil {
		return Anonymous, nil
	}

	principal, err := g.idp.Authenticate(r.Context(), Credentials{Username: username, Password: password})
	if err != nil {
		g.logger.Debug("Credential rejected",
			util.String("username", util.SanitizeLogValue(username)),
			util.ErrorField(err),
		)
		return Anonymous, err
	}
	if principal.Role == "" {
		return Anonymous, nil
	}
	return principal, nil
}

// Authorize returns nil when p may invoke an operation requiring role.
func Authorize(p Principal, required Role) error {
	if p.Role == RoleUnauthenticated || p.Role == "" {
		return ErrUnauthenticated
	}
	if p.Role != required {
		return ErrForbidden
	}
	return nil
}

// Require builds middleware that only lets principals holding role through.
// Rejected requests never reach next.
func (g *Gate) Require(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, resolveErr := g.resolve(r)
			err := Authorize(principal, role)
			if errors.Is(resolveErr, ErrVerifierBusy) {
				err = ErrVerifierBusy
			}
			if err != nil {
				if g.OnReject != nil {
					g.OnReject(r, role, principal)
				}
				g.logger.Warn("Request rejected by role gate",
					util.String("path", r.URL.Path),
					util.String("required_role", string(role)),
					util.String("caller_role", string(principal.Role)),
					util.String("subject", principal.Subject),
				)
				g.reject(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func (g *Gate) reject(w http.ResponseWriter, err error) {
	status := http.StatusForbidden
	message := "Caller does not hold the required role"
	switch err {
	case ErrUnauthenticated:
		status = http.StatusUnauthorized
		message = "Valid credentials are required"
		w.Header().Set("WWW-Authenticate", `Basic realm="`+g.realm+`", charset="UTF-8"`)
	case ErrVerifierBusy:
		status = http.StatusServiceUnavailable
		message = "Too many credential checks in progress"
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   err.Error(),
		"message": message,
	})
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the principal stored by Require, or Anonymous.
func PrincipalFromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalContextKey).(Principal); ok {
		return p
	}
	return Anonymous
}
