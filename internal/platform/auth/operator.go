package auth

import (
	"context"
	"net/http"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/printhaus/api/internal/platform/httpx"
)

const (
	defaultRoleClaim  = "role"
	defaultRolesClaim = "roles"
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase ID tokens into operator identities.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
}

// Option customises the Authenticator.
type Option func(*Authenticator)

// WithRoleClaim overrides the custom claim holding the operator role.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim != "" {
			a.roleClaim = claim
		}
	}
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireRole verifies the bearer token and admits identities holding one of roles.
// With no roles any verified identity is admitted.
func (a *Authenticator) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "authentication is not configured")
				return
			}

			verified, err := a.verifier.VerifyIDToken(ctx, token)
			if err != nil {
				code := "invalid_token"
				if firebaseauth.IsIDTokenExpired(err) {
					code = "token_expired"
				}
				respondAuthError(ctx, w, http.StatusUnauthorized, code, "firebase id token verification failed")
				return
			}

			identity := &Identity{
				UID:   verified.UID,
				Email: claimString(verified.Claims, "email"),
				Roles: a.rolesFromClaims(verified.Claims),
			}
			if !admits(identity, roles) {
				respondAuthError(ctx, w, http.StatusForbidden, "insufficient_role", "operator does not have the required role")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func admits(identity *Identity, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, role := range roles {
		if identity.HasRole(role) {
			return true
		}
	}
	return false
}

// rolesFromClaims reads the role claim (string or list), a "roles" list and the
// boolean "admin" claim set by the Firebase console tooling.
func (a *Authenticator) rolesFromClaims(claims map[string]any) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(role string) {
		role = normaliseRole(role)
		if role == "" {
			return
		}
		if _, dup := seen[role]; dup {
			return
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}

	for _, key := range []string{a.roleClaim, defaultRolesClaim} {
		switch v := claims[key].(type) {
		case string:
			add(v)
		case []string:
			for _, role := range v {
				add(role)
			}
		case []any:
			for _, item := range v {
				if role, ok := item.(string); ok {
					add(role)
				}
			}
		}
	}
	if admin, ok := claims[RoleAdmin].(bool); ok && admin {
		add(RoleAdmin)
	}
	return out
}

func claimString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return value
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
