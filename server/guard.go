package server

import (
	"context"
	"net/http"
)

type claimsKey struct{}

// WithClaims stores resolved claims on the request context.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims a Role Guard admitted.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// CurrentClaims resolves the caller from the access-token cookie. Only the
// access token is read; the refresh and id tokens are ignored here.
func (a *App) CurrentClaims(r *http.Request) (Claims, error) {
	raw := a.Cookies.AccessToken(r)
	if raw == "" {
		return Claims{}, Unauthenticated("no access token cookie", nil)
	}
	claims, err := a.IDP.DecodeToken(r.Context(), raw)
	if err != nil {
		if KindOf(err) == 0 {
			err = newFailure(KindTokenDecodeFailed, "decode access token", err)
		}
		return Claims{}, Normalize(err)
	}
	if claims.Subject == "" {
		return Claims{}, Unauthenticated("access token has no sub", nil)
	}
	if claims.Expired(a.now()) {
		return Claims{}, Unauthenticated("access token expired", nil)
	}
	return claims, nil
}

// Authorize admits claims iff role is one of its realm roles.
func Authorize(claims Claims, role string) error {
	if role == "" || !claims.Roles.Has(role) {
		return Forbidden(role, claims.Roles.Sorted())
	}
	return nil
}

// RequireRole guards next behind membership of role.
func (a *App) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.CurrentClaims(r)
			if err != nil {
				a.Logger.Debug("guard rejected session", "role", role, "error", err)
				a.renderError(w, r, err)
				return
			}
			setLogSubject(r.Context(), claims.Subject)

			if err := Authorize(claims, role); err != nil {
				a.Logger.Warn("guard denied role",
					"user_sub", claims.Subject,
					"required_role", role,
					"roles", claims.Roles.Sorted(),
				)
				a.renderError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
