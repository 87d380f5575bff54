package server

import (
	"net/http"
	"net/url"
)

// EndSessionURL builds the realm logout redirect. idTokenHint is optional.
func EndSessionURL(cfg Config, idTokenHint string) string {
	q := url.Values{}
	q.Set("client_id", cfg.Keycloak.ClientID)
	q.Set("post_logout_redirect_uri", cfg.PostLogoutRedirectURI())
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	return cfg.LogoutURL() + "?" + q.Encode()
}

// handleLogout always clears the session and redirects, valid session or not.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	idToken := a.Cookies.IDToken(r)

	if refresh := a.Cookies.RefreshToken(r); refresh != "" {
		if err := a.IDP.RevokeSession(r.Context(), refresh); err != nil {
			a.Logger.Warn("revoke idp session", "request_id", RequestIDFromContext(r.Context()), "error", err)
		}
	}

	a.Cookies.Clear(w)
	http.Redirect(w, r, EndSessionURL(a.Config, idToken), http.StatusFound)
}
