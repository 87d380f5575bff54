package server

import (
	"errors"
	"net/http"
	"net/url"
)

// LoginURL is the authorization endpoint a browser is sent to when it has no
// usable session.
func LoginURL(cfg Config) string {
	q := url.Values{}
	q.Set("client_id", cfg.Keycloak.ClientID)
	q.Set("response_type", "code")
	q.Set("scope", "openid")
	q.Set("redirect_uri", cfg.RedirectURI())
	return cfg.AuthURL() + "?" + q.Encode()
}

// renderError maps a pipeline failure onto a response. Details stay in logs.
func (a *App) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *AuthError
	switch {
	case IsUnauthenticated(err):
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, LoginURL(a.Config), http.StatusFound)
	case errors.As(err, &ae) && ae.Kind == KindForbidden:
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	default:
		a.Logger.Error("request failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{
			"detail": http.StatusText(http.StatusInternalServerError),
		})
	}
}

// UnauthorizedInterceptor replaces any 401 written downstream with a redirect
// to loginURL. Every other status passes through untouched.
func UnauthorizedInterceptor(loginURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(&interceptWriter{ResponseWriter: w, loginURL: loginURL}, r)
		})
	}
}

type interceptWriter struct {
	http.ResponseWriter
	loginURL    string
	wroteHeader bool
	swallow     bool
}

func (w *interceptWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	if status != http.StatusUnauthorized {
		w.ResponseWriter.WriteHeader(status)
		return
	}

	w.swallow = true
	h := w.ResponseWriter.Header()
	h.Del("Content-Type")
	h.Del("Content-Length")
	h.Del("WWW-Authenticate")
	h.Set("Cache-Control", "no-store")
	h.Set("Location", w.loginURL)
	w.ResponseWriter.WriteHeader(http.StatusFound)
}

func (w *interceptWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.swallow {
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}

func (w *interceptWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
