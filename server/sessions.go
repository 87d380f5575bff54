package server

import (
	"log/slog"
	"net/http"
	"time"
)

// Session cookie names. The browser cookie jar is the only copy of the tokens.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	IDTokenCookie      = "id_token"
)

// SessionCookies encodes and decodes the three session cookies.
// It is the only writer of those cookies.
type SessionCookies struct {
	logger     *slog.Logger
	accessTTL  time.Duration
	refreshTTL time.Duration
	maxAge     time.Duration
}

// NewSessionCookies constructs a cookie manager honouring config.
func NewSessionCookies(cfg SessionConfig, logger *slog.Logger) *SessionCookies {
	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &SessionCookies{
		logger:     logger,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		maxAge:     cfg.MaxAge,
	}
}

// Set writes all three session cookies. The access and id token share the
// access TTL; the refresh token uses the refresh TTL.
func (sc *SessionCookies) Set(w http.ResponseWriter, tokens TokenSet) {
	accessAge := sc.age(tokens.AccessTTL, sc.accessTTL)
	refreshAge := sc.age(tokens.RefreshTTL, sc.refreshTTL)

	http.SetCookie(w, sessionCookie(AccessTokenCookie, tokens.AccessToken, accessAge))
	http.SetCookie(w, sessionCookie(RefreshTokenCookie, tokens.RefreshToken, refreshAge))
	http.SetCookie(w, sessionCookie(IDTokenCookie, tokens.IDToken, accessAge))
	sc.logger.Debug("session cookies set", "access_max_age", accessAge, "refresh_max_age", refreshAge)
}

// AccessToken returns the access-token cookie value or "".
func (sc *SessionCookies) AccessToken(r *http.Request) string {
	return cookieValue(r, AccessTokenCookie)
}

// RefreshToken returns the refresh-token cookie value or "".
func (sc *SessionCookies) RefreshToken(r *http.Request) string {
	return cookieValue(r, RefreshTokenCookie)
}

// IDToken returns the id-token cookie value or "".
func (sc *SessionCookies) IDToken(r *http.Request) string {
	return cookieValue(r, IDTokenCookie)
}

// Clear expires all three cookies. Path and flags must match Set or browsers keep them.
func (sc *SessionCookies) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, IDTokenCookie, RefreshTokenCookie} {
		http.SetCookie(w, sessionCookie(name, "", -1))
	}
	sc.logger.Debug("session cookies cleared")
}

func (sc *SessionCookies) age(reported, fallback time.Duration) int {
	d := reported
	if d <= 0 {
		d = fallback
	}
	if sc.maxAge > 0 && d > sc.maxAge {
		d = sc.maxAge
	}
	return int(d / time.Second)
}

func sessionCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
