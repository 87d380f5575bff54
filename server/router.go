package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router. Every route lives under the API prefix.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger, a.Config.Server.DevMode))
	r.Use(CORSMiddleware(a.Config.Server.CORS))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}
	r.Use(UnauthorizedInterceptor(LoginURL(a.Config)))

	r.Get("/healthz", a.handleHealth)

	r.Route(a.apiPrefix(), func(r chi.Router) {
		r.Get("/login/callback", a.handleLoginCallback)
		r.Get("/logout", a.handleLogout)
		r.Get("/me", a.handleMe)

		r.With(a.RequireRole(a.Config.Roles.ProstheticUser)).Get("/reports", a.handleReports)
		r.With(a.RequireRole(a.Config.Roles.Administrator)).Get("/users", a.handleUsers)
	})

	return r
}

func (a *App) apiPrefix() string {
	if a.Config.Server.APIPrefix == "" {
		return "/"
	}
	return a.Config.Server.APIPrefix
}
