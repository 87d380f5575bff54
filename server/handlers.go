package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"prosthesisgw/store"
)

// App bundles runtime dependencies for the HTTP service. All fields are set
// once by NewApp and shared read-only by every request.
type App struct {
	Config    Config
	Logger    *slog.Logger
	IDP       IdentityProvider
	Cookies   *SessionCookies
	Users     UserStore
	Reports   ReportStore
	Directory *UserDirectory
	Login     *LoginPipeline

	now func() time.Time
}

// NewApp wires the gateway from its collaborators.
func NewApp(cfg Config, idp IdentityProvider, users UserStore, reports ReportStore, logger *slog.Logger) *App {
	directory := NewUserDirectory(users, logger)
	return &App{
		Config:    cfg,
		Logger:    logger,
		IDP:       idp,
		Cookies:   NewSessionCookies(cfg.Session, logger),
		Users:     users,
		Reports:   reports,
		Directory: directory,
		Login:     NewLoginPipeline(idp, directory),
		now:       time.Now,
	}
}

func (a *App) handleReports(w http.ResponseWriter, r *http.Request) {
	reports, err := a.Reports.List(r.Context())
	if err != nil {
		a.renderError(w, r, RecordStoreFailure(err))
		return
	}
	if reports == nil {
		reports = []store.Report{}
	}
	writeJSON(w, map[string]any{"status": "ok", "reports": reports})
}

func (a *App) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.Users.List(r.Context())
	if err != nil {
		a.renderError(w, r, RecordStoreFailure(err))
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writeJSON(w, map[string]any{"status": "ok", "users": users})
}

// handleMe returns the record of the signed-in caller.
func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, err := a.CurrentClaims(r)
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	setLogSubject(r.Context(), claims.Subject)
	user, err := a.Users.GetByID(r.Context(), claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONStatus(w, http.StatusNotFound, map[string]string{"detail": "user record not found"})
		return
	}
	if err != nil {
		a.renderError(w, r, RecordStoreFailure(err))
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "user": user, "roles": claims.Roles.Sorted()})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
