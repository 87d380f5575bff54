package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"

	"prosthesisgw/store"
	"prosthesisgw/store/migrations"
)

const (
	testRealm    = "clinic"
	testClientID = "gateway"
	testKeyID    = "test-key"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(keycloakURL string) Config {
	cfg := DefaultConfig()
	cfg.Server.BaseURL = "https://gateway.example.com"
	cfg.Keycloak.BaseURL = keycloakURL
	cfg.Keycloak.Realm = testRealm
	cfg.Keycloak.ClientID = testClientID
	cfg.Keycloak.ClientSecret = "s3cret"
	cfg.Keycloak.Timeout = 5 * time.Second
	return cfg
}

// unsignedToken builds an HS256 token; the gateway never checks its signature
// unless verification is enabled.
func unsignedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("irrelevant"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func accessTokenFor(t *testing.T, sub string, roles ...string) string {
	t.Helper()
	anyRoles := make([]any, 0, len(roles))
	for _, r := range roles {
		anyRoles = append(anyRoles, r)
	}
	return unsignedToken(t, jwt.MapClaims{
		"sub":                sub,
		"email":              sub + "@example.com",
		"preferred_username": sub,
		"exp":                time.Now().Add(time.Hour).Unix(),
		"realm_access":       map[string]any{"roles": anyRoles},
	})
}

func setupRecordStore(t *testing.T) (*store.UserRepository, *store.ReportRepository) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, "file:"+filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(db) })
	if _, err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.NewUserRepository(db, discardLogger()), store.NewReportRepository(db, discardLogger())
}

// stubIDP answers Exchange from a fixed token set and decodes tokens locally.
type stubIDP struct {
	mu          sync.Mutex
	tokens      TokenSet
	exchangeErr error
	decodeErr   error
	revokeErr   error
	codes       []string
	revoked     []string
}

func (s *stubIDP) Exchange(_ context.Context, code string) (TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes = append(s.codes, code)
	if s.exchangeErr != nil {
		return TokenSet{}, s.exchangeErr
	}
	return s.tokens, nil
}

func (s *stubIDP) DecodeToken(_ context.Context, raw string) (Claims, error) {
	if s.decodeErr != nil {
		return Claims{}, s.decodeErr
	}
	return DecodeAccessToken(raw)
}

func (s *stubIDP) RevokeSession(_ context.Context, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = append(s.revoked, refreshToken)
	return s.revokeErr
}

// failingUsers is a user store whose every call fails.
type failingUsers struct{}

var errStoreDown = errors.New("database is down")

func (failingUsers) Create(context.Context, *store.User) error { return errStoreDown }
func (failingUsers) GetByID(context.Context, string) (*store.User, error) {
	return nil, errStoreDown
}
func (failingUsers) List(context.Context) ([]store.User, error) { return nil, errStoreDown }

type testEnv struct {
	app     *App
	idp     *stubIDP
	users   *store.UserRepository
	reports *store.ReportRepository
	handler http.Handler
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()
	users, reports := setupRecordStore(t)
	idp := &stubIDP{}
	app := NewApp(testConfig("https://sso.example.com"), idp, users, reports, discardLogger())
	return &testEnv{app: app, idp: idp, users: users, reports: reports, handler: app.Routes()}
}

func (e *testEnv) do(t *testing.T, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

// fakeKeycloak serves the realm endpoints the gateway calls.
type fakeKeycloak struct {
	srv *httptest.Server
	key *rsa.PrivateKey

	mu            sync.Mutex
	tokenStatus   int
	tokenResponse map[string]any
	tokenForms    []map[string]string
	logoutForms   []map[string]string
	logoutStatus  int
}

func newFakeKeycloak(t *testing.T) *fakeKeycloak {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	fk := &fakeKeycloak{key: key, tokenStatus: http.StatusOK, logoutStatus: http.StatusNoContent}

	base := "/realms/" + testRealm + "/protocol/openid-connect/"
	mux := http.NewServeMux()
	mux.HandleFunc(base+"token", fk.handleToken)
	mux.HandleFunc(base+"logout", fk.handleLogout)
	mux.HandleFunc(base+"certs", fk.handleCerts)
	fk.srv = httptest.NewServer(mux)
	t.Cleanup(fk.srv.Close)
	return fk
}

func (fk *fakeKeycloak) issuer() string {
	return fk.srv.URL + "/realms/" + testRealm
}

func (fk *fakeKeycloak) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(fk.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func formMap(r *http.Request) map[string]string {
	_ = r.ParseForm()
	out := map[string]string{}
	for k := range r.PostForm {
		out[k] = r.PostForm.Get(k)
	}
	if user, pass, ok := r.BasicAuth(); ok {
		out["basic_user"] = user
		out["basic_pass"] = pass
	}
	return out
}

func (fk *fakeKeycloak) handleToken(w http.ResponseWriter, r *http.Request) {
	fk.mu.Lock()
	fk.tokenForms = append(fk.tokenForms, formMap(r))
	status, body := fk.tokenStatus, fk.tokenResponse
	fk.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status != http.StatusOK {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (fk *fakeKeycloak) handleLogout(w http.ResponseWriter, r *http.Request) {
	fk.mu.Lock()
	fk.logoutForms = append(fk.logoutForms, formMap(r))
	status := fk.logoutStatus
	fk.mu.Unlock()
	w.WriteHeader(status)
}

func (fk *fakeKeycloak) handleCerts(w http.ResponseWriter, r *http.Request) {
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &fk.key.PublicKey,
		KeyID:     testKeyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}
