package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"prosthesisgw/store"
)

func TestLoginPipelineFailures(t *testing.T) {
	users, _ := setupRecordStore(t)
	valid := TokenSet{AccessToken: accessTokenFor(t, "u1"), RefreshToken: "R", IDToken: "I"}

	tests := []struct {
		name     string
		params   CallbackParams
		tokens   TokenSet
		exchange error
		want     FailureKind
	}{
		{name: "idp error", params: CallbackParams{Error: "access_denied"}, want: KindIdentityProviderRejected},
		{name: "idp error with code", params: CallbackParams{Code: "abc", Error: "access_denied", ErrorDescription: "user cancelled"}, want: KindIdentityProviderRejected},
		{name: "no code", params: CallbackParams{}, want: KindMissingCode},
		{name: "exchange fails", params: CallbackParams{Code: "abc"}, exchange: errors.New("connection refused"), want: KindTokenExchangeFailed},
		{name: "no access token", params: CallbackParams{Code: "abc"}, tokens: TokenSet{RefreshToken: "R", IDToken: "I"}, want: KindMissingAccessToken},
		{name: "no refresh token", params: CallbackParams{Code: "abc"}, tokens: TokenSet{AccessToken: valid.AccessToken, IDToken: "I"}, want: KindMissingRefreshToken},
		{name: "no id token", params: CallbackParams{Code: "abc"}, tokens: TokenSet{AccessToken: valid.AccessToken, RefreshToken: "R"}, want: KindMissingIDToken},
		{name: "undecodable access token", params: CallbackParams{Code: "abc"}, tokens: TokenSet{AccessToken: "opaque", RefreshToken: "R", IDToken: "I"}, want: KindTokenDecodeFailed},
		{name: "no subject", params: CallbackParams{Code: "abc"}, tokens: TokenSet{AccessToken: accessTokenFor(t, ""), RefreshToken: "R", IDToken: "I"}, want: KindMissingSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := &stubIDP{tokens: tt.tokens, exchangeErr: tt.exchange}
			pipeline := NewLoginPipeline(idp, NewUserDirectory(users, discardLogger()))

			_, _, err := pipeline.Run(context.Background(), tt.params)
			if KindOf(err) != tt.want {
				t.Fatalf("kind mismatch: got %v want %v (err=%v)", KindOf(err), tt.want, err)
			}
			if !IsUnauthenticated(err) {
				t.Fatalf("authentication failure should normalize to unauthenticated: %v", err)
			}
			if tt.params.Error != "" && len(idp.codes) != 0 {
				t.Fatalf("code must not be exchanged when the idp reported an error")
			}
		})
	}

	list, err := users.List(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("failed logins must not create users, got %d", len(list))
	}
}

func TestLoginPipelineCreatesUserOnce(t *testing.T) {
	users, _ := setupRecordStore(t)
	idp := &stubIDP{tokens: TokenSet{AccessToken: accessTokenFor(t, "u1", "prosthetic-user"), RefreshToken: "R", IDToken: "I"}}
	pipeline := NewLoginPipeline(idp, NewUserDirectory(users, discardLogger()))

	for i := 0; i < 2; i++ {
		_, user, err := pipeline.Run(context.Background(), CallbackParams{Code: "abc123"})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if user.ID != "u1" || user.Email != "u1@example.com" {
			t.Fatalf("unexpected user: %+v", user)
		}
	}

	list, err := users.List(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one user record, got %d", len(list))
	}
}

func TestUserDirectoryKeepsExistingRecord(t *testing.T) {
	users, _ := setupRecordStore(t)
	ctx := context.Background()
	if err := users.Create(ctx, &store.User{ID: "u1", Email: "old@example.com", Name: "Old Name"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	dir := NewUserDirectory(users, discardLogger())
	user, err := dir.Resolve(ctx, Claims{Subject: "u1", Email: "new@example.com", Name: "New Name"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user.Email != "old@example.com" || user.Name != "Old Name" {
		t.Fatalf("existing record must not be overwritten: %+v", user)
	}
}

// racedUsers behaves like a store where another login created the record
// between our lookup and our insert.
type racedUsers struct {
	winner  *store.User
	gets    int
	creates int
}

func (u *racedUsers) GetByID(_ context.Context, id string) (*store.User, error) {
	u.gets++
	if u.gets == 1 {
		return nil, fmt.Errorf("get user %s: %w", id, store.ErrNotFound)
	}
	return u.winner, nil
}

func (u *racedUsers) Create(_ context.Context, user *store.User) error {
	u.creates++
	return fmt.Errorf("create user %s: %w: UNIQUE constraint failed: users.id", user.ID, store.ErrConflict)
}

func (u *racedUsers) List(context.Context) ([]store.User, error) { return nil, nil }

func TestUserDirectoryLostFirstLoginRace(t *testing.T) {
	winner := &store.User{ID: "u1", Email: "winner@example.com"}
	users := &racedUsers{winner: winner}

	got, err := NewUserDirectory(users, discardLogger()).Resolve(context.Background(), Claims{Subject: "u1", Email: "loser@example.com"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != winner {
		t.Fatalf("expected the existing row, got %+v", got)
	}
	if users.creates != 1 || users.gets != 2 {
		t.Fatalf("unexpected calls: creates=%d gets=%d", users.creates, users.gets)
	}
}

func TestUserDirectoryReportsStoreFailures(t *testing.T) {
	dir := NewUserDirectory(failingUsers{}, discardLogger())
	_, err := dir.Resolve(context.Background(), Claims{Subject: "u1"})
	if KindOf(err) != KindRecordStoreFailure {
		t.Fatalf("expected record store failure, got %v", err)
	}
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestUserDirectoryEmailTakenByOtherSubject(t *testing.T) {
	users, _ := setupRecordStore(t)
	ctx := context.Background()
	if err := users.Create(ctx, &store.User{ID: "u1", Email: "shared@example.com"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	_, err := NewUserDirectory(users, discardLogger()).Resolve(ctx, Claims{Subject: "u2", Email: "shared@example.com"})
	if KindOf(err) != KindRecordStoreFailure {
		t.Fatalf("expected record store failure, got %v", err)
	}
}

func TestLoginCallbackEstablishesSession(t *testing.T) {
	env := setupTestApp(t)
	access := accessTokenFor(t, "u1", "prosthetic-user")
	env.idp.tokens = TokenSet{AccessToken: access, RefreshToken: "R", IDToken: "I", AccessTTL: time.Hour}

	rec := env.do(t, "/api/login/callback?code=abc123")

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/protected" {
		t.Fatalf("redirect mismatch: %q", loc)
	}
	cookies := cookiesByName(rec)
	if len(cookies) != 3 {
		t.Fatalf("expected 3 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		assertSessionFlags(t, c)
	}
	if cookies[AccessTokenCookie].Value != access || cookies[AccessTokenCookie].MaxAge != 3600 {
		t.Fatalf("access cookie mismatch: %+v", cookies[AccessTokenCookie])
	}
	if cookies[RefreshTokenCookie].MaxAge != 2592000 {
		t.Fatalf("refresh cookie should fall back to 2592000, got %d", cookies[RefreshTokenCookie].MaxAge)
	}
	if env.idp.codes[0] != "abc123" {
		t.Fatalf("code not forwarded: %v", env.idp.codes)
	}

	user, err := env.users.GetByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("user not created: %v", err)
	}
	if user.PreferredUsername != "u1" {
		t.Fatalf("user fields not copied: %+v", user)
	}
}

func TestLoginCallbackFailureRedirectsWithoutCookies(t *testing.T) {
	env := setupTestApp(t)
	env.idp.tokens = TokenSet{AccessToken: accessTokenFor(t, "u1"), RefreshToken: "R"}

	for _, path := range []string{
		"/api/login/callback?code=abc123",
		"/api/login/callback?code=abc123&error=access_denied",
		"/api/login/callback",
	} {
		rec := env.do(t, path)
		if rec.Code != http.StatusFound {
			t.Fatalf("%s: expected redirect, got %d", path, rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != LoginURL(env.app.Config) {
			t.Fatalf("%s: expected login redirect, got %q", path, loc)
		}
		if n := len(rec.Result().Cookies()); n != 0 {
			t.Fatalf("%s: expected no cookies, got %d", path, n)
		}
		if strings.Contains(rec.Body.String(), "access_denied") {
			t.Fatalf("%s: provider detail leaked into body", path)
		}
	}
}

func TestLoginCallbackStoreFailureIsServerError(t *testing.T) {
	idp := &stubIDP{tokens: TokenSet{AccessToken: accessTokenFor(t, "u1"), RefreshToken: "R", IDToken: "I"}}
	app := NewApp(testConfig("https://sso.example.com"), idp, failingUsers{}, nil, discardLogger())
	env := &testEnv{app: app, idp: idp, handler: app.Routes()}

	rec := env.do(t, "/api/login/callback?code=abc123")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec.Header().Get("Location") != "" {
		t.Fatalf("store failure must not redirect")
	}
	if n := len(rec.Result().Cookies()); n != 0 {
		t.Fatalf("store failure must not set cookies, got %d", n)
	}
	if strings.Contains(rec.Body.String(), errStoreDown.Error()) {
		t.Fatalf("store detail leaked into body: %s", rec.Body.String())
	}
}

func TestCallbackParamsFromRequest(t *testing.T) {
	q := url.Values{"code": {"c"}, "error": {"e"}, "error_description": {"d"}}
	req, _ := http.NewRequest(http.MethodGet, "/api/login/callback?"+q.Encode(), nil)
	got := CallbackParamsFromRequest(req)
	if got != (CallbackParams{Code: "c", Error: "e", ErrorDescription: "d"}) {
		t.Fatalf("params mismatch: %+v", got)
	}
}
