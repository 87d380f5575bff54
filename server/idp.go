package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// IdentityProvider represents the behaviour required from the upstream IdP.
type IdentityProvider interface {
	Exchange(ctx context.Context, code string) (TokenSet, error)
	DecodeToken(ctx context.Context, raw string) (Claims, error)
	RevokeSession(ctx context.Context, refreshToken string) error
}

// KeycloakProvider talks to a single Keycloak realm.
type KeycloakProvider struct {
	oauthConfig  *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	logoutURL    string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewKeycloakProvider builds the realm client from configuration. Endpoints are
// derived from the realm path, so no discovery round-trip happens at startup.
// The returned value is shared by all requests and never mutated.
func NewKeycloakProvider(ctx context.Context, cfg Config, logger *slog.Logger) (*KeycloakProvider, error) {
	kc := cfg.Keycloak
	if kc.Realm == "" || kc.ClientID == "" {
		return nil, fmt.Errorf("keycloak realm and client_id required")
	}

	endpoint := oauth2.Endpoint{
		AuthURL:  cfg.AuthURL(),
		TokenURL: cfg.TokenURL(),
	}
	if kc.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	httpClient := &http.Client{Timeout: kc.Timeout}

	p := &KeycloakProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     kc.ClientID,
			ClientSecret: kc.ClientSecret,
			RedirectURL:  cfg.RedirectURI(),
			Endpoint:     endpoint,
			Scopes:       []string{oidc.ScopeOpenID},
		},
		logoutURL:    cfg.LogoutURL(),
		clientID:     kc.ClientID,
		clientSecret: kc.ClientSecret,
		httpClient:   httpClient,
		logger:       logger,
	}

	if kc.VerifyTokens {
		keyCtx := oidc.ClientContext(ctx, httpClient)
		keys := oidc.NewRemoteKeySet(keyCtx, cfg.CertsURL())
		// Keycloak access tokens are audienced to "account", not to this client.
		p.verifier = oidc.NewVerifier(cfg.Issuer(), keys, &oidc.Config{SkipClientIDCheck: true})
	}

	return p, nil
}

// Exchange redeems an authorization code for the realm's token set.
func (p *KeycloakProvider) Exchange(ctx context.Context, code string) (TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return TokenSet{}, newFailure(KindTokenExchangeFailed, "exchange code", err)
	}

	set := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		AccessTTL:    extraSeconds(tok, "expires_in"),
		RefreshTTL:   extraSeconds(tok, "refresh_expires_in"),
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		set.IDToken = idToken
	}
	p.logger.Debug("idp.exchange", "access_ttl", set.AccessTTL, "refresh_ttl", set.RefreshTTL)
	return set, nil
}

// DecodeToken returns the claims of an access token. Signatures, issuer and
// expiry are checked against the realm keys only when verification is enabled.
func (p *KeycloakProvider) DecodeToken(ctx context.Context, raw string) (Claims, error) {
	if p.verifier == nil {
		return DecodeAccessToken(raw)
	}

	tok, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return Claims{}, newFailure(KindTokenDecodeFailed, "verify token", err)
	}
	var m map[string]any
	if err := tok.Claims(&m); err != nil {
		return Claims{}, newFailure(KindTokenDecodeFailed, "parse claims", err)
	}
	return DecodeClaimsMap(m)
}

// RevokeSession ends the realm session bound to refreshToken.
func (p *KeycloakProvider) RevokeSession(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("refresh token required")
	}

	form := url.Values{}
	form.Set("client_id", p.clientID)
	if p.clientSecret != "" {
		form.Set("client_secret", p.clientSecret)
	}
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.logoutURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create logout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call logout endpoint: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("logout endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// extraSeconds reads a numeric seconds field from the raw token response.
func extraSeconds(tok *oauth2.Token, key string) time.Duration {
	var secs int64
	switch v := tok.Extra(key).(type) {
	case float64:
		secs = int64(v)
	case int64:
		secs = v
	case int:
		secs = int64(v)
	case json.Number:
		secs, _ = v.Int64()
	case string:
		secs, _ = strconv.ParseInt(v, 10, 64)
	}
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
