package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Session cookie lifetimes used when the provider omits a TTL.
const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Keycloak KeycloakConfig `yaml:"keycloak"`
	Roles    RoleConfig     `yaml:"roles"`
	Session  SessionConfig  `yaml:"session"`
	Database DatabaseConfig `yaml:"database"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	BaseURL         string     `yaml:"base_url" env:"BASE_URL"`
	APIPrefix       string     `yaml:"api_prefix" env:"GATEWAY_API_PREFIX"`
	PostLoginPath   string     `yaml:"post_login_path" env:"GATEWAY_POST_LOGIN_PATH"`
	DevMode         bool       `yaml:"dev_mode" env:"GATEWAY_DEV_MODE"`
	DevListenAddr   string     `yaml:"dev_listen_addr" env:"GATEWAY_DEV_LISTEN_ADDR"`
	HTTPListenAddr  string     `yaml:"http_listen_addr" env:"GATEWAY_HTTP_LISTEN_ADDR"`
	HTTPSListenAddr string     `yaml:"https_listen_addr" env:"GATEWAY_HTTPS_LISTEN_ADDR"`
	TLS             TLSConfig  `yaml:"tls"`
	CORS            CORSConfig `yaml:"cors"`
}

// TLSConfig defines autocert behaviour.
type TLSConfig struct {
	Domains    []string `yaml:"domains" env:"GATEWAY_TLS_DOMAINS" envSeparator:","`
	Email      string   `yaml:"email" env:"GATEWAY_TLS_EMAIL"`
	CacheDir   string   `yaml:"cache_dir" env:"GATEWAY_TLS_CACHE_DIR"`
	HSTSMaxAge int      `yaml:"hsts_max_age" env:"GATEWAY_HSTS_MAX_AGE"`
}

// CORSConfig lists browser origins allowed to call the API with credentials.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"GATEWAY_CORS_ORIGINS" envSeparator:","`
}

// KeycloakConfig locates the realm and the confidential client used for the code exchange.
type KeycloakConfig struct {
	BaseURL      string        `yaml:"base_url" env:"KEYCLOAK_BASE_URL"`
	Realm        string        `yaml:"realm" env:"KEYCLOAK_REALM"`
	ClientID     string        `yaml:"client_id" env:"KEYCLOAK_CLIENT_ID"`
	ClientSecret string        `yaml:"client_secret" env:"KEYCLOAK_CLIENT_SECRET"`
	VerifyTokens bool          `yaml:"verify_tokens" env:"KEYCLOAK_VERIFY_TOKENS"`
	Timeout      time.Duration `yaml:"timeout" env:"KEYCLOAK_TIMEOUT"`
}

// RoleConfig names the realm roles required by each guarded endpoint.
type RoleConfig struct {
	Administrator  string `yaml:"administrator" env:"KEYCLOAK_ADMIN_ROLE"`
	ProstheticUser string `yaml:"prosthetic_user" env:"KEYCLOAK_PROTHETIC_USER_ROLE"`
}

// SessionConfig bounds the lifetime of the session cookies.
type SessionConfig struct {
	AccessTTL  time.Duration `yaml:"access_ttl" env:"GATEWAY_ACCESS_TTL"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"GATEWAY_REFRESH_TTL"`
	// MaxAge caps every cookie max-age when positive.
	MaxAge time.Duration `yaml:"max_age" env:"GATEWAY_COOKIE_MAX_AGE"`
}

// DatabaseConfig points at the Record Store.
type DatabaseConfig struct {
	URL         string `yaml:"url" env:"DATABASE_URL"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"GATEWAY_AUTO_MIGRATE"`
}

// LoadConfig reads the optional YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		// Use strict unmarshaling to detect unknown fields
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			BaseURL:         "http://127.0.0.1:8000",
			APIPrefix:       "/api",
			PostLoginPath:   "/protected",
			DevMode:         true,
			DevListenAddr:   "127.0.0.1:8000",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			TLS: TLSConfig{
				CacheDir:   ".secrets/tls",
				HSTSMaxAge: 31536000,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
		},
		Keycloak: KeycloakConfig{
			BaseURL: "http://127.0.0.1:8080",
			Timeout: 10 * time.Second,
		},
		Roles: RoleConfig{
			Administrator:  "administrator",
			ProstheticUser: "prosthetic-user",
		},
		Session: SessionConfig{
			AccessTTL:  DefaultAccessTTL,
			RefreshTTL: DefaultRefreshTTL,
		},
		Database: DatabaseConfig{
			URL:         "file:backend-data/db.sqlite3",
			AutoMigrate: true,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if err := requireHTTPURL("server.base_url", c.Server.BaseURL); err != nil {
		return err
	}
	if err := requireHTTPURL("keycloak.base_url", c.Keycloak.BaseURL); err != nil {
		return err
	}
	if c.Server.APIPrefix != "" && !strings.HasPrefix(c.Server.APIPrefix, "/") {
		return fmt.Errorf("server.api_prefix must start with '/', got: %s", c.Server.APIPrefix)
	}
	if strings.HasSuffix(c.Server.APIPrefix, "/") {
		return fmt.Errorf("server.api_prefix must not end with '/', got: %s", c.Server.APIPrefix)
	}
	if !strings.HasPrefix(c.Server.PostLoginPath, "/") {
		return fmt.Errorf("server.post_login_path must start with '/', got: %q", c.Server.PostLoginPath)
	}
	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}
	if c.Keycloak.Realm == "" {
		return errors.New("keycloak.realm is required")
	}
	if c.Keycloak.ClientID == "" {
		return errors.New("keycloak.client_id is required")
	}
	if c.Roles.Administrator == "" || c.Roles.ProstheticUser == "" {
		return errors.New("roles.administrator and roles.prosthetic_user must be set")
	}
	if c.Session.AccessTTL <= 0 || c.Session.RefreshTTL <= 0 {
		return errors.New("session.access_ttl and session.refresh_ttl must be positive")
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	return nil
}

func requireHTTPURL(field, value string) error {
	if value == "" {
		slog.Error("Missing required configuration", "field", field)
		return fmt.Errorf("%s is required", field)
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		slog.Error("Invalid configuration value", "field", field, "value", value, "reason", "must start with http:// or https://")
		return fmt.Errorf("%s must start with http:// or https://, got: %s", field, value)
	}
	return nil
}

// Issuer is the realm issuer URL.
func (c Config) Issuer() string {
	return strings.TrimSuffix(c.Keycloak.BaseURL, "/") + "/realms/" + c.Keycloak.Realm
}

func (c Config) oidcEndpoint(name string) string {
	return c.Issuer() + "/protocol/openid-connect/" + name
}

// TokenURL is the realm token endpoint.
func (c Config) TokenURL() string { return c.oidcEndpoint("token") }

// AuthURL is the realm authorization endpoint.
func (c Config) AuthURL() string { return c.oidcEndpoint("auth") }

// LogoutURL is the realm end-session endpoint.
func (c Config) LogoutURL() string { return c.oidcEndpoint("logout") }

// UserinfoURL is the realm userinfo endpoint.
func (c Config) UserinfoURL() string { return c.oidcEndpoint("userinfo") }

// CertsURL is the realm JWKS endpoint.
func (c Config) CertsURL() string { return c.oidcEndpoint("certs") }

// RedirectURI is where the IdP sends the browser after login.
func (c Config) RedirectURI() string {
	return strings.TrimSuffix(c.Server.BaseURL, "/") + c.Server.APIPrefix + "/login/callback"
}

// PostLogoutRedirectURI is where the IdP sends the browser after logout.
func (c Config) PostLogoutRedirectURI() string {
	return c.Server.BaseURL
}
