// ABOUTME: Configuration loading and parsing for srpgate
// ABOUTME: YAML or TOML files with ${VAR} expansion, SRPGATE_* env overrides, and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SRPGATE_AUTH_JWT_SECRET.
const EnvPrefix = "SRPGATE_"

// MinJWTSecretLength mirrors the signing key floor enforced by the token issuer.
const MinJWTSecretLength = 32

// Config represents the complete srpgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale" envPrefix:"TAILSCALE_"`
	Database  DatabaseConfig  `yaml:"database" toml:"database" envPrefix:"DATABASE_"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth" envPrefix:"AUTH_"`
	Handshake HandshakeConfig `yaml:"handshake" toml:"handshake" envPrefix:"HANDSHAKE_"`
	KDF       KDFConfig       `yaml:"kdf" toml:"kdf" envPrefix:"KDF_"`
	OAuth     OAuthConfig     `yaml:"oauth" toml:"oauth" envPrefix:"OAUTH_"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors" envPrefix:"CORS_"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" envPrefix:"LOGGING_"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics" envPrefix:"METRICS_"`
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" env:"HTTP_ADDR"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr" env:"GRPC_ADDR"`
	OpsAddr  string `yaml:"ops_addr" toml:"ops_addr" env:"OPS_ADDR"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Hostname  string `yaml:"hostname" toml:"hostname" env:"HOSTNAME"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" env:"AUTH_KEY"`
	StateDir  string `yaml:"state_dir" toml:"state_dir" env:"STATE_DIR"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral" env:"EPHEMERAL"`
	HTTPS     bool   `yaml:"https" toml:"https" env:"HTTPS"`
	Funnel    bool   `yaml:"funnel" toml:"funnel" env:"FUNNEL"` // implies HTTPS
}

// DatabaseConfig selects the credential store backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver" env:"DRIVER"` // sqlite | postgres
	Path   string `yaml:"path" toml:"path" env:"PATH"`
	DSN    string `yaml:"dsn" toml:"dsn" env:"DSN"`
}

// AuthConfig holds token issuance and gate settings
type AuthConfig struct {
	JWTSecret             string `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
	Issuer                string `yaml:"issuer" toml:"issuer" env:"ISSUER"`
	Audience              string `yaml:"audience" toml:"audience" env:"AUDIENCE"`
	CaseInsensitiveScheme bool   `yaml:"case_insensitive_scheme" toml:"case_insensitive_scheme" env:"CASE_INSENSITIVE_SCHEME"`

	TokenTTL time.Duration `yaml:"-" toml:"-"`

	// Raw string values for YAML unmarshaling
	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl" env:"TOKEN_TTL"`
}

// HandshakeConfig holds SRP handshake settings
type HandshakeConfig struct {
	Group           string  `yaml:"group" toml:"group" env:"GROUP"`
	ConcurrentLogin string  `yaml:"concurrent_login" toml:"concurrent_login" env:"CONCURRENT_LOGIN"` // replace | reject
	RateLimit       float64 `yaml:"rate_limit" toml:"rate_limit" env:"RATE_LIMIT"`                   // requests per second, 0 disables
	RateBurst       int     `yaml:"rate_burst" toml:"rate_burst" env:"RATE_BURST"`

	SessionTTL    time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`
	LookupTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for YAML unmarshaling
	SessionTTLRaw    string `yaml:"session_ttl" toml:"session_ttl" env:"SESSION_TTL"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval" env:"SWEEP_INTERVAL"`
	LookupTimeoutRaw string `yaml:"lookup_timeout" toml:"lookup_timeout" env:"LOOKUP_TIMEOUT"`
}

// KDFConfig selects the password key derivation used for verifiers
type KDFConfig struct {
	Algorithm string `yaml:"algorithm" toml:"algorithm" env:"ALGORITHM"` // argon2id | sha256
	Time      uint32 `yaml:"time" toml:"time" env:"TIME"`
	MemoryKiB uint32 `yaml:"memory_kib" toml:"memory_kib" env:"MEMORY_KIB"`
	Threads   uint8  `yaml:"threads" toml:"threads" env:"THREADS"`
}

// OAuthConfig holds third-party login providers
type OAuthConfig struct {
	Facebook FacebookConfig `yaml:"facebook" toml:"facebook" envPrefix:"FACEBOOK_"`
}

// FacebookConfig holds Facebook login configuration
type FacebookConfig struct {
	Enabled      bool     `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	ClientID     string   `yaml:"client_id" toml:"client_id" env:"CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" toml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL  string   `yaml:"redirect_url" toml:"redirect_url" env:"REDIRECT_URL"`
	Scopes       []string `yaml:"scopes" toml:"scopes" env:"SCOPES"`
	AuthURL      string   `yaml:"auth_url" toml:"auth_url" env:"AUTH_URL"`
	TokenURL     string   `yaml:"token_url" toml:"token_url" env:"TOKEN_URL"`
	ProfileURL   string   `yaml:"profile_url" toml:"profile_url" env:"PROFILE_URL"`

	StateTTL time.Duration `yaml:"-" toml:"-"`

	StateTTLRaw string `yaml:"state_ttl" toml:"state_ttl" env:"STATE_TTL"`
}

// CORSConfig lists origins allowed to call the HTTP API from a browser
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" toml:"path" env:"PATH"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, SRPGATE_*
// variables override file values, and duration strings are parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes config bytes. The format follows the file extension: .toml
// is TOML, everything else YAML.
func Parse(path string, data []byte) (*Config, error) {
	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			var pathErr *os.PathError
			if errors.As(err, &pathErr) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// DefaultPath returns SRPGATE_CONFIG if set, else the XDG location
// $XDG_CONFIG_HOME/srpgate/gateway.yaml (falling back to ~/.config).
func DefaultPath() string {
	if p := os.Getenv("SRPGATE_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "srpgate", "gateway.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in every optional field left empty.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = "127.0.0.1:50051"
	}
	if c.Server.OpsAddr == "" {
		c.Server.OpsAddr = "127.0.0.1:9090"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "srpgate"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}

	if c.Handshake.Group == "" {
		c.Handshake.Group = "rfc5054-2048"
	}
	if c.Handshake.ConcurrentLogin == "" {
		c.Handshake.ConcurrentLogin = "replace"
	}
	if c.Handshake.SessionTTL == 0 {
		c.Handshake.SessionTTL = 2 * time.Minute
	}
	if c.Handshake.SweepInterval == 0 {
		c.Handshake.SweepInterval = 30 * time.Second
	}
	if c.Handshake.LookupTimeout == 0 {
		c.Handshake.LookupTimeout = 5 * time.Second
	}
	if c.Handshake.RateBurst == 0 && c.Handshake.RateLimit > 0 {
		c.Handshake.RateBurst = int(c.Handshake.RateLimit * 2)
		if c.Handshake.RateBurst < 1 {
			c.Handshake.RateBurst = 1
		}
	}

	if c.KDF.Algorithm == "" {
		c.KDF.Algorithm = "argon2id"
	}
	if c.KDF.Algorithm == "argon2id" {
		if c.KDF.Time == 0 {
			c.KDF.Time = 1
		}
		if c.KDF.MemoryKiB == 0 {
			c.KDF.MemoryKiB = 64 * 1024
		}
		if c.KDF.Threads == 0 {
			c.KDF.Threads = 4
		}
	}

	fb := &c.OAuth.Facebook
	if fb.AuthURL == "" {
		fb.AuthURL = "https://www.facebook.com/v19.0/dialog/oauth"
	}
	if fb.TokenURL == "" {
		fb.TokenURL = "https://graph.facebook.com/v19.0/oauth/access_token"
	}
	if fb.ProfileURL == "" {
		fb.ProfileURL = "https://graph.facebook.com/me?fields=id,email,first_name,last_name"
	}
	if len(fb.Scopes) == 0 {
		fb.Scopes = []string{"email", "public_profile"}
	}
	if fb.StateTTL == 0 {
		fb.StateTTL = time.Minute
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	switch strings.ToLower(c.Handshake.Group) {
	case "rfc5054-1024", "rfc5054-2048", "legacy-1024":
	default:
		return fmt.Errorf("handshake.group %q is not supported", c.Handshake.Group)
	}
	switch c.Handshake.ConcurrentLogin {
	case "replace", "reject":
	default:
		return fmt.Errorf("handshake.concurrent_login must be replace or reject, got %q", c.Handshake.ConcurrentLogin)
	}
	if c.Handshake.SessionTTL < 0 || c.Handshake.SweepInterval < 0 || c.Handshake.LookupTimeout < 0 {
		return fmt.Errorf("handshake durations must be positive")
	}
	if c.Handshake.RateLimit < 0 {
		return fmt.Errorf("handshake.rate_limit must not be negative")
	}

	switch c.KDF.Algorithm {
	case "argon2id", "sha256":
	default:
		return fmt.Errorf("kdf.algorithm must be argon2id or sha256, got %q", c.KDF.Algorithm)
	}

	if fb := c.OAuth.Facebook; fb.Enabled {
		if fb.ClientID == "" || fb.ClientSecret == "" {
			return fmt.Errorf("oauth.facebook.client_id and client_secret are required when enabled")
		}
		if fb.RedirectURL == "" {
			return fmt.Errorf("oauth.facebook.redirect_url is required when enabled")
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"handshake.session_ttl", cfg.Handshake.SessionTTLRaw, &cfg.Handshake.SessionTTL},
		{"handshake.sweep_interval", cfg.Handshake.SweepIntervalRaw, &cfg.Handshake.SweepInterval},
		{"handshake.lookup_timeout", cfg.Handshake.LookupTimeoutRaw, &cfg.Handshake.LookupTimeout},
		{"oauth.facebook.state_ttl", cfg.OAuth.Facebook.StateTTLRaw, &cfg.OAuth.Facebook.StateTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
