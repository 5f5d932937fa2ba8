package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. PASSPORT_SERVER_ADDR
const EnvPrefix = "PASSPORT"

// Signing algorithms accepted in JWTConfig.Algorithm
const (
	AlgorithmRS256 = "RS256"
	AlgorithmHS256 = "HS256"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`

	// Clients and Users are seeded into the store at startup. They exist for
	// development servers running on the memory store.
	Clients []StaticClient `mapstructure:"clients"`
	Users   []StaticUser   `mapstructure:"users"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	Issuer string `mapstructure:"issuer"`
	// LoginURL receives the resource owner when no identity is attached to an
	// authorize request. The original request URL is passed as return_to.
	LoginURL string `mapstructure:"login_url"`
	// ConsentURL renders consent for untrusted clients and posts back to /authorize.
	ConsentURL string `mapstructure:"consent_url"`
	// OwnerHeader carries the authenticated resource owner id set by the
	// upstream identity proxy.
	OwnerHeader     string        `mapstructure:"owner_header"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// RedisConfig moves authorization codes and refresh tokens to Redis when Addr is set
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Algorithm      string `mapstructure:"algorithm"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	HMACSecret     string `mapstructure:"hmac_secret"`
}

// OAuthConfig holds OAuth-specific configuration
type OAuthConfig struct {
	AccessTokenTTL              time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL             time.Duration `mapstructure:"refresh_token_ttl"`
	AuthorizationCodeTTL        time.Duration `mapstructure:"authorization_code_ttl"`
	ConsentTTL                  time.Duration `mapstructure:"consent_ttl"`
	StorageTimeout              time.Duration `mapstructure:"storage_timeout"`
	PurgeInterval               time.Duration `mapstructure:"purge_interval"`
	RequirePKCEForPublicClients bool          `mapstructure:"require_pkce_for_public_clients"`
	AllowPlainPKCE              bool          `mapstructure:"allow_plain_pkce"`
	RotateRefreshTokens         bool          `mapstructure:"rotate_refresh_tokens"`
}

// LogConfig selects the zerolog level and output format
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RateLimitConfig throttles /token and /revoke per client IP
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// StaticClient is a client declared in the config file
type StaticClient struct {
	ClientID         string   `mapstructure:"client_id"`
	ClientName       string   `mapstructure:"client_name"`
	ClientSecretHash string   `mapstructure:"client_secret_hash"`
	RedirectURIs     []string `mapstructure:"redirect_uris"`
	Scopes           []string `mapstructure:"scopes"`
	Trusted          bool     `mapstructure:"trusted"`
}

// StaticUser is a profile declared in the config file
type StaticUser struct {
	ID          string            `mapstructure:"id"`
	Username    string            `mapstructure:"username"`
	Email       string            `mapstructure:"email"`
	FullName    string            `mapstructure:"full_name"`
	AvatarURL   string            `mapstructure:"avatar_url"`
	Bio         string            `mapstructure:"bio"`
	SocialLinks map[string]string `mapstructure:"social_links"`
}

// SetDefaults registers every key with its default so environment variables
// are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.issuer", "http://localhost:8080")
	v.SetDefault("server.login_url", "")
	v.SetDefault("server.consent_url", "")
	v.SetDefault("server.owner_header", "X-Passport-User")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "passport:")

	v.SetDefault("jwt.algorithm", AlgorithmRS256)
	v.SetDefault("jwt.private_key_path", "keys/private.pem")
	v.SetDefault("jwt.hmac_secret", "")

	v.SetDefault("oauth.access_token_ttl", time.Hour)
	v.SetDefault("oauth.refresh_token_ttl", 90*24*time.Hour)
	v.SetDefault("oauth.authorization_code_ttl", 10*time.Minute)
	v.SetDefault("oauth.consent_ttl", 10*time.Minute)
	v.SetDefault("oauth.storage_timeout", 3*time.Second)
	v.SetDefault("oauth.purge_interval", 5*time.Minute)
	v.SetDefault("oauth.require_pkce_for_public_clients", true)
	v.SetDefault("oauth.allow_plain_pkce", true)
	v.SetDefault("oauth.rotate_refresh_tokens", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests_per_second", 5.0)
	v.SetDefault("ratelimit.burst", 20)
}

// Load reads configuration from defaults, an optional config file and
// PASSPORT_* environment variables, in increasing precedence. Flags bound to
// v by the caller take precedence over all three.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the values Load cannot check by type alone
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Server.Issuer); err != nil || !u.IsAbs() {
		errs = append(errs, fmt.Errorf("server.issuer must be an absolute URL, got %q", c.Server.Issuer))
	}
	for key, raw := range map[string]string{
		"server.login_url":   c.Server.LoginURL,
		"server.consent_url": c.Server.ConsentURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", key, raw))
		}
	}
	if c.Server.OwnerHeader == "" {
		errs = append(errs, errors.New("server.owner_header is required"))
	}

	switch c.JWT.Algorithm {
	case AlgorithmRS256:
		if c.JWT.PrivateKeyPath == "" {
			errs = append(errs, errors.New("jwt.private_key_path is required for RS256"))
		}
	case AlgorithmHS256:
		if len(c.JWT.HMACSecret) < 32 {
			errs = append(errs, errors.New("jwt.hmac_secret must be at least 32 bytes for HS256"))
		}
	default:
		errs = append(errs, fmt.Errorf("jwt.algorithm must be %s or %s, got %q", AlgorithmRS256, AlgorithmHS256, c.JWT.Algorithm))
	}

	for key, d := range map[string]time.Duration{
		"oauth.access_token_ttl":       c.OAuth.AccessTokenTTL,
		"oauth.refresh_token_ttl":      c.OAuth.RefreshTokenTTL,
		"oauth.authorization_code_ttl": c.OAuth.AuthorizationCodeTTL,
		"oauth.consent_ttl":            c.OAuth.ConsentTTL,
		"oauth.storage_timeout":        c.OAuth.StorageTimeout,
		"oauth.purge_interval":         c.OAuth.PurgeInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("ratelimit.requests_per_second and ratelimit.burst must be positive"))
	}

	for i, sc := range c.Clients {
		if sc.ClientID == "" || len(sc.RedirectURIs) == 0 {
			errs = append(errs, fmt.Errorf("clients[%d] needs client_id and redirect_uris", i))
		}
	}

	return errors.Join(errs...)
}

// UsesPostgres reports whether a database URL is configured
func (c *Config) UsesPostgres() bool {
	return c.Database.URL != ""
}

// UsesRedis reports whether codes and refresh tokens live in Redis
func (c *Config) UsesRedis() bool {
	return c.Redis.Addr != ""
}
