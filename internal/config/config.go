package config

import (
	"errors"
	"fmt"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"net/url"
	"strings"
	"time"
)

const (
	// SessionStorageInMemory keeps sessions in process memory
	SessionStorageInMemory = "inmem"

	// SessionStoragePostgres keeps sessions in a PostgreSQL database
	SessionStoragePostgres = "postgres"

	// SessionStorageRedis keeps sessions in a Redis instance
	SessionStorageRedis = "redis"
)

// Config represents the application configuration structure
type Config struct {
	Environment string `default:"prod"`

	ListenAddress string `default:":5000" split_words:"true"`
	BaseAddress   string `default:"http://localhost:5000" split_words:"true"`
	AllowedOrigin string `default:"*" split_words:"true"`

	Authority       string   `default:"https://login.microsoftonline.com/common"`
	ClientID        string   `split_words:"true"`
	ClientSecret    string   `split_words:"true"`
	RedirectPath    string   `default:"/getAToken" split_words:"true"`
	Scopes          []string `default:"User.ReadWrite.All"`
	SkipIssuerCheck bool     `split_words:"true"`

	GraphBaseURL       string        `default:"https://graph.microsoft.com/v1.0" envconfig:"GRAPH_BASE_URL"`
	GraphTimeout       time.Duration `default:"0" split_words:"true"`
	Endpoint           string        `default:"https://graph.microsoft.com/v1.0/users"`
	DownstreamTimeout  time.Duration `default:"30s" split_words:"true"`
	SessionStorage     string        `default:"inmem" split_words:"true"`
	SessionLifetime    time.Duration `default:"24h" split_words:"true"`
	SessionCacheExpiry time.Duration `default:"0" split_words:"true"`

	PostgresDSN   string `envconfig:"POSTGRES_DSN"`
	RedisAddress  string `default:"localhost:6379" split_words:"true"`
	RedisPassword string `split_words:"true"`
	RedisDB       int    `default:"0" envconfig:"REDIS_DB"`
}

// LoadFromEnv loads a new configuration structure using environment variables and an optional .env file
func LoadFromEnv() (*Config, error) {
	// Load a .env file if it exists
	_ = godotenv.Overload()

	// Load a new configuration structure using environment variables
	config := new(Config)
	if err := envconfig.Process("oa", config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for values the application cannot start with.
// Missing client credentials are not considered invalid; see HasCredentials.
func (config *Config) Validate() error {
	var result *multierror.Error

	if config.RedirectPath == "" || config.RedirectPath == "/" {
		result = multierror.Append(result, errors.New("the redirect path must not be empty or '/'"))
	} else if !strings.HasPrefix(config.RedirectPath, "/") {
		result = multierror.Append(result, fmt.Errorf("the redirect path '%s' must start with '/'", config.RedirectPath))
	}
	if _, err := url.ParseRequestURI(config.BaseAddress); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid base address: %w", err))
	}
	if _, err := url.ParseRequestURI(config.Authority); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid authority: %w", err))
	}
	if _, err := url.ParseRequestURI(config.GraphBaseURL); err != nil {
		result = multierror.Append(result, fmt.Errorf("invalid graph base URL: %w", err))
	}
	if len(config.Scopes) == 0 {
		result = multierror.Append(result, errors.New("at least one scope has to be requested"))
	}
	if config.SessionLifetime <= 0 {
		result = multierror.Append(result, errors.New("the session lifetime must be positive"))
	}
	if config.SessionCacheExpiry < 0 {
		result = multierror.Append(result, errors.New("the session cache expiry must not be negative"))
	}

	switch config.SessionStorage {
	case SessionStorageInMemory:
	case SessionStoragePostgres:
		if config.PostgresDSN == "" {
			result = multierror.Append(result, errors.New("the postgres session storage requires a DSN"))
		}
	case SessionStorageRedis:
		if config.RedisAddress == "" {
			result = multierror.Append(result, errors.New("the redis session storage requires an address"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown session storage '%s'", config.SessionStorage))
	}

	return result.ErrorOrNil()
}

// IsEnvProduction returns whether the application runs in production mode
func (config *Config) IsEnvProduction() bool {
	return strings.ToLower(config.Environment) == "prod"
}

// IsSecure returns whether the application is served over HTTPS
func (config *Config) IsSecure() bool {
	return strings.HasPrefix(config.BaseAddress, "https://")
}

// HasCredentials returns whether both the client ID and secret are configured
func (config *Config) HasCredentials() bool {
	return config.ClientID != "" && config.ClientSecret != ""
}

// IssuerURL returns the OIDC issuer URL derived from the configured authority
func (config *Config) IssuerURL() string {
	authority := strings.TrimSuffix(config.Authority, "/")
	if strings.HasSuffix(authority, "/v2.0") {
		return authority
	}
	return authority + "/v2.0"
}

// SkipsIssuerCheck returns whether the ID token issuer must not be compared against the discovery URL.
// Multi-tenant authorities advertise a templated issuer, so the check is always skipped for them.
func (config *Config) SkipsIssuerCheck() bool {
	if config.SkipIssuerCheck {
		return true
	}
	authority := strings.TrimSuffix(strings.TrimSuffix(config.Authority, "/"), "/v2.0")
	tenant := authority[strings.LastIndex(authority, "/")+1:]
	switch strings.ToLower(tenant) {
	case "common", "organizations", "consumers":
		return true
	default:
		return false
	}
}

// RedirectURL returns the absolute URL the identity provider redirects back to
func (config *Config) RedirectURL() string {
	return strings.TrimSuffix(config.BaseAddress, "/") + config.RedirectPath
}

// HomeURL returns the absolute URL of the home route
func (config *Config) HomeURL() string {
	return strings.TrimSuffix(config.BaseAddress, "/") + "/"
}
