package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is read from the environment. The OIDC_ prefix keeps the provider's
// settings apart from the host forum's own environment.
type Config struct {
	// Issuer is the public base URL of this provider, used as the iss
	// claim in every token and to derive the discovery endpoints.
	Issuer string `env:"OIDC_ISSUER"`

	// GatewaySecret authenticates the host forum on the authorize endpoint
	// and the internal logout hook.
	GatewaySecret string `env:"OIDC_GATEWAY_SECRET"`

	// SigningKeyFile is an RSA private key in PEM form (PKCS#1 or PKCS#8).
	SigningKeyFile string `env:"OIDC_SIGNING_KEY_FILE"`

	// CodeKey is a base64-encoded 32-byte key sealing authorization codes.
	CodeKey string `env:"OIDC_CODE_KEY"`

	DatabaseFile string `env:"OIDC_DATABASE_FILE" envDefault:"oidc.db"`
	ClientsFile  string `env:"OIDC_CLIENTS_FILE" envDefault:"config/clients.yml"`
	ScopesFile   string `env:"OIDC_SCOPES_FILE" envDefault:"config/scopes.yml"`

	// IdentityMode selects where user accounts come from: "sql" reads the
	// forum's own tables, "static" reads a YAML file (useful for dev).
	IdentityMode     string `env:"OIDC_IDENTITY_MODE" envDefault:"sql"`
	ForumDatabase    string `env:"OIDC_FORUM_DATABASE"`
	ForumTablePrefix string `env:"OIDC_FORUM_TABLE_PREFIX" envDefault:"forum_"`
	ForumURL         string `env:"OIDC_FORUM_URL"`
	UsersFile        string `env:"OIDC_USERS_FILE" envDefault:"config/users.yml"`

	// Optional discovery document metadata.
	DocsURL   string `env:"OIDC_DOCS_URL"`
	PolicyURL string `env:"OIDC_POLICY_URL"`
	TosURL    string `env:"OIDC_TOS_URL"`

	CodeTTL    time.Duration `env:"OIDC_CODE_TTL" envDefault:"10m"`
	AccessTTL  time.Duration `env:"OIDC_ACCESS_TTL" envDefault:"1h"`
	RefreshTTL time.Duration `env:"OIDC_REFRESH_TTL" envDefault:"720h"`
	IDTokenTTL time.Duration `env:"OIDC_ID_TOKEN_TTL" envDefault:"1h"`

	Port                 int           `env:"PORT" envDefault:"8080"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`

	Env       string `env:"ENV" envDefault:"dev"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	if cfg.Issuer == "" {
		return errors.New("OIDC_ISSUER is required")
	}
	if cfg.GatewaySecret == "" {
		return errors.New("OIDC_GATEWAY_SECRET is required")
	}
	if cfg.SigningKeyFile == "" {
		return errors.New("OIDC_SIGNING_KEY_FILE is required")
	}
	if cfg.CodeKey == "" {
		return errors.New("OIDC_CODE_KEY is required")
	}

	switch cfg.IdentityMode {
	case "sql":
		if cfg.ForumDatabase == "" {
			return errors.New("OIDC_FORUM_DATABASE is required in sql identity mode")
		}
	case "static":
		if cfg.UsersFile == "" {
			return errors.New("OIDC_USERS_FILE is required in static identity mode")
		}
	default:
		return fmt.Errorf("unknown identity mode %q", cfg.IdentityMode)
	}

	return nil
}
