package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"github.com/kompo/authlib/authn"
	"github.com/kompo/authlib/authz"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the configuration of the authgate service.
type Config struct {
	BypassSecurity  bool   `env:"AUTHLIB_BYPASS_SECURITY"  envDefault:"false"`
	CheckPermission bool   `env:"AUTHLIB_CHECK_PERMISSION" envDefault:"true"`
	HTTPAddr        string `env:"AUTHLIB_HTTP_ADDR"        envDefault:":8080"`
	DatabaseDSN     string `env:"AUTHLIB_DATABASE_DSN"`
	// SeedFile fills the in-memory backend used when DatabaseDSN is empty.
	SeedFile        string        `env:"AUTHLIB_SEED_FILE"`
	JWKSURL         string        `env:"AUTHLIB_JWKS_URL"`
	Audiences       []string      `env:"AUTHLIB_AUDIENCES"        envSeparator:","`
	CacheExpiry     time.Duration `env:"AUTHLIB_CACHE_EXPIRY"     envDefault:"5m"`
	DispatchWorkers int           `env:"AUTHLIB_DISPATCH_WORKERS" envDefault:"4"`
	DispatchQueue   int           `env:"AUTHLIB_DISPATCH_QUEUE"   envDefault:"256"`
}

// Load reads the optional config file at path, then the environment.
// Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	values, err := readFile(path)
	if err != nil {
		return nil, err
	}
	for k, v := range env.ToMap(os.Environ()) {
		values[k] = v
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: values}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readFile returns the keys of the config file upper cased, ex: authlib_http_addr -> AUTHLIB_HTTP_ADDR.
func readFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" || ext == "env" {
		v.SetConfigType("env")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	for _, key := range v.AllKeys() {
		switch val := v.Get(key).(type) {
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			values[strings.ToUpper(key)] = strings.Join(parts, ",")
		default:
			values[strings.ToUpper(key)] = v.GetString(key)
		}
	}
	return values, nil
}

func (c *Config) Validate() error {
	if c.CacheExpiry <= 0 {
		return fmt.Errorf("%w: cache expiry must be positive", ErrInvalidConfig)
	}
	if c.DispatchWorkers <= 0 {
		return fmt.Errorf("%w: dispatch workers must be positive", ErrInvalidConfig)
	}
	if c.DispatchQueue <= 0 {
		return fmt.Errorf("%w: dispatch queue must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) GateConfig() authz.Config {
	return authz.Config{
		BypassSecurity:          c.BypassSecurity,
		CheckPermissionGlobally: c.CheckPermission,
	}
}

func (c *Config) VerifierConfig() authn.VerifierConfig {
	return authn.VerifierConfig{
		SigningKeysURL:   c.JWKSURL,
		AllowedAudiences: c.Audiences,
	}
}
