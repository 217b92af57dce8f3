package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/quay/cvssd/auth"
	"github.com/quay/cvssd/extract"
)

// EnvPrefix is the prefix for environment overrides, e.g. CVSSD_HTTP_ADDR for
// "http.addr".
const envPrefix = `CVSSD`

// Config is the complete configuration, as read from the config file,
// environment, and flags.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	DB        DBConfig        `mapstructure:"db"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type HTTPConfig struct {
	Addr          string `mapstructure:"addr"`
	SecureCookies bool   `mapstructure:"secure_cookies"`
}

// DBConfig selects the store. Driver is "sqlite" or "postgres"; for sqlite
// the DSN is a file path.
type DBConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	Migrations bool   `mapstructure:"migrations"`
}

type AuthConfig struct {
	Required        bool          `mapstructure:"required"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// LoginRate is attempts per minute per email; negative disables.
	LoginRate float64 `mapstructure:"login_rate"`
}

type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
	// Patterns is an optional replacement extractor pattern table.
	Patterns string `mapstructure:"patterns"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// TelemetryConfig configures OpenTelemetry export. Nothing is exported if
// the endpoint is empty.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", "127.0.0.1:5000")
	v.SetDefault("http.secure_cookies", false)
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "cvss_calculator.db")
	v.SetDefault("db.migrations", true)
	v.SetDefault("auth.required", false)
	v.SetDefault("auth.session_ttl", auth.DefaultSessionTTL)
	v.SetDefault("auth.cleanup_interval", time.Hour)
	v.SetDefault("auth.login_rate", auth.DefaultLoginRate)
	v.SetDefault("upload.max_bytes", extract.DefaultMaxBytes)
	v.SetDefault("upload.patterns", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("telemetry.otlp_endpoint", "")
}

// NewViper returns a viper instance with the defaults and environment
// overrides in place.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadConfig reads the named file, or "cvssd.yaml" in the working directory
// or "~/.config/cvssd" if found, and decodes the result.
func readConfig(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		p, err := homedir.Expand(file)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		v.SetConfigFile(p)
	} else {
		v.SetConfigName("cvssd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if d, err := homedir.Expand("~/.config/cvssd"); err == nil {
			v.AddConfigPath(d)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return decodeConfig(v)
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for _, p := range []*string{&cfg.Log.File, &cfg.Upload.Patterns} {
		if *p == "" {
			continue
		}
		x, err := homedir.Expand(*p)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		*p = x
	}
	if cfg.DB.Driver == "sqlite" {
		x, err := homedir.Expand(cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.DB.DSN = x
	}
	return &cfg, cfg.validate()
}

func (c *Config) validate() error {
	var errs []error
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("config: db.driver: unknown driver %q", c.DB.Driver))
	}
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("config: db.dsn: must be set"))
	}
	if c.Auth.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("config: auth.cleanup_interval: bad interval %v", c.Auth.CleanupInterval))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("config: upload.max_bytes: bad limit %d", c.Upload.MaxBytes))
	}
	return errors.Join(errs...)
}
