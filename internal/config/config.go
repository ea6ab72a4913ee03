package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// DevJWTSecret is only ever used when ENVIRONMENT=development and JWT_SECRET
// is unset. Startup logs a warning when it is in effect.
const DevJWTSecret = "authsvc-development-only-secret-do-not-deploy"

type Config struct {
	// Server
	Host        string
	Port        string
	Environment string

	Database DatabaseConfig

	// JWT
	JWTSecret     string
	JWTExpiration time.Duration
	JWTIssuer     string
	// DevSecret reports that JWTSecret is the development fallback.
	DevSecret bool

	// Logging
	LogLevel  string
	LogFormat string
}

type DatabaseConfig struct {
	// URL takes precedence over the individual parts when set.
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Load reads the configuration from the environment and validates it. Missing
// database settings or a missing JWT secret outside development are errors.
func Load() (*Config, error) {
	env := &envParser{}
	cfg := &Config{
		Host:          getEnv("BACKEND_HOST", "0.0.0.0"),
		Port:          getEnv("BACKEND_PORT", "8000"),
		Environment:   strings.ToLower(getEnv("ENVIRONMENT", EnvProduction)),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		JWTExpiration: env.getDuration("JWT_EXPIRES_IN", 24*time.Hour),
		JWTIssuer:     getEnv("JWT_ISSUER", "authsvc"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "json")),
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", ""),
			Port:            getEnv("DB_PORT", ""),
			User:            getEnv("DB_USER", ""),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", ""),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    env.getInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    env.getInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: env.getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
	}

	if cfg.JWTSecret == "" && cfg.Environment == EnvDevelopment {
		cfg.JWTSecret = DevJWTSecret
		cfg.DevSecret = true
	}

	if err := errors.Join(append(env.errs, cfg.Validate())...); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that everything needed to start the server is present.
func (c *Config) Validate() error {
	var errs []error

	if err := validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.By(isPort)),
		validation.Field(&c.Environment, validation.In(EnvDevelopment, EnvProduction, EnvTest)),
		validation.Field(&c.JWTSecret, validation.Required.Error("JWT_SECRET environment variable is required")),
		validation.Field(&c.JWTExpiration, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.LogFormat, validation.In("json", "text")),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
	); err != nil {
		errs = append(errs, err)
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Validate reports every missing connection setting at once.
func (d *DatabaseConfig) Validate() error {
	if d.URL == "" {
		var missing []string
		for _, v := range []struct{ name, value string }{
			{"DB_HOST", d.Host},
			{"DB_USER", d.User},
			{"DB_PASSWORD", d.Password},
			{"DB_PORT", d.Port},
			{"DB_NAME", d.Name},
		} {
			if v.value == "" {
				missing = append(missing, v.name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required database environment variables: %s", strings.Join(missing, ", "))
		}
	}

	return validation.ValidateStruct(d,
		validation.Field(&d.MaxOpenConns, validation.Min(1)),
		validation.Field(&d.MaxIdleConns, validation.Min(0)),
	)
}

// DSN returns a connection string for the pgx driver.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, quoteDSNValue(d.Password), d.Name, d.SSLMode)
}

// Addr is the address the HTTP server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func isPort(value interface{}) error {
	s, _ := value.(string)
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 65535 {
		return errors.New("must be a valid port number")
	}
	return nil
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// envParser reads typed variables and records every value it cannot parse.
type envParser struct {
	errs []error
}

func (p *envParser) getInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return fallback
	}
	return n
}

// getDuration accepts Go durations ("90m", "1h30m") and whole days ("7d").
func (p *envParser) getDuration(key string, fallback time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	d, err := parseDuration(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, value))
		return fallback
	}
	return d
}

func parseDuration(value string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count %q", days)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(value)
}
