package framework

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/panther-now/panther/kit/envutil"
	"github.com/panther-now/panther/kit/mux"
	"github.com/panther-now/panther/kit/validate"
)

const (
	ConfigFileName = "panther.toml"
	EnvFileName    = ".env"
	EnvPrefix      = "PANTHER_"
	DefaultAddr    = "127.0.0.1:8000"
)

// Duration reads TOML strings such as "30s" or "1m30s".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

type MonitorConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type ThrottlingConfig struct {
	// Zero disables throttling.
	Rate     int      `toml:"rate" validate:"gte=0"`
	Duration Duration `toml:"duration"`
}

type CORSConfig struct {
	AllowedOrigins   []string `toml:"allowed_origins"`
	AllowedMethods   []string `toml:"allowed_methods"`
	AllowedHeaders   []string `toml:"allowed_headers"`
	AllowCredentials bool     `toml:"allow_credentials"`
	MaxAge           Duration `toml:"max_age"`
}

type CSRFConfig struct {
	Enabled        bool     `toml:"enabled"`
	AllowedOrigins []string `toml:"allowed_origins"`
	TokenTTL       Duration `toml:"token_ttl"`
}

type Config struct {
	Addr      string `toml:"addr" validate:"required"`
	Debug     bool   `toml:"debug"`
	SecretKey string `toml:"secret_key"`

	// Per-request limit enforced by the dispatcher. Negative disables it.
	RequestTimeout  Duration `toml:"request_timeout"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	IdleTimeout     Duration `toml:"idle_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`

	// "redirect", "strict" or "ignore".
	TrailingSlash string `toml:"trailing_slash"`
	// "not_found" or "bad_request".
	CoercionFailure string `toml:"coercion_failure"`

	MaxBodyBytes int64 `toml:"max_body_bytes" validate:"gte=0"`
	MaxInFlight  int64 `toml:"max_in_flight" validate:"gte=0"`

	// Sends Strict-Transport-Security. Only for apps served over HTTPS.
	HSTS            bool   `toml:"hsts"`
	Compress        bool   `toml:"compress"`
	H2C             bool   `toml:"h2c"`
	HealthcheckPath string `toml:"healthcheck_path"`

	Monitor    MonitorConfig    `toml:"monitor"`
	Throttling ThrottlingConfig `toml:"throttling"`
	CORS       CORSConfig       `toml:"cors"`
	CSRF       CSRFConfig       `toml:"csrf"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr:            DefaultAddr,
		RequestTimeout:  Duration{mux.DefaultTimeout},
		ReadTimeout:     Duration{15 * time.Second},
		WriteTimeout:    Duration{mux.DefaultTimeout + 5*time.Second},
		IdleTimeout:     Duration{60 * time.Second},
		ShutdownTimeout: Duration{10 * time.Second},
		TrailingSlash:   mux.TrailingSlashRedirect.String(),
		CoercionFailure: mux.CoercionNotFound.String(),
		MaxBodyBytes:    mux.DefaultMaxBodyBytes,
		HealthcheckPath: "/healthz",
		Monitor:         MonitorConfig{Path: "/__monitor"},
		Throttling:      ThrottlingConfig{Duration: Duration{time.Minute}},
	}
}

// LoadConfig layers, lowest precedence first: defaults, panther.toml in
// dir, .env in dir (never overriding variables already set), then
// PANTHER_* environment variables. Missing files are skipped.
func LoadConfig(dir string) (*Config, error) {
	cfg := DefaultConfig()

	tomlPath := filepath.Join(dir, ConfigFileName)
	if _, err := toml.DecodeFile(tomlPath, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading %s: %w", tomlPath, err)
	}

	envPath := filepath.Join(dir, EnvFileName)
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading %s: %w", envPath, err)
	}

	cfg.applyEnv()

	if err := validate.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func MustLoadConfig(dir string) *Config {
	cfg, err := LoadConfig(dir)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) applyEnv() {
	env := func(name string) string { return EnvPrefix + name }

	c.Addr = envutil.GetStr(env("ADDR"), c.Addr)
	c.Debug = envutil.GetBool(env("DEBUG"), c.Debug)
	c.SecretKey = envutil.GetStr(env("SECRET_KEY"), c.SecretKey)
	c.RequestTimeout.Duration = envutil.GetDuration(env("REQUEST_TIMEOUT"), c.RequestTimeout.Duration)
	c.ReadTimeout.Duration = envutil.GetDuration(env("READ_TIMEOUT"), c.ReadTimeout.Duration)
	c.WriteTimeout.Duration = envutil.GetDuration(env("WRITE_TIMEOUT"), c.WriteTimeout.Duration)
	c.IdleTimeout.Duration = envutil.GetDuration(env("IDLE_TIMEOUT"), c.IdleTimeout.Duration)
	c.ShutdownTimeout.Duration = envutil.GetDuration(env("SHUTDOWN_TIMEOUT"), c.ShutdownTimeout.Duration)
	c.TrailingSlash = envutil.GetStr(env("TRAILING_SLASH"), c.TrailingSlash)
	c.CoercionFailure = envutil.GetStr(env("COERCION_FAILURE"), c.CoercionFailure)
	c.MaxBodyBytes = envutil.GetInt64(env("MAX_BODY_BYTES"), c.MaxBodyBytes)
	c.MaxInFlight = envutil.GetInt64(env("MAX_IN_FLIGHT"), c.MaxInFlight)
	c.HSTS = envutil.GetBool(env("HSTS"), c.HSTS)
	c.Compress = envutil.GetBool(env("COMPRESS"), c.Compress)
	c.H2C = envutil.GetBool(env("H2C"), c.H2C)
	c.Monitor.Enabled = envutil.GetBool(env("MONITOR"), c.Monitor.Enabled)
	c.Throttling.Rate = envutil.GetInt(env("THROTTLING_RATE"), c.Throttling.Rate)
	c.Throttling.Duration.Duration = envutil.GetDuration(env("THROTTLING_DURATION"), c.Throttling.Duration.Duration)
	c.CSRF.Enabled = envutil.GetBool(env("CSRF"), c.CSRF.Enabled)
	if origins := os.Getenv(env("CORS_ORIGINS")); origins != "" {
		c.CORS.AllowedOrigins = splitList(origins)
	}
}

// Validate implements validate.Validator.
func (c *Config) Validate() error {
	var errs []error
	if _, err := mux.ParseTrailingSlashPolicy(c.TrailingSlash); err != nil {
		errs = append(errs, err)
	}
	if _, err := mux.ParseCoercionPolicy(c.CoercionFailure); err != nil {
		errs = append(errs, err)
	}
	if c.Monitor.Enabled && !strings.HasPrefix(c.Monitor.Path, "/") {
		errs = append(errs, fmt.Errorf("monitor.path %q must start with /", c.Monitor.Path))
	}
	if c.HealthcheckPath != "" && !strings.HasPrefix(c.HealthcheckPath, "/") {
		errs = append(errs, fmt.Errorf("healthcheck_path %q must start with /", c.HealthcheckPath))
	}
	if c.Throttling.Rate > 0 && c.Throttling.Duration.Duration <= 0 {
		errs = append(errs, errors.New("throttling.duration must be positive when throttling.rate is set"))
	}
	if c.CSRF.Enabled && c.SecretKey == "" {
		errs = append(errs, errors.New("csrf requires secret_key"))
	}
	return errors.Join(errs...)
}

func (c *Config) trailingSlashPolicy() mux.TrailingSlashPolicy {
	p, _ := mux.ParseTrailingSlashPolicy(c.TrailingSlash)
	return p
}

func (c *Config) coercionPolicy() mux.CoercionPolicy {
	p, _ := mux.ParseCoercionPolicy(c.CoercionFailure)
	return p
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
