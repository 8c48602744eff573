package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/dispatch-balancer/internal/backend"
)

var pathPattern = regexp.MustCompile(`^/`)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	StrategyRoundRobin         = "round-robin"
	StrategyWeightedRoundRobin = "weighted-round-robin"
	StrategyHeaderAffinity     = "header-affinity"
	StrategyFIFO               = "fifo"
)

// DefaultAffinityHint is bound to the first backend when no affinity routes
// are configured.
const DefaultAffinityHint = "rest"

type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Environment  string `mapstructure:"environment"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

type HealthCheckConfig struct {
	Interval string `mapstructure:"interval"`
	Timeout  string `mapstructure:"timeout"`
	Path     string `mapstructure:"path"`
}

type AffinityRouteConfig struct {
	Hint    string `mapstructure:"hint"`
	Backend string `mapstructure:"backend"`
}

type AffinityConfig struct {
	Header string                `mapstructure:"header"`
	Routes []AffinityRouteConfig `mapstructure:"routes"`
}

type StrategyConfig struct {
	Type     string         `mapstructure:"type"`
	Affinity AffinityConfig `mapstructure:"affinity"`
}

type BackendConfig struct {
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

type RateLimitConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Requests int    `mapstructure:"requests"`
	Window   string `mapstructure:"window"`

	// key clients on X-Forwarded-For; only safe behind a trusted proxy
	TrustForwardedFor bool `mapstructure:"trust_forwarded_for"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Backends    []BackendConfig   `mapstructure:"backends"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// Load reads config.yaml from the given directories, or from ./config and
// the working directory when none are given. A missing file is not an error:
// defaults and environment variables still apply.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyBackendDefaults()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":5000")
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("health_check.interval", "10s")
	v.SetDefault("health_check.timeout", "5s")
	v.SetDefault("health_check.path", "/")

	v.SetDefault("strategy.type", StrategyRoundRobin)
	v.SetDefault("strategy.affinity.header", "X-Api-Type")

	v.SetDefault("backends", []map[string]any{
		{"url": "http://localhost:4001", "weight": 1},
		{"url": "http://localhost:4002", "weight": 1},
	})

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests", 10)
	v.SetDefault("rate_limit.window", "2m")
	v.SetDefault("rate_limit.trust_forwarded_for", false)

	v.SetDefault("metrics.buffer_size", 1024)
	v.SetDefault("logging.level", LogLevelInfo)
}

// applyBackendDefaults turns an omitted weight into 1.
func (c *Config) applyBackendDefaults() {
	for i := range c.Backends {
		if c.Backends[i].Weight == 0 {
			c.Backends[i].Weight = 1
		}
	}
}

// AffinityRoutes returns the configured hint table, or "rest" bound to the
// first backend when none is configured.
func (c *Config) AffinityRoutes() []AffinityRouteConfig {
	if len(c.Strategy.Affinity.Routes) > 0 || len(c.Backends) == 0 {
		return c.Strategy.Affinity.Routes
	}

	return []AffinityRouteConfig{{Hint: DefaultAffinityHint, Backend: c.Backends[0].URL}}
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.ReadTimeout, validation.By(validateDuration)),
					validation.Field(&sc.WriteTimeout, validation.By(validateDuration)),
					validation.Field(&sc.IdleTimeout, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval,
						validation.Required,
						validation.By(validatePositiveDuration),
					),
					validation.Field(&hc.Timeout,
						validation.Required,
						validation.By(validatePositiveDuration),
					),
					validation.Field(&hc.Path,
						validation.Required,
						validation.Match(pathPattern).Error("must start with /"),
					),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Each(validation.By(validateBackendConfig)),
		),
		validation.Field(&c.Strategy,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StrategyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StrategyConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Type,
						validation.Required,
						validation.In(StrategyRoundRobin, StrategyWeightedRoundRobin, StrategyHeaderAffinity, StrategyFIFO),
					),
					validation.Field(&sc.Affinity,
						validation.When(sc.Type == StrategyHeaderAffinity,
							validation.By(c.validateAffinity),
						),
					),
				)
			}),
		),
		validation.Field(&c.RateLimit,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RateLimitConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RateLimitConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.Requests,
						validation.When(rc.Enabled, validation.Required, validation.Min(1)),
					),
					validation.Field(&rc.Window,
						validation.When(rc.Enabled, validation.Required, validation.By(validatePositiveDuration)),
					),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize, validation.Min(0)),
				)
			}),
		),
	)
}

func (c *Config) validateAffinity(value interface{}) error {
	ac, ok := value.(AffinityConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an AffinityConfig")
	}

	known := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		known[backend.NormalizeAddress(b.URL)] = true
	}

	return validation.ValidateStruct(&ac,
		validation.Field(&ac.Header, validation.Required),
		validation.Field(&ac.Routes,
			validation.Each(validation.By(func(value interface{}) error {
				route, ok := value.(AffinityRouteConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AffinityRouteConfig")
				}
				if strings.TrimSpace(route.Hint) == "" {
					return validation.NewError("validation_empty_hint", "hint cannot be empty")
				}
				if !known[backend.NormalizeAddress(route.Backend)] {
					return validation.NewError("validation_unknown_backend", "backend must be one of the configured backends")
				}
				return nil
			})),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if durationStr == "" {
		return nil
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validatePositiveDuration(value interface{}) error {
	if err := validateDuration(value); err != nil {
		return err
	}

	if d, _ := time.ParseDuration(value.(string)); d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be greater than zero")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	bc, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	if bc.URL == "" {
		return validation.NewError("validation_empty_url", "backend URL cannot be empty")
	}

	parsedURL, err := url.Parse(bc.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if bc.Weight < 1 {
		return validation.NewError("validation_invalid_weight", "weight must be at least 1")
	}

	return nil
}
