package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

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

// reservedPath is owned by the registration handler.
const reservedPath = "/register"

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
}

// Address returns host:port for the public listener.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type ProxyConfig struct {
	Timeout      string `mapstructure:"timeout"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// TimeoutDuration returns the parsed backend timeout. Call after Validate.
func (p ProxyConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(p.Timeout)
	return d
}

// RateLimitConfig disables limiting when RequestsPerSecond is zero.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type CircuitBreakerConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	ConsecutiveFailures uint32 `mapstructure:"consecutive_failures"`
	OpenTimeout         string `mapstructure:"open_timeout"`
	HalfOpenRequests    uint32 `mapstructure:"half_open_requests"`
}

func (c CircuitBreakerConfig) OpenTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.OpenTimeout)
	return d
}

// RouteConfig seeds the registry at startup. Endpoints are host:port.
type RouteConfig struct {
	Path      string   `mapstructure:"path"`
	Endpoints []string `mapstructure:"endpoints"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Admin          AdminConfig          `mapstructure:"admin"`
	Proxy          ProxyConfig          `mapstructure:"proxy"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Routes         []RouteConfig        `mapstructure:"routes"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

func setDefaults() {
	viper.SetDefault("server.host", "")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("admin.enabled", true)
	viper.SetDefault("admin.address", ":9090")
	viper.SetDefault("proxy.timeout", "10s")
	viper.SetDefault("proxy.max_body_bytes", 10<<20)
	viper.SetDefault("proxy.max_idle_conns", 100)
	viper.SetDefault("rate_limit.requests_per_second", 0)
	viper.SetDefault("rate_limit.burst", 0)
	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.consecutive_failures", 5)
	viper.SetDefault("circuit_breaker.open_timeout", "30s")
	viper.SetDefault("circuit_breaker.half_open_requests", 1)
	viper.SetDefault("logging.level", LogLevelInfo)
}

// Load reads configFile, or config.yaml from ./config and . when configFile
// is empty. A missing default file is not an error; a missing explicit one is.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read .env file", slog.String("error", err.Error()))
		return nil, err
	}

	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
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
					validation.Field(&sc.Host, is.Host),
					validation.Field(&sc.Port,
						validation.Required,
						validation.Min(1),
						validation.Max(65535),
					),
				)
			}),
		),
		validation.Field(&c.Admin,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdminConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdminConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.Address,
						validation.When(ac.Enabled, validation.Required, validation.By(validateHostPort)),
					),
				)
			}),
		),
		validation.Field(&c.Proxy,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Timeout,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&pc.MaxBodyBytes, validation.Required, validation.Min(int64(1))),
					validation.Field(&pc.MaxIdleConns, validation.Min(0)),
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
					validation.Field(&rc.RequestsPerSecond, validation.Min(0.0)),
					validation.Field(&rc.Burst, validation.Min(0)),
				)
			}),
		),
		validation.Field(&c.CircuitBreaker,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.ConsecutiveFailures, validation.When(cc.Enabled, validation.Required)),
					validation.Field(&cc.OpenTimeout,
						validation.When(cc.Enabled, validation.Required, validation.By(validateDuration)),
					),
					validation.Field(&cc.HalfOpenRequests, validation.When(cc.Enabled, validation.Required)),
				)
			}),
		),
		validation.Field(&c.Routes,
			validation.Each(validation.By(validateRouteConfig)),
		),
		validation.Field(&c.Logging,
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
	if err := is.Port.Validate(port); err != nil {
		return validation.NewError("validation_invalid_port", "invalid port")
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

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}
	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be positive")
	}

	return nil
}

func validateRouteConfig(value interface{}) error {
	route, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	return validation.ValidateStruct(&route,
		validation.Field(&route.Path,
			validation.Required,
			validation.By(func(value interface{}) error {
				path, _ := value.(string)
				if !strings.HasPrefix(path, "/") {
					return validation.NewError("validation_invalid_path", "must start with /")
				}
				if path == reservedPath {
					return validation.NewError("validation_reserved_path", "is reserved for registration")
				}
				return nil
			}),
		),
		validation.Field(&route.Endpoints,
			validation.Required,
			validation.Each(validation.Required, validation.By(validateEndpoint)),
		),
	)
}

func validateEndpoint(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return validation.NewError("validation_invalid_endpoint", "must be in host:port format")
	}

	return validation.Validate(port, validation.Required, is.Port)
}
