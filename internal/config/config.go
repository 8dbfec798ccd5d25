// Package config loads crewflow settings from crewflow.yaml and the
// CREWFLOW_* environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// CREWFLOW_DATABASE_PATH for database.path.
const EnvPrefix = "CREWFLOW"

// Guard backends.
const (
	GuardSQLite = "sqlite"
	GuardRedis  = "redis"
)

// Config holds the configuration for the service and the CLI.
type Config struct {
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	HTTP struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"http"`
	Engine struct {
		Concurrency   int           `mapstructure:"concurrency"`
		ActionTimeout time.Duration `mapstructure:"action_timeout"`
		RegistryTTL   time.Duration `mapstructure:"registry_ttl"`
	} `mapstructure:"engine"`
	Guard struct {
		Backend string        `mapstructure:"backend"`
		Lease   time.Duration `mapstructure:"lease"`
	} `mapstructure:"guard"`
	Redis struct {
		Addrs     []string `mapstructure:"addrs"`
		Namespace string   `mapstructure:"namespace"`
	} `mapstructure:"redis"`
	Sweep struct {
		Interval  time.Duration `mapstructure:"interval"`
		BatchSize int           `mapstructure:"batch_size"`
		Lease     time.Duration `mapstructure:"lease"`
	} `mapstructure:"sweep"`
	Audit struct {
		QueueSize int `mapstructure:"queue_size"`
	} `mapstructure:"audit"`
	Gateway struct {
		MessagingURL    string        `mapstructure:"messaging_url"`
		SignatureURL    string        `mapstructure:"signature_url"`
		Timeout         time.Duration `mapstructure:"timeout"`
		RatePerSecond   float64       `mapstructure:"rate_per_second"`
		Burst           int           `mapstructure:"burst"`
		BreakerFailures uint32        `mapstructure:"breaker_failures"`
		BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	} `mapstructure:"gateway"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// New returns a viper instance with defaults, the config search path and
// environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("crewflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "crewflow.db")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("engine.concurrency", 1)
	v.SetDefault("engine.action_timeout", 10*time.Second)
	v.SetDefault("engine.registry_ttl", 30*time.Second)
	v.SetDefault("guard.backend", GuardSQLite)
	v.SetDefault("guard.lease", 10*time.Minute)
	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.namespace", "crewflow")
	v.SetDefault("sweep.interval", 30*time.Second)
	v.SetDefault("sweep.batch_size", 50)
	v.SetDefault("sweep.lease", 5*time.Minute)
	v.SetDefault("audit.queue_size", 1024)
	v.SetDefault("gateway.messaging_url", "")
	v.SetDefault("gateway.signature_url", "")
	v.SetDefault("gateway.timeout", 8*time.Second)
	v.SetDefault("gateway.rate_per_second", 20.0)
	v.SetDefault("gateway.burst", 40)
	v.SetDefault("gateway.breaker_failures", 5)
	v.SetDefault("gateway.breaker_cooldown", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. An explicit file must exist; otherwise a
// missing crewflow.yaml leaves the defaults and environment in effect.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Comma-separated lists from the environment arrive as one element.
	if len(cfg.Redis.Addrs) == 1 && strings.Contains(cfg.Redis.Addrs[0], ",") {
		cfg.Redis.Addrs = strings.Split(cfg.Redis.Addrs[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	switch c.Guard.Backend {
	case GuardSQLite:
	case GuardRedis:
		if len(c.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("guard.backend redis needs redis.addrs"))
		}
	default:
		errs = append(errs, fmt.Errorf("guard.backend %q is not sqlite or redis", c.Guard.Backend))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if c.Engine.Concurrency < 1 {
		errs = append(errs, errors.New("engine.concurrency must be at least 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
