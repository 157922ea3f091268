// Package config loads client and stub settings from daktari.yaml and DAKTARI_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// APIConfig locates the backend.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// StorageConfig selects where the session is persisted.
type StorageConfig struct {
	Driver     string
	Dir        string // file driver; empty means the user config dir
	Namespace  string // redis and postgres drivers
	Passphrase string // when set, the token is sealed at rest
}

// RedisConfig is used by the redis storage driver and the stub's redis limiter.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PostgresConfig is used by the postgres storage driver.
type PostgresConfig struct {
	DSN string
}

// NotificationsConfig controls the doctor notification poller.
type NotificationsConfig struct {
	Interval time.Duration
}

// LogConfig sets the zap level.
type LogConfig struct {
	Level string
}

// StubConfig configures daktari-stub.
type StubConfig struct {
	Addr      string
	JWTKey    string
	AccessTTL time.Duration
	Latency   time.Duration
	Limiter   string // memory or redis
}

// AppConfig is the full configuration shared by daktari and daktari-stub.
type AppConfig struct {
	Environment   string
	Log           LogConfig
	API           APIConfig
	Storage       StorageConfig
	Redis         RedisConfig
	Postgres      PostgresConfig
	Notifications NotificationsConfig
	Stub          StubConfig
}

// Load reads file when given, otherwise looks for daktari.yaml in the working directory and
// the user config dir. A missing file is not an error. Environment variables override the
// file: DAKTARI_API_BASEURL sets api.baseurl.
func Load(file string) (*AppConfig, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("daktari")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "daktari"))
		}
	}

	v.SetEnvPrefix("DAKTARI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules.
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case DriverFile, DriverRedis:
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("config: postgres.dsn is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Stub.Limiter {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown stub.limiter %q", c.Stub.Limiter)
	}
	if c.API.Timeout <= 0 {
		return errors.New("config: api.timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log.level", "warn")

	v.SetDefault("api.baseurl", "http://localhost:5000/api")
	v.SetDefault("api.timeout", "30s")

	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.dir", "")
	v.SetDefault("storage.namespace", "default")
	v.SetDefault("storage.passphrase", "")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("notifications.interval", "30s")

	v.SetDefault("stub.addr", ":5000")
	v.SetDefault("stub.jwtkey", "")
	v.SetDefault("stub.accessttl", "24h")
	v.SetDefault("stub.latency", "0s")
	v.SetDefault("stub.limiter", "memory")
}
