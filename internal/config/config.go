package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Cron       CronConfig       `mapstructure:"cron"`
	Collection CollectionConfig `mapstructure:"collection"`
	Reporter   ReporterConfig   `mapstructure:"reporter"`
	Backends   []BackendConfig  `mapstructure:"backends"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	PurgeCompleted     string `mapstructure:"purge_completed"`
	PurgeRetentionDays int    `mapstructure:"purge_retention_days"`
}

// CollectionConfig tunes the collection dispatcher and workers.
type CollectionConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// LockTimeout bounds how long a claim may be held before another
	// dispatcher cycle is allowed to reclaim the row (crash recovery).
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	// Exponential backoff between attempts: delay = min(initial * 2^n, max).
	InitialRetryDelay time.Duration `mapstructure:"initial_retry_delay"`
	MaxRetryDelay     time.Duration `mapstructure:"max_retry_delay"`
	// MaxCollectionTime is a hard wall-clock cutoff on total request age,
	// independent of how many attempts were made.
	MaxCollectionTime time.Duration `mapstructure:"max_collection_time"`
	QueueSize         int           `mapstructure:"queue_size"`
	// RetryRequiresCompleted restricts the manual retry action to COMPLETED
	// records. Off by default: the historical behavior resets any record,
	// which can resurrect an in-flight one.
	RetryRequiresCompleted bool `mapstructure:"retry_requires_completed"`
}

type ReporterConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BackendConfig describes one collector backend instance. Settings are opaque
// to the core and interpreted by the driver.
type BackendConfig struct {
	Name           string            `mapstructure:"name"`
	DisplayName    string            `mapstructure:"display_name"`
	Description    string            `mapstructure:"description"`
	Driver         string            `mapstructure:"driver"`
	ObservableType string            `mapstructure:"observable_type"`
	Threads        int               `mapstructure:"threads"`
	Settings       map[string]string `mapstructure:"settings"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.purge_completed", "@daily")
	v.SetDefault("cron.purge_retention_days", 90)
	v.SetDefault("collection.enabled", true)
	v.SetDefault("collection.poll_interval", "1s")
	v.SetDefault("collection.lock_timeout", "5m")
	v.SetDefault("collection.initial_retry_delay", "1m")
	v.SetDefault("collection.max_retry_delay", "1h")
	v.SetDefault("collection.max_collection_time", "168h")
	v.SetDefault("collection.queue_size", 1024)
	v.SetDefault("collection.retry_requires_completed", false)
	v.SetDefault("reporter.timeout", "2s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	for i := range cfg.Backends {
		if cfg.Backends[i].Threads <= 0 {
			cfg.Backends[i].Threads = 1
		}
	}

	return cfg, nil
}
