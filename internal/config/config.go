package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Access AccessConfig `mapstructure:"access"`
	Oracle OracleConfig `mapstructure:"oracle"`
	Engine EngineConfig `mapstructure:"engine"`
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
	Enabled        bool   `mapstructure:"enabled"`
	FeedHealth     string `mapstructure:"feed_health"`
	ExpiryReport   string `mapstructure:"expiry_report"`
	EscrowSnapshot string `mapstructure:"escrow_snapshot"`
}

// AccessConfig seeds the engine allow-list. Owner is the administrative
// identity; AuthorizedCallers are granted up front at boot.
type AccessConfig struct {
	Owner             string   `mapstructure:"owner"`
	AuthorizedCallers []string `mapstructure:"authorized_callers"`
	ServiceIdentity   string   `mapstructure:"service_identity"`
}

type OracleConfig struct {
	RESTFeeds []RESTFeedConfig `mapstructure:"rest_feeds"`
	Stream    StreamConfig     `mapstructure:"stream"`
}

type RESTFeedConfig struct {
	FeedID       string        `mapstructure:"feed_id"`
	Endpoint     string        `mapstructure:"endpoint"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type StreamConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	FeedID     string        `mapstructure:"feed_id"`
	BackoffMin time.Duration `mapstructure:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max"`
}

type EngineConfig struct {
	DefaultFeedID string `mapstructure:"default_feed_id"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OG")
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
	v.SetDefault("cron.feed_health", "@every 1m")
	v.SetDefault("cron.expiry_report", "@every 10m")
	v.SetDefault("cron.escrow_snapshot", "@every 1h")
	v.SetDefault("access.owner", "")
	v.SetDefault("access.service_identity", "")
	v.SetDefault("oracle.stream.enabled", false)
	v.SetDefault("oracle.stream.url", "wss://stream.binance.com:9443/ws/ethusdt@trade")
	v.SetDefault("oracle.stream.feed_id", "ETH/USD")
	v.SetDefault("oracle.stream.backoff_min", "1s")
	v.SetDefault("oracle.stream.backoff_max", "30s")
	v.SetDefault("engine.default_feed_id", "ETH/USD")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
