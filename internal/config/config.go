package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("invalid config")

// ---- Root ----

type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Store       DatabaseConfig    `mapstructure:"store"`
	ClickHouse  ClickHouseConfig  `mapstructure:"clickhouse"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Forward     ForwardConfig     `mapstructure:"forward"`
	Filter      FilterConfig      `mapstructure:"filter"`
	Endpoints   EndpointsConfig   `mapstructure:"endpoints"`
	Transport   TransportConfig   `mapstructure:"transport"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Dispatcher  DispatcherConfig  `mapstructure:"dispatcher"`
	Dedup       DedupConfig       `mapstructure:"dedup"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level    string        `mapstructure:"level"`
	Encoding string        `mapstructure:"encoding"`
	File     LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite|mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type ClickHouseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type ForwardConfig struct {
	Template             string `mapstructure:"template"`
	DefaultSelectionMode string `mapstructure:"default_selection_mode"`
	DefaultCountryCode   string `mapstructure:"default_country_code"`
}

type FilterConfig struct {
	Timezone       string `mapstructure:"timezone"`
	RegexCacheSize int    `mapstructure:"regex_cache_size"`
}

// Location resolves Timezone; "" and "Local" mean the process zone.
func (f FilterConfig) Location() (*time.Location, error) {
	if f.Timezone == "" || strings.EqualFold(f.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(f.Timezone)
}

type EndpointConfig struct {
	SubscriptionID int32  `mapstructure:"subscription_id"`
	Slot           int32  `mapstructure:"slot"`
	Carrier        string `mapstructure:"carrier"`
	DisplayName    string `mapstructure:"display_name"`
	Active         bool   `mapstructure:"active"`
}

type EndpointsConfig struct {
	Source                string               `mapstructure:"source"` // static|http
	CacheTTL              time.Duration        `mapstructure:"cache_ttl"`
	DefaultSubscriptionID int32                `mapstructure:"default_subscription_id"`
	Static                []EndpointConfig     `mapstructure:"static"`
	HTTP                  EndpointSourceConfig `mapstructure:"http"`
}

type EndpointSourceConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Path      string `mapstructure:"path"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type TransportConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Gateways      []string      `mapstructure:"gateways"` // overrides base_url when set
	SendPath      string        `mapstructure:"send_path"`
	MultipartPath string        `mapstructure:"multipart_path"`
	TimeoutMs     int           `mapstructure:"timeout_ms"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

type QueueConfig struct {
	MaxRetry    int           `mapstructure:"max_retry"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	Delays      TierDelays    `mapstructure:"delays"`
}

type TierDelays struct {
	High   time.Duration `mapstructure:"high"`
	Normal time.Duration `mapstructure:"normal"`
	Low    time.Duration `mapstructure:"low"`
}

type DispatcherConfig struct {
	WorkerCount  int           `mapstructure:"worker_count"`
	ClaimBatch   int           `mapstructure:"claim_batch"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
}

type DedupConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Backend    string        `mapstructure:"backend"` // memory|redis
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
}

type MaintenanceConfig struct {
	RecoverSchedule         string `mapstructure:"recover_schedule"`
	EndpointRefreshSchedule string `mapstructure:"endpoint_refresh_schedule"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (SMSFWD_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		// a missing file keeps the defaults
		if err := v.MergeInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("merge %s: %w", path, err)
		}
	}

	// env override (SMSFWD_STORE_DSN -> store.dsn)
	v.SetEnvPrefix("SMSFWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the core cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want sqlite or mysql", c.Store.Driver))
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn is empty"))
	}
	switch c.Endpoints.Source {
	case "static", "http":
	default:
		errs = append(errs, fmt.Errorf("endpoints.source %q: want static or http", c.Endpoints.Source))
	}
	switch strings.ToLower(c.Forward.DefaultSelectionMode) {
	case "auto", "source_sim", "specific_sim":
	default:
		errs = append(errs, fmt.Errorf("forward.default_selection_mode %q", c.Forward.DefaultSelectionMode))
	}
	switch c.Dedup.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("dedup.backend %q: want memory or redis", c.Dedup.Backend))
	}
	if c.Queue.MaxRetry < 1 {
		errs = append(errs, fmt.Errorf("queue.max_retry must be >= 1, got %d", c.Queue.MaxRetry))
	}
	if c.Dispatcher.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("dispatcher.worker_count must be >= 1, got %d", c.Dispatcher.WorkerCount))
	}
	if c.Dispatcher.StaleAfter <= c.Transport.SendTimeout {
		errs = append(errs, fmt.Errorf("dispatcher.stale_after (%s) must exceed transport.send_timeout (%s)",
			c.Dispatcher.StaleAfter, c.Transport.SendTimeout))
	}
	if _, err := c.Filter.Location(); err != nil {
		errs = append(errs, fmt.Errorf("filter.timezone: %w", err))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
