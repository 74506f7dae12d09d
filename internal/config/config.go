// Package config defines the top-level configuration for the cross-venue
// arbitrage service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CROSSARB_* environment variables.
type Config struct {
	Venue    VenueConfig    `toml:"venue"`
	Pairs    []PairConfig   `toml:"pairs"`
	Feed     FeedConfig     `toml:"feed"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	Exchange ExchangeConfig `toml:"exchange"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Lock     LockConfig     `toml:"lock"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig identifies the venue this instance trades on and the venue it
// arbitrages against. Counterpart books are read from the shared cache, never
// from a direct feed.
type VenueConfig struct {
	Name        string `toml:"name"`
	Counterpart string `toml:"counterpart"`
}

// PairConfig holds per-pair thresholds and strategy parameters. Each traded
// pair gets its own entry; a pair without an entry is ignored by the feed.
type PairConfig struct {
	Symbol             string       `toml:"symbol"`
	FreshnessThreshold duration     `toml:"freshness_threshold"`
	MarketTaking       TakingConfig `toml:"market_taking"`
	MarketMaking       MakingConfig `toml:"market_making"`
}

// TakingConfig holds parameters for the market-taking strategy. CutoffRate is
// the minimal cross-venue price ratio required before an order is sent.
type TakingConfig struct {
	Volume     float64 `toml:"volume"`
	CutoffRate float64 `toml:"cutoff_rate"`
}

// MakingConfig holds parameters for the market-making strategy. BidIncrement
// and AskDecrement are the price offsets applied to the current best levels
// when quoting.
type MakingConfig struct {
	Volume       float64 `toml:"volume"`
	CutoffRate   float64 `toml:"cutoff_rate"`
	BidIncrement float64 `toml:"bid_increment"`
	AskDecrement float64 `toml:"ask_decrement"`
}

// FeedConfig selects the order-book event transport for the local venue.
type FeedConfig struct {
	Transport string `toml:"transport"`
	URL       string `toml:"url"`
}

// KafkaConfig holds Kafka consumer parameters, used when feed.transport is
// "kafka".
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// ExchangeConfig holds REST API parameters for the local venue. The API secret
// may be given in plaintext (api_secret) or as an encrypted key file
// (encrypted_key_path plus key_password).
type ExchangeConfig struct {
	BaseURL           string   `toml:"base_url"`
	ApiKey            string   `toml:"api_key"`
	ApiSecret         string   `toml:"api_secret"`
	ApiPassphrase     string   `toml:"api_passphrase"`
	EncryptedKeyPath  string   `toml:"encrypted_key_path"`
	KeyPassword       string   `toml:"key_password"`
	OwnOrdersSource   string   `toml:"own_orders_source"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	Timeout           duration `toml:"timeout"`
}

// S3Config holds S3-compatible object storage parameters for book snapshot
// archival. Retention keeps the newest N timestamped archives per pair; zero
// keeps everything.
type S3Config struct {
	Enabled          bool     `toml:"enabled"`
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	SnapshotInterval duration `toml:"snapshot_interval"`
	RestoreOnStart   bool     `toml:"restore_on_start"`
	Retention        int      `toml:"retention"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds HTTP server parameters. An empty ApiKey disables request
// authentication; a zero RateLimit disables per-client request limiting.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	ApiKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"` // requests per minute per client IP
}

// LockConfig holds distributed lock parameters. When enabled, each decision
// cycle acquires a per-pair Redis lock so that redundant instances never act
// on the same pair concurrently.
type LockConfig struct {
	Enabled bool     `toml:"enabled"`
	TTL     duration `toml:"ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			Transport: "websocket",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "orderbook.events",
			GroupID: "crossarb",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "crossarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Exchange: ExchangeConfig{
			OwnOrdersSource:   "exchange",
			RequestsPerMinute: 300,
			Timeout:           duration{10 * time.Second},
		},
		S3: S3Config{
			Enabled:          false,
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "crossarb-books",
			UseSSL:           false,
			ForcePathStyle:   true,
			SnapshotInterval: duration{time.Minute},
			RestoreOnStart:   false,
		},
		Notify: NotifyConfig{
			Events: []string{"taken", "made", "feed_down", "upstream_error"},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Lock: LockConfig{
			Enabled: false,
			TTL:     duration{5 * time.Second},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":    true,
	"mirror": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validOwnOrderSources enumerates the accepted values for
// ExchangeConfig.OwnOrdersSource.
var validOwnOrderSources = map[string]bool{
	"exchange": true,
	"postgres": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, mirror)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue
	if c.Venue.Name == "" {
		errs = append(errs, "venue: name must not be empty")
	}
	if c.Venue.Counterpart == "" {
		errs = append(errs, "venue: counterpart must not be empty")
	}
	if c.Venue.Name != "" && c.Venue.Name == c.Venue.Counterpart {
		errs = append(errs, "venue: counterpart must differ from name")
	}

	// Pairs
	if len(c.Pairs) == 0 {
		errs = append(errs, "pairs: at least one pair must be configured")
	}
	seen := make(map[string]bool, len(c.Pairs))
	for i, p := range c.Pairs {
		prefix := fmt.Sprintf("pairs[%d]", i)
		base, quote, ok := strings.Cut(p.Symbol, "/")
		if !ok || base == "" || quote == "" {
			errs = append(errs, fmt.Sprintf("%s: symbol %q must have the form BASE/QUOTE", prefix, p.Symbol))
		}
		if seen[p.Symbol] {
			errs = append(errs, fmt.Sprintf("%s: duplicate symbol %q", prefix, p.Symbol))
		}
		seen[p.Symbol] = true
		if p.FreshnessThreshold.Duration <= 0 {
			errs = append(errs, prefix+": freshness_threshold must be > 0")
		}
		if p.MarketTaking.Volume <= 0 {
			errs = append(errs, prefix+": market_taking.volume must be > 0")
		}
		if p.MarketTaking.CutoffRate <= 0 {
			errs = append(errs, prefix+": market_taking.cutoff_rate must be > 0")
		}
		if p.MarketMaking.Volume <= 0 {
			errs = append(errs, prefix+": market_making.volume must be > 0")
		}
		if p.MarketMaking.CutoffRate <= 0 {
			errs = append(errs, prefix+": market_making.cutoff_rate must be > 0")
		}
		if p.MarketMaking.BidIncrement < 0 {
			errs = append(errs, prefix+": market_making.bid_increment must be >= 0")
		}
		if p.MarketMaking.AskDecrement < 0 {
			errs = append(errs, prefix+": market_making.ask_decrement must be >= 0")
		}
	}

	// Feed
	switch strings.ToLower(c.Feed.Transport) {
	case "websocket":
		if c.Feed.URL == "" {
			errs = append(errs, "feed: url must not be empty for websocket transport")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty for kafka transport")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty for kafka transport")
		}
	default:
		errs = append(errs, fmt.Sprintf("feed: unknown transport %q (valid: websocket, kafka)", c.Feed.Transport))
	}

	// Exchange credentials are only needed when the decision cycle runs.
	if c.Mode == "run" {
		if c.Exchange.BaseURL == "" {
			errs = append(errs, "exchange: base_url must not be empty for mode run")
		}
		if c.Exchange.ApiKey == "" {
			errs = append(errs, "exchange: api_key is required for mode run")
		}
		if c.Exchange.ApiSecret == "" && c.Exchange.EncryptedKeyPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_key_path must be set for mode run")
		}
		if c.Exchange.EncryptedKeyPath != "" && c.Exchange.KeyPassword == "" {
			errs = append(errs, "exchange: key_password is required when encrypted_key_path is set")
		}
	}
	if !validOwnOrderSources[strings.ToLower(c.Exchange.OwnOrdersSource)] {
		errs = append(errs, fmt.Sprintf("exchange: unknown own_orders_source %q (valid: exchange, postgres)", c.Exchange.OwnOrdersSource))
	}
	if c.Exchange.RequestsPerMinute < 1 {
		errs = append(errs, "exchange: requests_per_minute must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.SnapshotInterval.Duration <= 0 {
			errs = append(errs, "s3: snapshot_interval must be > 0 when enabled")
		}
		if c.S3.Retention < 0 {
			errs = append(errs, "s3: retention must be >= 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Lock
	if c.Lock.Enabled && c.Lock.TTL.Duration <= 0 {
		errs = append(errs, "lock: ttl must be > 0 when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
