package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config that passes Validate, built on top of
// Defaults. Tests mutate single fields from here.
func validConfig() Config {
	cfg := Defaults()
	cfg.Venue = VenueConfig{Name: "alpha", Counterpart: "beta"}
	cfg.Feed.URL = "wss://feed.alpha.example/stream"
	cfg.Exchange.BaseURL = "https://api.alpha.example"
	cfg.Exchange.ApiKey = "key"
	cfg.Exchange.ApiSecret = "secret"
	cfg.Pairs = []PairConfig{
		{
			Symbol:             "BTC/USDT",
			FreshnessThreshold: duration{2 * time.Second},
			MarketTaking:       TakingConfig{Volume: 0.05, CutoffRate: 1.001},
			MarketMaking:       MakingConfig{Volume: 0.05, CutoffRate: 1.003, BidIncrement: 0.01, AskDecrement: 0.01},
		},
	}
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateMirrorModeWithoutExchangeCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "mirror"
	cfg.Exchange.BaseURL = ""
	cfg.Exchange.ApiKey = ""
	cfg.Exchange.ApiSecret = ""

	assert.NoError(t, cfg.Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "turbo" },
			wantMsg: `unknown mode "turbo"`,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantMsg: `unknown log_level "loud"`,
		},
		{
			name:    "missing venue name",
			mutate:  func(c *Config) { c.Venue.Name = "" },
			wantMsg: "venue: name must not be empty",
		},
		{
			name:    "counterpart equals venue",
			mutate:  func(c *Config) { c.Venue.Counterpart = "alpha" },
			wantMsg: "venue: counterpart must differ from name",
		},
		{
			name:    "no pairs",
			mutate:  func(c *Config) { c.Pairs = nil },
			wantMsg: "pairs: at least one pair must be configured",
		},
		{
			name:    "malformed pair symbol",
			mutate:  func(c *Config) { c.Pairs[0].Symbol = "BTCUSDT" },
			wantMsg: `symbol "BTCUSDT" must have the form BASE/QUOTE`,
		},
		{
			name: "duplicate pair symbol",
			mutate: func(c *Config) {
				c.Pairs = append(c.Pairs, c.Pairs[0])
			},
			wantMsg: `duplicate symbol "BTC/USDT"`,
		},
		{
			name:    "zero freshness threshold",
			mutate:  func(c *Config) { c.Pairs[0].FreshnessThreshold = duration{0} },
			wantMsg: "freshness_threshold must be > 0",
		},
		{
			name:    "non-positive taking volume",
			mutate:  func(c *Config) { c.Pairs[0].MarketTaking.Volume = 0 },
			wantMsg: "market_taking.volume must be > 0",
		},
		{
			name:    "negative bid increment",
			mutate:  func(c *Config) { c.Pairs[0].MarketMaking.BidIncrement = -0.01 },
			wantMsg: "market_making.bid_increment must be >= 0",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Feed.Transport = "smtp" },
			wantMsg: `feed: unknown transport "smtp"`,
		},
		{
			name: "kafka transport without brokers",
			mutate: func(c *Config) {
				c.Feed.Transport = "kafka"
				c.Kafka.Brokers = nil
			},
			wantMsg: "kafka: brokers must not be empty",
		},
		{
			name: "run mode without api secret",
			mutate: func(c *Config) {
				c.Exchange.ApiSecret = ""
				c.Exchange.EncryptedKeyPath = ""
			},
			wantMsg: "exchange: either api_secret or encrypted_key_path must be set",
		},
		{
			name: "encrypted key path without password",
			mutate: func(c *Config) {
				c.Exchange.ApiSecret = ""
				c.Exchange.EncryptedKeyPath = "/etc/crossarb/key.enc"
				c.Exchange.KeyPassword = ""
			},
			wantMsg: "exchange: key_password is required when encrypted_key_path is set",
		},
		{
			name:    "unknown own orders source",
			mutate:  func(c *Config) { c.Exchange.OwnOrdersSource = "csv" },
			wantMsg: `exchange: unknown own_orders_source "csv"`,
		},
		{
			name: "s3 enabled without bucket",
			mutate: func(c *Config) {
				c.S3.Enabled = true
				c.S3.Bucket = ""
			},
			wantMsg: "s3: bucket must not be empty when enabled",
		},
		{
			name:    "server port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantMsg: "server: port must be 1-65535",
		},
		{
			name: "lock enabled with zero ttl",
			mutate: func(c *Config) {
				c.Lock.Enabled = true
				c.Lock.TTL = duration{0}
			},
			wantMsg: "lock: ttl must be > 0 when enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.Venue.Name = ""
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "bogus"`)
	assert.Contains(t, err.Error(), "venue: name must not be empty")
	assert.Contains(t, err.Error(), "redis: addr must not be empty")
}

func TestLoadDecodesTOMLOverDefaults(t *testing.T) {
	raw := `
mode = "mirror"
log_level = "debug"

[venue]
name = "alpha"
counterpart = "beta"

[feed]
transport = "websocket"
url = "wss://feed.alpha.example/stream"

[[pairs]]
symbol = "ETH/USDT"
freshness_threshold = "1500ms"

[pairs.market_taking]
volume = 0.2
cutoff_rate = 1.002

[pairs.market_making]
volume = 0.1
cutoff_rate = 1.004
bid_increment = 0.05
ask_decrement = 0.05

[redis]
addr = "redis.internal:6380"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mirror", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "alpha", cfg.Venue.Name)
	assert.Equal(t, "beta", cfg.Venue.Counterpart)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)

	require.Len(t, cfg.Pairs, 1)
	assert.Equal(t, "ETH/USDT", cfg.Pairs[0].Symbol)
	assert.Equal(t, 1500*time.Millisecond, cfg.Pairs[0].FreshnessThreshold.Duration)
	assert.Equal(t, 0.2, cfg.Pairs[0].MarketTaking.Volume)
	assert.Equal(t, 0.05, cfg.Pairs[0].MarketMaking.BidIncrement)

	// Untouched sections keep their defaults.
	assert.Equal(t, 20, cfg.Redis.PoolSize)
	assert.Equal(t, 300, cfg.Exchange.RequestsPerMinute)

	require.NoError(t, cfg.Validate())
}

func TestDurationRoundTrip(t *testing.T) {
	var out struct {
		Interval duration `toml:"interval"`
	}
	_, err := toml.Decode(`interval = "90s"`, &out)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, out.Interval.Duration)

	text, err := out.Interval.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CROSSARB_MODE", "mirror")
	t.Setenv("CROSSARB_VENUE_NAME", "gamma")
	t.Setenv("CROSSARB_REDIS_ADDR", "override:6379")
	t.Setenv("CROSSARB_EXCHANGE_API_SECRET", "env-secret")
	t.Setenv("CROSSARB_EXCHANGE_TIMEOUT", "30s")
	t.Setenv("CROSSARB_KAFKA_BROKERS", "b1:9092, b2:9092 ,")
	t.Setenv("CROSSARB_SERVER_ENABLED", "false")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "mirror", cfg.Mode)
	assert.Equal(t, "gamma", cfg.Venue.Name)
	assert.Equal(t, "override:6379", cfg.Redis.Addr)
	assert.Equal(t, "env-secret", cfg.Exchange.ApiSecret)
	assert.Equal(t, 30*time.Second, cfg.Exchange.Timeout.Duration)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Server.Enabled)
}

func TestApplyEnvOverridesIgnoresUnsetAndMalformed(t *testing.T) {
	t.Setenv("CROSSARB_REDIS_POOL_SIZE", "not-a-number")
	t.Setenv("CROSSARB_EXCHANGE_TIMEOUT", "eventually")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, 20, cfg.Redis.PoolSize)
	assert.Equal(t, 10*time.Second, cfg.Exchange.Timeout.Duration)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Exchange.ApiPassphrase = "hunter2"
	cfg.Redis.Password = "redis-pass"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Notify.TelegramToken = "tg-token"
	cfg.Server.ApiKey = "server-key"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Exchange.ApiKey)
	assert.Equal(t, "***", red.Exchange.ApiSecret)
	assert.Equal(t, "***", red.Exchange.ApiPassphrase)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Equal(t, "***", red.Server.ApiKey)

	// Empty secrets stay empty rather than becoming placeholders.
	assert.Empty(t, red.Postgres.DSN)

	// The original is untouched.
	assert.Equal(t, "key", cfg.Exchange.ApiKey)
	assert.Equal(t, "redis-pass", cfg.Redis.Password)

	// Mutating the redacted copy's slices must not leak back.
	red.Pairs[0].Symbol = "XRP/USDT"
	assert.Equal(t, "BTC/USDT", cfg.Pairs[0].Symbol)
}
