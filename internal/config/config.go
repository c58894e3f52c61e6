package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"alert-trader/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Server    ServerConfig    `mapstructure:"server"`
	OrderLog  OrderLogConfig  `mapstructure:"orderlog"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables
// durable order logging and the refresh advisory lock.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool { return strings.TrimSpace(d.DSN) != "" }

// RedisConfig configures the cache mirror.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExchangeConfig covers Binance spot REST access.
type ExchangeConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	RecvWindow     time.Duration `mapstructure:"recv_window"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	DryRun         bool          `mapstructure:"dry_run"`
}

// StreamConfig governs the bookTicker websocket feed.
type StreamConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	Throttle   time.Duration `mapstructure:"throttle"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// RefreshConfig governs refresh cadence and limits.
type RefreshConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	BalancesInterval time.Duration `mapstructure:"balances_interval"`
	FiltersInterval  time.Duration `mapstructure:"filters_interval"`
	PricesInterval   time.Duration `mapstructure:"prices_interval"`
	AfterFill        bool          `mapstructure:"after_fill"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
}

// TradingConfig restricts what alerts may trade.
type TradingConfig struct {
	AllowedSymbols []string `mapstructure:"allowed_symbols"`
}

// WebhookConfig 描述告警入口。
type WebhookConfig struct {
	Path       string   `mapstructure:"path"`
	Secret     string   `mapstructure:"secret"`
	AllowedIPs []string `mapstructure:"allowed_ips"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AdminKey        string        `mapstructure:"admin_key"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// OrderLogConfig bounds the recent-orders log and its durable copies.
type OrderLogConfig struct {
	Capacity  int `mapstructure:"capacity"`
	Retention int `mapstructure:"retention"`
}

// AlertingConfig defines order outcome notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Statuses []string       `mapstructure:"statuses"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int      `mapstructure:"max_data_points"`
	S3            S3Config `mapstructure:"s3"`
}

// S3Config describes the S3-compatible bucket exports are archived to.
// Endpoint is empty for AWS itself.
type S3Config struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	UseSSL         bool   `mapstructure:"use_ssl"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// ProfilingConfig enables continuous profiling against a Pyroscope server.
type ProfilingConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	ServerAddress   string            `mapstructure:"server_address"`
	ApplicationName string            `mapstructure:"application_name"`
	Tags            map[string]string `mapstructure:"tags"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// .env 不存在时忽略。
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ALERTTRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps the variable names existing deployments already export.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"exchange.api_key":     {"ALERTTRADER_EXCHANGE_API_KEY", "BINANCE_API_KEY"},
		"exchange.secret_key":  {"ALERTTRADER_EXCHANGE_SECRET_KEY", "BINANCE_SECRET_KEY"},
		"webhook.secret":       {"ALERTTRADER_WEBHOOK_SECRET", "WEBHOOK_SECRET"},
		"server.admin_key":     {"ALERTTRADER_SERVER_ADMIN_KEY", "ADMIN_API_KEY"},
		"database.dsn":         {"ALERTTRADER_DATABASE_DSN", "DATABASE_URL"},
		"redis.addr":           {"ALERTTRADER_REDIS_ADDR", "REDIS_ADDR"},
		"export.s3.access_key": {"ALERTTRADER_EXPORT_S3_ACCESS_KEY", "AWS_ACCESS_KEY_ID"},
		"export.s3.secret_key": {"ALERTTRADER_EXPORT_S3_SECRET_KEY", "AWS_SECRET_ACCESS_KEY"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "alerttrader")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", "3s")

	v.SetDefault("exchange.base_url", "https://api.binance.com")
	v.SetDefault("exchange.recv_window", "5s")
	v.SetDefault("exchange.request_timeout", "10s")
	v.SetDefault("exchange.user_agent", "alerttrader/1.0")
	v.SetDefault("exchange.dry_run", false)

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("stream.throttle", "3s")
	v.SetDefault("stream.stale_after", "60s")
	v.SetDefault("stream.max_backoff", "30s")

	v.SetDefault("refresh.timeout", "10s")
	v.SetDefault("refresh.balances_interval", "1h")
	v.SetDefault("refresh.filters_interval", "24h")
	v.SetDefault("refresh.prices_interval", "1m")
	v.SetDefault("refresh.after_fill", true)
	v.SetDefault("refresh.advisory_lock_key", int64(0x616c7274))
	v.SetDefault("refresh.startup_delay", "0s")

	v.SetDefault("trading.allowed_symbols", []string{
		"BTCUSDT", "ETHUSDT", "ADAUSDT", "DOGEUSDT", "PEPEUSDT", "XRPUSDT", "WIFUSDT", "BNBUSDT", "SOLUSDT",
		"BTCUSDC", "ETHUSDC", "ADAUSDC", "DOGEUSDC", "PEPEUSDC", "XRPUSDC", "WIFUSDC", "BNBUSDC", "SOLUSDC",
	})

	v.SetDefault("webhook.path", "/to-the-moon")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("orderlog.capacity", 100)
	v.SetDefault("orderlog.retention", 1000)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.statuses", []string{"filled", "rejected", "error"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 10000)
	v.SetDefault("export.s3.enabled", false)
	v.SetDefault("export.s3.region", "us-east-1")
	v.SetDefault("export.s3.prefix", "exports")
	v.SetDefault("export.s3.use_ssl", true)

	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.server_address", "http://localhost:4040")
	v.SetDefault("profiling.application_name", "alerttrader")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalize() {
	symbols := make([]string, 0, len(c.Trading.AllowedSymbols))
	for _, s := range c.Trading.AllowedSymbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	c.Trading.AllowedSymbols = symbols
	if c.Webhook.Path != "" && !strings.HasPrefix(c.Webhook.Path, "/") {
		c.Webhook.Path = "/" + c.Webhook.Path
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.OrderLog.Capacity <= 0 {
		return fmt.Errorf("orderlog.capacity must be greater than zero")
	}
	if c.OrderLog.Retention < c.OrderLog.Capacity {
		return fmt.Errorf("orderlog.retention must be at least orderlog.capacity")
	}
	if c.Refresh.Timeout <= 0 {
		return fmt.Errorf("refresh.timeout must be greater than zero")
	}
	if c.Refresh.BalancesInterval <= 0 || c.Refresh.FiltersInterval <= 0 || c.Refresh.PricesInterval <= 0 {
		return fmt.Errorf("refresh intervals must be greater than zero")
	}
	if c.Stream.Enabled && c.Stream.StaleAfter <= 0 {
		return fmt.Errorf("stream.stale_after must be greater than zero")
	}
	if c.Webhook.Path == "" {
		return fmt.Errorf("webhook.path is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Export.S3.Enabled && (c.Export.S3.Bucket == "" || c.Export.S3.Region == "") {
		return fmt.Errorf("export.s3.bucket and export.s3.region are required when export.s3 is enabled")
	}
	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return fmt.Errorf("profiling.server_address is required when profiling is enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ValidateTrading checks what serving live alerts needs on top of Validate.
func (c *Config) ValidateTrading() error {
	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret 必须配置")
	}
	if !c.Exchange.DryRun && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") {
		return fmt.Errorf("exchange.api_key and exchange.secret_key are required unless exchange.dry_run is set")
	}
	return nil
}

// SymbolAllowed reports whether symbol may be traded. An empty allow-list
// permits every symbol.
func (c *Config) SymbolAllowed(symbol string) bool {
	if len(c.Trading.AllowedSymbols) == 0 {
		return true
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, s := range c.Trading.AllowedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
