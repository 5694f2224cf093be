package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Crypto     CryptoConfig     `mapstructure:"crypto"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	Exchanges  ExchangesConfig  `mapstructure:"exchanges"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Log        LogConfig        `mapstructure:"log"`
	Bots       []BotConfig      `mapstructure:"bots"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	// CookieSecure marks the oauth_state cookie Secure; disable only for local http testing.
	CookieSecure bool `mapstructure:"cookie_secure"`
}

type AuthConfig struct {
	// JWTSecret verifies HS256 access tokens issued by the login service.
	JWTSecret string `mapstructure:"jwt_secret"`
	// RequestsPerSecond is the per-user API rate limit.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CryptoConfig struct {
	TokenKey string `mapstructure:"token_key"`
}

type BrokerConfig struct {
	ExpiryBufferSeconds int64         `mapstructure:"expiry_buffer_seconds"`
	MaxRefreshAttempts  int           `mapstructure:"max_refresh_attempts"`
	RefreshTimeout      time.Duration `mapstructure:"refresh_timeout"`
}

type QueueConfig struct {
	PopTimeout   time.Duration `mapstructure:"pop_timeout"`
	Exclusive    bool          `mapstructure:"exclusive"` // guard against a second consumer on the same queue
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	PurgeOnStart bool          `mapstructure:"purge_on_start"`
	HistoryMax   int           `mapstructure:"history_max"`
}

type RiskConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxTradesPerHour  int           `mapstructure:"max_trades_per_hour"`
	Lookback          int           `mapstructure:"lookback"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
	MaxImbalance      int           `mapstructure:"max_imbalance"`
	TradingHoursStart int           `mapstructure:"trading_hours_start"` // local hour, inclusive
	TradingHoursEnd   int           `mapstructure:"trading_hours_end"`   // local hour, exclusive
	MaxOrderValue     float64       `mapstructure:"max_order_value"`     // quote currency, 0 disables
}

type ProcessorConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type ExchangesConfig struct {
	Coinbase CoinbaseConfig `mapstructure:"coinbase"`
}

type CoinbaseConfig struct {
	ClientID          string        `mapstructure:"client_id"`
	ClientSecret      string        `mapstructure:"client_secret"`
	RedirectURI       string        `mapstructure:"redirect_uri"`
	Scope             string        `mapstructure:"scope"`
	AuthorizeURL      string        `mapstructure:"authorize_url"`
	TokenURL          string        `mapstructure:"token_url"`
	APIBaseURL        string        `mapstructure:"api_base_url"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	WorkerAddr string `mapstructure:"worker_addr"`
}

type SupervisorConfig struct {
	GeneratorBin  string        `mapstructure:"generator_bin"`
	ProcessorBin  string        `mapstructure:"processor_bin"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	MaxRestarts   int           `mapstructure:"max_restarts"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// BotConfig is the static metadata of one bot plus its strategy wiring.
type BotConfig struct {
	Name        string            `mapstructure:"name"`
	Description string            `mapstructure:"description"`
	AssetTypes  []string          `mapstructure:"asset_types"`
	Exchange    string            `mapstructure:"exchange"`
	Strategy    string            `mapstructure:"strategy"`
	Interval    time.Duration     `mapstructure:"interval"`
	Params      map[string]string `mapstructure:"params"`
}

// FindBot returns the bot entry with the given name.
func (c *Config) FindBot(name string) (BotConfig, bool) {
	for _, b := range c.Bots {
		if b.Name == name {
			return b, true
		}
	}
	return BotConfig{}, false
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// e.g. COINPILOT_DATABASE_DSN
	viper.SetEnvPrefix("coinpilot")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.cookie_secure", true)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.requests_per_second", 10)
	v.SetDefault("auth.burst", 20)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("crypto.token_key", "")
	v.SetDefault("broker.expiry_buffer_seconds", 120)
	v.SetDefault("broker.max_refresh_attempts", 3)
	v.SetDefault("broker.refresh_timeout", "10s")
	v.SetDefault("queue.pop_timeout", "10s")
	v.SetDefault("queue.exclusive", false)
	v.SetDefault("queue.lock_ttl", "10s")
	v.SetDefault("queue.purge_on_start", false)
	v.SetDefault("queue.history_max", 100)
	v.SetDefault("risk.enabled", true)
	v.SetDefault("risk.max_trades_per_hour", 6)
	v.SetDefault("risk.lookback", 20)
	v.SetDefault("risk.min_interval", "10m")
	v.SetDefault("risk.max_imbalance", 5)
	v.SetDefault("risk.trading_hours_start", 4)
	v.SetDefault("risk.trading_hours_end", 22)
	v.SetDefault("risk.max_order_value", 0)
	v.SetDefault("processor.concurrency", 8)
	v.SetDefault("exchanges.coinbase.scope", "wallet:accounts:read,wallet:user:read,wallet:buys:create,wallet:sells:create")
	v.SetDefault("exchanges.coinbase.authorize_url", "https://login.coinbase.com/oauth2/auth")
	v.SetDefault("exchanges.coinbase.token_url", "https://login.coinbase.com/oauth2/token")
	v.SetDefault("exchanges.coinbase.api_base_url", "https://api.coinbase.com")
	v.SetDefault("exchanges.coinbase.http_timeout", "10s")
	v.SetDefault("exchanges.coinbase.requests_per_second", 10)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.worker_addr", "")
	v.SetDefault("supervisor.generator_bin", "./generator")
	v.SetDefault("supervisor.processor_bin", "./processor")
	v.SetDefault("supervisor.check_interval", "10s")
	v.SetDefault("supervisor.max_restarts", 1)
	v.SetDefault("log.level", "info")
}
