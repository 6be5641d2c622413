package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/0gfoundation/0g-inference-billing/internal/facilitator"
	"github.com/0gfoundation/0g-inference-billing/internal/revenue"
	"github.com/0gfoundation/0g-inference-billing/internal/x402"
)

type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	Database    DatabaseConfig
	X402        X402Config
	Facilitator FacilitatorConfig
	Retention   RetentionConfig
	Upstream    UpstreamConfig
	RateLimit   RateLimitConfig `mapstructure:"ratelimit"`
	Log         LogConfig
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type X402Config struct {
	Network           string `mapstructure:"network"`
	ChainID           int64  `mapstructure:"chain_id"`
	Asset             string `mapstructure:"asset"`
	PayTo             string `mapstructure:"pay_to"`
	DefaultPrice      string `mapstructure:"default_price"`
	MaxTimeoutSeconds int    `mapstructure:"max_timeout_seconds"`
	MarketplaceBps    int    `mapstructure:"marketplace_bps"`
}

type FacilitatorConfig struct {
	Provider         string `mapstructure:"provider"`
	URL              string `mapstructure:"url"`
	APIKey           string `mapstructure:"api_key"`
	RPCURL           string `mapstructure:"rpc_url"`
	PrivateKey       string `mapstructure:"private_key"`
	HealthTimeoutSec int    `mapstructure:"health_timeout_sec"`
}

type RetentionConfig struct {
	Days        int    `mapstructure:"days"`
	IntervalSec int64  `mapstructure:"interval_sec"`
	CronSecret  string `mapstructure:"cron_secret"`
}

type UpstreamConfig struct {
	URL        string `mapstructure:"url"`
	APIKey     string `mapstructure:"api_key"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

type RateLimitConfig struct {
	MaxRequests int   `mapstructure:"max_requests"`
	WindowSec   int64 `mapstructure:"window_sec"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads defaults, then an optional config.yaml, then the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "production")
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("database.path", "billing.db")
	v.SetDefault("x402.chain_id", x402.ChainIDAvalancheFuji)
	v.SetDefault("x402.default_price", "10000")
	v.SetDefault("x402.max_timeout_seconds", x402.MaxTimeoutSeconds)
	v.SetDefault("x402.marketplace_bps", revenue.DefaultMarketplaceBps)
	v.SetDefault("facilitator.provider", string(facilitator.ProviderRemote))
	v.SetDefault("facilitator.url", facilitator.DefaultRemoteURL)
	v.SetDefault("facilitator.health_timeout_sec", 5)
	v.SetDefault("retention.days", 90)
	v.SetDefault("retention.interval_sec", 86400)
	v.SetDefault("upstream.timeout_sec", 30)
	v.SetDefault("ratelimit.max_requests", 10)
	v.SetDefault("ratelimit.window_sec", 60)
	v.SetDefault("log.level", "info")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":                    "PORT",
		"server.env":                     "APP_ENV",
		"redis.addr":                     "REDIS_ADDR",
		"redis.password":                 "REDIS_PASSWORD",
		"database.path":                  "DATABASE_PATH",
		"x402.network":                   "X402_NETWORK",
		"x402.chain_id":                  "X402_CHAIN_ID",
		"x402.asset":                     "X402_ASSET",
		"x402.pay_to":                    "X402_PAY_TO",
		"x402.default_price":             "X402_DEFAULT_PRICE",
		"x402.marketplace_bps":           "MARKETPLACE_BPS",
		"facilitator.provider":           "X402_FACILITATOR_PROVIDER",
		"facilitator.url":                "X402_FACILITATOR_URL",
		"facilitator.api_key":            "THIRDWEB_SECRET_KEY",
		"facilitator.rpc_url":            "RPC_URL",
		"facilitator.private_key":        "PRIVATE_KEY",
		"facilitator.health_timeout_sec": "FACILITATOR_HEALTH_TIMEOUT_SEC",
		"retention.days":                 "RETENTION_DAYS",
		"retention.interval_sec":         "RETENTION_INTERVAL_SEC",
		"retention.cron_secret":          "CRON_SECRET",
		"upstream.url":                   "UPSTREAM_URL",
		"upstream.api_key":               "UPSTREAM_API_KEY",
		"upstream.timeout_sec":           "UPSTREAM_TIMEOUT_SEC",
		"ratelimit.max_requests":         "RATE_LIMIT_MAX",
		"ratelimit.window_sec":           "RATE_LIMIT_WINDOW_SEC",
		"log.level":                      "LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.X402.PayTo == "" {
		return fmt.Errorf("required config missing: X402_PAY_TO")
	}
	if !common.IsHexAddress(c.X402.PayTo) {
		return fmt.Errorf("X402_PAY_TO is not an address: %q", c.X402.PayTo)
	}
	if _, err := c.Chain(); err != nil {
		return err
	}
	if _, err := c.DefaultPrice(); err != nil {
		return err
	}
	if c.X402.MarketplaceBps < 0 || c.X402.MarketplaceBps > revenue.MaxBps {
		return fmt.Errorf("MARKETPLACE_BPS out of range: %d", c.X402.MarketplaceBps)
	}
	if _, err := facilitator.ParseProvider(c.Facilitator.Provider); err != nil {
		return err
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be positive")
	}
	if c.Retention.IntervalSec <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL_SEC must be positive")
	}
	return nil
}

// Chain resolves the payment network. chain_id picks the table entry; an
// explicit network name must agree with it, and asset overrides the token.
func (c *Config) Chain() (x402.Chain, error) {
	ch, err := x402.ChainByID(c.X402.ChainID)
	if err != nil {
		return x402.Chain{}, err
	}
	if c.X402.Network != "" && c.X402.Network != ch.Network {
		return x402.Chain{}, fmt.Errorf("X402_NETWORK %q does not match chain %d (%s)", c.X402.Network, ch.ID, ch.Network)
	}
	if c.X402.Asset != "" {
		if !common.IsHexAddress(c.X402.Asset) {
			return x402.Chain{}, fmt.Errorf("X402_ASSET is not an address: %q", c.X402.Asset)
		}
		ch.USDC = common.HexToAddress(c.X402.Asset)
	}
	return ch, nil
}

func (c *Config) DefaultPrice() (*big.Int, error) {
	p, ok := new(big.Int).SetString(c.X402.DefaultPrice, 10)
	if !ok || p.Sign() <= 0 {
		return nil, fmt.Errorf("invalid X402_DEFAULT_PRICE %q", c.X402.DefaultPrice)
	}
	return p, nil
}

// FacilitatorSettings builds the settlement provider settings.
func (c *Config) FacilitatorSettings(ch x402.Chain) (facilitator.Config, error) {
	p, err := facilitator.ParseProvider(c.Facilitator.Provider)
	if err != nil {
		return facilitator.Config{}, err
	}
	rpc := c.Facilitator.RPCURL
	if rpc == "" && c.Facilitator.APIKey == "" {
		rpc = ch.RPCURL
	}
	return facilitator.Config{
		Provider:      p,
		Network:       ch.Network,
		ChainID:       ch.ID,
		Asset:         ch.USDC,
		URL:           c.Facilitator.URL,
		APIKey:        c.Facilitator.APIKey,
		RPCURL:        rpc,
		PrivateKey:    c.Facilitator.PrivateKey,
		HealthTimeout: time.Duration(c.Facilitator.HealthTimeoutSec) * time.Second,
	}, nil
}

func (c *Config) IsDevelopment() bool { return c.Server.Env == "development" }
