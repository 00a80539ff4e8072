package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Josh0007-sunday/chainproofserver/internal/models"
)

// Config 服务配置，对应 config.yaml
type Config struct {
	App struct {
		Port     int    `mapstructure:"port"`
		Mode     string `mapstructure:"mode"` // gin mode: debug | release | test
		LogLevel string `mapstructure:"log_level"`
		// 为空时不信任任何代理的 X-Forwarded-For
		TrustedProxies []string `mapstructure:"trusted_proxies"`
	} `mapstructure:"app"`
	Database struct {
		Driver       string        `mapstructure:"driver"` // mysql | postgres | sqlite | mongo
		DSN          string        `mapstructure:"dsn"`
		MaxOpenConns int           `mapstructure:"max_open_conns"`
		MaxIdleConns int           `mapstructure:"max_idle_conns"`
		ConnMaxLife  time.Duration `mapstructure:"conn_max_lifetime"`
		Retries      int           `mapstructure:"retries"`
	} `mapstructure:"database"`
	Mongo struct {
		URI        string `mapstructure:"uri"`
		Database   string `mapstructure:"database"`
		Collection string `mapstructure:"collection"`
	} `mapstructure:"mongo"`
	Redis struct {
		Addr     string        `mapstructure:"addr"` // 为空时使用进程内锁
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		LockTTL  time.Duration `mapstructure:"lock_ttl"`
	} `mapstructure:"redis"`
	Solana struct {
		RPCURL                 string        `mapstructure:"rpc_url"`
		WSURL                  string        `mapstructure:"ws_url"`
		Network                string        `mapstructure:"network"`
		TokenMint              string        `mapstructure:"token_mint"`
		PaymentWallet          string        `mapstructure:"payment_wallet"`
		RewardPoolProgram      string        `mapstructure:"reward_pool_program"`
		RewardPoolTokenAccount string        `mapstructure:"reward_pool_token_account"`
		MinAmount              uint64        `mapstructure:"min_amount"`
		RewardPoolMinAmount    uint64        `mapstructure:"reward_pool_min_amount"`
		ConfirmTimeout         time.Duration `mapstructure:"confirm_timeout"`
		PollInterval           time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"solana"`
	Market struct {
		JupiterURL      string        `mapstructure:"jupiter_url"`
		CoinGeckoURL    string        `mapstructure:"coingecko_url"`
		CoinGeckoAPIKey string        `mapstructure:"coingecko_api_key"`
		Timeout         time.Duration `mapstructure:"timeout"`
	} `mapstructure:"market"`
	Gate struct {
		Enabled   bool     `mapstructure:"enabled"`
		Endpoints []string `mapstructure:"endpoints"`
	} `mapstructure:"gate"`
}

var (
	ErrMissingRPCURL    = errors.New("solana.rpc_url is empty")
	ErrMissingMint      = errors.New("solana.token_mint is empty")
	ErrMissingWallet    = errors.New("solana.payment_wallet is empty")
	ErrUnknownNetwork   = errors.New("unknown solana.network")
	ErrUnknownDriver    = errors.New("unknown database.driver")
	ErrZeroMinAmount    = errors.New("solana.min_amount must be greater than zero")
	ErrMissingMongoURI  = errors.New("mongo.uri is empty")
	ErrMissingRewardAcc = errors.New("solana.reward_pool_token_account is required with solana.reward_pool_program")
	ErrLockTTLTooShort  = errors.New("redis.lock_ttl must exceed solana.confirm_timeout plus the submit and fetch margin")
)

// LockMargin is the time a verification spends outside confirmation
// (simulate, submit, finalized fetch, store writes).
const LockMargin = 30 * time.Second

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.mode", "release")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.retries", 5)

	v.SetDefault("mongo.database", "chainproof")
	v.SetDefault("mongo.collection", "payments")

	v.SetDefault("redis.lock_ttl", 2*time.Minute)

	v.SetDefault("solana.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("solana.network", "devnet")
	v.SetDefault("solana.min_amount", 100000)
	v.SetDefault("solana.reward_pool_min_amount", 100000)
	v.SetDefault("solana.confirm_timeout", 60*time.Second)
	v.SetDefault("solana.poll_interval", 2*time.Second)

	v.SetDefault("market.jupiter_url", "https://lite-api.jup.ag/price/v3")
	v.SetDefault("market.coingecko_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("market.timeout", 10*time.Second)

	v.SetDefault("gate.enabled", false)

	// keys without a meaningful default still need registering so that
	// AutomaticEnv values reach Unmarshal
	for _, key := range []string{
		"database.dsn", "mongo.uri", "redis.addr", "redis.password",
		"solana.ws_url", "solana.token_mint", "solana.payment_wallet",
		"solana.reward_pool_program", "solana.reward_pool_token_account",
		"market.coingecko_api_key",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("redis.db", 0)
	v.SetDefault("gate.endpoints", []string{})
	v.SetDefault("app.trusted_proxies", []string{})
}

// Load reads config.yaml from "." or "./config" (both optional) and applies
// CHAINPROOF_* environment overrides. A .env file, if present, is loaded first.
func Load(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("CHAINPROOF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the verifiers cannot run without.
func (c *Config) Validate() error {
	if c.Solana.RPCURL == "" {
		return ErrMissingRPCURL
	}
	if c.Solana.TokenMint == "" {
		return ErrMissingMint
	}
	if c.Solana.PaymentWallet == "" {
		return ErrMissingWallet
	}
	if _, ok := models.ParseNetwork(c.Solana.Network); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNetwork, c.Solana.Network)
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	case "mongo":
		if c.Mongo.URI == "" {
			return ErrMissingMongoURI
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Database.Driver)
	}
	if c.Solana.MinAmount == 0 || c.Solana.RewardPoolMinAmount == 0 {
		return ErrZeroMinAmount
	}
	if c.Solana.RewardPoolProgram != "" && c.Solana.RewardPoolTokenAccount == "" {
		return ErrMissingRewardAcc
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL < c.Solana.ConfirmTimeout+LockMargin {
		return fmt.Errorf("%w: lock_ttl=%s confirm_timeout=%s", ErrLockTTLTooShort, c.Redis.LockTTL, c.Solana.ConfirmTimeout)
	}
	return nil
}

// NetworkName returns the normalized network; Validate guarantees it parses.
func (c *Config) NetworkName() models.Network {
	n, _ := models.ParseNetwork(c.Solana.Network)
	return n
}
