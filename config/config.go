package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

// Config 服务配置，环境变量驱动，本地开发可放 .env。
type Config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"host=localhost user=postgres password=postgres dbname=paychan port=5432 sslmode=disable"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// 链
	RPCURL          string `env:"RPC_URL"`
	Chain           string `env:"CHAIN" envDefault:"plasma"`
	ContractAddress string `env:"CONTRACT_ADDRESS"`
	Confirmations   int    `env:"CONFIRMATIONS" envDefault:"12"`

	// 授权签名：remote > mnemonic > hex，生产环境必须走远程签名服务
	RemoteSignerURL   string `env:"REMOTE_SIGNER_URL"`
	AuthorityAddress  string `env:"AUTHORITY_ADDRESS"` // 远程签名时的授权地址
	AuthorityMnemonic string `env:"AUTHORITY_MNEMONIC"`
	AuthorityPrivKey  string `env:"AUTHORITY_PRIVATE_KEY"`

	// 汇率
	RateOracleURL string        `env:"RATE_ORACLE_URL"`
	RateSource    string        `env:"RATE_SOURCE" envDefault:"oracle"`
	RateMaxAge    time.Duration `env:"RATE_MAX_AGE" envDefault:"30s"`

	// 账本
	OrderTTL      time.Duration `env:"ORDER_TTL" envDefault:"15m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	FeeRate       string        `env:"WITHDRAW_FEE_RATE" envDefault:"0"`
	UsdtDecimals  int           `env:"USDT_DECIMALS" envDefault:"6"`
	XplDecimals   int           `env:"XPL_DECIMALS" envDefault:"18"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"devsecret"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

func Load() (Config, error) {
	_ = godotenv.Load()
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("env.Parse: %w", err)
	}
	return cfg, nil
}
