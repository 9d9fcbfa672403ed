package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/paychan_backend/authsig"
	"github.com/paychan_backend/config"
	"github.com/paychan_backend/handler"
	"github.com/paychan_backend/logger"
	"github.com/paychan_backend/model"
	"github.com/paychan_backend/repository"
	"github.com/paychan_backend/router"
	"github.com/paychan_backend/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		zlog.Fatal("connect database", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		zlog.Fatal("migrate database", zap.Error(err))
	}

	signer, err := buildSigner(cfg)
	if err != nil {
		zlog.Fatal("build signer", zap.Error(err))
	}
	zlog.Info("withdrawal authority ready", zap.String("address", signer.Address().Hex()))

	feeRate, err := decimal.NewFromString(cfg.FeeRate)
	if err != nil {
		zlog.Fatal("parse fee rate", zap.Error(err))
	}

	balances := repository.NewBalanceRepository(db)
	orders := repository.NewOrderRepository(db)
	nonces := repository.NewNonceRepository(db)
	deposits := repository.NewDepositRepository(db)
	checkpoints := repository.NewCheckpointRepository(db, cfg.Chain)
	events := repository.NewEventRepository(db, cfg.Chain)

	rates := service.NewRateService(cfg.RateOracleURL, cfg.RateSource, cfg.RateMaxAge, zlog)
	ledger := service.NewLedgerService(db, balances, orders, nonces, deposits, signer, rates,
		service.LedgerConfig{
			FeeRate:      feeRate,
			OrderTTL:     cfg.OrderTTL,
			UsdtDecimals: int32(cfg.UsdtDecimals),
			XplDecimals:  int32(cfg.XplDecimals),
		}, zlog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RPCURL != "" {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			zlog.Fatal("dial rpc", zap.Error(err))
		}
		scanCfg := service.DefaultScannerConfig(common.HexToAddress(cfg.ContractAddress))
		scanCfg.Confirmations = uint64(cfg.Confirmations)
		scanner := service.NewScanner(client, db, checkpoints, events, scanCfg, zlog)
		go scanner.Run(ctx)

		procCfg := service.DefaultProcessorConfig()
		procCfg.UsdtDecimals = int32(cfg.UsdtDecimals)
		processor := service.NewProcessor(events, ledger, procCfg, zlog)
		go processor.Run(ctx)
	} else {
		zlog.Warn("RPC_URL empty, chain reconciliation disabled")
	}

	sweeper := service.NewSweeper(ledger, cfg.SweepInterval, zlog)
	go sweeper.Run(ctx)

	authHandler := handler.NewAuthHandler(ledger, cfg.JWTSecret, cfg.JWTTTL)
	walletHandler := handler.NewWalletHandler(ledger)
	withdrawHandler := handler.NewWithdrawHandler(ledger)

	r := router.SetupRouter(authHandler, walletHandler, withdrawHandler)
	zlog.Info("paychan backend listening", zap.String("addr", cfg.ListenAddr))
	if err := r.Run(cfg.ListenAddr); err != nil {
		zlog.Fatal("http server", zap.Error(err))
	}
}

// buildSigner 签名后端优先级：远程签名服务 > 助记词派生 > 裸私钥。
func buildSigner(cfg config.Config) (authsig.Signer, error) {
	if cfg.RemoteSignerURL != "" {
		return authsig.NewRemoteSigner(cfg.RemoteSignerURL, common.HexToAddress(cfg.AuthorityAddress)), nil
	}
	if cfg.AuthorityMnemonic != "" {
		return authsig.NewLocalSignerFromMnemonic(cfg.AuthorityMnemonic, 0)
	}
	if cfg.AuthorityPrivKey != "" {
		return authsig.NewLocalSigner(cfg.AuthorityPrivKey)
	}
	return nil, authsig.ErrNoSigner
}
