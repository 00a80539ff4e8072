package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Josh0007-sunday/chainproofserver/internal/config"
	"github.com/Josh0007-sunday/chainproofserver/internal/db"
	"github.com/Josh0007-sunday/chainproofserver/internal/handler"
	"github.com/Josh0007-sunday/chainproofserver/internal/listener"
	"github.com/Josh0007-sunday/chainproofserver/internal/lock"
	"github.com/Josh0007-sunday/chainproofserver/internal/metrics"
	"github.com/Josh0007-sunday/chainproofserver/internal/middleware"
	"github.com/Josh0007-sunday/chainproofserver/internal/mongostore"
	"github.com/Josh0007-sunday/chainproofserver/internal/services"
	"github.com/Josh0007-sunday/chainproofserver/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "配置错误:", err)
		os.Exit(1)
	}
	log := utils.NewLogger(utils.ParseLevel(cfg.App.LogLevel))
	if err := run(cfg, log); err != nil {
		log.Error("服务退出: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *utils.Logger) error {
	gin.SetMode(cfg.App.Mode)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 存储
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 链
	client := rpc.New(cfg.Solana.RPCURL)
	chainOpts := []services.RPCChainOption{
		services.WithConfirmTiming(cfg.Solana.ConfirmTimeout, cfg.Solana.PollInterval),
		services.WithChainMetrics(m),
	}
	if cfg.Solana.WSURL != "" {
		waiter := listener.NewSignatureWaiter(cfg.Solana.WSURL, log)
		defer waiter.Close()
		chainOpts = append(chainOpts, services.WithWebsocket(waiter))
	}
	chain := services.NewRPCChain(client, log, chainOpts...)

	// 签名锁
	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL)
		log.Info("使用 Redis 签名锁 %s", cfg.Redis.Addr)
	}

	mint, err := solana.PublicKeyFromBase58(cfg.Solana.TokenMint)
	if err != nil {
		return fmt.Errorf("solana.token_mint: %w", err)
	}
	wallet, err := solana.PublicKeyFromBase58(cfg.Solana.PaymentWallet)
	if err != nil {
		return fmt.Errorf("solana.payment_wallet: %w", err)
	}

	h := &handler.Handler{
		Store:          store,
		GateEnabled:    cfg.Gate.Enabled,
		GatedEndpoints: cfg.Gate.Endpoints,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Log:            log,
	}
	h.Payments = services.NewVerifier(services.VerifierConfig{
		Variant:   services.VariantPayment,
		Network:   cfg.NetworkName(),
		Mint:      mint,
		Recipient: wallet,
		MinAmount: cfg.Solana.MinAmount,
		Simulate:  true,
	}, chain, store, locker, m, log)

	if cfg.Solana.RewardPoolProgram != "" {
		program, err := solana.PublicKeyFromBase58(cfg.Solana.RewardPoolProgram)
		if err != nil {
			return fmt.Errorf("solana.reward_pool_program: %w", err)
		}
		poolAccount, err := solana.PublicKeyFromBase58(cfg.Solana.RewardPoolTokenAccount)
		if err != nil {
			return fmt.Errorf("solana.reward_pool_token_account: %w", err)
		}
		pool, err := services.NewRewardPool(program, poolAccount, client)
		if err != nil {
			return err
		}
		h.RewardPool = pool
		h.Registry = services.NewRegistry(program, client)
		h.RewardPoolPayments = services.NewVerifier(services.VerifierConfig{
			Variant:   services.VariantRewardPool,
			Network:   cfg.NetworkName(),
			Mint:      mint,
			Recipient: poolAccount,
			MinAmount: cfg.Solana.RewardPoolMinAmount,
		}, chain, store, locker, m, log)
		log.Info("奖励池 %s, 代币账户 %s", pool.Address(), poolAccount)
	}

	market := services.NewHTTPMarketSource(cfg.Market.JupiterURL, cfg.Market.CoinGeckoURL, cfg.Market.CoinGeckoAPIKey, cfg.Market.Timeout, log)
	scorer := services.NewScorer(client, market, m, log)
	if h.Registry != nil {
		scorer.WithRegistry(h.Registry)
	}
	h.Scorer = scorer

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.App.TrustedProxies); err != nil {
		return fmt.Errorf("app.trusted_proxies: %w", err)
	}
	r.Use(gin.Logger(), gin.Recovery(), middleware.RequestID())
	handler.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// verification waits for confirmation
		WriteTimeout: cfg.Solana.ConfirmTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("服务器启动于端口 %s (network=%s)", srv.Addr, cfg.NetworkName())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("服务器已关闭")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *utils.Logger) (db.PaymentStore, func(), error) {
	if cfg.Database.Driver == "mongo" {
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		s, err := mongostore.Connect(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			return nil, nil, err
		}
		log.Info("MongoDB 初始化完成 (%s.%s)", cfg.Mongo.Database, cfg.Mongo.Collection)
		return s, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.Close(closeCtx)
		}, nil
	}

	conn, err := db.Open(db.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLife:  cfg.Database.ConnMaxLife,
		Retries:      cfg.Database.Retries,
		Verbose:      cfg.App.LogLevel == "debug",
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return db.NewGormStore(conn), func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}, nil
}
