// ====================================
// File: cmd/relayer/main.go
// ====================================
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/solrelay/mixer/internal/api"
	"github.com/solrelay/mixer/internal/clock"
	"github.com/solrelay/mixer/internal/config"
	"github.com/solrelay/mixer/internal/coordinator"
	"github.com/solrelay/mixer/internal/depositmonitor"
	"github.com/solrelay/mixer/internal/events"
	"github.com/solrelay/mixer/internal/logging"
	"github.com/solrelay/mixer/internal/metrics"
	"github.com/solrelay/mixer/internal/recovery"
	"github.com/solrelay/mixer/internal/registry/postgres"
	"github.com/solrelay/mixer/internal/rng"
	"github.com/solrelay/mixer/internal/solrpc"
	"github.com/solrelay/mixer/internal/vault"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logging.New(cfg.DebugLogging, cfg.LogFilePath)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	masterKey, err := cfg.MasterKey()
	if err != nil {
		appLogger.Fatal("invalid master key", zap.Error(err))
	}

	db, err := postgres.Open(cfg.DatabaseURL, appLogger)
	if err != nil {
		appLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	reg := postgres.NewRegistry(db, appLogger)
	if err := reg.RunMigrations(); err != nil {
		appLogger.Fatal("failed to run migrations", zap.Error(err))
	}

	clk := clock.Real()
	source := rng.New()
	bus := events.NewBus(appLogger, 256)
	collector := metrics.NewCollector()
	rpcClient := solrpc.New(cfg.SolanaRPCURL, appLogger, 20*time.Second,
		solrpc.WithLatencyObserver(collector.RecordRPCLatency))

	var vaultOpts []vault.Option
	if cfg.TreasurySecretKey != "" {
		treasuryKey, err := decodeTreasuryKey(cfg.TreasurySecretKey)
		if err != nil {
			appLogger.Fatal("invalid treasury secret key", zap.Error(err))
		}
		vaultOpts = append(vaultOpts, vault.WithTreasury(treasuryKey))
	}
	v, err := vault.New(reg, rpcClient, clk, appLogger, masterKey, vaultOpts...)
	if err != nil {
		appLogger.Fatal("failed to construct vault", zap.Error(err))
	}
	defer v.Close()

	recoveryLedger := recovery.New(reg, clk)

	var coordOpts []coordinator.Option
	coordOpts = append(coordOpts, coordinator.WithEventBus(bus))
	profile := coordinator.EnhancedMixProfile()
	if cfg.PrivacyMode == "basic" {
		profile = coordinator.BasicHopProfile()
	}
	if cfg.FeeWalletPublicKey != "" {
		feeWallet, err := solana.PublicKeyFromBase58(cfg.FeeWalletPublicKey)
		if err != nil {
			appLogger.Fatal("invalid fee wallet public key", zap.Error(err))
		}
		coordOpts = append(coordOpts, coordinator.WithFeeWallet(feeWallet))
	}
	coord := coordinator.New(reg, v, rpcClient, source, clk, appLogger, profile, coordOpts...)

	monitor := depositmonitor.New(reg, rpcClient, v, coord,
		clk, appLogger,
		time.Duration(cfg.PollIntervalMS)*time.Millisecond,
		cfg.AdmitBatchSize,
	)
	go monitor.Run(rootCtx)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				count, err := reg.CountActiveWallets(rootCtx)
				if err != nil {
					appLogger.Warn("count active wallets failed", zap.Error(err))
					continue
				}
				collector.SetActiveWallets(int(count))
			}
		}
	}()

	bus.Subscribe(events.SwapCompleted, func(ctx context.Context, e events.Event) {
		collector.RecordSwap("completed", 0)
	})
	bus.Subscribe(events.SwapFailed, func(ctx context.Context, e events.Event) {
		collector.RecordSwap("failed", 0)
	})
	bus.Subscribe(events.SwapRecovered, func(ctx context.Context, e events.Event) {
		collector.RecordRecovery("consumed")
	})

	server := api.NewServer(reg, v, rpcClient, recoveryLedger, clk, appLogger, cfg.Network,
		api.WithEventBus(bus),
		api.WithProfileName(cfg.PrivacyMode),
	)

	router := server.Router()
	router.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		appLogger.Info("control surface listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	appLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := bus.Close(shutdownCtx); err != nil {
		appLogger.Warn("event bus close timed out", zap.Error(err))
	}
}

// decodeTreasuryKey accepts either the 64-byte base58 secret key format
// solana-keygen produces or a 32-byte ed25519 seed.
func decodeTreasuryKey(encoded string) (solana.PrivateKey, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) == ed25519.SeedSize {
		return solana.PrivateKey(ed25519.NewKeyFromSeed(raw)), nil
	}
	return solana.PrivateKey(raw), nil
}
