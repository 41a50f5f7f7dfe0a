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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ensgateway/compute-gateway/internal/compute"
	"github.com/ensgateway/compute-gateway/internal/config"
	"github.com/ensgateway/compute-gateway/internal/envelope"
	"github.com/ensgateway/compute-gateway/internal/gwsign"
	"github.com/ensgateway/compute-gateway/internal/metrics"
	"github.com/ensgateway/compute-gateway/internal/pipeline"
	"github.com/ensgateway/compute-gateway/internal/ratelimit"
	"github.com/ensgateway/compute-gateway/internal/registry"
)

// devPrivateKey backs the signer whenever GATEWAY_PRIVATE_KEY is left at its
// all-zero default. Zero itself is not a valid secp256k1 scalar, so it can't
// be handed to gwsign.NewLocal directly; this is the smallest nonzero stand-in
// that keeps the gateway running for local development after the warning
// fires.
const devPrivateKey = "0x0000000000000000000000000000000000000000000000000000000000000001"

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	signingKey := cfg.Gateway.PrivateKey
	if config.IsDefaultPrivateKey(signingKey) {
		log.Warn("GATEWAY_PRIVATE_KEY unset; running with an insecure development key",
			zap.String("hint", "set GATEWAY_PRIVATE_KEY before deploying"))
		signingKey = devPrivateKey
	}

	signer, err := gwsign.NewLocal(signingKey)
	if err != nil {
		log.Fatal("signer init failed", zap.Error(err))
	}
	log.Info("signer ready", zap.String("address", signer.Address().Hex()))

	// ── Compute registry ──────────────────────────────────────────────────
	reg := registry.New()
	reg.Register("pricefeed", compute.PriceFeed)
	reg.Register("daovotes", compute.DAOVotes)
	reg.Register("nftfloor", compute.NFTFloor)

	// ── Rate limiter tiers ────────────────────────────────────────────────
	tiers := ratelimit.DefaultTiers()
	if cfg.RateLimit.IPWindowSec > 0 {
		tiers.IP = ratelimit.NewLimiter(ratelimit.Tuple{
			Window: time.Duration(cfg.RateLimit.IPWindowSec) * time.Second,
			Max:    cfg.RateLimit.IPMax,
		})
	}
	if cfg.RateLimit.APIKeyWindowSec > 0 {
		tiers.APIKey = ratelimit.NewLimiter(ratelimit.Tuple{
			Window: time.Duration(cfg.RateLimit.APIKeyWindowSec) * time.Second,
			Max:    cfg.RateLimit.APIKeyMax,
		})
	}
	sweepInterval := time.Duration(cfg.RateLimit.SweepIntervalSec) * time.Second
	stopSweep := make(chan struct{})
	defer close(stopSweep)
	tiers.StartSweeper(sweepInterval, stopSweep)

	builder := envelope.NewBuilder(envelope.Identity{
		Provider: cfg.Gateway.Provider,
		Version:  cfg.Gateway.Version,
	}, signer)
	recorder := metrics.New()

	handler := pipeline.New(tiers, signer, builder, reg, recorder, log)

	// ── HTTP server ───────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	handler.Register(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
