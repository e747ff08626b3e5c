package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"keystone/internal/config"
	"keystone/internal/domain"
	"keystone/internal/infra/cachemem"
	"keystone/internal/infra/db"
	httpinfra "keystone/internal/infra/http"
	"keystone/internal/infra/keyring"
	"keystone/internal/infra/policyopa"
	"keystone/internal/infra/ratelimit"
	"keystone/internal/usecase"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("config", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ring, err := loadServeKeyring(ctx, cfg)
	if err != nil {
		slog.Error("load keyring", "err", err)
		return 1
	}
	slog.Info("keyring loaded", "versions", ring.Len(), "current", ring.CurrentVersion())

	if cfg.DatabaseDSN == "" {
		slog.Error("config", "err", "KEYSTONE_DATABASE_DSN is required for serve")
		return 1
	}
	gdb, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		slog.Error("open database", "err", err)
		return 1
	}

	licenses := db.NewLicenseRepository(gdb)
	products := db.NewProductRepository(gdb)
	customers := db.NewCustomerRepository(gdb)
	machines := db.NewMachineRepository(gdb)
	auditRepo := db.NewAuditEventRepository(gdb)

	limiter, err := buildLimiter(cfg)
	if err != nil {
		slog.Error("rate limiter", "err", err)
		return 1
	}

	var policy usecase.EntitlementPolicy
	if cfg.PolicyBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(ctx, cfg.PolicyBundlePath, cfg.PolicyBundleID)
		if err != nil {
			slog.Error("load policy bundle", "err", err)
			return 1
		}
		slog.Info("policy bundle loaded", "bundle", engine.BundleID(), "hash", engine.BundleHash())
		policy = engine
	}

	audit := usecase.NewAuditChain(auditRepo, ring, time.Now)
	validate := usecase.NewValidateLicense(usecase.ValidateLicenseDeps{
		Licenses:        licenses,
		Products:        products,
		Audit:           audit,
		Ring:            ring,
		Cache:           cachemem.New(),
		LeaseTTL:        cfg.LeaseTTL,
		OfflineLeaseTTL: cfg.OfflineLeaseTTL,
		CacheTTL:        cfg.ValidationCacheTTL,
	})
	create := usecase.NewCreateLicense(licenses, products, customers, audit, ring, time.Now)
	manage := usecase.NewManageLicense(licenses, audit, time.Now)
	activation := usecase.NewActivation(usecase.ActivationDeps{
		Licenses: licenses,
		Machines: machines,
		Audit:    audit,
		Ring:     ring,
	})

	server := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Validate:   validate,
		Create:     create,
		Manage:     manage,
		Activation: activation,
		Audit:      audit,
		Products:   products,
		Customers:  customers,
		Ring:       ring,
		Policy:     policy,
		Limiter:    limiter,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("keystone listening", "addr", cfg.ListenAddr, "env", cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown", "err", err)
			return 1
		}
		slog.Info("keystone stopped")
		return 0
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server exited", "err", err)
			return 1
		}
		return 0
	}
}

// loadServeKeyring prefers Vault when configured and falls back to the
// KEYSTONE_HMAC_KEYS / KEYSTONE_HMAC_KEY environment document.
func loadServeKeyring(ctx context.Context, cfg config.Config) (*domain.Keyring, error) {
	if cfg.VaultConfigured() {
		client := keyring.NewVaultClient(cfg.VaultAddr, cfg.VaultToken)
		return client.LoadRing(ctx, cfg.VaultKeyringPath)
	}
	return cfg.Keyring()
}

func buildLimiter(cfg config.Config) (domain.RateLimiter, error) {
	if cfg.RateLimitRequests <= 0 {
		return nil, nil
	}
	if cfg.RedisAddr == "" {
		slog.Info("rate limiting in-process", "reason", "KEYSTONE_REDIS_ADDR not set")
		return ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{}), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return ratelimit.NewRedisLimiter(client, time.Now)
}
