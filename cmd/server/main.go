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

	"go.uber.org/zap"

	"posoffice/backend/internal/cache"
	"posoffice/backend/internal/config"
	"posoffice/backend/internal/domain"
	"posoffice/backend/internal/events"
	"posoffice/backend/internal/httpapi"
	"posoffice/backend/internal/logger"
	"posoffice/backend/internal/service"
	"posoffice/backend/internal/store"
	"posoffice/backend/internal/store/memory"
	pgstore "posoffice/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Options{
		Development: cfg.IsDevelopment(),
		Level:       cfg.LogLevel,
		Encoding:    cfg.LogEncoding,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	var readiness func(*http.Request) error
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal("postgres migration failed", zap.Error(err))
		}
		repo = pg
		readiness = func(r *http.Request) error { return pg.Ping(r.Context()) }
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(log)
		log.Info("repository: in-memory")
	}

	saleCache := cache.SaleCache(cache.NoopSaleCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSaleCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			saleCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: noop")
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = kafkaPublisher
		closers = append(closers, kafkaPublisher.Close)
		log.Info("events: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	} else {
		log.Info("events: noop")
	}

	svc := service.New(repo, service.Options{
		Cache:         saleCache,
		Publisher:     publisher,
		Logger:        log,
		TaxRate:       &cfg.DefaultTaxRate,
		MaxTxAttempts: cfg.MaxTxAttempts,
		SaleCacheTTL:  time.Duration(cfg.SaleCacheTTLSeconds) * time.Second,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, log)
	if cfg.DatabaseURL != "" {
		if err := seedStaff(ctx, auth); err != nil {
			log.Fatal("seeding staff accounts failed", zap.Error(err))
		}
	}

	opts := []httpapi.Option{}
	if readiness != nil {
		opts = append(opts, httpapi.WithReadiness(readiness))
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log, opts...)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("POS back office listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.DefaultTaxRate.IsNegative() {
		return fmt.Errorf("DEFAULT_TAX_RATE must not be negative")
	}
	return nil
}

// seedStaff creates the bootstrap accounts for a fresh database. Accounts
// without a SEED_*_PASSWORD are skipped.
func seedStaff(ctx context.Context, auth *httpapi.AuthManager) error {
	businessID := envOr("SEED_BUSINESS_ID", memory.DemoBusinessID)
	accounts := []struct {
		username string
		role     string
		envKey   string
	}{
		{"admin", domain.RoleAdmin, "SEED_ADMIN_PASSWORD"},
		{"manager", domain.RoleManager, "SEED_MANAGER_PASSWORD"},
		{"cashier", domain.RoleCashier, "SEED_CASHIER_PASSWORD"},
	}
	for _, acc := range accounts {
		password := os.Getenv(acc.envKey)
		if password == "" {
			continue
		}
		err := auth.EnsureStaff(ctx, domain.StaffAccount{
			Username:    acc.username,
			DisplayName: acc.username,
			Role:        acc.role,
			BusinessID:  businessID,
			Active:      true,
		}, password)
		if err != nil {
			return fmt.Errorf("seed %s: %w", acc.username, err)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
