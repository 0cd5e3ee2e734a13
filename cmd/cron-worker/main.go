package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medmarkethq/medmarket-backend/internal/availability"
	"github.com/medmarkethq/medmarket-backend/internal/cron"
	"github.com/medmarkethq/medmarket-backend/internal/drugs"
	"github.com/medmarkethq/medmarket-backend/internal/inventory"
	"github.com/medmarkethq/medmarket-backend/internal/notifications"
	"github.com/medmarkethq/medmarket-backend/internal/orders"
	"github.com/medmarkethq/medmarket-backend/internal/pharmacies"
	"github.com/medmarkethq/medmarket-backend/internal/prescriptions"
	"github.com/medmarkethq/medmarket-backend/internal/purchaselimits"
	"github.com/medmarkethq/medmarket-backend/internal/users"
	"github.com/medmarkethq/medmarket-backend/internal/wallet"
	"github.com/medmarkethq/medmarket-backend/pkg/config"
	"github.com/medmarkethq/medmarket-backend/pkg/db"
	"github.com/medmarkethq/medmarket-backend/pkg/logger"
	"github.com/medmarkethq/medmarket-backend/pkg/metrics"
	"github.com/medmarkethq/medmarket-backend/pkg/migrate"
	"github.com/medmarkethq/medmarket-backend/pkg/redis"
)

const lockKeyFormat = "mm:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stockMetrics := metrics.NewStockMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	gdb := dbClient.DB()
	drugRepo := drugs.NewRepository(gdb)
	inventoryRepo := inventory.NewRepository(gdb)
	ordersRepo := orders.NewRepository(gdb)
	pharmacyRepo := pharmacies.NewRepository(gdb)
	notificationsRepo := notifications.NewRepository(gdb)

	inventorySvc, err := inventory.NewService(inventoryRepo, dbClient, cfg.Inventory, stockMetrics)
	exitOn(logg, "inventory service", err)

	selector, err := availability.NewService(availability.NewRepository(gdb), inventoryRepo, drugRepo)
	exitOn(logg, "availability service", err)

	limits, err := purchaselimits.NewService(drugRepo, purchaselimits.NewRepository(gdb), redisClient, cfg.PurchaseLimits, stockMetrics)
	exitOn(logg, "purchase limits service", err)

	walletSvc, err := wallet.NewService(wallet.NewRepository(gdb), dbClient)
	exitOn(logg, "wallet service", err)

	notificationsSvc, err := notifications.NewService(notificationsRepo)
	exitOn(logg, "notifications service", err)

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:          ordersRepo,
		Tx:            dbClient,
		Limits:        limits,
		Selector:      selector,
		Ledger:        inventorySvc,
		BatchStore:    availability.NewRepository(gdb),
		Drugs:         drugRepo,
		Pharmacies:    pharmacyRepo,
		Users:         users.NewRepository(gdb),
		Prescriptions: prescriptions.NewRepository(gdb),
		Wallet:        walletSvc,
		Notifier:      notificationsSvc,
		Logger:        logg,
		Metrics:       stockMetrics,
		Orders:        cfg.Orders,
		Inventory:     cfg.Inventory,
	})
	exitOn(logg, "orders service", err)

	staleOrderJob, err := cron.NewStaleOrderJob(cron.StaleOrderJobParams{
		Logger:     logg,
		Repository: ordersRepo,
		Orders:     ordersSvc,
		PendingTTL: cfg.Orders.PendingTTL,
	})
	exitOn(logg, "stale order job", err)

	stockAlertJob, err := cron.NewStockAlertJob(cron.StockAlertJobParams{
		Logger:          logg,
		Pharmacies:      pharmacyRepo,
		Inventory:       inventorySvc,
		ExpiryAlertDays: cfg.Inventory.ExpiryAlertDays,
	})
	exitOn(logg, "stock alert job", err)

	cleanupJob, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: notificationsRepo,
		Retention:  cfg.Cron.NotificationRetention,
	})
	exitOn(logg, "notification cleanup job", err)

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	exitOn(logg, "cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(staleOrderJob, stockAlertJob, cleanupJob),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	exitOn(logg, "cron service", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func exitOn(logg *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+what, err)
	os.Exit(1)
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
