package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"iptvshop/internal/affiliate"
	"iptvshop/internal/bootstrap"
	"iptvshop/internal/config"
	"iptvshop/internal/cron"
	"iptvshop/internal/gateway"
	"iptvshop/internal/handler"
	"iptvshop/internal/mailer"
	"iptvshop/internal/middleware"
	"iptvshop/internal/notify"
	"iptvshop/internal/order"
	"iptvshop/internal/otp"
	"iptvshop/internal/provision"
	"iptvshop/internal/repository"
	"iptvshop/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Server.Env == "development" {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Pass,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, dedup and otp fall back to memory", zap.Error(err))
	}
	cancel()

	orders := repository.NewOrderRepo(db)
	users := repository.NewUserRepo(db)
	plans := repository.NewPlanRepo(db)
	coupons := repository.NewCouponRepo(db)
	tickets := repository.NewTicketRepo(db)
	events := repository.NewEventRepo(db)
	settings := repository.NewSettingRepo(db)

	if err := bootstrap.Seed(db, settings, log); err != nil {
		log.Fatal("seeding failed", zap.Error(err))
	}

	registry := buildRegistry(cfg)
	mail := mailer.New(cfg.SMTP, log)
	tg := notify.NewTelegram(cfg.Telegram, log)
	panel := provision.NewPanelClient(cfg.Panel)
	provisioner := provision.NewService(panel, orders, mail, log)
	rewarder := affiliate.NewService(users, orders, settings, log)
	applicator := order.NewApplicator(orders, events, provisioner, rewarder, tg, log)
	otpStore := otp.NewStore(rdb, cfg.Checkout.OTPTTL, cfg.Checkout.OTPMaxAttempts)
	deduper := middleware.NewDeduper(rdb, 10*time.Minute, log)

	handlers := router.Handlers{
		Webhook:  handler.NewWebhookHandler(registry, orders, users, applicator, log),
		Status:   handler.NewStatusHandler(registry, orders, users, applicator, log),
		Checkout: handler.NewCheckoutHandler(cfg.Checkout, plans, coupons, users, orders, registry, provisioner, tg, mail, log),
		Account:  handler.NewAccountHandler(cfg.Checkout, users, orders, tickets, otpStore, mail, tg, log),
		Catalog:  handler.NewCatalogHandler(plans, coupons, registry),
		Admin:    handler.NewAdminHandler(orders, users, plans, coupons, tickets, events, settings, registry, applicator, provisioner, log),
	}
	e := router.New(handlers, deduper, cfg.Admin.APIKey)

	scheduler := cron.NewScheduler(orders, users, events, registry, applicator, cfg.Checkout.PendingTTL, log)
	if err := scheduler.Start(); err != nil {
		log.Fatal("scheduler start failed", zap.Error(err))
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Server.Env))
		if err := e.Start(addr); err != nil {
			log.Info("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	scheduler.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		log.Error("redis close failed", zap.Error(err))
	}
}

// buildRegistry wires up every gateway that has credentials configured.
func buildRegistry(cfg *config.Config) *gateway.Registry {
	base := cfg.Server.BaseURL
	var clients []gateway.Client

	if g := cfg.Gateways.Cryptomus; g.MerchantID != "" && g.APIKey != "" {
		clients = append(clients, gateway.NewCryptomusClient(g, base))
	}
	if g := cfg.Gateways.NOWPayments; g.APIKey != "" {
		clients = append(clients, gateway.NewNOWPaymentsClient(g, base))
	}
	if g := cfg.Gateways.Plisio; g.APIKey != "" {
		clients = append(clients, gateway.NewPlisioClient(g, base))
	}
	if g := cfg.Gateways.Volet; g.SCIName != "" && g.Secret != "" {
		clients = append(clients, gateway.NewVoletClient(g, base))
	}
	if g := cfg.Gateways.Stripe; g.SecretKey != "" {
		clients = append(clients, gateway.NewStripeClient(g, base))
	}
	if g := cfg.Gateways.HoodPay; g.BusinessID != "" && g.APIKey != "" {
		clients = append(clients, gateway.NewHoodPayClient(g, base))
	}
	return gateway.NewRegistry(clients...)
}
