package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"vitrine/internal/config"
	httpapi "vitrine/internal/http"
	"vitrine/internal/notify"
	"vitrine/internal/payment"
	"vitrine/internal/repository"
	"vitrine/internal/service"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}

	var (
		ordersRepo   repository.OrderRepository
		productsRepo repository.ProductRepository
		linksRepo    repository.DownloadLinkRepository
	)
	if cfg.DatabasePath != "" {
		db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			log.WithError(err).Fatal("opening database")
		}
		store, err := repository.NewGormStore(db)
		if err != nil {
			log.WithError(err).Fatal("migrating database")
		}
		ordersRepo = repository.NewGormOrders(store)
		productsRepo = repository.NewGormProducts(store)
		linksRepo = repository.NewGormLinks(store)
		log.WithField("path", cfg.DatabasePath).Info("using sqlite store")
	} else {
		store := repository.NewMemoryStore()
		ordersRepo = repository.NewMemoryOrders(store)
		productsRepo = store
		linksRepo = repository.NewMemoryLinks(store)
		log.Warn("DATABASE_PATH is empty, using in-memory store")
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
		if err != nil {
			log.WithError(err).Warn("telegram bot unavailable, notifications disabled")
		} else {
			notifier = tg
		}
	} else {
		log.Warn("telegram is not configured, notifications disabled")
	}

	yk := payment.NewYooKassaAdapter(cfg.YooKassa, ordersRepo, log)
	st := payment.NewStripeAdapter(cfg.Stripe, ordersRepo, log)
	pp, err := payment.NewPayPalAdapter(cfg.PayPal, ordersRepo, cfg.FrontendBaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("building paypal adapter")
	}
	registry := payment.NewRegistry(yk, st, pp)

	productsSvc := service.NewProductService(productsRepo)
	ordersSvc := service.NewOrderService(productsRepo, ordersRepo, log)
	reconciler := service.NewReconciler(ordersRepo, notifier, log)
	downloadsSvc := service.NewDownloadService(ordersRepo, productsRepo, linksRepo, cfg.PrivateUploads)

	srv := httpapi.NewServer(productsSvc, ordersSvc, reconciler, downloadsSvc, registry, log)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Engine(),
	}

	go func() {
		log.WithField("addr", httpServer.Addr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
