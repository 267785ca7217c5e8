package main

import (
	"context"
	"fmt"
	"log"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/andrelucass/fruteira/internal/config"
	"github.com/andrelucass/fruteira/internal/db"
	"github.com/andrelucass/fruteira/internal/events"
	"github.com/andrelucass/fruteira/internal/httpserver"
	"github.com/andrelucass/fruteira/internal/logging"
	"github.com/andrelucass/fruteira/internal/notify"
	"github.com/andrelucass/fruteira/internal/search"
	"github.com/andrelucass/fruteira/internal/service/auth"
	"github.com/andrelucass/fruteira/internal/service/cart"
	"github.com/andrelucass/fruteira/internal/service/catalog"
	"github.com/andrelucass/fruteira/internal/upload"
)

func main() {
	cfg := config.Load()
	config.MustNonEmpty(cfg.DatabaseURL, "DATABASE_URL")
	config.MustNonEmptyBytes(cfg.JWTSecret, "JWT_SECRET")
	config.MustNonEmptyBytes(cfg.RefreshSecret, "JWT_REFRESH_SECRET")

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	gdb, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var producer *events.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = events.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			log.Fatalf("kafka: %v", err)
		}
		defer producer.Close()
	} else {
		logger.Warn("KAFKA_BROKERS not set, domain events disabled")
	}

	var index *search.ProductIndex
	if cfg.ESURL != "" {
		es, err := search.NewClient(search.Config{
			URL:      cfg.ESURL,
			User:     cfg.ESUser,
			Password: cfg.ESPassword,
		})
		if err != nil {
			log.Fatalf("elasticsearch: %v", err)
		}
		index = &search.ProductIndex{ES: es}
	} else {
		logger.Warn("ES_URL not set, product search disabled")
	}

	var notifier cart.Notifier
	if cfg.TwilioAccountSID != "" {
		notifier = &notify.AdminNotifier{
			Client: notify.NewTwilioWhatsApp(cfg.TwilioAccountSID, cfg.TwilioAuthToken),
			From:   cfg.TwilioWhatsAppFrom,
			To:     cfg.AdminWhatsApp,
			Log:    logger,
		}
	} else {
		logger.Warn("TWILIO_ACCOUNT_SID not set, admin notifications disabled")
	}

	var mailer *notify.OrderMailer
	if cfg.SendgridAPIKey != "" {
		mailer = &notify.OrderMailer{APIKey: cfg.SendgridAPIKey, From: cfg.MailFrom, Log: logger}
	}

	images := &upload.Store{
		Dir:         cfg.UploadDir,
		MaxBytes:    cfg.MaxUploadBytes,
		AllowedExts: cfg.AllowedImageExts,
	}

	authSvc := &auth.Service{
		DB:            gdb,
		JWTSecret:     cfg.JWTSecret,
		RefreshSecret: cfg.RefreshSecret,
		Events:        eventsOrNil(producer),
	}
	catalogSvc := &catalog.Service{
		DB:     gdb,
		Images: images,
		Index:  indexOrNil(index),
		Events: eventsOrNil(producer),
	}
	cartSvc := &cart.Service{
		DB:       gdb,
		Notifier: notifier,
		Mailer:   mailer,
		Events:   eventsOrNil(producer),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(httpserver.RequestLogger(logger))
	e.Static("/static", "static")

	deps := &httpserver.Deps{
		Auth:     &httpserver.AuthHTTP{Svc: authSvc},
		Products: &httpserver.ProductHTTP{Svc: catalogSvc, Images: images},
		Cart:     &httpserver.CartHTTP{Svc: cartSvc},
		AuthMW:   &httpserver.AuthMiddleware{Auth: authSvc},
	}
	if index != nil {
		deps.Search = &httpserver.SearchHTTP{Index: index}
	}
	httpserver.Register(e, deps)

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	logger.Info("server starting", "addr", addr)
	if err := e.Start(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// typed-nil guards: a nil *Producer stored in a non-nil interface would dodge
// the services' nil checks.
func eventsOrNil(p *events.Producer) cart.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}

func indexOrNil(i *search.ProductIndex) catalog.ProductIndexer {
	if i == nil {
		return nil
	}
	return i
}
