package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docorganizer/docorganizer/internal/bot"
	"github.com/docorganizer/docorganizer/internal/config"
	"github.com/docorganizer/docorganizer/internal/database"
	"github.com/docorganizer/docorganizer/internal/drive"
	"github.com/docorganizer/docorganizer/internal/handlers"
	"github.com/docorganizer/docorganizer/internal/locks"
	"github.com/docorganizer/docorganizer/internal/models"
	"github.com/docorganizer/docorganizer/internal/oracle"
	"github.com/docorganizer/docorganizer/internal/provision"
	"github.com/docorganizer/docorganizer/internal/store"
	"github.com/docorganizer/docorganizer/internal/whatsapp"
	"github.com/docorganizer/docorganizer/internal/worker"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := worker.NewLogger(cfg.LogLevel, cfg.LogFormat)

	if err := models.InitEncryption(cfg.EncryptionKey); err != nil {
		log.Fatalf("encryption setup failed: %v", err)
	}

	db, err := database.Init(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	users := store.New(db, logger)
	msgr := whatsapp.NewClient(cfg.WhatsAppToken, cfg.PhoneNumberID)

	ora, err := oracle.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)
	if err != nil {
		log.Fatalf("oracle setup failed: %v", err)
	}

	resolver := drive.NewResolver(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.BackendURL+"/auth/callback")
	sessions := bot.ResolverFunc(func(ctx context.Context, storedToken string) (drive.Ops, error) {
		return resolver.Resolve(ctx, storedToken)
	})
	prov := provision.New(logger)

	locker, err := locks.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer locker.Close()

	queue, err := worker.NewQueue(cfg.RedisURL)
	if err != nil {
		log.Fatalf("task queue setup failed: %v", err)
	}
	defer queue.Close()

	engine := bot.New(users, msgr, ora, sessions, prov, queue, bot.Options{
		FrontendURL: cfg.FrontendURL,
		SortConfirm: cfg.SortConfirm,
	}, logger)

	stopWorker, err := worker.Start(cfg, engine, locker)
	if err != nil {
		log.Fatalf("worker startup failed: %v", err)
	}
	defer stopWorker()

	stopScheduler, err := worker.StartScheduler(cfg)
	if err != nil {
		log.Fatalf("scheduler startup failed: %v", err)
	}
	defer stopScheduler()

	oauthCfg := resolver.OAuthConfig()
	router := handlers.NewRouter(handlers.Deps{
		Config:      cfg,
		Store:       users,
		Engine:      engine,
		OAuth:       oauthCfg,
		Profiles:    &handlers.GoogleProfiles{OAuth: oauthCfg},
		Extractor:   ora,
		Sessions:    sessions,
		Provisioner: prov,
		Messenger:   msgr,
		Locks:       locker,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err.Error())
	}
}
