package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"github.com/tallybot/backend/internal/audit"
	"github.com/tallybot/backend/internal/bridge"
	"github.com/tallybot/backend/internal/config"
	"github.com/tallybot/backend/internal/discord"
	"github.com/tallybot/backend/internal/handlers"
	"github.com/tallybot/backend/internal/services"
)

func main() {
	cfg, err := config.Load(viper.GetViper(), ".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	store, closeStore, err := openStore(startCtx, cfg)
	cancelStart()
	if err != nil {
		log.Fatalf("Failed to open ledger store: %v", err)
	}
	defer closeStore()

	b := bridge.New(bridge.Config{
		Workers:   cfg.Bridge.Workers,
		QueueSize: cfg.Bridge.QueueSize,
		Timeout:   cfg.Bridge.Timeout,
	})
	defer b.Close()

	auditLogger := audit.NewAuditLogger()
	ledgerService := services.NewLedgerService(store, b, auditLogger)
	codec := services.NewEntryCodec(services.CodecPolicy{
		RequireItem:          cfg.Codec.RequireItem,
		RequirePaymentMethod: cfg.Codec.RequirePaymentMethod,
		DefaultPaymentMethod: cfg.Codec.DefaultPaymentMethod,
	})

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		log.Fatalf("Failed to create Discord session: %v", err)
	}
	platform := discord.NewPlatform(session)

	ledgerHandler := handlers.NewLedgerHandler(ledgerService, codec, platform, b)
	roleHandler := handlers.NewRoleHandler(platform, b, auditLogger)

	router := handlers.NewRouter(cfg.Dispatcher.QueueSize, bridge.NewLoop(), b, platform, platform, auditLogger)
	router.Handle("log", ledgerHandler.Log)
	router.Handle("logs", ledgerHandler.Logs)
	router.Handle("unlog", ledgerHandler.Unlog)
	router.Handle("role", roleHandler.Toggle)

	runCtx, stopRouter := context.WithCancel(context.Background())
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		router.Run(runCtx)
	}()

	bot := discord.NewBot(session, platform, router, cfg.Discord.Prefix)
	if err := bot.Open(); err != nil {
		log.Fatalf("Failed to connect to Discord: %v", err)
	}

	healthHandler := handlers.NewHealthHandler(ledgerService, cfg.Storage.Backend, cfg.Bridge.Timeout)
	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      handlers.NewHTTPRouter(healthHandler, cfg.Ops.JWTSecret),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	if err := bot.Close(); err != nil {
		log.Printf("Failed to close Discord session: %v", err)
	}
	stopRouter()
	<-routerDone

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
