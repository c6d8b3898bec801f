package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codyseavey/zec-tracker/internal/api"
	"github.com/codyseavey/zec-tracker/internal/app"
	"github.com/codyseavey/zec-tracker/internal/cache"
	"github.com/codyseavey/zec-tracker/internal/config"
	"github.com/codyseavey/zec-tracker/internal/database"
	"github.com/codyseavey/zec-tracker/internal/game"
	"github.com/codyseavey/zec-tracker/internal/services"
	"github.com/codyseavey/zec-tracker/internal/stream"
	"github.com/codyseavey/zec-tracker/internal/zcash"
)

func main() {
	cfg := config.Load()

	// Initialize database
	if err := database.Initialize(cfg.DBPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Create a cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := cache.Open(ctx, cache.Options{
		Backend:       cfg.CacheBackend,
		DB:            database.GetDB(),
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("Failed to open %s cache: %v", cfg.CacheBackend, err)
	}
	log.Printf("Using %s cache backend", cfg.CacheBackend)

	// Initialize services. Live supply snapshots go through our own RPC proxy.
	node := zcash.NewClient(cfg.RPCProxyURL, zcash.Options{Timeout: 15 * time.Second, MaxRetries: 1})
	marketData := services.NewMarketDataService(cfg.MarketDataURL, store)
	shielded := services.NewShieldedService(cfg.ShieldedDataURL, cfg.ShieldedHourlyURL, node)
	listings := services.NewMarketsService(cfg.MarketsURL)
	recorder := services.NewShieldedRecorder(database.GetDB())
	predictions := game.Load(ctx, store)

	var dashboard *app.Dashboard
	hub := api.NewHub(cfg.CORSAllowedOrigins, func() app.Event {
		return app.Event{Type: app.EventState, Data: dashboard.View()}
	})

	dashboard = app.New(cfg, app.Deps{
		Market:    marketData,
		Shielded:  shielded,
		Listings:  listings,
		Recorder:  recorder,
		Cache:     store,
		Game:      predictions,
		Publisher: hub,
		Dialer:    stream.NewWebsocketDialer(),
	})

	if cfg.DatasetUpdateHour >= 0 {
		datasets := services.NewDatasetService(cfg.ShieldedDatasetPath, node, cfg.DatasetUpdateHour)
		go datasets.Start(ctx)
	}

	// Setup router
	router := api.SetupRouter(cfg, dashboard, recorder, hub, api.NewProxies(cfg))

	// Create HTTP server for graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// The dashboard fetches through the proxies above, so it starts after the listener.
	// Run it in the background with panic recovery.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("PANIC in dashboard: %v - restarting in 30 seconds", r)
					}
				}()
				dashboard.Run(ctx)
			}()

			select {
			case <-ctx.Done():
				return // Graceful shutdown
			case <-time.After(30 * time.Second):
				log.Println("Dashboard restarting after panic recovery...")
			}
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Cancel the context to stop the dashboard and the price stream
	cancel()
	<-done
	hub.Close()

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
