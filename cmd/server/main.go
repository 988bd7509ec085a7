// Package main is the entry point for the life-trajectory viewer server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/api"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/cache"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/config"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/data/snapshot"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/dataset"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/placement"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/render"
	"github.com/junayed-hasan/life-trajectory-embeddings/internal/view"
)

const serverTitle = "Life Trajectory Embeddings"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting life-trajectory viewer on port %d", cfg.Server.Port)

	// Initialize upstream client
	client, err := lifeapi.NewClient(lifeapi.Config{
		DirectURL:   cfg.Upstream.DirectURL,
		ProxyURL:    cfg.Upstream.ProxyURL,
		Mode:        lifeapi.Mode(cfg.Upstream.Mode),
		TimeoutSecs: cfg.Upstream.TimeoutSecs,
	})
	if err != nil {
		log.Fatalf("Failed to initialize upstream client: %v", err)
	}
	log.Printf("Upstream: %s (mode=%s)", client.Base(), client.ResolvedMode())

	// Initialize cache manager (shared across all sessions)
	cacheManager, err := cache.NewManager(cache.Config{
		FrameCacheSizeMB: cfg.Cache.FrameSizeMB,
		FrameTTL:         time.Duration(cfg.Cache.FrameTTLMinutes) * time.Minute,
		PayloadCacheSize: cfg.Cache.PayloadEntries,
		PayloadTTL:       time.Duration(cfg.Cache.PayloadTTLSecs) * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}

	// Initialize scene renderer (shared across all sessions)
	renderer := render.NewSceneRenderer(render.Config{
		Width:           cfg.Render.Width,
		Height:          cfg.Render.Height,
		PointRadius:     cfg.Render.PointSize,
		Background:      cfg.Render.Background,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	// Sessions load from a local snapshot when one is configured, from the
	// live upstream otherwise.
	var source dataset.Source = client
	if cfg.Data.SnapshotPath != "" {
		reader, err := snapshot.NewReader(cfg.Data.SnapshotPath)
		if err != nil {
			log.Fatalf("Failed to open snapshot: %v", err)
		}
		if !reader.Supported() {
			log.Printf("Snapshot configured but this build lacks TileDB support; dataset loads will fail (build with -tags tiledb)")
		}
		source = snapshot.NewSource(reader)
		log.Printf("Dataset source: snapshot %s", reader.ArrayURI())
	} else {
		log.Printf("Dataset source: upstream")
	}

	factory := func(id string) *view.Model {
		return view.NewModelWithSource(id, client, source, renderer, cacheManager)
	}
	sessions := api.NewSessionRegistry(factory,
		time.Duration(cfg.View.SessionTTLMinutes)*time.Minute,
		time.Duration(cfg.View.CleanupMinutes)*time.Minute)
	defer sessions.Close()

	// Initialize placement job manager (SQLite persistence)
	placements, err := api.NewPlacementManager(api.PlacementManagerConfig{
		MaxConcurrent: cfg.Placement.MaxConcurrent,
		SQLitePath:    cfg.Placement.SQLitePath,
		RetentionDays: cfg.Placement.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	})
	if err != nil {
		log.Fatalf("Failed to initialize placement manager: %v", err)
	}
	log.Printf("Placement manager: max_concurrent=%d, retention_days=%d, sqlite=%s",
		cfg.Placement.MaxConcurrent, cfg.Placement.RetentionDays, cfg.Placement.SQLitePath)

	// Wire up placement service as job executor
	placer := placement.NewService(client, dataset.NewStore(source), placements.Store(), 10)
	placements.Executor = placer.Execute

	placements.Start()
	defer placements.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Upstream:    client,
		Sessions:    sessions,
		Payloads:    cacheManager,
		Placements:  placements,
		Placer:      placer,
		CORSOrigins: cfg.Server.CORSOrigins,
		Title:       serverTitle,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
