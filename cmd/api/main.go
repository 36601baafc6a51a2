package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pipeboard/api/internal/app"
	"pipeboard/api/internal/artifact"
	"pipeboard/api/internal/cache"
	"pipeboard/api/internal/config"
	"pipeboard/api/internal/export"
	"pipeboard/api/internal/search"
	"pipeboard/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	var pendingCache *cache.PendingCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		pendingCache, err = cache.NewPendingCache(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, pending cache disabled: %v", err)
			pendingCache = nil
		} else {
			defer pendingCache.Close()
		}
	}

	var reportArchive *artifact.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		reportArchive, err = artifact.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: object store unavailable, report archive disabled: %v", err)
			reportArchive = nil
		}
	}

	exporter := export.NewService(dataStore)
	service := app.New(cfg, dataStore, pendingCache, searchService, exporter, reportArchive)

	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.ExpirySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepDone:
				return
			case <-ticker.C:
				service.SweepExpired(ctx)
			}
		}
	}()
	defer close(sweepDone)

	httpServer := app.NewHTTPServer(service, cfg.APIToken, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Pipeboard API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
