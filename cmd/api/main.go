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

	"surveyforge/api/internal/app"
	"surveyforge/api/internal/config"
	"surveyforge/api/internal/editor"
	"surveyforge/api/internal/export"
	"surveyforge/api/internal/publish"
	"surveyforge/api/internal/search"
	"surveyforge/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	driver, err := store.NormalizeDriver(cfg.DatabaseDriver)
	if err != nil {
		log.Fatalf("database driver: %v", err)
	}
	if driver == store.DriverSQLite {
		if err := os.MkdirAll("./data", 0o755); err != nil {
			log.Fatalf("failed to create data dir: %v", err)
		}
	}
	db, err := store.Open(ctx, driver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, store.MigrationsDir(cfg.MigrationsDir, driver)); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewSQLStore(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewSQLSearch(db))

	var bucket publish.Bucket
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioBucket, err := publish.NewMinioBucket(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage failed: %v", err)
		}
		log.Printf("Publishing survey documents to bucket %s", cfg.MinioBucket)
		bucket = minioBucket
	}

	var sessions editor.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for builder sessions")
		redisStore, err := editor.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		sessions = redisStore
	} else {
		log.Printf("Using %s for builder sessions", cfg.SessionDBPath)
		boltStore, err := editor.OpenBoltStore(cfg.SessionDBPath, cfg.SessionTTL)
		if err != nil {
			log.Fatalf("session store failed: %v", err)
		}
		sessions = boltStore
	}
	defer sessions.Close()

	exporter := export.NewService(dataStore, cfg.ExportTimeout)
	service := app.New(dataStore, sessions, bucket, searchService, exporter)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.ExportTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Survey API listening on %s", cfg.Addr)
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
