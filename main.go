package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"curator_backend/config"
	"curator_backend/curator"
	"curator_backend/etl"
	"curator_backend/models"
	"curator_backend/realtime"
	"curator_backend/routes"
	"curator_backend/scheduler"
	"curator_backend/sources"
	"curator_backend/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	gateway, cleanup, err := openGateway(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage backend: %v", err)
	}
	defer cleanup()

	registry, err := sources.LoadRegistry(cfg.SourcesConfigPath)
	if err != nil {
		log.Fatalf("Failed to load sources: %v", err)
	}
	log.Printf("Loaded %d market data sources", registry.Len())

	cur := curator.NewCurator(registry, gateway, cfg.CacheTTL)

	bulkConfigs, err := storage.LoadBulkConfigs(cfg.BulkConfigPath)
	if err != nil {
		log.Fatalf("Failed to load bulk sources: %v", err)
	}
	for _, bc := range bulkConfigs {
		store := storage.NewRESTObjectStore(bc.BaseURL, bc.Bucket, bc.APIKey)
		cur.RegisterBulkSource(bc.Name, etl.NewPipeline(store, gateway, bc.Name))
		log.Printf("Registered bulk source %s (bucket %s)", bc.Name, bc.Bucket)
	}

	hub := realtime.NewHub()
	cur.SetPublisher(hub)

	cur.StartWorker(cfg.WorkerInterval)

	sched := scheduler.NewScheduler(cur)
	sched.Start()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	routes.SetupRoutes(router, cfg, cur, hub)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	sched.Stop()
	cur.StopWorker()
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// openGateway selects and opens the persistence backend. The cleanup function
// closes whatever was opened.
func openGateway(cfg *config.Config) (storage.PersistenceGateway, func(), error) {
	switch cfg.StorageBackend {
	case "postgres":
		db, err := config.InitPostgres(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := models.MigrateMarketModels(db); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate models: %w", err)
		}
		cleanup := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return storage.NewGormStore(db), cleanup, nil

	case "mongo":
		store, err := storage.NewMongoStore(context.Background(), cfg.MongoURI, cfg.DBName)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			store.Close(ctx)
		}
		return store, cleanup, nil

	case "sqlite":
		store, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}
