package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/netwatch-labs/netwatch/pkg/config"
	"github.com/netwatch-labs/netwatch/pkg/dashboard"
	"github.com/netwatch-labs/netwatch/pkg/server"
	"github.com/netwatch-labs/netwatch/pkg/stream"
	"github.com/netwatch-labs/netwatch/pkg/telemetry"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", os.Getenv("NETWATCH_CONFIG"), "path to a YAML config file")
	flag.Parse()

	log.Println("Starting NetWatch...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	telemetry.InitMetrics()

	persist, err := server.InitializeStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer persist.Close()

	storageMonitor := server.InitializeStorageMonitor(cfg.Storage)
	engine := server.InitializeEngine(cfg, persist, storageMonitor)

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), config.RestoreTimeout)
	if _, err := engine.Restore(restoreCtx, persist); err != nil {
		log.Printf("Failed to restore history, starting with an empty window: %v", err)
	}
	restoreCancel()

	// First tick so every panel has data before the first request.
	engine.Tick(time.Now(), dashboard.TriggerStartup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	hub := stream.NewHub()
	hub.SetGreeting(func() interface{} {
		snap, _ := engine.Latest()
		return snap
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	log.Println("WebSocket hub started for live dashboard updates")

	wg.Add(1)
	go server.BroadcastSnapshots(ctx, engine, hub, &wg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	retention := server.InitializeRetention()
	wg.Add(1)
	go server.RunRetention(ctx, &server.RetentionJob{
		Store:     persist,
		Retention: cfg.Storage.Retention,
		Monitor:   retention,
	}, &wg)

	if cfg.Storage.Backend == "badger" {
		wg.Add(1)
		go server.RunBadgerGC(ctx, persist, &wg)
	}

	if interval := server.WidgetRefreshInterval(cfg); interval > 0 {
		log.Printf("Widget refresh every %v", interval)
		wg.Add(1)
		go server.RunWidgetRefresh(ctx, engine, interval, &wg)
	}

	if *configPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				state := engine.SetAutoRefresh(next.Refresh.Auto, next.Refresh.Interval)
				log.Printf("Auto-refresh now %v every %ds", state.Enabled, state.Seconds)
			})
			if err != nil {
				log.Printf("Config watch disabled: %v", err)
			}
		}()
	}

	router := mux.NewRouter()
	server.SetupRoutes(router, server.Deps{
		Engine:    engine,
		Hub:       hub,
		Persist:   persist,
		Storage:   storageMonitor,
		Retention: retention,
		Port:      cfg.Server.Port,
		StaticDir: cfg.Server.StaticDir,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%s", cfg.Server.Port)
		log.Println("API endpoints:")
		log.Println("   GET  /v1/snapshot        - Full dashboard snapshot")
		log.Println("   GET  /v1/history         - Throughput history (?device=)")
		log.Println("   POST /v1/refresh         - Refresh now")
		log.Println("   PUT  /v1/autorefresh     - Configure auto-refresh")
		log.Println("   GET  /v1/ws              - Live snapshot stream")
		log.Println("   GET  /metrics            - Prometheus endpoint")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received...")

	// Cancel first so background loops stop before we wait on them.
	log.Println("Stopping background tasks...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	log.Println("Gracefully shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	log.Println("Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(config.TaskShutdownTimeout):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("NetWatch exited cleanly")
}
