package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetFlow/internal/api"
	"Go2NetFlow/internal/config"
	"Go2NetFlow/internal/engine/impl/flow"
	"Go2NetFlow/internal/query"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize the querier for the configured backend
	var querier query.Querier
	switch cfg.API.Backend {
	case "clickhouse":
		chCfg, ok := cfg.ClickHouseWriter()
		if !ok {
			log.Fatalf("No enabled ClickHouse writer found in config. API server cannot start.")
		}
		querier, err = query.NewClickHouseQuerier(chCfg)
	default:
		if cfg.API.StatePath == "" {
			log.Fatalf("api.state_path is not set. API server cannot start.")
		}
		querier, err = query.NewStateQuerier(cfg.API.StatePath, flow.RecordConfigFrom(cfg), cfg.Flow.NumShards)
	}
	if err != nil {
		log.Fatalf("Failed to create querier: %v", err)
	}
	log.Printf("Serving flows from the %s backend.", cfg.API.Backend)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Start HTTP server
	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: api.NewRouter(querier, reg),
	}

	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("API server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("API server exited.")
}
