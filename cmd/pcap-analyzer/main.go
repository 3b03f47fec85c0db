package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"Go2NetFlow/internal/config"
	"Go2NetFlow/internal/engine/manager"
	"Go2NetFlow/internal/metrics"
	"Go2NetFlow/pkg/pcap"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	writeTimeout := flag.Duration("write-timeout", 30*time.Second, "time allowed for all writers to persist the flow table")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <path_to_pcap_file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// 1. Get pcap file path from command-line arguments
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	// 2. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("Config file '%s' not found, using defaults.", *configPath)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
	log.Println("Configuration loaded successfully.")

	// 3. Initialize modules
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.ListenAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Printf("Metrics endpoint listening on %s", cfg.Metrics.ListenAddr)
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				log.Printf("Metrics endpoint stopped: %v", err)
			}
		}()
	}

	managerImpl, err := manager.NewManager(cfg, m)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}
	log.Println("Manager initialized.")

	pcapReader, err := pcap.NewReader(pcapFilePath)
	if err != nil {
		log.Fatalf("Failed to open pcap file: %v", err)
	}
	defer pcapReader.Close()
	log.Printf("Reading packets from '%s'...", pcapFilePath)

	// 4. Start the processing pipeline
	managerImpl.Start()

	// 5. Start reading packets and feeding them to the manager
	count, err := pcapReader.ReadPackets(managerImpl.InputChannel())
	if err != nil {
		log.Printf("Stopped reading after %d packets: %v", count, err)
	} else {
		log.Printf("Finished reading %d packets from pcap file.", count)
	}

	// 6. Graceful shutdown
	log.Println("Shutting down manager...")
	ctx, cancel := context.WithTimeout(context.Background(), *writeTimeout)
	defer cancel()
	table, err := managerImpl.Stop(ctx)
	if err != nil {
		log.Printf("Some writers failed: %v", err)
	}
	if table != nil {
		flows, packets, bytes := table.Totals()
		log.Printf("Aggregated %d flows (%d packets, %d bytes).", flows, packets, bytes)
	}
	log.Println("Shutdown complete.")
}
