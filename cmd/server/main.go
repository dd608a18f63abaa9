package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tasksync/backend/internal/bridge"
	"github.com/tasksync/backend/internal/config"
	"github.com/tasksync/backend/internal/registry"
	"github.com/tasksync/backend/internal/stream"
	"github.com/tasksync/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var br bridge.Bridge
	if cfg.Redis.Enabled {
		rb := bridge.NewRedisBridge(cfg.Redis.Addr)
		if err := rb.Ping(ctx); err != nil {
			log.Fatalf("Redis unreachable at %s: %v", cfg.Redis.Addr, err)
		}
		br = rb
		log.Printf("Cross-instance bridge enabled (redis %s)", cfg.Redis.Addr)
	} else {
		log.Println("Cross-instance bridge disabled (single instance mode)")
	}

	reg := registry.New()
	broadcaster := ws.NewBroadcaster(cfg, reg, br)
	server := ws.NewServer(cfg, broadcaster)
	consumer := stream.NewConsumer(cfg.Kafka, broadcaster)

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Fatalf("Consumer error: %v", err)
		}
	}()
	go func() {
		if err := broadcaster.RunBridge(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Bridge subscriber error: %v", err)
		}
	}()

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")

		// Stop the consumer first so no new events arrive, then close all
		// live sessions through the normal teardown path, then the bridge.
		if err := consumer.Stop(); err != nil {
			log.Printf("Consumer stop error: %v", err)
		}
		cancel()
		broadcaster.Shutdown()
		if br != nil {
			br.Close()
		}
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
