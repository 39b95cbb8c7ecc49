package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Entry point for the pinctl GPIO daemon
func main() {
	cfgPath := flag.String("config", configPath, "path to the JSON configuration")
	flag.Parse()

	cfgMgr := &ConfigManager{Path: *cfgPath}
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	server, err := NewServer(cfgMgr)
	if err != nil {
		log.Fatalf("initialisation error: %v", err)
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.Run(ctx); err != nil {
		server.Close()
		log.Fatalf("server exited: %v", err)
	}
}
