package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pizero-gpslog/internal/config"
)

const (
	version    = "1.0.0"
	projectURL = "https://github.com/jantman/pizero-gpslog"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config (optional; environment variables override it)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "pizero-gpslog: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
