package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"rebuybot/internal/bootstrap"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/botd.yaml", "Path to configuration file")
	noRecover := flag.Bool("no-recover", false, "Do not resume bots persisted as running")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("botd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *noRecover {
		cfg.App.RecoverOnBoot = false
	}

	app, err := bootstrap.NewAppFromConfig(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	app.Logger.Info("Starting botd", "version", version, "config", *configPath)

	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
