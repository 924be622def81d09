package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/zeka-hazinesi/jobboard-data/internal/config"
	"github.com/zeka-hazinesi/jobboard-data/internal/runner"
)

func main() {
	cfgPath := flag.String("config", "configs/sources.yaml", "Path to harvester configuration file")
	envPath := flag.String("env", "", "Optional .env file with DB credentials")
	flag.Parse()

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
			os.Exit(1)
		}
	} else {
		// A local .env is optional.
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	run, err := runner.New(*cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise runner: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "harvester stopped with error: %v\n", err)
		os.Exit(1)
	}
}
