package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Cadence/internal"
	"github.com/hbomb79/Cadence/pkg/logger"
)

var log = logger.Get("Bootstrap")

// main is the entry point to Cadence. Configuration is loaded from the YAML file
// given by the -config flag (if any), with environment variables taking precedence.
func main() {
	configPath := flag.String("config", os.Getenv("CADENCE_CONFIG"), "path to the Cadence YAML configuration file")
	flag.Parse()

	config := internal.CadenceConfig{}
	var err error
	if *configPath != "" {
		err = config.LoadFromFile(*configPath)
	} else {
		err = config.LoadFromEnv()
	}
	if err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Cadence exited with error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Cadence shutdown complete\n")
}
