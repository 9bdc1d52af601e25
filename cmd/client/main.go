package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	"github.com/omochice/toy-socket-relay/internal/client"
	"github.com/omochice/toy-socket-relay/internal/config"
)

func main() {
	cfg := config.DefaultClient()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatal(err)
	}
	cfg.Bind(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	c, err := client.Dial(context.Background(), cfg.Server, cfg.FrameSize, logger)
	if err != nil {
		log.Fatalf("Failed to connect to server: %v", err)
	}
	logger.Info("connected", "server", cfg.Server)

	if err := client.RunConsole(c, os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, client.ErrNotConnected) {
			log.Println("Disconnected from server")
			os.Exit(1)
		}
		log.Fatal(err)
	}
}
