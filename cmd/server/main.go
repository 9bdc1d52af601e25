package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/omochice/toy-socket-relay/internal/config"
	"github.com/omochice/toy-socket-relay/internal/server"
)

func main() {
	cfg := config.DefaultServer()
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

	srv := server.New(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "err", err)
		os.Exit(1)
	}
	logger.Info("relay server started", "addr", srv.Addr(), "ws_addr", srv.WSAddr(), "frame_size", cfg.FrameSize)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("shutting down", "signal", sig.String())
	srv.Stop()

	logger.Info("relay server stopped")
}
