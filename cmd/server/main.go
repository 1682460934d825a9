package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/sundayezeilo/qrlinks/internal/app"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize application
	application, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Shutdown(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	// Start server (blocks until shutdown)
	return application.Start(ctx)
}
