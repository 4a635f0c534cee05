package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/povchingiz/google-meet-recording/internal/app"
	"github.com/povchingiz/google-meet-recording/internal/config"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		log.Fatalf("meetrec: %v", err)
	}
}
