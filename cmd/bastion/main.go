// cmd/bastion/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/semmidev/bastion/internal/app"
	"github.com/semmidev/bastion/internal/config"
	"github.com/semmidev/bastion/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	genKey := flag.Bool("genkey", false, "print a fresh credential encryption key and exit")
	gdriveAuth := flag.String("gdrive-auth", "", "also serve the Google Drive OAuth flow on this address (e.g. :8089)")
	flag.Parse()

	if *genKey {
		fmt.Println(store.GenerateKey())
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *gdriveAuth != "" {
		if err := application.StartGDriveAuth(ctx, *gdriveAuth); err != nil {
			return fmt.Errorf("start gdrive auth: %w", err)
		}
	}

	return application.Run(ctx)
}
