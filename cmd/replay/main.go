// Command replay reprocesses a tenant's mailbox from a point in time using
// the historical dedup window.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"crm-mail-ingest-go/internal/app"
)

func main() {
	tenant := flag.String("tenant", "", "tenant id to replay")
	since := flag.Duration("since", 7*24*time.Hour, "how far back to replay")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := app.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	app.ConfigureLogging(cfg.Logging)

	if *tenant == "" {
		logrus.Fatal("--tenant is required")
	}
	if *since <= 0 {
		logrus.Fatal("--since must be positive")
	}

	a, err := app.Build(cfg)
	if err != nil {
		logrus.Fatal(err)
	}
	defer a.Close()

	if !a.Poller.HasTenant(*tenant) {
		logrus.Fatalf("No mailbox configured for tenant %q", *tenant)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result := a.Poller.Replay(ctx, *tenant, time.Now().Add(-*since))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logrus.Errorf("Failed to write result: %v", err)
	}
	if len(result.Errors) > 0 {
		a.Close()
		os.Exit(1)
	}
}
