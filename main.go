package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/CKRainbow/commonBird/cmd"
	"github.com/CKRainbow/commonBird/internal/conf"
	"github.com/CKRainbow/commonBird/internal/errors"
	"github.com/CKRainbow/commonBird/internal/logging"
)

func main() {
	logging.Init()

	settings := conf.Setting()
	if settings == nil {
		log.Fatal("Error loading settings")
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              settings.Sentry.DSN,
			AttachStacktrace: true,
		}); err != nil {
			log.Printf("Sentry initialization failed: %v", err)
		} else {
			errors.SetTelemetryReporter(errors.NewSentryReporter(true))
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
