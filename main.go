package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/Martian-dev/mailsync/internal/app"
	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/config"
	"github.com/Martian-dev/mailsync/internal/logging"
	"github.com/Martian-dev/mailsync/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		stop()
		switch {
		case errors.Is(err, auth.ErrNoCredentials):
			log.Fatalf("%v (provision a token at %s)", err, cfg.Auth.CredentialSource)
		case errors.Is(err, auth.ErrInteractiveAuthRequired), errors.Is(err, auth.ErrUnauthorized):
			log.Fatalf("%v (re-authorize the %s account)", err, cfg.Provider)
		case sync.IsCancelled(err):
			log.Fatal("sync interrupted, committed batches were kept")
		default:
			log.Fatal(err)
		}
	}
}

// run performs a single sync pass and returns once it has been recorded
func run(ctx context.Context, cfg *config.Config) error {
	mb, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer mb.Close()

	log.WithFields(log.Fields{
		"mailbox": mb.Key,
		"db":      mb.Store.Driver(),
	}).Info("starting sync")

	_, err = mb.Runner.RunOnce(ctx)
	return err
}
