package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/Martian-dev/mailsync/internal/api"
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

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		stop()
		log.Fatal(err)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	mb, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer mb.Close()

	manager := sync.NewManager(ctx)
	defer manager.StopAll()

	server := &api.Server{
		Store:   mb.Store,
		Manager: manager,
		Syncer:  mb.Runner,
		Mailbox: mb.Key,
	}

	if cfg.API.JWKSURL != "" {
		verifier, err := auth.NewJWTVerifier(ctx, cfg.API.JWKSURL)
		if err != nil {
			return err
		}
		log.WithField("keys", verifier.KeyCount()).Info("JWT verification enabled")
		server.Verifier = verifier
	} else {
		log.Warn("MAILSYNC_JWKS_URL not set, operator API is unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.API.Addr).Info("operator API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
