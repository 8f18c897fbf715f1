package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joshp123/tado-exporter/internal/poller"
)

const activateTimeout = 10 * time.Minute

// activate runs the device authorization once and exits, leaving the
// refresh token in TADO_TOKEN_FILE (and the blob store, when configured).
func activate() int {
	cfg, log, ok := setup()
	if !ok {
		return poller.ExitConfig
	}
	defer func() { _ = log.Sync() }()

	creds, err := newCredentials(cfg, log)
	if err != nil {
		log.Errorw("Cannot set up credentials", "error", err)
		return poller.ExitConfig
	}
	if !creds.NeedsActivation() {
		log.Infow("Refresh token already present, nothing to do", "path", cfg.OAuth.TokenFile)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, activateTimeout)
	defer cancel()

	if err := creds.Activate(ctx); err != nil {
		log.Errorw("Device activation failed", "error", err)
		return poller.ExitAuthentication
	}
	log.Infow("Refresh token stored", "path", cfg.OAuth.TokenFile)
	return 0
}
