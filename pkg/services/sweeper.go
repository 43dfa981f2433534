package services

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Sweeper periodically removes inert verification tokens.
type Sweeper struct {
	tokens   *TokenService
	interval time.Duration
}

func NewSweeper(tokens *TokenService, interval time.Duration) *Sweeper {
	if interval < time.Minute {
		interval = 15 * time.Minute
	}
	return &Sweeper{tokens: tokens, interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	log.WithField("interval", w.interval.String()).Info("Token sweeper started")
	w.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("Token sweeper stopped")
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

func (w *Sweeper) sweepOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Token sweep panicked, retrying on next tick")
		}
	}()

	n, err := w.tokens.Sweep(ctx)
	if err != nil {
		log.WithError(err).Error("Token sweep failed")
		return
	}
	if n > 0 {
		log.WithField("removed", n).Info("Swept inert verification tokens")
	}
}
