// Package pipeline holds the background jobs that run alongside the trading
// loop. Currently that is the closed-position archiver.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cachelabs/solsniper/internal/domain"
)

// Archiver periodically moves aged closed positions from the database to S3
// cold storage.
type Archiver struct {
	archiver  domain.Archiver
	interval  time.Duration
	retainAge time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver that sweeps every interval, archiving
// positions closed longer than retainAge ago.
func NewArchiver(archiver domain.Archiver, interval, retainAge time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		archiver:  archiver,
		interval:  interval,
		retainAge: retainAge,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// RunOnce executes a single archive sweep.
func (a *Archiver) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.retainAge)
	a.logger.Info("starting archive sweep", slog.Time("cutoff", cutoff))

	archived, err := a.archiver.ArchiveClosed(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive closed before %v: %w", cutoff, err)
	}
	a.logger.Info("archive sweep complete", slog.Int64("positions_archived", archived))
	return nil
}

// Run sweeps on the configured interval until ctx is cancelled. A failed
// sweep is logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver started", slog.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
