package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fridgeclinic/internal/faults"
)

const (
	DefaultSweepInterval = 30 * time.Minute
	DefaultOrphanMaxAge  = 48 * time.Hour

	sweepBatch         = 100
	sweepDeleteTimeout = 30 * time.Second
)

// RemoteDeleter deletes a file held by the inference service.
type RemoteDeleter interface {
	Delete(ctx context.Context, name string) error
}

// Sweeper retries remote deletions that failed during a pipeline run.
type Sweeper struct {
	svc      *Service
	files    RemoteDeleter
	interval time.Duration
	maxAge   time.Duration
}

func NewSweeper(svc *Service, files RemoteDeleter, interval, maxAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultOrphanMaxAge
	}
	return &Sweeper{svc: svc, files: files, interval: interval, maxAge: maxAge}
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				slog.Error("orphan sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce processes one batch and returns how many records were dropped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	orphans, err := s.svc.ListOrphans(ctx, sweepBatch)
	if err != nil {
		return 0, err
	}
	dropped := 0
	for _, o := range orphans {
		if ctx.Err() != nil {
			return dropped, ctx.Err()
		}
		// the service expires uploads on its own after this age
		if s.svc.orphanAge(o) > s.maxAge {
			slog.Info("dropping expired orphan", "name", o.Name, "attempts", o.Attempts)
			if err := s.svc.DeleteOrphan(ctx, o.Name); err != nil {
				slog.Warn("delete orphan record failed", "name", o.Name, "error", err)
				continue
			}
			dropped++
			continue
		}

		delCtx, cancel := context.WithTimeout(ctx, sweepDeleteTimeout)
		err := s.files.Delete(delCtx, o.Name)
		cancel()
		if err != nil && !errors.Is(err, faults.ErrNotFound) {
			slog.Warn("orphan delete retry failed", "name", o.Name, "attempts", o.Attempts+1, "error", err)
			if recErr := s.svc.RecordOrphan(ctx, o.Name, err); recErr != nil {
				slog.Warn("update orphan failed", "name", o.Name, "error", recErr)
			}
			continue
		}
		if err := s.svc.DeleteOrphan(ctx, o.Name); err != nil {
			slog.Warn("delete orphan record failed", "name", o.Name, "error", err)
			continue
		}
		slog.Info("orphan remote file deleted", "name", o.Name)
		dropped++
	}
	return dropped, nil
}
