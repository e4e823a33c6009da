package service

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires files: records past their retention
// window are marked deleted and their blobs removed.
type Sweeper struct {
	uploads  *UploadService
	interval time.Duration
	done     chan struct{}
}

// NewSweeper creates a sweeper.
func NewSweeper(uploads *UploadService, interval time.Duration) *Sweeper {
	return &Sweeper{
		uploads:  uploads,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("expiry sweeper started", "interval", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Run once immediately on start
		s.run(ctx)

		for {
			select {
			case <-ticker.C:
				s.run(ctx)
			case <-ctx.Done():
				slog.Info("expiry sweeper stopping")
				close(s.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	swept, err := s.uploads.Sweep(ctx)
	if err != nil {
		slog.Error("expiry sweep failed", "error", err)
		return
	}
	if swept > 0 {
		slog.Info("expiry sweep complete", "swept", swept)
	}
}
