package otp

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically removes expired challenges.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper returns a Sweeper running service.Sweep every interval.
func NewSweeper(service *Service, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{service: service, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled. Sweep failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("otp sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("otp sweeper stopped")
			return nil
		case <-ticker.C:
			n, err := s.service.Sweep(ctx)
			if err != nil {
				s.logger.Error("otp sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Debug("otp sweep removed expired challenges", zap.Int64("count", n))
			}
		}
	}
}
