package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store is the sweep surface: delete every reserved, unpaid ticket whose hold
// expiry has passed.
type Store interface {
	DeleteExpiredTickets(ctx context.Context, now time.Time) (int64, error)
}

type Config struct {
	Now func() time.Time
}

// Service reclaims expired, unpaid holds and returns their numbers to the gap
// set. Safe to run concurrently with itself and with active allocations:
// deleting a row someone else already deleted affects nothing.
type Service struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{store: store, cfg: cfg}
}

// Sweep deletes all lapsed holds. Returns the count reclaimed.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	const op = "service.reaper.Sweep"

	reclaimed, err := s.store.DeleteExpiredTickets(ctx, s.cfg.Now())
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return reclaimed, nil
}

// Run is the scheduled entry point: sweep, log, never fail the scheduler.
func (s *Service) Run(ctx context.Context, logger *slog.Logger) {
	reclaimed, err := s.Sweep(ctx)
	if err != nil {
		logger.Error("reaper sweep failed", "error", err)
		return
	}

	if reclaimed > 0 {
		logger.Info("reaper reclaimed expired holds", "count", reclaimed)
	}
}
