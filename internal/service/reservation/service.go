package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/ferbecerra/rifago/internal/repository"
	redisrepo "github.com/ferbecerra/rifago/internal/repository/redis"
	"github.com/ferbecerra/rifago/internal/service/allocation"
	"github.com/google/uuid"
)

// Store is the reservation manager's slice of the durable store. The allocator
// brings its own.
type Store interface {
	RaffleByID(ctx context.Context, id int64) (*domain.Raffle, error)
	DeleteUnpaidTickets(ctx context.Context, ids []uuid.UUID) (int64, error)
	DeleteExpiredTickets(ctx context.Context, now time.Time) (int64, error)
	CountLiveReserved(ctx context.Context, reservationID uuid.UUID, now time.Time) (int64, error)
	TicketsByReservation(ctx context.Context, reservationID uuid.UUID) ([]domain.Ticket, error)
}

type Config struct {
	TTL time.Duration
	Now func() time.Time
}

type Service struct {
	store     Store
	allocator *allocation.Allocator
	cache     *redisrepo.Cache
	pubsub    Publisher
	limiter   *redisrepo.SlidingWindowLimiter
	cfg       Config
}

// Publisher pushes availability-change notifications after mutations.
type Publisher interface {
	PublishRaffleChanged(ctx context.Context, raffleID int64) error
}

func New(
	store Store,
	allocator *allocation.Allocator,
	cache *redisrepo.Cache,
	pubsub Publisher,
	limiter *redisrepo.SlidingWindowLimiter,
	cfg Config,
) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		store:     store,
		allocator: allocator,
		cache:     cache,
		pubsub:    pubsub,
		limiter:   limiter,
		cfg:       cfg,
	}
}

type CreateResult struct {
	Tickets   []domain.Ticket
	ExpiresAt time.Time
}

// Create allocates count fresh numbers under the caller-supplied reservation
// id and holds them until the TTL lapses. The reservation id must be generated
// by the client before its first call so request retries stay idempotent at
// the reservation level.
//
// Returns:
//   - reservation.ErrRaffleNotFound / ErrRaffleClosed for bad targets.
//   - reservation.ErrReservationInUse if the id already owns tickets.
//   - allocation.ErrInsufficientAvailability / ErrAllocationIncomplete
//     passed through from the allocator.
func (s *Service) Create(
	ctx context.Context,
	raffleID int64,
	count int,
	reservationID uuid.UUID,
	holder domain.Holder,
	rlKey string,
) (*CreateResult, error) {
	const op = "service.reservation.Create"

	if count <= 0 {
		return nil, fmt.Errorf("%s: count must be positive", op)
	}
	if reservationID == uuid.Nil {
		return nil, fmt.Errorf("%s: reservation id required", op)
	}

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: rate limited, retry in %s", op, retry)
		}
	}

	raf, err := s.store.RaffleByID(ctx, raffleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrRaffleNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if raf.Status != domain.RaffleOpen {
		return nil, fmt.Errorf("%s:%w", op, ErrRaffleClosed)
	}

	now := s.cfg.Now()

	// Opportunistic sweep so long-expired holds do not shrink the gap set the
	// allocator is about to read. Best effort; the scheduled reaper catches
	// whatever this misses.
	_, _ = s.store.DeleteExpiredTickets(ctx, now)

	// A reservation id is single-use. Rejecting an id that still owns tickets
	// (a live hold, or a hold already finalized to paid) keeps a late client
	// retry from piling a second allocation onto a reservation that went
	// through finalization. The Redis idempotency layer absorbs most retries;
	// this guard covers the ones that outlive its record.
	existing, err := s.store.TicketsByReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrReservationInUse)
	}

	expiresAt := now.Add(s.cfg.TTL)

	tickets, err := s.allocator.Allocate(ctx, allocation.Request{
		Raffle:        raf,
		Count:         count,
		ReservationID: reservationID,
		Holder:        holder,
		State:         domain.TicketReserved,
		ExpiresAt:     &expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.notifyChanged(ctx, raffleID)

	return &CreateResult{Tickets: tickets, ExpiresAt: expiresAt}, nil
}

// Cancel deletes the given tickets if they are still unpaid. Idempotent: rows
// already reclaimed, finalized, or never present count as zero affected, not
// as errors. The unpaid guard is what stops a cancel from racing a concurrent
// finalize and destroying sold tickets.
func (s *Service) Cancel(ctx context.Context, raffleID int64, ticketIDs []uuid.UUID) (int64, error) {
	const op = "service.reservation.Cancel"

	if len(ticketIDs) == 0 {
		return 0, nil
	}

	deleted, err := s.store.DeleteUnpaidTickets(ctx, ticketIDs)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	if deleted > 0 {
		s.notifyChanged(ctx, raffleID)
	}

	return deleted, nil
}

// IsLive reports whether at least one ticket under the reservation is still
// reserved and unexpired.
func (s *Service) IsLive(ctx context.Context, reservationID uuid.UUID) (bool, error) {
	const op = "service.reservation.IsLive"

	n, err := s.store.CountLiveReserved(ctx, reservationID, s.cfg.Now())
	if err != nil {
		return false, fmt.Errorf("%s:%w", op, err)
	}

	return n > 0, nil
}

// Status is the countdown view: whether the hold is live and when it lapses.
func (s *Service) Status(ctx context.Context, reservationID uuid.UUID) (*domain.ReservationStatus, error) {
	const op = "service.reservation.Status"

	tickets, err := s.store.TicketsByReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if len(tickets) == 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrReservationNotFound)
	}

	now := s.cfg.Now()
	status := &domain.ReservationStatus{
		ReservationID: reservationID,
		TicketCount:   int64(len(tickets)),
	}

	for _, t := range tickets {
		if t.ExpiresAt != nil {
			status.ExpiresAt = t.ExpiresAt
		}
		if t.State == domain.TicketReserved && t.PaymentID == nil &&
			t.ExpiresAt != nil && t.ExpiresAt.After(now) {
			status.Live = true
		}
	}

	return status, nil
}

func (s *Service) notifyChanged(ctx context.Context, raffleID int64) {
	if s.cache != nil {
		_ = s.cache.InvalidateRaffle(ctx, raffleID)
	}
	if s.pubsub != nil {
		_ = s.pubsub.PublishRaffleChanged(ctx, raffleID)
	}
}
