package purchase

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

type Store interface {
	RaffleByID(ctx context.Context, id int64) (*domain.Raffle, error)
	FinalizeReservation(ctx context.Context, reservationID uuid.UUID, payment domain.Payment, now time.Time) (int64, error)
	TicketsByReservation(ctx context.Context, reservationID uuid.UUID) ([]domain.Ticket, error)
	InsertPayment(ctx context.Context, payment domain.Payment) error
	DeletePayment(ctx context.Context, id uuid.UUID) error
}

type Publisher interface {
	PublishRaffleChanged(ctx context.Context, raffleID int64) error
}

type Config struct {
	Now func() time.Time
}

type Service struct {
	store     Store
	allocator *allocation.Allocator
	cache     *redisrepo.Cache
	pubsub    Publisher
	cfg       Config
}

func New(
	store Store,
	allocator *allocation.Allocator,
	cache *redisrepo.Cache,
	pubsub Publisher,
	cfg Config,
) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		store:     store,
		allocator: allocator,
		cache:     cache,
		pubsub:    pubsub,
		cfg:       cfg,
	}
}

type FinalizeResult struct {
	PaymentID uuid.UUID
	Tickets   []domain.Ticket
}

// Finalize converts a live reservation into paid, payment-linked tickets. All
// tickets under the reservation flip together or the call fails without
// touching any of them.
//
// Returns:
//   - purchase.ErrReservationNotFound if the reservation owns no tickets.
//   - purchase.ErrReservationAlreadyFinalized if another payment won it.
//   - purchase.ErrReservationExpired if the hold lapsed first.
//
// Conflicts are legitimate outcomes, not faults; they are surfaced as-is and
// must not be retried.
func (s *Service) Finalize(
	ctx context.Context,
	reservationID uuid.UUID,
	amountCents int,
	method string,
) (*FinalizeResult, error) {
	const op = "service.purchase.Finalize"

	if amountCents <= 0 {
		return nil, fmt.Errorf("%s: amount must be positive", op)
	}

	resID := reservationID
	payment := domain.Payment{
		ID:            uuid.New(),
		ReservationID: &resID,
		AmountCents:   amountCents,
		Method:        method,
		Status:        domain.PaymentPending,
	}

	if _, err := s.store.FinalizeReservation(ctx, reservationID, payment, s.cfg.Now()); err != nil {
		switch {
		case errors.Is(err, repository.ErrNothingToFinalize), errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%s:%w", op, ErrReservationNotFound)
		case errors.Is(err, repository.ErrAlreadyFinalized):
			return nil, fmt.Errorf("%s:%w", op, ErrReservationAlreadyFinalized)
		case errors.Is(err, repository.ErrExpired):
			return nil, fmt.Errorf("%s:%w", op, ErrReservationExpired)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	tickets, err := s.store.TicketsByReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if len(tickets) > 0 {
		s.notifyChanged(ctx, tickets[0].RaffleID)
	}

	return &FinalizeResult{PaymentID: payment.ID, Tickets: tickets}, nil
}

// DirectIssue is the administrative mint path: allocate fresh numbers and mark
// them paid immediately, with no hold window. The only way tickets come into
// existence without ever being reserved against an expiry.
func (s *Service) DirectIssue(
	ctx context.Context,
	raffleID int64,
	count int,
	holder domain.Holder,
	amountCents int,
	method string,
) (*FinalizeResult, error) {
	const op = "service.purchase.DirectIssue"

	if count <= 0 {
		return nil, fmt.Errorf("%s: count must be positive", op)
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

	payment := domain.Payment{
		ID:          uuid.New(),
		AmountCents: amountCents,
		Method:      method,
		Status:      domain.PaymentVerified,
	}

	if err := s.store.InsertPayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	tickets, err := s.allocator.Allocate(ctx, allocation.Request{
		Raffle:        raf,
		Count:         count,
		ReservationID: uuid.New(),
		Holder:        holder,
		State:         domain.TicketPaid,
		PaymentID:     &payment.ID,
	})
	if err != nil {
		// The allocator compensated its own rows; unwind the payment too.
		_ = s.store.DeletePayment(ctx, payment.ID)
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.notifyChanged(ctx, raffleID)

	return &FinalizeResult{PaymentID: payment.ID, Tickets: tickets}, nil
}

func (s *Service) notifyChanged(ctx context.Context, raffleID int64) {
	if s.cache != nil {
		_ = s.cache.InvalidateRaffle(ctx, raffleID)
	}
	if s.pubsub != nil {
		_ = s.pubsub.PublishRaffleChanged(ctx, raffleID)
	}
}
