package allocation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/ferbecerra/rifago/internal/service/availability"
	"github.com/google/uuid"
)

// Store is the slice of the durable store the allocator claims numbers
// through. InsertTickets must report success per row: a number lost to a
// concurrent allocator comes back missing from the returned slice, not as an
// error. That per-row atomicity is the only concurrency control in play.
type Store interface {
	TakenNumbers(ctx context.Context, raffleID int64) ([]string, error)
	InsertTickets(ctx context.Context, tickets []domain.Ticket) ([]domain.Ticket, error)
	DeleteUnpaidTicketsByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error)
	DeleteTicketsByPayment(ctx context.Context, paymentID uuid.UUID) (int64, error)
	CountTicketsByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error)
}

type Config struct {
	MaxAttempts int           // contention retry ceiling
	InsertBatch int           // max rows per physical insert
	BackoffBase time.Duration // grows per attempt, jittered
}

// Request describes one batch claim. State and PaymentID let the direct-issue
// path mint tickets that are paid from birth; the reservation path sets
// State = reserved with an expiry.
type Request struct {
	Raffle        *domain.Raffle
	Count         int
	ReservationID uuid.UUID
	Holder        domain.Holder
	State         domain.TicketState
	ExpiresAt     *time.Time
	PaymentID     *uuid.UUID
}

type Allocator struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) *Allocator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InsertBatch <= 0 {
		cfg.InsertBatch = 100
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}

	return &Allocator{store: store, cfg: cfg}
}

// Allocate claims req.Count previously-unused numbers for the reservation, or
// fails with nothing claimed. There is no lock: each attempt draws from a
// snapshot of the gap set and lets the store's (raffle_id, number) constraint
// arbitrate races. Losers redraw over fresh data, never the same numbers.
//
// Returns:
//   - []domain.Ticket: the claimed tickets, len == req.Count.
//   - error: allocation.ErrInsufficientAvailability if the gap set is smaller
//     than req.Count.
//   - error: allocation.ErrAllocationIncomplete if contention exhausted the
//     retry ceiling; every row this call inserted has been deleted.
func (a *Allocator) Allocate(ctx context.Context, req Request) ([]domain.Ticket, error) {
	const op = "service.allocation.Allocate"

	if req.Count <= 0 {
		return nil, fmt.Errorf("%s: count must be positive", op)
	}

	taken, err := a.store.TakenNumbers(ctx, req.Raffle.ID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	free := availability.GapSet(req.Raffle.TotalSlots, taken)
	if len(free) < req.Count {
		return nil, fmt.Errorf("%s:%w", op, InsufficientAvailabilityError{
			Requested: req.Count,
			Available: len(free),
		})
	}

	// Numbers this allocation has already tried, claimed or lost. Redraws
	// exclude them so a loser never re-draws its own losing numbers, including
	// ones lost transiently within this same loop.
	tried := make(map[int]struct{}, req.Count)

	var claimed []domain.Ticket
	draw := drawFrom(free, req.Count)

	for attempt := 1; ; attempt++ {
		inserted, err := a.insertDraw(ctx, req, draw)
		claimed = append(claimed, inserted...)
		for _, n := range draw {
			tried[n] = struct{}{}
		}
		if err != nil {
			return nil, a.compensate(ctx, op, req, err)
		}

		stillNeeded := req.Count - len(claimed)
		if stillNeeded == 0 {
			break
		}

		if attempt >= a.cfg.MaxAttempts {
			return nil, a.compensate(ctx, op, req, AllocationIncompleteError{
				Requested: req.Count,
				Claimed:   len(claimed),
			})
		}

		if err := a.backoff(ctx, attempt); err != nil {
			return nil, a.compensate(ctx, op, req, err)
		}

		// Fresh snapshot minus everything this allocation already touched.
		taken, err = a.store.TakenNumbers(ctx, req.Raffle.ID)
		if err != nil {
			return nil, a.compensate(ctx, op, req, err)
		}

		free = free[:0]
		for _, n := range availability.GapSet(req.Raffle.TotalSlots, taken) {
			if _, seen := tried[n]; !seen {
				free = append(free, n)
			}
		}

		if len(free) < stillNeeded {
			return nil, a.compensate(ctx, op, req, AllocationIncompleteError{
				Requested: req.Count,
				Claimed:   len(claimed),
			})
		}

		draw = drawFrom(free, stillNeeded)
	}

	// Read-back verification: the rows the store actually holds for this
	// reservation must match the request exactly, even though the inserts were
	// split across batches.
	committed, err := a.store.CountTicketsByReservation(ctx, req.ReservationID)
	if err != nil {
		return nil, a.compensate(ctx, op, req, err)
	}
	if committed != int64(req.Count) {
		return nil, a.compensate(ctx, op, req, AllocationIncompleteError{
			Requested: req.Count,
			Claimed:   int(committed),
		})
	}

	return claimed, nil
}

// insertDraw turns drawn numbers into rows and inserts them in capped batches.
// A batch failing atomically must not discard the rest, so oversized draws are
// split before they reach the store.
func (a *Allocator) insertDraw(ctx context.Context, req Request, draw []int) ([]domain.Ticket, error) {
	tickets := make([]domain.Ticket, len(draw))
	for i, n := range draw {
		tickets[i] = domain.Ticket{
			ID:            uuid.New(),
			RaffleID:      req.Raffle.ID,
			Number:        req.Raffle.FormatNumber(n),
			Holder:        req.Holder,
			State:         req.State,
			ReservationID: req.ReservationID,
			ExpiresAt:     req.ExpiresAt,
			PaymentID:     req.PaymentID,
		}
	}

	var inserted []domain.Ticket
	for start := 0; start < len(tickets); start += a.cfg.InsertBatch {
		end := min(start+a.cfg.InsertBatch, len(tickets))

		got, err := a.store.InsertTickets(ctx, tickets[start:end])
		inserted = append(inserted, got...)
		if err != nil {
			return inserted, err
		}
	}

	return inserted, nil
}

// compensate deletes every row this allocation managed to insert, then returns
// cause. There is no transaction spanning attempts; this cleanup is what keeps
// failed allocations from leaking claimed-but-unassigned tickets.
//
// The delete is scoped to rows this call could have minted. A direct-issue
// allocation is cleaned up by its payment id, which the failing call owns
// outright. A reservation allocation deletes only reserved, unpaid rows, so a
// reservation id that already went through finalization can never lose its
// paid tickets to a stray retry.
func (a *Allocator) compensate(ctx context.Context, op string, req Request, cause error) error {
	var err error
	if req.PaymentID != nil {
		_, err = a.store.DeleteTicketsByPayment(ctx, *req.PaymentID)
	} else {
		_, err = a.store.DeleteUnpaidTicketsByReservation(ctx, req.ReservationID)
	}
	if err != nil {
		return fmt.Errorf("%s: compensating delete failed: %w (cause: %w)", op, err, cause)
	}

	return fmt.Errorf("%s:%w", op, cause)
}

func (a *Allocator) backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt) * a.cfg.BackoffBase
	d += rand.N(a.cfg.BackoffBase)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// drawFrom picks k numbers uniformly without replacement. Shuffle-and-take,
// not independent draws, so a single pass can never produce duplicates.
func drawFrom(free []int, k int) []int {
	pool := make([]int, len(free))
	copy(pool, free)

	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	return pool[:k]
}
