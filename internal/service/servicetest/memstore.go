// Package servicetest provides an in-memory store for exercising the services
// without Postgres. A mutex around the number map plays the role the
// (raffle_id, number) unique constraint plays in the real store: each row of a
// batch insert wins or loses atomically and independently.
package servicetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/ferbecerra/rifago/internal/repository"
	"github.com/google/uuid"
)

type MemStore struct {
	mu       sync.Mutex
	raffles  map[int64]domain.Raffle
	tickets  map[uuid.UUID]domain.Ticket
	numbers  map[string]uuid.UUID // "raffleID:number" -> ticket id
	payments map[uuid.UUID]domain.Payment

	// InsertErr, when set, makes every InsertTickets call fail after inserting
	// its rows. Lets tests drive the compensation path.
	InsertErr error

	// InsertHook runs before each batch lands, outside the lock, so tests can
	// interleave a competing claim. Set it before any concurrent use.
	InsertHook func(batch []domain.Ticket)
}

func NewMemStore() *MemStore {
	return &MemStore{
		raffles:  make(map[int64]domain.Raffle),
		tickets:  make(map[uuid.UUID]domain.Ticket),
		numbers:  make(map[string]uuid.UUID),
		payments: make(map[uuid.UUID]domain.Payment),
	}
}

func (s *MemStore) numberKey(raffleID int64, number string) string {
	return fmt.Sprintf("%d:%s", raffleID, number)
}

func (s *MemStore) AddRaffle(raf domain.Raffle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raffles[raf.ID] = raf
}

func (s *MemStore) RaffleByID(ctx context.Context, id int64) (*domain.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raf, ok := s.raffles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	cp := raf
	return &cp, nil
}

// TakenNumbers deliberately returns numbers in map iteration order: the
// callers promise to sort defensively.
func (s *MemStore) TakenNumbers(ctx context.Context, raffleID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, t := range s.tickets {
		if t.RaffleID == raffleID {
			out = append(out, t.Number)
		}
	}

	return out, nil
}

func (s *MemStore) CountTickets(ctx context.Context, raffleID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tickets {
		if t.RaffleID == raffleID {
			n++
		}
	}

	return n, nil
}

func (s *MemStore) InsertTickets(ctx context.Context, batch []domain.Ticket) ([]domain.Ticket, error) {
	if s.InsertHook != nil {
		s.InsertHook(batch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted []domain.Ticket
	for _, t := range batch {
		key := s.numberKey(t.RaffleID, t.Number)
		if _, taken := s.numbers[key]; taken {
			continue
		}

		t.CreatedAt = time.Now()
		s.numbers[key] = t.ID
		s.tickets[t.ID] = t
		inserted = append(inserted, t)
	}

	if s.InsertErr != nil {
		return inserted, s.InsertErr
	}

	return inserted, nil
}

func (s *MemStore) deleteLocked(id uuid.UUID) bool {
	t, ok := s.tickets[id]
	if !ok {
		return false
	}

	delete(s.tickets, id)
	delete(s.numbers, s.numberKey(t.RaffleID, t.Number))
	return true
}

func (s *MemStore) DeleteTickets(ctx context.Context, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if s.deleteLocked(id) {
			n++
		}
	}

	return n, nil
}

func (s *MemStore) DeleteUnpaidTickets(ctx context.Context, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		t, ok := s.tickets[id]
		if !ok || t.State != domain.TicketReserved || t.PaymentID != nil {
			continue
		}
		if s.deleteLocked(id) {
			n++
		}
	}

	return n, nil
}

func (s *MemStore) DeleteUnpaidTicketsByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tickets {
		if t.ReservationID == reservationID &&
			t.State == domain.TicketReserved && t.PaymentID == nil {
			if s.deleteLocked(id) {
				n++
			}
		}
	}

	return n, nil
}

func (s *MemStore) DeleteTicketsByPayment(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tickets {
		if t.PaymentID != nil && *t.PaymentID == paymentID {
			if s.deleteLocked(id) {
				n++
			}
		}
	}

	return n, nil
}

func (s *MemStore) DeleteExpiredTickets(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tickets {
		if t.State == domain.TicketReserved && t.PaymentID == nil &&
			t.ExpiresAt != nil && t.ExpiresAt.Before(now) {
			if s.deleteLocked(id) {
				n++
			}
		}
	}

	return n, nil
}

func (s *MemStore) TicketsByReservation(ctx context.Context, reservationID uuid.UUID) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.ReservationID == reservationID {
			out = append(out, t)
		}
	}

	return out, nil
}

func (s *MemStore) CountTicketsByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tickets {
		if t.ReservationID == reservationID {
			n++
		}
	}

	return n, nil
}

func (s *MemStore) CountLiveReserved(ctx context.Context, reservationID uuid.UUID, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tickets {
		if t.ReservationID == reservationID && t.State == domain.TicketReserved &&
			t.ExpiresAt != nil && t.ExpiresAt.After(now) {
			n++
		}
	}

	return n, nil
}

func (s *MemStore) FinalizeReservation(
	ctx context.Context,
	reservationID uuid.UUID,
	payment domain.Payment,
	now time.Time,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, t := range s.tickets {
		if t.ReservationID != reservationID {
			continue
		}
		if t.PaymentID != nil || t.State != domain.TicketReserved {
			return 0, repository.ErrAlreadyFinalized
		}
		if t.ExpiresAt == nil || !t.ExpiresAt.After(now) {
			return 0, repository.ErrExpired
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return 0, repository.ErrNothingToFinalize
	}

	payment.CreatedAt = time.Now()
	s.payments[payment.ID] = payment

	for _, id := range ids {
		t := s.tickets[id]
		t.State = domain.TicketPaid
		pid := payment.ID
		t.PaymentID = &pid
		t.ExpiresAt = nil
		s.tickets[id] = t
	}

	return int64(len(ids)), nil
}

func (s *MemStore) InsertPayment(ctx context.Context, p domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[p.ID]; ok {
		return repository.ErrConflict
	}

	p.CreatedAt = time.Now()
	s.payments[p.ID] = p
	return nil
}

func (s *MemStore) DeletePayment(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.payments, id)
	return nil
}

// Ticket returns a copy of the stored ticket, for assertions.
func (s *MemStore) Ticket(id uuid.UUID) (domain.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	return t, ok
}

// Payment returns a copy of the stored payment, for assertions.
func (s *MemStore) Payment(id uuid.UUID) (domain.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	return p, ok
}

// PaymentCount reports how many payment rows the store holds.
func (s *MemStore) PaymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.payments)
}

// AllTickets snapshots every ticket, for invariant checks.
func (s *MemStore) AllTickets() []domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}

	return out
}
