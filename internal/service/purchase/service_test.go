package purchase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/ferbecerra/rifago/internal/service/allocation"
	"github.com/ferbecerra/rifago/internal/service/purchase"
	"github.com/ferbecerra/rifago/internal/service/reservation"
	"github.com/ferbecerra/rifago/internal/service/servicetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ttl = 10 * time.Minute

type fixture struct {
	store        *servicetest.MemStore
	reservations *reservation.Service
	svc          *purchase.Service
	now          time.Time
}

func newFixture(t *testing.T, totalSlots int) *fixture {
	t.Helper()

	f := &fixture{
		store: servicetest.NewMemStore(),
		now:   time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}

	f.store.AddRaffle(domain.Raffle{
		ID:          1,
		Name:        "test raffle",
		TotalSlots:  totalSlots,
		NumberWidth: 2,
		PriceCents:  500,
		Status:      domain.RaffleOpen,
	})

	alloc := allocation.New(f.store, allocation.Config{
		MaxAttempts: 3,
		InsertBatch: 100,
		BackoffBase: time.Millisecond,
	})

	clock := func() time.Time { return f.now }
	f.reservations = reservation.New(f.store, alloc, nil, nil, nil, reservation.Config{TTL: ttl, Now: clock})
	f.svc = purchase.New(f.store, alloc, nil, nil, purchase.Config{Now: clock})

	return f
}

func holder() domain.Holder {
	return domain.Holder{Name: "Maria Perez", NationalID: "V-12345678"}
}

func (f *fixture) reserve(t *testing.T, count int) uuid.UUID {
	t.Helper()

	resID := uuid.New()
	_, err := f.reservations.Create(context.Background(), 1, count, resID, holder(), "")
	require.NoError(t, err)
	return resID
}

func TestFinalizeFlipsReservationToPaid(t *testing.T) {
	f := newFixture(t, 10)
	resID := f.reserve(t, 3)

	res, err := f.svc.Finalize(context.Background(), resID, 1500, "pago_movil")
	require.NoError(t, err)
	require.Len(t, res.Tickets, 3)

	for _, tk := range res.Tickets {
		assert.Equal(t, domain.TicketPaid, tk.State)
		require.NotNil(t, tk.PaymentID)
		assert.Equal(t, res.PaymentID, *tk.PaymentID)
		assert.Nil(t, tk.ExpiresAt, "paid tickets never expire")
	}

	payment, ok := f.store.Payment(res.PaymentID)
	require.True(t, ok)
	assert.Equal(t, domain.PaymentPending, payment.Status)
	require.NotNil(t, payment.ReservationID)
	assert.Equal(t, resID, *payment.ReservationID)
}

func TestFinalizeIsExclusive(t *testing.T) {
	f := newFixture(t, 10)
	resID := f.reserve(t, 2)

	_, err := f.svc.Finalize(context.Background(), resID, 1000, "pago_movil")
	require.NoError(t, err)

	_, err = f.svc.Finalize(context.Background(), resID, 1000, "zelle")
	require.Error(t, err)
	assert.True(t, errors.Is(err, purchase.ErrReservationAlreadyFinalized))
}

func TestFinalizeExpiredHold(t *testing.T) {
	f := newFixture(t, 10)
	resID := f.reserve(t, 2)

	f.now = f.now.Add(ttl + time.Second)

	_, err := f.svc.Finalize(context.Background(), resID, 1000, "pago_movil")
	require.Error(t, err)
	assert.True(t, errors.Is(err, purchase.ErrReservationExpired))

	// The lapsed rows are untouched; reclamation stays the reaper's job.
	tickets, terr := f.store.TicketsByReservation(context.Background(), resID)
	require.NoError(t, terr)
	require.Len(t, tickets, 2)
	for _, tk := range tickets {
		assert.Equal(t, domain.TicketReserved, tk.State)
		assert.Nil(t, tk.PaymentID)
	}
}

func TestFinalizeUnknownReservation(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.svc.Finalize(context.Background(), uuid.New(), 1000, "pago_movil")
	require.Error(t, err)
	assert.True(t, errors.Is(err, purchase.ErrReservationNotFound))
}

func TestDirectIssueMintsPaidTickets(t *testing.T) {
	f := newFixture(t, 10)

	res, err := f.svc.DirectIssue(context.Background(), 1, 2, holder(), 1000, "efectivo")
	require.NoError(t, err)
	require.Len(t, res.Tickets, 2)

	for _, tk := range res.Tickets {
		assert.Equal(t, domain.TicketPaid, tk.State)
		require.NotNil(t, tk.PaymentID)
		assert.Equal(t, res.PaymentID, *tk.PaymentID)
		assert.Nil(t, tk.ExpiresAt, "direct-issue tickets carry no hold window")
	}

	payment, ok := f.store.Payment(res.PaymentID)
	require.True(t, ok)
	assert.Equal(t, domain.PaymentVerified, payment.Status)
	assert.Nil(t, payment.ReservationID)
}

func TestDirectIssueClosedRaffle(t *testing.T) {
	f := newFixture(t, 10)
	f.store.AddRaffle(domain.Raffle{
		ID:         2,
		Name:       "closed raffle",
		TotalSlots: 10,
		Status:     domain.RaffleClosed,
	})

	_, err := f.svc.DirectIssue(context.Background(), 2, 1, holder(), 500, "efectivo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, purchase.ErrRaffleClosed))
}

func TestDirectIssueUnwindsPaymentOnFailure(t *testing.T) {
	f := newFixture(t, 2)

	// Fill the raffle so allocation cannot succeed.
	first, err := f.svc.DirectIssue(context.Background(), 1, 2, holder(), 1000, "efectivo")
	require.NoError(t, err)

	_, err = f.svc.DirectIssue(context.Background(), 1, 1, holder(), 500, "efectivo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, allocation.ErrInsufficientAvailability))

	// Exactly one payment remains: the successful one.
	assert.Equal(t, 1, f.store.PaymentCount())
	_, ok := f.store.Payment(first.PaymentID)
	assert.True(t, ok)

	occupied, err := f.store.CountTickets(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), occupied)
}
