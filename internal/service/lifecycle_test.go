package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/ferbecerra/rifago/internal/service/allocation"
	"github.com/ferbecerra/rifago/internal/service/availability"
	"github.com/ferbecerra/rifago/internal/service/purchase"
	"github.com/ferbecerra/rifago/internal/service/reaper"
	"github.com/ferbecerra/rifago/internal/service/reservation"
	"github.com/ferbecerra/rifago/internal/service/servicetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTicketLifecycle drives a small raffle through the whole flow: reserve,
// let the hold lapse, reclaim, sell out, and pay, checking the availability
// counters at every step.
func TestTicketLifecycle(t *testing.T) {
	ctx := context.Background()
	ttl := 10 * time.Minute
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := servicetest.NewMemStore()
	store.AddRaffle(domain.Raffle{
		ID:          1,
		Name:        "lifecycle raffle",
		TotalSlots:  10,
		NumberWidth: 1,
		PriceCents:  500,
		Status:      domain.RaffleOpen,
	})

	alloc := allocation.New(store, allocation.Config{
		MaxAttempts: 3,
		InsertBatch: 100,
		BackoffBase: time.Millisecond,
	})

	avail := availability.New(store, nil, availability.Config{})
	reservations := reservation.New(store, alloc, nil, nil, nil, reservation.Config{TTL: ttl, Now: clock})
	purchases := purchase.New(store, alloc, nil, nil, purchase.Config{Now: clock})
	sweeper := reaper.New(store, reaper.Config{Now: clock})

	holder := domain.Holder{Name: "Maria Perez", NationalID: "V-12345678"}

	available := func() int64 {
		counts, err := avail.Stats(ctx, 1)
		require.NoError(t, err)
		return counts.Available
	}

	require.Equal(t, int64(10), available())

	// A buyer holds three numbers.
	res1 := uuid.New()
	created, err := reservations.Create(ctx, 1, 3, res1, holder, "")
	require.NoError(t, err)
	require.Len(t, created.Tickets, 3)
	assert.Equal(t, int64(7), available())

	// They never pay. Past the TTL the reaper hands the numbers back.
	now = now.Add(ttl + time.Minute)

	reclaimed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), reclaimed)
	assert.Equal(t, int64(10), available())

	// Their reservation is gone for good: finalizing it now finds nothing.
	_, err = purchases.Finalize(ctx, res1, 1500, "pago_movil")
	require.Error(t, err)
	assert.True(t, errors.Is(err, purchase.ErrReservationNotFound))

	// A second buyer takes the whole raffle.
	res2 := uuid.New()
	created, err = reservations.Create(ctx, 1, 10, res2, holder, "")
	require.NoError(t, err)
	require.Len(t, created.Tickets, 10)
	assert.Equal(t, int64(0), available())

	// Anyone else is out of luck while the hold is live.
	_, err = reservations.Create(ctx, 1, 1, uuid.New(), holder, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, allocation.ErrInsufficientAvailability))

	// This buyer pays in time.
	now = now.Add(5 * time.Minute)

	paid, err := purchases.Finalize(ctx, res2, 5000, "pago_movil")
	require.NoError(t, err)
	require.Len(t, paid.Tickets, 10)
	for _, tk := range paid.Tickets {
		assert.Equal(t, domain.TicketPaid, tk.State)
		assert.Nil(t, tk.ExpiresAt)
	}

	// Paid tickets never expire: a sweep long after finds nothing to reclaim.
	now = now.Add(24 * time.Hour)

	reclaimed, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
	assert.Equal(t, int64(0), available())

	// A duplicate payment attempt bounces off.
	_, err = purchases.Finalize(ctx, res2, 5000, "zelle")
	require.Error(t, err)
	assert.True(t, errors.Is(err, purchase.ErrReservationAlreadyFinalized))
}
