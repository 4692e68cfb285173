package reaper_test

import (
	"context"
	"testing"
	"time"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/ferbecerra/rifago/internal/service/availability"
	"github.com/ferbecerra/rifago/internal/service/reaper"
	"github.com/ferbecerra/rifago/internal/service/servicetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepReclaimsOnlyLapsedHolds(t *testing.T) {
	store := servicetest.NewMemStore()
	store.AddRaffle(domain.Raffle{
		ID:          1,
		Name:        "test raffle",
		TotalSlots:  10,
		NumberWidth: 1,
		PriceCents:  500,
		Status:      domain.RaffleOpen,
	})

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	paymentID := uuid.New()

	seed := []domain.Ticket{
		// Lapsed hold: reclaimable.
		{ID: uuid.New(), RaffleID: 1, Number: "0", State: domain.TicketReserved, ReservationID: uuid.New(), ExpiresAt: &past},
		// Live hold: untouchable.
		{ID: uuid.New(), RaffleID: 1, Number: "1", State: domain.TicketReserved, ReservationID: uuid.New(), ExpiresAt: &future},
		// Paid long ago: expiry cleared at finalization, untouchable.
		{ID: uuid.New(), RaffleID: 1, Number: "2", State: domain.TicketPaid, ReservationID: uuid.New(), PaymentID: &paymentID},
	}
	inserted, err := store.InsertTickets(context.Background(), seed)
	require.NoError(t, err)
	require.Len(t, inserted, 3)

	svc := reaper.New(store, reaper.Config{Now: func() time.Time { return now }})

	reclaimed, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), reclaimed)

	// The reclaimed number is sellable again; the survivors still occupy theirs.
	taken, err := store.TakenNumbers(context.Background(), 1)
	require.NoError(t, err)
	gaps := availability.GapSet(10, taken)
	assert.Contains(t, gaps, 0)
	assert.NotContains(t, gaps, 1)
	assert.NotContains(t, gaps, 2)

	// A second sweep finds nothing.
	reclaimed, err = svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
}
