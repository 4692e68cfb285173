package allocation_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/ferbecerra/rifago/internal/service/allocation"
	"github.com/ferbecerra/rifago/internal/service/servicetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRaffle(totalSlots, width int) domain.Raffle {
	return domain.Raffle{
		ID:          1,
		Name:        "test raffle",
		TotalSlots:  totalSlots,
		NumberWidth: width,
		PriceCents:  500,
		Status:      domain.RaffleOpen,
	}
}

func testConfig() allocation.Config {
	return allocation.Config{
		MaxAttempts: 3,
		InsertBatch: 100,
		BackoffBase: time.Millisecond,
	}
}

func holder() domain.Holder {
	return domain.Holder{Name: "Maria Perez", NationalID: "V-12345678"}
}

func TestAllocateClaimsDistinctNumbers(t *testing.T) {
	store := servicetest.NewMemStore()
	raf := testRaffle(10, 1)
	store.AddRaffle(raf)

	alloc := allocation.New(store, testConfig())
	resID := uuid.New()
	expires := time.Now().Add(10 * time.Minute)

	tickets, err := alloc.Allocate(context.Background(), allocation.Request{
		Raffle:        &raf,
		Count:         4,
		ReservationID: resID,
		Holder:        holder(),
		State:         domain.TicketReserved,
		ExpiresAt:     &expires,
	})
	require.NoError(t, err)
	require.Len(t, tickets, 4)

	seen := make(map[string]bool)
	for _, tk := range tickets {
		assert.False(t, seen[tk.Number], "number %s claimed twice", tk.Number)
		seen[tk.Number] = true
		assert.Equal(t, domain.TicketReserved, tk.State)
		assert.Equal(t, resID, tk.ReservationID)
		require.NotNil(t, tk.ExpiresAt)
	}

	committed, err := store.CountTicketsByReservation(context.Background(), resID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), committed)
}

func TestAllocateInsufficientAvailability(t *testing.T) {
	store := servicetest.NewMemStore()
	raf := testRaffle(10, 1)
	store.AddRaffle(raf)

	seedRes := uuid.New()
	var seed []domain.Ticket
	for _, n := range []string{"0", "1", "2", "3", "4", "5", "6", "7"} {
		seed = append(seed, domain.Ticket{
			ID:            uuid.New(),
			RaffleID:      raf.ID,
			Number:        n,
			Holder:        holder(),
			State:         domain.TicketReserved,
			ReservationID: seedRes,
		})
	}
	_, err := store.InsertTickets(context.Background(), seed)
	require.NoError(t, err)

	alloc := allocation.New(store, testConfig())
	resID := uuid.New()

	_, err = alloc.Allocate(context.Background(), allocation.Request{
		Raffle:        &raf,
		Count:         5,
		ReservationID: resID,
		Holder:        holder(),
		State:         domain.TicketReserved,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, allocation.ErrInsufficientAvailability))

	var detail allocation.InsufficientAvailabilityError
	require.True(t, errors.As(err, &detail))
	assert.Equal(t, 5, detail.Requested)
	assert.Equal(t, 2, detail.Available)

	committed, err := store.CountTicketsByReservation(context.Background(), resID)
	require.NoError(t, err)
	assert.Zero(t, committed, "failed allocation must leave no rows")
}

func TestAllocateRetriesAfterLosingRace(t *testing.T) {
	store := servicetest.NewMemStore()
	raf := testRaffle(10, 1)
	store.AddRaffle(raf)

	victimRes := uuid.New()
	rivalRes := uuid.New()

	// Steal the first number of the victim's first batch just before it lands,
	// the way a concurrent allocator would.
	var stole atomic.Bool
	store.InsertHook = func(batch []domain.Ticket) {
		if batch[0].ReservationID != victimRes || !stole.CompareAndSwap(false, true) {
			return
		}
		rival := batch[0]
		rival.ID = uuid.New()
		rival.ReservationID = rivalRes
		_, _ = store.InsertTickets(context.Background(), []domain.Ticket{rival})
	}

	alloc := allocation.New(store, testConfig())

	tickets, err := alloc.Allocate(context.Background(), allocation.Request{
		Raffle:        &raf,
		Count:         3,
		ReservationID: victimRes,
		Holder:        holder(),
		State:         domain.TicketReserved,
	})
	require.NoError(t, err)
	require.Len(t, tickets, 3)

	rivalTickets, err := store.TicketsByReservation(context.Background(), rivalRes)
	require.NoError(t, err)
	require.Len(t, rivalTickets, 1)

	for _, tk := range tickets {
		assert.NotEqual(t, rivalTickets[0].Number, tk.Number, "redraw must exclude the lost number")
	}

	total, err := store.CountTickets(context.Background(), raf.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}

func TestAllocateCompensatesWhenRetriesRunOut(t *testing.T) {
	store := servicetest.NewMemStore()
	raf := testRaffle(10, 1)
	store.AddRaffle(raf)

	victimRes := uuid.New()
	rivalRes := uuid.New()

	// The rival takes one number from every victim batch. With the full slot
	// space requested there is nothing left to redraw from.
	store.InsertHook = func(batch []domain.Ticket) {
		if batch[0].ReservationID != victimRes {
			return
		}
		rival := batch[0]
		rival.ID = uuid.New()
		rival.ReservationID = rivalRes
		_, _ = store.InsertTickets(context.Background(), []domain.Ticket{rival})
	}

	alloc := allocation.New(store, testConfig())

	_, err := alloc.Allocate(context.Background(), allocation.Request{
		Raffle:        &raf,
		Count:         10,
		ReservationID: victimRes,
		Holder:        holder(),
		State:         domain.TicketReserved,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, allocation.ErrAllocationIncomplete))

	committed, err := store.CountTicketsByReservation(context.Background(), victimRes)
	require.NoError(t, err)
	assert.Zero(t, committed, "compensation must remove every claimed row")

	rivalCount, err := store.CountTicketsByReservation(context.Background(), rivalRes)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rivalCount, "compensation must not touch other reservations")
}

func TestAllocateCompensatesOnStoreFailure(t *testing.T) {
	store := servicetest.NewMemStore()
	raf := testRaffle(10, 1)
	store.AddRaffle(raf)
	store.InsertErr = errors.New("connection reset")

	alloc := allocation.New(store, testConfig())
	resID := uuid.New()

	_, err := alloc.Allocate(context.Background(), allocation.Request{
		Raffle:        &raf,
		Count:         5,
		ReservationID: resID,
		Holder:        holder(),
		State:         domain.TicketReserved,
	})
	require.Error(t, err)

	committed, err := store.CountTicketsByReservation(context.Background(), resID)
	require.NoError(t, err)
	assert.Zero(t, committed)
}

func TestAllocateCompensationSparesPaidTickets(t *testing.T) {
	store := servicetest.NewMemStore()
	raf := testRaffle(10, 1)
	store.AddRaffle(raf)

	// Two paid tickets already sit under this reservation id, as after a
	// finalized purchase.
	resID := uuid.New()
	paymentID := uuid.New()
	_, err := store.InsertTickets(context.Background(), []domain.Ticket{
		{
			ID: uuid.New(), RaffleID: raf.ID, Number: "0", Holder: holder(),
			State: domain.TicketPaid, ReservationID: resID, PaymentID: &paymentID,
		},
		{
			ID: uuid.New(), RaffleID: raf.ID, Number: "1", Holder: holder(),
			State: domain.TicketPaid, ReservationID: resID, PaymentID: &paymentID,
		},
	})
	require.NoError(t, err)

	store.InsertErr = errors.New("connection reset")
	alloc := allocation.New(store, testConfig())

	// A stray allocation reusing the finalized id fails and compensates. The
	// cleanup must take only the rows this call minted.
	_, err = alloc.Allocate(context.Background(), allocation.Request{
		Raffle:        &raf,
		Count:         3,
		ReservationID: resID,
		Holder:        holder(),
		State:         domain.TicketReserved,
	})
	require.Error(t, err)

	after, err := store.TicketsByReservation(context.Background(), resID)
	require.NoError(t, err)
	require.Len(t, after, 2, "paid tickets must survive compensation")
	for _, tk := range after {
		assert.Equal(t, domain.TicketPaid, tk.State)
	}
}

func TestAllocateDirectIssueCompensatesByPayment(t *testing.T) {
	store := servicetest.NewMemStore()
	raf := testRaffle(10, 1)
	store.AddRaffle(raf)
	store.InsertErr = errors.New("connection reset")

	alloc := allocation.New(store, testConfig())
	paymentID := uuid.New()

	// Direct-issue rows are paid from birth, so cleanup goes by the payment id
	// the failing call minted rather than by ticket state.
	_, err := alloc.Allocate(context.Background(), allocation.Request{
		Raffle:        &raf,
		Count:         4,
		ReservationID: uuid.New(),
		Holder:        holder(),
		State:         domain.TicketPaid,
		PaymentID:     &paymentID,
	})
	require.Error(t, err)

	total, err := store.CountTickets(context.Background(), raf.ID)
	require.NoError(t, err)
	assert.Zero(t, total, "failed direct issue must leave no rows")
}

// shortCountStore reports one row fewer than the store holds, modeling a torn
// state where a batch partially landed without surfacing an error.
type shortCountStore struct {
	*servicetest.MemStore
}

func (s *shortCountStore) CountTicketsByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error) {
	n, err := s.MemStore.CountTicketsByReservation(ctx, reservationID)
	if n > 0 {
		n--
	}
	return n, err
}

func TestAllocateCompensatesOnReadBackMismatch(t *testing.T) {
	mem := servicetest.NewMemStore()
	raf := testRaffle(10, 1)
	mem.AddRaffle(raf)

	alloc := allocation.New(&shortCountStore{mem}, testConfig())
	resID := uuid.New()

	_, err := alloc.Allocate(context.Background(), allocation.Request{
		Raffle:        &raf,
		Count:         3,
		ReservationID: resID,
		Holder:        holder(),
		State:         domain.TicketReserved,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, allocation.ErrAllocationIncomplete))

	committed, err := mem.CountTicketsByReservation(context.Background(), resID)
	require.NoError(t, err)
	assert.Zero(t, committed)
}

func TestAllocateConcurrentNoDoubleSell(t *testing.T) {
	const (
		workers   = 8
		perWorker = 5
		slots     = workers * perWorker
	)

	store := servicetest.NewMemStore()
	raf := testRaffle(slots, 2)
	store.AddRaffle(raf)

	alloc := allocation.New(store, allocation.Config{
		MaxAttempts: 5,
		InsertBatch: 100,
		BackoffBase: time.Millisecond,
	})

	results := make([]error, workers)
	reservations := make([]uuid.UUID, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		reservations[i] = uuid.New()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = alloc.Allocate(context.Background(), allocation.Request{
				Raffle:        &raf,
				Count:         perWorker,
				ReservationID: reservations[i],
				Holder:        holder(),
				State:         domain.TicketReserved,
			})
		}(i)
	}
	wg.Wait()

	// Winners hold exactly perWorker rows, losers hold none, and no number was
	// ever handed out twice.
	successes := 0
	for i, err := range results {
		n, cerr := store.CountTicketsByReservation(context.Background(), reservations[i])
		require.NoError(t, cerr)

		if err == nil {
			successes++
			assert.Equal(t, int64(perWorker), n)
		} else {
			assert.True(t,
				errors.Is(err, allocation.ErrAllocationIncomplete) ||
					errors.Is(err, allocation.ErrInsufficientAvailability),
				"unexpected error: %v", err)
			assert.Zero(t, n, "failed worker %d leaked rows", i)
		}
	}
	require.Positive(t, successes)

	seen := make(map[string]bool)
	for _, tk := range store.AllTickets() {
		require.False(t, seen[tk.Number], "number %s sold twice", tk.Number)
		seen[tk.Number] = true
	}

	total, err := store.CountTickets(context.Background(), raf.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(successes*perWorker), total)
}
