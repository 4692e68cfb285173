package availability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/ferbecerra/rifago/internal/service/availability"
	"github.com/ferbecerra/rifago/internal/service/servicetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGapSet(t *testing.T) {
	tests := []struct {
		name       string
		totalSlots int
		taken      []string
		want       []int
	}{
		{
			name:       "nothing taken",
			totalSlots: 5,
			taken:      nil,
			want:       []int{0, 1, 2, 3, 4},
		},
		{
			name:       "everything taken",
			totalSlots: 3,
			taken:      []string{"0", "1", "2"},
			want:       []int{},
		},
		{
			name:       "partial and unsorted",
			totalSlots: 10,
			taken:      []string{"7", "0", "3", "4"},
			want:       []int{1, 2, 5, 6, 8, 9},
		},
		{
			name:       "zero-padded numbers parse",
			totalSlots: 10,
			taken:      []string{"00", "07"},
			want:       []int{1, 2, 3, 4, 5, 6, 8, 9},
		},
		{
			name:       "out-of-range and junk ignored",
			totalSlots: 4,
			taken:      []string{"-1", "4", "99", "x", "2"},
			want:       []int{0, 1, 3},
		},
		{
			name:       "duplicates ignored",
			totalSlots: 5,
			taken:      []string{"1", "1", "3", "3"},
			want:       []int{0, 2, 4},
		},
		{
			name:       "zero slots",
			totalSlots: 0,
			taken:      []string{"0"},
			want:       []int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := availability.GapSet(tt.totalSlots, tt.taken)
			assert.Equal(t, tt.want, got)
		})
	}
}

func seedStore(t *testing.T, totalSlots, width int) *servicetest.MemStore {
	t.Helper()

	store := servicetest.NewMemStore()
	store.AddRaffle(domain.Raffle{
		ID:          1,
		Name:        "test raffle",
		TotalSlots:  totalSlots,
		NumberWidth: width,
		PriceCents:  500,
		Status:      domain.RaffleOpen,
	})

	return store
}

func occupy(t *testing.T, store *servicetest.MemStore, numbers ...string) {
	t.Helper()

	resID := uuid.New()
	batch := make([]domain.Ticket, len(numbers))
	for i, n := range numbers {
		batch[i] = domain.Ticket{
			ID:            uuid.New(),
			RaffleID:      1,
			Number:        n,
			Holder:        domain.Holder{Name: "seed", NationalID: "V-1"},
			State:         domain.TicketReserved,
			ReservationID: resID,
		}
	}

	inserted, err := store.InsertTickets(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, inserted, len(numbers))
}

func TestAvailableNumbersFormatsAtWidth(t *testing.T) {
	store := seedStore(t, 10, 2)
	occupy(t, store, "03", "07")

	svc := availability.New(store, nil, availability.Config{})

	got, err := svc.AvailableNumbers(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"00", "01", "02", "04", "05", "06", "08", "09"}, got)
}

func TestAvailableNumbersUnknownRaffle(t *testing.T) {
	svc := availability.New(servicetest.NewMemStore(), nil, availability.Config{})

	_, err := svc.AvailableNumbers(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, availability.ErrRaffleNotFound))
}

func TestStatsConservation(t *testing.T) {
	store := seedStore(t, 10, 1)
	occupy(t, store, "0", "4", "9")

	svc := availability.New(store, nil, availability.Config{})

	counts, err := svc.Stats(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, int64(10), counts.Total)
	assert.Equal(t, int64(3), counts.Occupied)
	assert.Equal(t, int64(7), counts.Available)
	assert.InDelta(t, 70.0, counts.PercentAvailable, 0.001)
	assert.Equal(t, counts.Total, counts.Occupied+counts.Available)
}
