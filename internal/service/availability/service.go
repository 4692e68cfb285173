package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ferbecerra/rifago/internal/domain"
	redisx "github.com/ferbecerra/rifago/internal/redis"
	"github.com/ferbecerra/rifago/internal/repository"
	redisrepo "github.com/ferbecerra/rifago/internal/repository/redis"
)

var ErrRaffleNotFound = errors.New("raffle not found")

// Store is the read surface the calculator needs from the durable store.
type Store interface {
	RaffleByID(ctx context.Context, id int64) (*domain.Raffle, error)
	TakenNumbers(ctx context.Context, raffleID int64) ([]string, error)
	CountTickets(ctx context.Context, raffleID int64) (int64, error)
}

type Config struct {
	StatsCacheTTL time.Duration
}

type Service struct {
	store Store
	cache *redisrepo.Cache
	cfg   Config
}

func New(store Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.StatsCacheTTL <= 0 {
		cfg.StatsCacheTTL = 5 * time.Second
	}

	return &Service{store: store, cache: cache, cfg: cfg}
}

func (s *Service) Raffle(ctx context.Context, raffleID int64) (*domain.Raffle, error) {
	const op = "service.availability.Raffle"

	raf, err := s.store.RaffleByID(ctx, raffleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrRaffleNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return raf, nil
}

// GapSet returns every number in [0, totalSlots) that does not appear in
// taken, ascending. taken may arrive unsorted and may contain values outside
// the slot space; both are tolerated. O(len(taken) + totalSlots).
func GapSet(totalSlots int, taken []string) []int {
	ints := make([]int, 0, len(taken))
	for _, t := range taken {
		n, err := strconv.Atoi(t)
		if err != nil || n < 0 || n >= totalSlots {
			continue
		}
		ints = append(ints, n)
	}

	sort.Ints(ints)

	out := make([]int, 0, totalSlots-len(ints))
	next := 0
	for _, t := range ints {
		if t < next {
			// duplicate in input
			continue
		}
		for n := next; n < t; n++ {
			out = append(out, n)
		}
		next = t + 1
	}
	for n := next; n < totalSlots; n++ {
		out = append(out, n)
	}

	return out
}

// AvailableNumbers lists the raffle's free numbers formatted at its digit
// width. A reserved-but-unpaid ticket still occupies its number until the
// reaper or a cancellation reclaims it.
func (s *Service) AvailableNumbers(ctx context.Context, raffleID int64) ([]string, error) {
	const op = "service.availability.AvailableNumbers"

	raf, err := s.Raffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}

	taken, err := s.store.TakenNumbers(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	gaps := GapSet(raf.TotalSlots, taken)

	out := make([]string, len(gaps))
	for i, n := range gaps {
		out[i] = raf.FormatNumber(n)
	}

	return out, nil
}

// Stats is the derived read behind the live counters on the buyer page.
// Occupied counts every non-deleted ticket regardless of state, so
// available + occupied always equals the slot count.
func (s *Service) Stats(ctx context.Context, raffleID int64) (*domain.RaffleCounts, error) {
	const op = "service.availability.Stats"

	load := func(ctx context.Context) (*domain.RaffleCounts, error) {
		raf, err := s.Raffle(ctx, raffleID)
		if err != nil {
			return nil, err
		}

		occupied, err := s.store.CountTickets(ctx, raffleID)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}

		total := int64(raf.TotalSlots)
		counts := &domain.RaffleCounts{
			Total:     total,
			Occupied:  occupied,
			Available: total - occupied,
		}
		if total > 0 {
			counts.PercentAvailable = float64(counts.Available) / float64(total) * 100
		}

		return counts, nil
	}

	if s.cache == nil {
		return load(ctx)
	}

	return redisrepo.GetOrSetJSON(ctx, s.cache, redisx.KeyRaffleStats(raffleID), s.cfg.StatsCacheTTL, load)
}
