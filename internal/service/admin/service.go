package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/ferbecerra/rifago/internal/repository"
	postgresrepo "github.com/ferbecerra/rifago/internal/repository/postgres"
	redisrepo "github.com/ferbecerra/rifago/internal/repository/redis"
	"github.com/ferbecerra/rifago/internal/uow"
)

type Publisher interface {
	PublishRaffleChanged(ctx context.Context, raffleID int64) error
}

type Service struct {
	store  *postgresrepo.Store
	cache  *redisrepo.Cache
	pubsub Publisher
	uow    *uow.UoW
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache, pubsub Publisher) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		pubsub: pubsub,
		uow:    uow.NewUoW(store),
	}
}

// CreateRaffle creates an open raffle with a fixed numbering space. The slot
// count is immutable once tickets exist; there is deliberately no operation
// that changes it.
//
// Returns:
//   - int64: the created raffle id.
//   - error: admin.ErrInvalidNumbering if width digits cannot represent
//     every number in [0, totalSlots).
//   - error: admin.ErrRaffleConflict on a duplicate name.
func (s *Service) CreateRaffle(
	ctx context.Context,
	name string,
	totalSlots, numberWidth, priceCents int,
) (int64, error) {
	const op = "service.admin.CreateRaffle"

	if totalSlots <= 0 {
		return 0, fmt.Errorf("%s: total slots must be positive", op)
	}
	if numberWidth <= 0 || len(fmt.Sprintf("%d", totalSlots-1)) > numberWidth {
		return 0, fmt.Errorf("%s:%w", op, ErrInvalidNumbering)
	}

	var id int64
	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		var err error
		id, err = s.store.Raffles().With(tx).Create(ctx, domain.Raffle{
			Name:        name,
			TotalSlots:  totalSlots,
			NumberWidth: numberWidth,
			PriceCents:  priceCents,
		})
		if err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%s:%w", op, ErrRaffleConflict)
			}
			return fmt.Errorf("%s:%w", op, err)
		}
		return nil
	})

	return id, err
}

// CloseRaffle stops further reservations and direct issues for a raffle.
func (s *Service) CloseRaffle(ctx context.Context, raffleID int64) error {
	const op = "service.admin.CloseRaffle"

	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		if err := s.store.Raffles().With(tx).SetStatus(ctx, raffleID, domain.RaffleClosed); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrRaffleNotFound)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		after(func(ctx context.Context) {
			if s.cache != nil {
				_ = s.cache.InvalidateRaffle(ctx, raffleID)
			}
			if s.pubsub != nil {
				_ = s.pubsub.PublishRaffleChanged(ctx, raffleID)
			}
		})
		return nil
	})

	return err
}

func (s *Service) ListRaffles(ctx context.Context, limit, offset int) ([]domain.Raffle, error) {
	const op = "service.admin.ListRaffles"

	out, err := s.store.Raffles().List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
