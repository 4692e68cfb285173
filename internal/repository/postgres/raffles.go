package postgres

import (
	"context"
	"fmt"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/ferbecerra/rifago/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RaffleRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *RaffleRepo) With(db DB) *RaffleRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *RaffleRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// ByID retrieves a raffle.
//
// Returns:
//   - *domain.Raffle: the raffle when found.
//   - error: repository.ErrNotFound if the raffle does not exist.
func (r *RaffleRepo) ByID(ctx context.Context, id int64) (*domain.Raffle, error) {
	const op = "postgres.RaffleRepo.ByID"

	db := r.handle()

	var raf domain.Raffle
	var status string
	err := withRetry(ctx, func() error {
		return db.QueryRow(ctx,
			`SELECT id, name, total_slots, number_width, price_cents, status, created_at
		 	 FROM raffles WHERE id = $1`,
			id,
		).Scan(&raf.ID, &raf.Name, &raf.TotalSlots, &raf.NumberWidth, &raf.PriceCents, &status, &raf.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	raf.Status = domain.RaffleStatus(status)

	return &raf, nil
}

func (r *RaffleRepo) List(ctx context.Context, limit, offset int) ([]domain.Raffle, error) {
	const op = "postgres.RaffleRepo.List"

	db := r.handle()

	var out []domain.Raffle
	err := withRetry(ctx, func() error {
		rows, err := db.Query(ctx,
			`SELECT id, name, total_slots, number_width, price_cents, status, created_at
		 	 FROM raffles
		 	 ORDER BY created_at DESC
		 	 LIMIT $1 OFFSET $2`,
			limit, offset,
		)
		if err != nil {
			return err
		}

		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var raf domain.Raffle
			var status string
			if err := rows.Scan(
				&raf.ID, &raf.Name, &raf.TotalSlots, &raf.NumberWidth,
				&raf.PriceCents, &status, &raf.CreatedAt,
			); err != nil {
				return err
			}
			raf.Status = domain.RaffleStatus(status)
			out = append(out, raf)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

// Create inserts a raffle and returns its id. Not retried: an ambiguous
// failure may have committed, and resending would create a second raffle.
func (r *RaffleRepo) Create(ctx context.Context, raf domain.Raffle) (int64, error) {
	const op = "postgres.RaffleRepo.Create"

	db := r.handle()

	var id int64
	if err := db.QueryRow(ctx,
		`INSERT INTO raffles(name, total_slots, number_width, price_cents, status)
	 	 VALUES ($1, $2, $3, $4, $5)
	 	 RETURNING id`,
		raf.Name, raf.TotalSlots, raf.NumberWidth, raf.PriceCents, string(domain.RaffleOpen),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}

// SetStatus transitions a raffle between open and closed.
func (r *RaffleRepo) SetStatus(ctx context.Context, id int64, status domain.RaffleStatus) error {
	const op = "postgres.RaffleRepo.SetStatus"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE raffles SET status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}
