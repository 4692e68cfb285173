package postgres

import (
	"context"
	"fmt"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *PaymentRepo) With(db DB) *PaymentRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *PaymentRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Insert is deliberately not retried: an ambiguous failure may have committed
// the row, and resending would surface as a duplicate-key conflict.
func (r *PaymentRepo) Insert(ctx context.Context, p domain.Payment) error {
	const op = "postgres.PaymentRepo.Insert"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`INSERT INTO payments(id, reservation_id, amount_cents, method, status)
	 	 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.ReservationID, p.AmountCents, p.Method, p.Status,
	); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// Delete removes a payment row. Used to unwind a direct-issue payment whose
// allocation failed.
func (r *PaymentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.PaymentRepo.Delete"

	db := r.handle()

	if _, err := db.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

func (r *PaymentRepo) ByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	const op = "postgres.PaymentRepo.ByID"

	db := r.handle()

	var p domain.Payment
	var status string
	err := withRetry(ctx, func() error {
		return db.QueryRow(ctx,
			`SELECT id, reservation_id, amount_cents, method, status, created_at
		 	 FROM payments WHERE id = $1`,
			id,
		).Scan(&p.ID, &p.ReservationID, &p.AmountCents, &p.Method, &status, &p.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	p.Status = domain.PaymentStatus(status)

	return &p, nil
}
