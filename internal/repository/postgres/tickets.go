package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/ferbecerra/rifago/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TicketRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TicketRepo) With(db DB) *TicketRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TicketRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// TakenNumbers returns every number currently occupied by a ticket of the
// raffle, regardless of ticket state. Sorted ascending by the store, but
// callers must not rely on that.
func (r *TicketRepo) TakenNumbers(ctx context.Context, raffleID int64) ([]string, error) {
	const op = "postgres.TicketRepo.TakenNumbers"

	db := r.handle()

	var out []string
	err := withRetry(ctx, func() error {
		rows, err := db.Query(ctx,
			`SELECT number FROM tickets
		 	 WHERE raffle_id = $1
		 	 ORDER BY number`,
			raffleID,
		)
		if err != nil {
			return err
		}

		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				return err
			}
			out = append(out, n)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

// Count returns the number of non-deleted tickets of a raffle in any state.
func (r *TicketRepo) Count(ctx context.Context, raffleID int64) (int64, error) {
	const op = "postgres.TicketRepo.Count"

	db := r.handle()

	var count int64
	err := withRetry(ctx, func() error {
		return db.QueryRow(ctx,
			`SELECT COUNT(*) FROM tickets WHERE raffle_id = $1`,
			raffleID,
		).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return count, nil
}

// InsertBatch attempts to insert every ticket, claiming its number through the
// (raffle_id, number) unique constraint. Each row succeeds or conflicts
// independently; the returned slice holds only the tickets that actually got
// inserted. A short return with nil error means the missing numbers were
// claimed by someone else.
//
// The write is deliberately not wrapped in withRetry: an ambiguous failure may
// have committed some rows, and resending the batch would report those rows as
// conflicts, misclassifying them as lost races. The caller compensates and
// restarts with fresh numbers instead.
func (r *TicketRepo) InsertBatch(ctx context.Context, tickets []domain.Ticket) ([]domain.Ticket, error) {
	const op = "postgres.TicketRepo.InsertBatch"

	if len(tickets) == 0 {
		return nil, nil
	}

	db := r.handle()

	batch := &pgx.Batch{}
	for _, t := range tickets {
		batch.Queue(
			`INSERT INTO tickets(
				id, raffle_id, number,
				holder_name, holder_national_id, holder_phone, holder_email,
				state, reservation_id, expires_at, payment_id
		 	 )
		 	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 	 ON CONFLICT (raffle_id, number) DO NOTHING
		 	 RETURNING id`,
			t.ID, t.RaffleID, t.Number,
			t.Holder.Name, t.Holder.NationalID, t.Holder.Phone, t.Holder.Email,
			t.State, t.ReservationID, t.ExpiresAt, t.PaymentID,
		)
	}

	br := db.SendBatch(ctx, batch)
	defer br.Close()

	var inserted []domain.Ticket
	for _, t := range tickets {
		var id uuid.UUID
		err := br.QueryRow().Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			// number already taken
			continue
		}
		if err != nil {
			return inserted, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		inserted = append(inserted, t)
	}

	return inserted, nil
}

// DeleteByIDs removes tickets unconditionally. Compensation path: the caller
// owns these rows and is undoing a failed allocation.
func (r *TicketRepo) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	const op = "postgres.TicketRepo.DeleteByIDs"

	if len(ids) == 0 {
		return 0, nil
	}

	db := r.handle()

	var affected int64
	err := withRetry(ctx, func() error {
		tag, err := db.Exec(ctx,
			`DELETE FROM tickets WHERE id = ANY($1)`,
			ids,
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return affected, nil
}

// DeleteUnpaidByIDs removes tickets only while they are still reserved and
// carry no payment. A ticket finalized between the caller's read and this
// delete is left untouched; deleting an already-deleted row affects zero rows
// and is not an error.
func (r *TicketRepo) DeleteUnpaidByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	const op = "postgres.TicketRepo.DeleteUnpaidByIDs"

	if len(ids) == 0 {
		return 0, nil
	}

	db := r.handle()

	var affected int64
	err := withRetry(ctx, func() error {
		tag, err := db.Exec(ctx,
			`DELETE FROM tickets
		 	 WHERE id = ANY($1)
		   	   AND state = 'reserved'
		   	   AND payment_id IS NULL`,
			ids,
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return affected, nil
}

// DeleteUnpaidByReservation removes the reserved, unpaid tickets under a
// reservation id. Compensation path for failed reservation allocations. The
// unpaid guard means a reservation id that was reused after finalization can
// never drag its paid tickets into the cleanup.
func (r *TicketRepo) DeleteUnpaidByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error) {
	const op = "postgres.TicketRepo.DeleteUnpaidByReservation"

	db := r.handle()

	var affected int64
	err := withRetry(ctx, func() error {
		tag, err := db.Exec(ctx,
			`DELETE FROM tickets
		 	 WHERE reservation_id = $1
		   	   AND state = 'reserved'
		   	   AND payment_id IS NULL`,
			reservationID,
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return affected, nil
}

// DeleteByPayment removes every ticket carrying the given payment id.
// Compensation path for failed direct issues: the payment id was minted by the
// failing call, so these rows cannot belong to anyone else.
func (r *TicketRepo) DeleteByPayment(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	const op = "postgres.TicketRepo.DeleteByPayment"

	db := r.handle()

	var affected int64
	err := withRetry(ctx, func() error {
		tag, err := db.Exec(ctx,
			`DELETE FROM tickets WHERE payment_id = $1`,
			paymentID,
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return affected, nil
}

// DeleteExpired reclaims every reserved, unpaid ticket whose hold expiry has
// passed. Concurrent sweeps are safe: rows already gone affect nothing.
func (r *TicketRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "postgres.TicketRepo.DeleteExpired"

	db := r.handle()

	var reclaimed int64
	err := withRetry(ctx, func() error {
		tag, err := db.Exec(ctx,
			`DELETE FROM tickets
		 	 WHERE state = 'reserved'
		   	   AND payment_id IS NULL
		   	   AND expires_at IS NOT NULL
		   	   AND expires_at < $1`,
			now,
		)
		if err != nil {
			return err
		}
		reclaimed = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return reclaimed, nil
}

func (r *TicketRepo) ByReservation(ctx context.Context, reservationID uuid.UUID) ([]domain.Ticket, error) {
	const op = "postgres.TicketRepo.ByReservation"

	db := r.handle()

	var out []domain.Ticket
	err := withRetry(ctx, func() error {
		rows, err := db.Query(ctx,
			`SELECT id, raffle_id, number,
			 		holder_name, holder_national_id, holder_phone, holder_email,
			 		state, reservation_id, expires_at, payment_id, created_at
		 	 FROM tickets
		 	 WHERE reservation_id = $1
		 	 ORDER BY number`,
			reservationID,
		)
		if err != nil {
			return err
		}

		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var t domain.Ticket
			var state string
			if err := rows.Scan(
				&t.ID, &t.RaffleID, &t.Number,
				&t.Holder.Name, &t.Holder.NationalID, &t.Holder.Phone, &t.Holder.Email,
				&state, &t.ReservationID, &t.ExpiresAt, &t.PaymentID, &t.CreatedAt,
			); err != nil {
				return err
			}
			t.State = domain.TicketState(state)
			out = append(out, t)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

func (r *TicketRepo) CountByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error) {
	const op = "postgres.TicketRepo.CountByReservation"

	db := r.handle()

	var count int64
	err := withRetry(ctx, func() error {
		return db.QueryRow(ctx,
			`SELECT COUNT(*) FROM tickets WHERE reservation_id = $1`,
			reservationID,
		).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return count, nil
}

// CountLiveReserved counts tickets under a reservation that are still in state
// reserved with an unexpired hold.
func (r *TicketRepo) CountLiveReserved(ctx context.Context, reservationID uuid.UUID, now time.Time) (int64, error) {
	const op = "postgres.TicketRepo.CountLiveReserved"

	db := r.handle()

	var count int64
	err := withRetry(ctx, func() error {
		return db.QueryRow(ctx,
			`SELECT COUNT(*) FROM tickets
		 	 WHERE reservation_id = $1
		   	   AND state = 'reserved'
		   	   AND expires_at IS NOT NULL
		   	   AND expires_at > $2`,
			reservationID, now,
		).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return count, nil
}

// FinalizeReservation links a payment to every ticket under the reservation and
// flips them to paid, all inside one serializable transaction.
//
// Returns:
//   - int64: the number of tickets finalized.
//   - error: repository.ErrNothingToFinalize if the reservation owns no tickets.
//   - error: repository.ErrAlreadyFinalized if any ticket already carries a payment.
//   - error: repository.ErrExpired if any ticket's hold has lapsed.
func (r *TicketRepo) FinalizeReservation(
	ctx context.Context,
	reservationID uuid.UUID,
	payment domain.Payment,
	now time.Time,
) (int64, error) {
	const op = "postgres.TicketRepo.FinalizeReservation"

	if r.db != nil {
		n, err := r.finalizeCore(ctx, r.db, reservationID, payment, now)
		if err != nil {
			return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return n, nil
	}

	var n int64
	err := withRetry(ctx, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
			IsoLevel:   pgx.Serializable,
			AccessMode: pgx.ReadWrite,
		})
		if err != nil {
			return err
		}

		defer tx.Rollback(ctx)

		n, err = r.finalizeCore(ctx, tx, reservationID, payment, now)
		if err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return n, nil
}

func (r *TicketRepo) finalizeCore(
	ctx context.Context,
	db DB,
	reservationID uuid.UUID,
	payment domain.Payment,
	now time.Time,
) (int64, error) {
	rows, err := db.Query(ctx,
		`SELECT state, expires_at, payment_id
	 	 FROM tickets
	 	 WHERE reservation_id = $1
	 	 FOR UPDATE`,
		reservationID,
	)
	if err != nil {
		return 0, err
	}

	defer rows.Close()

	var total int64
	for rows.Next() {
		var state string
		var expiresAt *time.Time
		var paymentID *uuid.UUID
		if err := rows.Scan(&state, &expiresAt, &paymentID); err != nil {
			return 0, err
		}

		if paymentID != nil || state != string(domain.TicketReserved) {
			return 0, repository.ErrAlreadyFinalized
		}
		if expiresAt == nil || !expiresAt.After(now) {
			return 0, repository.ErrExpired
		}

		total++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	rows.Close()

	if total == 0 {
		return 0, repository.ErrNothingToFinalize
	}

	if _, err := db.Exec(ctx,
		`INSERT INTO payments(id, reservation_id, amount_cents, method, status)
	 	 VALUES ($1, $2, $3, $4, $5)`,
		payment.ID, payment.ReservationID, payment.AmountCents, payment.Method, payment.Status,
	); err != nil {
		return 0, err
	}

	tag, err := db.Exec(ctx,
		`UPDATE tickets
	 	 SET state = 'paid', payment_id = $2, expires_at = NULL
	 	 WHERE reservation_id = $1`,
		reservationID, payment.ID,
	)
	if err != nil {
		return 0, err
	}

	if tag.RowsAffected() != total {
		// lost update between the locking read and the write
		return 0, repository.ErrConflict
	}

	return total, nil
}
