package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ferbecerra/rifago/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

func (s *Store) RunTx(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (s *Store) Tickets() *TicketRepo   { return &TicketRepo{pool: s.pool} }
func (s *Store) Raffles() *RaffleRepo   { return &RaffleRepo{pool: s.pool} }
func (s *Store) Payments() *PaymentRepo { return &PaymentRepo{pool: s.pool} }

// Flat delegates. The service packages declare small interfaces over these so
// they can be exercised against an in-memory store in tests.

func (s *Store) RaffleByID(ctx context.Context, id int64) (*domain.Raffle, error) {
	return s.Raffles().ByID(ctx, id)
}

func (s *Store) TakenNumbers(ctx context.Context, raffleID int64) ([]string, error) {
	return s.Tickets().TakenNumbers(ctx, raffleID)
}

func (s *Store) CountTickets(ctx context.Context, raffleID int64) (int64, error) {
	return s.Tickets().Count(ctx, raffleID)
}

func (s *Store) InsertTickets(ctx context.Context, tickets []domain.Ticket) ([]domain.Ticket, error) {
	return s.Tickets().InsertBatch(ctx, tickets)
}

func (s *Store) DeleteTickets(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return s.Tickets().DeleteByIDs(ctx, ids)
}

func (s *Store) DeleteUnpaidTickets(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return s.Tickets().DeleteUnpaidByIDs(ctx, ids)
}

func (s *Store) DeleteUnpaidTicketsByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error) {
	return s.Tickets().DeleteUnpaidByReservation(ctx, reservationID)
}

func (s *Store) DeleteTicketsByPayment(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	return s.Tickets().DeleteByPayment(ctx, paymentID)
}

func (s *Store) DeleteExpiredTickets(ctx context.Context, now time.Time) (int64, error) {
	return s.Tickets().DeleteExpired(ctx, now)
}

func (s *Store) TicketsByReservation(ctx context.Context, reservationID uuid.UUID) ([]domain.Ticket, error) {
	return s.Tickets().ByReservation(ctx, reservationID)
}

func (s *Store) CountTicketsByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error) {
	return s.Tickets().CountByReservation(ctx, reservationID)
}

func (s *Store) CountLiveReserved(ctx context.Context, reservationID uuid.UUID, now time.Time) (int64, error) {
	return s.Tickets().CountLiveReserved(ctx, reservationID, now)
}

func (s *Store) FinalizeReservation(ctx context.Context, reservationID uuid.UUID, payment domain.Payment, now time.Time) (int64, error) {
	return s.Tickets().FinalizeReservation(ctx, reservationID, payment, now)
}

func (s *Store) InsertPayment(ctx context.Context, payment domain.Payment) error {
	return s.Payments().Insert(ctx, payment)
}

func (s *Store) DeletePayment(ctx context.Context, id uuid.UUID) error {
	return s.Payments().Delete(ctx, id)
}
