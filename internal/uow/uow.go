// Package uow runs storage work and its side effects as a unit: fn executes
// inside one transaction, and hooks registered during fn (cache invalidation,
// change notifications) run only after the commit lands.
package uow

import (
	"context"

	postgres "github.com/ferbecerra/rifago/internal/repository/postgres"
	"github.com/jackc/pgx/v5"
)

// AfterCommit runs after a successful commit. Hooks must tolerate at-most-once
// delivery: a crash between commit and hook loses the hook, never the data.
type AfterCommit func(ctx context.Context)

type UoW struct {
	store *postgres.Store
}

func NewUoW(store *postgres.Store) *UoW {
	return &UoW{store: store}
}

// Do runs fn in a transaction with the store's default options, then fires the
// registered after-commit hooks in registration order.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx postgres.DB, after func(AfterCommit)) error,
) error {
	return u.DoWithOpts(ctx, nil, fn)
}

// DoWithOpts is Do with explicit transaction options.
func (u *UoW) DoWithOpts(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx postgres.DB, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit

	err := u.store.RunTx(ctx, opts, func(ctx context.Context, tx postgres.DB) error {
		return fn(ctx, tx, func(h AfterCommit) {
			hooks = append(hooks, h)
		})
	})
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}
