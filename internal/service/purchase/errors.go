package purchase

import "errors"

var (
	// ErrReservationExpired: time ran out before payment completed. A business
	// outcome, never retried automatically; the buyer starts over.
	ErrReservationExpired = errors.New("reservation expired")

	// ErrReservationAlreadyFinalized: another payment already won this
	// reservation. Also terminal.
	ErrReservationAlreadyFinalized = errors.New("reservation already finalized")

	ErrReservationNotFound = errors.New("reservation not found")
	ErrRaffleNotFound      = errors.New("raffle not found")
	ErrRaffleClosed        = errors.New("raffle is closed")
)
