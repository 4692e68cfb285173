package reservation

import "errors"

var (
	ErrRaffleNotFound      = errors.New("raffle not found")
	ErrRaffleClosed        = errors.New("raffle is closed")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationInUse    = errors.New("reservation id already owns tickets")
)
