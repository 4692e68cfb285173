package repository

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrExpired            = errors.New("reservation expired")
	ErrAlreadyFinalized   = errors.New("reservation already finalized")
	ErrNothingToFinalize  = errors.New("no tickets under reservation")
)
