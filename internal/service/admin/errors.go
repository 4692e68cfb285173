package admin

import "errors"

var (
	ErrRaffleConflict   = errors.New("raffle already exists")
	ErrRaffleNotFound   = errors.New("raffle not found")
	ErrInvalidNumbering = errors.New("numbering width cannot represent the slot space")
)
