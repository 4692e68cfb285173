package allocation

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientAvailability: the raffle does not have enough free
	// numbers right now. The caller may retry later with a smaller count.
	ErrInsufficientAvailability = errors.New("not enough available numbers")

	// ErrAllocationIncomplete: contention exhausted the retry ceiling. All
	// rows inserted by the attempt have been compensated away; retrying the
	// whole request is safe.
	ErrAllocationIncomplete = errors.New("allocation incomplete")
)

type InsufficientAvailabilityError struct {
	Requested int
	Available int
}

func (e InsufficientAvailabilityError) Error() string {
	return fmt.Sprintf("not enough available numbers: requested %d, available %d", e.Requested, e.Available)
}

func (e InsufficientAvailabilityError) Unwrap() error { return ErrInsufficientAvailability }

type AllocationIncompleteError struct {
	Requested int
	Claimed   int
}

func (e AllocationIncompleteError) Error() string {
	return fmt.Sprintf("allocation incomplete: claimed %d of %d before retries ran out", e.Claimed, e.Requested)
}

func (e AllocationIncompleteError) Unwrap() error { return ErrAllocationIncomplete }
