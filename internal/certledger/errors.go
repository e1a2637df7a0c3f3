package certledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("certificate not found")

	// ErrDuplicateID is returned when a certificate_id is already in the ledger.
	ErrDuplicateID = errors.New("certificate already exists")

	// ErrTailMoved is returned by Store.Insert when the tail observed by the
	// caller is no longer the tail. The Sequencer retries on it.
	ErrTailMoved = errors.New("ledger tail moved")

	// ErrSequencingConflict is returned when an append could not be placed
	// after the configured number of attempts.
	ErrSequencingConflict = errors.New("sequencing conflict")

	// ErrStorageUnavailable wraps every backend failure. An append that fails
	// with it has left no record behind.
	ErrStorageUnavailable = errors.New("ledger storage unavailable")

	// ErrEmptyCode is returned by the Index for a blank verification code.
	ErrEmptyCode = errors.New("verification code is empty")
)

// unavailable tags a backend error with ErrStorageUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
