package rifa

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRaffleNotFound      = errors.New("raffle not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationSettled  = errors.New("reservation already settled")
	ErrRaffleNotOpen       = errors.New("raffle is not open")
	ErrRaffleNotClosed     = errors.New("raffle is not closed")
	ErrAlreadyDrawn        = errors.New("raffle already drawn")
	ErrNoParticipants      = errors.New("raffle has no confirmed entries")
	ErrDuplicateReference  = errors.New("external reference already exists")
)

// ValidationError rejects caller input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NumberConflictError means another reservation was confirmed first for at
// least one of the numbers. The reservation is rejected and the payment has to
// be refunded out of band.
type NumberConflictError struct {
	RaffleID string
	Numbers  []int
}

func (e *NumberConflictError) Error() string {
	parts := make([]string, 0, len(e.Numbers))
	for _, n := range e.Numbers {
		parts = append(parts, fmt.Sprint(n))
	}
	return fmt.Sprintf("numbers already confirmed in raffle %s: %s", e.RaffleID, strings.Join(parts, ","))
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsConflict(err error) bool {
	var c *NumberConflictError
	return errors.As(err, &c)
}
