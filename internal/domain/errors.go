package domain

import (
	"errors"
	"fmt"
)

// Taxonomy roots. Every error returned by a mutating operation wraps exactly one of these.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("unauthenticated")
)

var (
	ErrUnknownEmotion = fmt.Errorf("%w: unknown emotion type", ErrInvalidArgument)
	ErrInvalidOption  = fmt.Errorf("%w: option is not part of the pool", ErrInvalidArgument)
	ErrInvalidAmount  = fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	ErrInvalidChoice  = fmt.Errorf("%w: choice must be yes or no", ErrInvalidArgument)

	ErrPoolClosed     = fmt.Errorf("%w: pool is closed", ErrConflict)
	ErrPoolNotEnded   = fmt.Errorf("%w: pool has not reached its end time", ErrConflict)
	ErrAlreadyVoted   = fmt.Errorf("%w: user already voted", ErrConflict)
	ErrProposalClosed = fmt.Errorf("%w: proposal is closed", ErrConflict)

	ErrNotPoolOwner = fmt.Errorf("%w: only the pool owner may close it", ErrForbidden)
	ErrNotAdmin     = fmt.Errorf("%w: administrative privileges required", ErrForbidden)

	ErrPoolNotFound       = fmt.Errorf("%w: pool", ErrNotFound)
	ErrProposalNotFound   = fmt.Errorf("%w: proposal", ErrNotFound)
	ErrSettlementNotFound = fmt.Errorf("%w: settlement", ErrNotFound)

	ErrNoSession     = fmt.Errorf("%w: no session for connection", ErrUnauthenticated)
	ErrInvalidToken  = fmt.Errorf("%w: identity token rejected", ErrUnauthenticated)
	ErrMissingUserID = fmt.Errorf("%w: missing user id", ErrUnauthenticated)
)

// Invalid wraps ErrInvalidArgument with a description of the offending input.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Code maps an error onto its taxonomy name for command replies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "internal"
	}
}
