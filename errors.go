package main

import "errors"

// Every public ledger operation fails with exactly one of these; the first
// violated precondition wins and nothing is mutated on failure.
var (
	ErrValidation          = errors.New("VALIDATION_ERROR")
	ErrUnauthorized        = errors.New("UNAUTHORIZED")
	ErrNotFound            = errors.New("NOT_FOUND")
	ErrAlreadyExists       = errors.New("ALREADY_EXISTS")
	ErrInvalidState        = errors.New("INVALID_STATE")
	ErrDuplicateCompletion = errors.New("DUPLICATE_COMPLETION")
	ErrAlreadyClaimed      = errors.New("ALREADY_CLAIMED")
	ErrNotAWinner          = errors.New("NOT_A_WINNER")
	ErrInvalidSignature    = errors.New("INVALID_SIGNATURE")
	ErrExpired             = errors.New("EXPIRED")
	ErrTooEarly            = errors.New("TOO_EARLY")
	ErrInsufficientFunds   = errors.New("INSUFFICIENT_FUNDS")
)

func errorCode(err error) string {
	for _, known := range []error{
		ErrValidation,
		ErrUnauthorized,
		ErrNotFound,
		ErrAlreadyExists,
		ErrInvalidState,
		ErrDuplicateCompletion,
		ErrAlreadyClaimed,
		ErrNotAWinner,
		ErrInvalidSignature,
		ErrExpired,
		ErrTooEarly,
		ErrInsufficientFunds,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "INTERNAL_ERROR"
}
