// Package apperr defines the error taxonomy shared by the billing engine.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientCredits    = errors.New("insufficient_credits")
	ErrBelowMinimumCredits    = errors.New("below_minimum_credits")
	ErrRoomOccupied           = errors.New("room_occupied")
	ErrInvalidTransition      = errors.New("invalid_transition")
	ErrDeficitRefund          = errors.New("deficit_refund")
	ErrConcurrentModification = errors.New("concurrent_modification")
	ErrLedgerInconsistency    = errors.New("ledger_inconsistency")
	ErrValidation             = errors.New("validation_error")

	ErrNotFound     = errors.New("not_found")
	ErrWalletHalted = errors.New("wallet_halted")
)

// ValidationError reports a malformed command field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Message)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError names the illegal move of a state machine.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s %s -> %s", ErrInvalidTransition, e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func Transition(entity, from, to string) error {
	return &TransitionError{Entity: entity, From: from, To: to}
}

// IsRetryable reports whether the whole operation may be retried as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsFatal reports internal defects that must be escalated, never retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLedgerInconsistency)
}

// IsUserFacing reports refusals caused by user state or input. Wallet state
// is unchanged when one of these is returned.
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrBelowMinimumCredits) ||
		errors.Is(err, ErrRoomOccupied) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound)
}

// Code returns the wire code for err, falling back to internal_error.
func Code(err error) string {
	for _, s := range []error{
		ErrInsufficientCredits,
		ErrBelowMinimumCredits,
		ErrRoomOccupied,
		ErrInvalidTransition,
		ErrDeficitRefund,
		ErrConcurrentModification,
		ErrLedgerInconsistency,
		ErrValidation,
		ErrNotFound,
		ErrWalletHalted,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal_error"
}
