package service

import (
	"errors"
	"fmt"

	"github.com/pliu/banter/internal/store"
)

var (
	ErrUnauthorized = errors.New("wrong secret")
	ErrNameTaken    = errors.New("this name already exists, choose a unique name")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	// ErrStore marks a failed or timed out store call. The whole client
	// action is safe to retry.
	ErrStore = errors.New("store failure")
	// ErrBroadcast marks a failed publish. It is logged, never returned
	// once the state change is persisted.
	ErrBroadcast = errors.New("broadcast failure")
)

// ValidationError is returned before any store call for missing or
// malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func storeErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
