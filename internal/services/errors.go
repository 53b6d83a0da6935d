package services

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrDuplicateIdentity    = errors.New("an account with this national id already exists")
	ErrAuthenticationFailed = errors.New("invalid credentials")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrRateUnavailable      = errors.New("exchange rate unavailable")
	ErrAccountNotFound      = errors.New("account not found")
	ErrNoSession            = errors.New("no active session")
)

// ValidationError carries per-field messages for rejected input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
