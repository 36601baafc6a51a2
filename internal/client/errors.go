package client

import "errors"

// Failure taxonomy for the decision workflow core. ErrInvalidOption and
// ErrOperationInProgress are detected locally; the rest surface from the
// remote authority unchanged.
var (
	ErrInvalidOption       = errors.New("option is not valid for this decision")
	ErrAlreadyResolved     = errors.New("decision is no longer pending")
	ErrOperationInProgress = errors.New("a mutation for this decision is already in flight")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUnreachable         = errors.New("decision service unreachable")
	ErrNoData              = errors.New("decision service returned no data")
)
