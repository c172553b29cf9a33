// internal/apperr/errors.go
package apperr

import (
	"errors"
	"net/http"
)

// Sentinel errors forming the core taxonomy. Handlers map them onto HTTP
// status codes with StatusCode; core packages wrap them with context via
// fmt.Errorf("...: %w", err).
var (
	ErrUnauthenticated    = errors.New("missing or invalid identity")
	ErrForbidden          = errors.New("caller does not own the resource")
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidRegion      = errors.New("region not in supported set")
	ErrValidation         = errors.New("invalid request")
	ErrAlreadyQueued      = errors.New("player already has a searching session for this game")
	ErrLobbyFull          = errors.New("lobby is at capacity")
	ErrInvalidState       = errors.New("operation not allowed in current state")
	ErrAmountMismatch     = errors.New("contributions do not sum to total amount")
	ErrAllocationMismatch = errors.New("allocations do not sum to total amount")
	ErrDuplicateDispute   = errors.New("pool already has an open dispute")
)

// StatusCode maps a core error to its HTTP status. Unknown errors are
// internal failures (store or payment-execution) and map to 500; the caller
// decides whether to retry.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRegion), errors.Is(err, ErrValidation),
		errors.Is(err, ErrAmountMismatch), errors.Is(err, ErrAllocationMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyQueued), errors.Is(err, ErrLobbyFull),
		errors.Is(err, ErrDuplicateDispute), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
