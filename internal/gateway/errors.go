package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed fetch.
type Kind int

const (
	// Transient failures (5xx, 202 "still computing", secondary rate limits,
	// network faults) are retried with backoff and surface once the attempt
	// ceiling is hit.
	Transient Kind = iota + 1
	// Permanent failures (not found, unauthorized, other client errors) are
	// never retried.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// FetchError is the only error the gateway reports for a failed API request.
type FetchError struct {
	Kind     Kind
	Endpoint string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("github: %s failure on %s (status %d): %v", e.Kind, e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("github: %s failure on %s: %v", e.Kind, e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AsFetchError extracts a *FetchError from err.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	ok := errors.As(err, &fe)
	return fe, ok
}

// IsTransient reports whether err is a transient fetch failure.
func IsTransient(err error) bool {
	fe, ok := AsFetchError(err)
	return ok && fe.Kind == Transient
}

// IsPermanent reports whether err is a permanent fetch failure.
func IsPermanent(err error) bool {
	fe, ok := AsFetchError(err)
	return ok && fe.Kind == Permanent
}

// IsNotFound reports whether err is a permanent 404.
func IsNotFound(err error) bool {
	fe, ok := AsFetchError(err)
	return ok && fe.Kind == Permanent && fe.Status == http.StatusNotFound
}
