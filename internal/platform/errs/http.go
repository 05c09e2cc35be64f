package errs

import (
	"errors"
	"net/http"
)

// HTTPStatus maps the error taxonomy onto HTTP status codes so every
// handler translates domain failures the same way.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoCurrentVersion):
		return http.StatusNotFound
	}

	var (
		conflict  *ConflictError
		already   *AlreadyLinkedError
		circular  *CircularLinkError
		self      *SelfReferenceError
		overlap   *OverlapError
		invariant *InvariantViolation
		invalid   *ValidationError
	)
	switch {
	case errors.As(err, &conflict), errors.As(err, &already):
		return http.StatusConflict
	case errors.As(err, &circular), errors.As(err, &self), errors.As(err, &invariant):
		return http.StatusUnprocessableEntity
	case errors.As(err, &overlap), errors.As(err, &invalid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
