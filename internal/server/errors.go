package server

import "errors"

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrDeliveryFailed  = errors.New("delivery failed")
	ErrUnauthenticated = errors.New("authentication required")
)

// errorMessage is the text shown to a client for err. Store errors are
// never exposed.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		return err.Error()
	case errors.Is(err, ErrForbidden):
		return ErrForbidden.Error()
	case errors.Is(err, ErrUnauthenticated):
		return ErrUnauthenticated.Error()
	case errors.Is(err, ErrDeliveryFailed):
		return ErrDeliveryFailed.Error()
	default:
		return "internal server error"
	}
}
