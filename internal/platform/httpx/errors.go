// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Classifier maps a domain error to a problem type, status and title. It
// reports false for errors it does not know.
type Classifier func(err error) (kind string, status int, title string, ok bool)

// RespondError maps domain errors to HTTP responses using RFC7807. The
// classifiers are consulted first, in order.
func RespondError(w http.ResponseWriter, err error, classifiers ...Classifier) {
	for _, classify := range classifiers {
		if kind, status, title, ok := classify(err); ok {
			detail := err.Error()
			if status >= http.StatusInternalServerError {
				detail = ""
			}
			JSON(w, status, ProblemDetail{Type: kind, Title: title, Status: status, Detail: detail})
			return
		}
	}
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
