package httpx

import (
	"context"
	"errors"
	"net/http"
)

// Sentinel errors handlers can wrap to drive the status mapping below.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("conflicting state")
	ErrValidation = errors.New("validation failed")
)

// RespondError maps errors to RFC7807 responses. Context timeouts surface as
// 504 so a slow read is distinguishable from a genuine failure; everything
// else stays an opaque 500.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Timeout", "request timed out")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
