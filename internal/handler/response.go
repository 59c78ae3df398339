package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tripshare/internal/domain"
	"tripshare/internal/link"
	"tripshare/internal/repository"
	"tripshare/internal/sampler"
	"tripshare/internal/session"
	"tripshare/internal/store"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondNotFound hides why a trip cannot be shown: malformed, expired and
// never-existing ids all look the same to a viewer.
func respondNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps session/store/sampler errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, domain.ErrInvalidTripID),
		errors.Is(err, link.ErrInvalidTripID):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, session.ErrInvalidDestination),
		errors.Is(err, sampler.ErrInvalidSample):
		return http.StatusBadRequest

	// Location permission is checked before the generic no-location case,
	// since a denied start wraps both.
	case errors.Is(err, sampler.ErrPermissionDenied):
		return http.StatusForbidden

	// Conflict errors
	case errors.Is(err, session.ErrNoActiveLocation),
		errors.Is(err, sampler.ErrUnavailable),
		errors.Is(err, session.ErrClosed):
		return http.StatusConflict

	// Service unavailable
	case errors.Is(err, session.ErrStoreUnavailable),
		errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
