// Package apierror maps control plane errors onto HTTP responses.
package apierror

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/tenderwatch/internal/domain"
)

// Status returns the HTTP status code for err.
func Status(err error) int {
	switch {
	case errors.Is(err, domain.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyRunning),
		errors.Is(err, domain.ErrNotRunning),
		errors.Is(err, domain.ErrRunLimitReached),
		errors.Is(err, domain.ErrNoActiveChallenge),
		errors.Is(err, domain.ErrCodeConsumed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidAgent),
		errors.Is(err, domain.ErrInvalidSnapshot),
		errors.Is(err, domain.ErrInvalidCode),
		errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// JSON writes err as {"error": "..."} with the mapped status code.
func JSON(c echo.Context, err error) error {
	return c.JSON(Status(err), map[string]string{"error": err.Error()})
}
