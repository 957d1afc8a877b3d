package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/haatos/stageci/internal/service"
	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error string `json:"error"`
}

func ErrorHandler(err error, c echo.Context) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		slog.Error("handler error",
			"path", c.Request().URL.Path, "code", httpErr.Code, "error", httpErr.Internal)
		message, _ := httpErr.Message.(string)
		if message == "" {
			message = http.StatusText(httpErr.Code)
		}
		if err := c.JSON(httpErr.Code, errorResponse{Error: message}); err != nil {
			slog.Error("err writing error response", "error", err)
		}
		return
	}

	slog.Error("unhandled handler error", "path", c.Request().URL.Path, "error", err)
	if err := c.JSON(http.StatusInternalServerError, errorResponse{
		Error: "something went wrong",
	}); err != nil {
		slog.Error("err writing error response", "error", err)
	}
}

// newError wraps an internal error in an echo HTTPError with a
// user-facing message.
func newError(err error, code int, message string) *echo.HTTPError {
	return &echo.HTTPError{Code: code, Message: message, Internal: err}
}

func notFoundIfNoRows(err error, message string) *echo.HTTPError {
	if errors.Is(err, sql.ErrNoRows) {
		return newError(err, http.StatusNotFound, message)
	}
	return newError(err, http.StatusInternalServerError, "something went wrong")
}

func artifactGone(err error) (*echo.HTTPError, bool) {
	var unavailable service.ArtifactUnavailableError
	if errors.As(err, &unavailable) {
		return newError(err, http.StatusNotFound, unavailable.Error()), true
	}
	return nil, false
}
