package handler

import (
	"context"
	"net/http"

	"github.com/haatos/stageci/internal/store"
	"github.com/labstack/echo/v4"
)

const apiKeyHeader = "X-API-Key"

type APIKeyReader interface {
	GetAPIKeyByValue(context.Context, string) (*store.APIKey, error)
}

// APIKeyMiddleware rejects requests without a valid API key header.
func APIKeyMiddleware(keys APIKeyReader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			value := c.Request().Header.Get(apiKeyHeader)
			if value == "" {
				return newError(nil, http.StatusUnauthorized, "missing api key")
			}
			if _, err := keys.GetAPIKeyByValue(c.Request().Context(), value); err != nil {
				return newError(err, http.StatusUnauthorized, "invalid api key")
			}
			return next(c)
		}
	}
}
