package handler

import (
	"net/http"

	"github.com/haatos/stageci/internal/service"
	"github.com/labstack/echo/v4"
)

type APIKeyHandler struct {
	apiKeyService service.APIKeyServicer
}

func NewAPIKeyHandler(apiKeyService service.APIKeyServicer) *APIKeyHandler {
	return &APIKeyHandler{apiKeyService}
}

func SetupAPIKeyRoutes(g *echo.Group, h *APIKeyHandler) {
	g.POST("/api-keys", h.PostAPIKey)
	g.GET("/api-keys", h.GetAPIKeys)
	g.GET("/api-keys/:api_key_id", h.GetAPIKey)
	g.DELETE("/api-keys/:api_key_id", h.DeleteAPIKey)
}

func (h *APIKeyHandler) PostAPIKey(c echo.Context) error {
	key, err := h.apiKeyService.CreateAPIKey(c.Request().Context())
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to create api key")
	}
	return c.JSON(http.StatusCreated, key)
}

func (h *APIKeyHandler) GetAPIKeys(c echo.Context) error {
	keys, err := h.apiKeyService.ListAPIKeys(c.Request().Context())
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to list api keys")
	}
	return c.JSON(http.StatusOK, keys)
}

func (h *APIKeyHandler) GetAPIKey(c echo.Context) error {
	kp := new(APIKeyParams)
	if err := c.Bind(kp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid api key id")
	}
	key, err := h.apiKeyService.GetAPIKeyByID(c.Request().Context(), kp.APIKeyID)
	if err != nil {
		return notFoundIfNoRows(err, "api key not found")
	}
	return c.JSON(http.StatusOK, key)
}

func (h *APIKeyHandler) DeleteAPIKey(c echo.Context) error {
	kp := new(APIKeyParams)
	if err := c.Bind(kp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid api key id")
	}
	if err := h.apiKeyService.DeleteAPIKey(c.Request().Context(), kp.APIKeyID); err != nil {
		return newError(err, http.StatusInternalServerError, "unable to delete api key")
	}
	return c.NoContent(http.StatusNoContent)
}
