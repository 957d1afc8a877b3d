package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type ArtifactHandler struct {
	pipelineService PipelineServicer
}

func NewArtifactHandler(pipelineService PipelineServicer) *ArtifactHandler {
	return &ArtifactHandler{pipelineService}
}

func SetupArtifactRoutes(g *echo.Group, h *ArtifactHandler) {
	g.GET("/artifacts/:artifact_id", h.GetArtifact)
	g.GET("/artifacts/:artifact_id/download", h.DownloadArtifact)
}

// GetArtifact returns artifact metadata. Metadata stays queryable after
// expiry; only the download goes away.
func (h *ArtifactHandler) GetArtifact(c echo.Context) error {
	ap := new(ArtifactParams)
	if err := c.Bind(ap); err != nil {
		return newError(err, http.StatusBadRequest, "invalid artifact id")
	}
	a, err := h.pipelineService.GetArtifactByID(c.Request().Context(), ap.ArtifactID)
	if err != nil {
		return notFoundIfNoRows(err, "artifact not found")
	}
	return c.JSON(http.StatusOK, a)
}

func (h *ArtifactHandler) DownloadArtifact(c echo.Context) error {
	ap := new(ArtifactParams)
	if err := c.Bind(ap); err != nil {
		return newError(err, http.StatusBadRequest, "invalid artifact id")
	}
	archivePath, err := h.pipelineService.GetArtifactArchive(c.Request().Context(), ap.ArtifactID)
	if err != nil {
		if httpErr, ok := artifactGone(err); ok {
			return httpErr
		}
		return notFoundIfNoRows(err, "artifact not found")
	}
	return c.Attachment(archivePath, "")
}
