package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type RunHandler struct {
	pipelineService PipelineServicer
}

func NewRunHandler(pipelineService PipelineServicer) *RunHandler {
	return &RunHandler{pipelineService}
}

func SetupRunRoutes(g *echo.Group, h *RunHandler) {
	g.GET("/runs/:run_id", h.GetRun)
	g.GET("/runs/:run_id/jobs", h.GetRunJobs)
	g.POST("/runs/:run_id/cancel", h.PostCancelRun)
	g.GET("/jobs/:job_id", h.GetJob)
	g.GET("/jobs/:job_id/artifacts", h.GetJobArtifacts)
}

func (h *RunHandler) GetRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}
	r, err := h.pipelineService.GetRunByID(c.Request().Context(), rp.RunID)
	if err != nil {
		return notFoundIfNoRows(err, "run not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *RunHandler) GetRunJobs(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}
	jobs, err := h.pipelineService.ListRunJobs(c.Request().Context(), rp.RunID)
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to list jobs")
	}
	return c.JSON(http.StatusOK, jobs)
}

// PostCancelRun requests cooperative cancellation: non-terminal jobs of
// the run become cancelled, terminal jobs are untouched.
func (h *RunHandler) PostCancelRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}
	r, err := h.pipelineService.GetRunByID(c.Request().Context(), rp.RunID)
	if err != nil {
		return notFoundIfNoRows(err, "run not found")
	}
	h.pipelineService.CancelRun(r.RunID, r.RunPipelineID)
	return c.NoContent(http.StatusAccepted)
}

func (h *RunHandler) GetJob(c echo.Context) error {
	jp := new(JobParams)
	if err := c.Bind(jp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid job id")
	}
	j, err := h.pipelineService.GetJobByID(c.Request().Context(), jp.JobID)
	if err != nil {
		return notFoundIfNoRows(err, "job not found")
	}
	return c.JSON(http.StatusOK, j)
}

func (h *RunHandler) GetJobArtifacts(c echo.Context) error {
	jp := new(JobParams)
	if err := c.Bind(jp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid job id")
	}
	artifacts, err := h.pipelineService.ListJobArtifacts(c.Request().Context(), jp.JobID)
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to list artifacts")
	}
	return c.JSON(http.StatusOK, artifacts)
}
