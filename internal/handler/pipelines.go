package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/haatos/stageci/internal/service"
	"github.com/haatos/stageci/internal/store"
	"github.com/labstack/echo/v4"
)

// PipelineServicer is the service surface the HTTP handlers use.
type PipelineServicer interface {
	CreatePipeline(context.Context, string, string, string) (*store.Pipeline, error)
	GetPipelineByID(context.Context, int64) (*store.Pipeline, error)
	ListPipelines(context.Context) ([]*store.Pipeline, error)
	UpdatePipeline(context.Context, int64, string, string, string) error
	UpdatePipelineSchedule(context.Context, int64, *string, *string) error
	DeletePipeline(context.Context, int64) error
	TriggerRun(context.Context, int64, string, string) (*store.Run, error)
	GetRunByID(context.Context, int64) (*store.Run, error)
	ListPipelineRuns(context.Context, int64) ([]store.Run, error)
	ListRunJobs(context.Context, int64) ([]store.Job, error)
	GetJobByID(context.Context, int64) (*store.Job, error)
	ListJobArtifacts(context.Context, int64) ([]store.Artifact, error)
	GetArtifactByID(context.Context, int64) (*store.Artifact, error)
	GetArtifactArchive(context.Context, int64) (string, error)
	CancelRun(int64, int64)
}

type PipelineHandler struct {
	pipelineService PipelineServicer
}

func NewPipelineHandler(pipelineService PipelineServicer) *PipelineHandler {
	return &PipelineHandler{pipelineService}
}

func SetupPipelineRoutes(g *echo.Group, h *PipelineHandler) {
	g.POST("/pipelines", h.PostPipeline)
	g.GET("/pipelines", h.GetPipelines)
	g.GET("/pipelines/:pipeline_id", h.GetPipeline)
	g.PUT("/pipelines/:pipeline_id", h.PutPipeline)
	g.PUT("/pipelines/:pipeline_id/schedule", h.PutPipelineSchedule)
	g.DELETE("/pipelines/:pipeline_id", h.DeletePipeline)
	g.POST("/pipelines/:pipeline_id/runs", h.PostTrigger)
	g.GET("/pipelines/:pipeline_id/runs", h.GetPipelineRuns)
}

func (h *PipelineHandler) PostPipeline(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid pipeline payload")
	}
	if pp.Name == "" || pp.DescriptorPath == "" {
		return newError(nil, http.StatusBadRequest, "name and descriptor_path are required")
	}
	p, err := h.pipelineService.CreatePipeline(
		c.Request().Context(), pp.Name, pp.Description, pp.DescriptorPath,
	)
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to create pipeline")
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *PipelineHandler) GetPipelines(c echo.Context) error {
	pipelines, err := h.pipelineService.ListPipelines(c.Request().Context())
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to list pipelines")
	}
	return c.JSON(http.StatusOK, pipelines)
}

func (h *PipelineHandler) GetPipeline(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid pipeline id")
	}
	p, err := h.pipelineService.GetPipelineByID(c.Request().Context(), pp.PipelineID)
	if err != nil {
		return notFoundIfNoRows(err, "pipeline not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *PipelineHandler) PutPipeline(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid pipeline payload")
	}
	if err := h.pipelineService.UpdatePipeline(
		c.Request().Context(), pp.PipelineID, pp.Name, pp.Description, pp.DescriptorPath,
	); err != nil {
		return newError(err, http.StatusInternalServerError, "unable to update pipeline")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *PipelineHandler) PutPipelineSchedule(c echo.Context) error {
	sp := new(ScheduleParams)
	if err := c.Bind(sp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid schedule payload")
	}
	if sp.Schedule != nil && sp.Ref == nil {
		return newError(nil, http.StatusBadRequest, "a schedule requires a ref")
	}
	if err := h.pipelineService.UpdatePipelineSchedule(
		c.Request().Context(), sp.PipelineID, sp.Schedule, sp.Ref,
	); err != nil {
		return newError(err, http.StatusInternalServerError, "unable to update schedule")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *PipelineHandler) DeletePipeline(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid pipeline id")
	}
	if err := h.pipelineService.DeletePipeline(c.Request().Context(), pp.PipelineID); err != nil {
		return newError(err, http.StatusInternalServerError, "unable to delete pipeline")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *PipelineHandler) PostTrigger(c echo.Context) error {
	tp := new(TriggerParams)
	if err := c.Bind(tp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid trigger payload")
	}
	if tp.Ref == "" {
		return newError(nil, http.StatusBadRequest, "ref is required")
	}
	if tp.RefKind == "" {
		tp.RefKind = "branch"
	}
	if tp.RefKind != "branch" && tp.RefKind != "tag" {
		return newError(nil, http.StatusBadRequest, "ref_kind must be branch or tag")
	}

	r, err := h.pipelineService.TriggerRun(
		c.Request().Context(), tp.PipelineID, tp.Ref, tp.RefKind,
	)
	if err != nil {
		var full *service.ErrRunQueueFull
		if errors.As(err, &full) {
			return newError(err, http.StatusTooManyRequests, full.Error())
		}
		return newError(err, http.StatusInternalServerError, "unable to trigger run")
	}
	return c.JSON(http.StatusAccepted, r)
}

func (h *PipelineHandler) GetPipelineRuns(c echo.Context) error {
	pp := new(PipelineParams)
	if err := c.Bind(pp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid pipeline id")
	}
	runs, err := h.pipelineService.ListPipelineRuns(c.Request().Context(), pp.PipelineID)
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to list runs")
	}
	return c.JSON(http.StatusOK, runs)
}
