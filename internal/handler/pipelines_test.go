package handler

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haatos/stageci/internal/service"
	"github.com/haatos/stageci/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockPipelineService struct {
	mock.Mock
}

func (m *MockPipelineService) CreatePipeline(
	ctx context.Context, name, description, descriptorPath string,
) (*store.Pipeline, error) {
	args := m.Called(ctx, name, description, descriptorPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Pipeline), nil
}

func (m *MockPipelineService) GetPipelineByID(ctx context.Context, id int64) (*store.Pipeline, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Pipeline), nil
}

func (m *MockPipelineService) ListPipelines(ctx context.Context) ([]*store.Pipeline, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*store.Pipeline), nil
}

func (m *MockPipelineService) UpdatePipeline(
	ctx context.Context, id int64, name, description, descriptorPath string,
) error {
	args := m.Called(ctx, id, name, description, descriptorPath)
	return args.Error(0)
}

func (m *MockPipelineService) UpdatePipelineSchedule(
	ctx context.Context, id int64, schedule, ref *string,
) error {
	args := m.Called(ctx, id, schedule, ref)
	return args.Error(0)
}

func (m *MockPipelineService) DeletePipeline(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPipelineService) TriggerRun(
	ctx context.Context, pipelineID int64, ref, refKind string,
) (*store.Run, error) {
	args := m.Called(ctx, pipelineID, ref, refKind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), nil
}

func (m *MockPipelineService) GetRunByID(ctx context.Context, id int64) (*store.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), nil
}

func (m *MockPipelineService) ListPipelineRuns(ctx context.Context, pipelineID int64) ([]store.Run, error) {
	args := m.Called(ctx, pipelineID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Run), nil
}

func (m *MockPipelineService) ListRunJobs(ctx context.Context, runID int64) ([]store.Job, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Job), nil
}

func (m *MockPipelineService) GetJobByID(ctx context.Context, id int64) (*store.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Job), nil
}

func (m *MockPipelineService) ListJobArtifacts(ctx context.Context, jobID int64) ([]store.Artifact, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Artifact), nil
}

func (m *MockPipelineService) GetArtifactByID(ctx context.Context, id int64) (*store.Artifact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Artifact), nil
}

func (m *MockPipelineService) GetArtifactArchive(ctx context.Context, id int64) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockPipelineService) CancelRun(runID, pipelineID int64) {
	m.Called(runID, pipelineID)
}

func generatePipeline() *store.Pipeline {
	return &store.Pipeline{
		PipelineID:     rand.Int63(),
		Name:           "backend",
		Description:    "backend service pipeline",
		DescriptorPath: "/srv/repos/backend/.stageci.yml",
		CreatedOn:      time.Now().UTC(),
	}
}

func TestPipelineHandler_PostPipeline(t *testing.T) {
	t.Run("success - pipeline is created", func(t *testing.T) {
		// arrange
		p := generatePipeline()
		ctx := context.Background()
		mockService := new(MockPipelineService)
		mockService.On(
			"CreatePipeline", ctx, p.Name, p.Description, p.DescriptorPath,
		).Return(p, nil)

		body := fmt.Sprintf(
			`{"name": %q, "description": %q, "descriptor_path": %q}`,
			p.Name, p.Description, p.DescriptorPath,
		)
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/api/pipelines", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := NewPipelineHandler(mockService)

		// act
		err := h.PostPipeline(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), p.Name)
		mockService.AssertExpectations(t)
	})
	t.Run("failure - missing descriptor path", func(t *testing.T) {
		// arrange
		mockService := new(MockPipelineService)
		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPost, "/api/pipelines", strings.NewReader(`{"name": "backend"}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := NewPipelineHandler(mockService)

		// act
		err := h.PostPipeline(c)

		// assert
		assert.Error(t, err)
		echoErr, ok := err.(*echo.HTTPError)
		assert.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, echoErr.Code)
		mockService.AssertNotCalled(t, "CreatePipeline")
	})
}

func TestPipelineHandler_GetPipeline(t *testing.T) {
	t.Run("success - pipeline found", func(t *testing.T) {
		// arrange
		p := generatePipeline()
		ctx := context.Background()
		mockService := new(MockPipelineService)
		mockService.On("GetPipelineByID", ctx, p.PipelineID).Return(p, nil)

		e := echo.New()
		req := httptest.NewRequest(
			http.MethodGet, fmt.Sprintf("/api/pipelines/%d", p.PipelineID), nil,
		)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues(fmt.Sprintf("%d", p.PipelineID))
		h := NewPipelineHandler(mockService)

		// act
		err := h.GetPipeline(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), p.Name)
	})
	t.Run("failure - unknown pipeline id", func(t *testing.T) {
		// arrange
		ctx := context.Background()
		mockService := new(MockPipelineService)
		mockService.On("GetPipelineByID", ctx, int64(999)).Return(nil, sql.ErrNoRows)

		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/pipelines/999", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("999")
		h := NewPipelineHandler(mockService)

		// act
		err := h.GetPipeline(c)

		// assert
		assert.Error(t, err)
		echoErr, ok := err.(*echo.HTTPError)
		assert.True(t, ok)
		assert.Equal(t, http.StatusNotFound, echoErr.Code)
	})
}

func TestPipelineHandler_PostTrigger(t *testing.T) {
	t.Run("success - run is accepted", func(t *testing.T) {
		// arrange
		p := generatePipeline()
		r := &store.Run{
			RunID:         rand.Int63(),
			RunPipelineID: p.PipelineID,
			Ref:           "master",
			RefKind:       "branch",
			Status:        store.StatusPending,
		}
		ctx := context.Background()
		mockService := new(MockPipelineService)
		mockService.On(
			"TriggerRun", ctx, p.PipelineID, "master", "branch",
		).Return(r, nil)

		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPost,
			fmt.Sprintf("/api/pipelines/%d/runs", p.PipelineID),
			strings.NewReader(`{"ref": "master"}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues(fmt.Sprintf("%d", p.PipelineID))
		h := NewPipelineHandler(mockService)

		// act
		err := h.PostTrigger(c)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "master")
		mockService.AssertExpectations(t)
	})
	t.Run("failure - unknown ref kind", func(t *testing.T) {
		// arrange
		mockService := new(MockPipelineService)
		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPost,
			"/api/pipelines/1/runs",
			strings.NewReader(`{"ref": "master", "ref_kind": "commit"}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("1")
		h := NewPipelineHandler(mockService)

		// act
		err := h.PostTrigger(c)

		// assert
		assert.Error(t, err)
		echoErr, ok := err.(*echo.HTTPError)
		assert.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, echoErr.Code)
		mockService.AssertNotCalled(t, "TriggerRun")
	})
	t.Run("failure - missing ref", func(t *testing.T) {
		// arrange
		mockService := new(MockPipelineService)
		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPost, "/api/pipelines/1/runs", strings.NewReader(`{}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("1")
		h := NewPipelineHandler(mockService)

		// act
		err := h.PostTrigger(c)

		// assert
		assert.Error(t, err)
		echoErr, ok := err.(*echo.HTTPError)
		assert.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, echoErr.Code)
	})
	t.Run("failure - run queue full", func(t *testing.T) {
		// arrange
		ctx := context.Background()
		mockService := new(MockPipelineService)
		mockService.On(
			"TriggerRun", ctx, int64(1), "master", "branch",
		).Return(nil, service.NewErrRunQueueFull())

		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPost, "/api/pipelines/1/runs", strings.NewReader(`{"ref": "master"}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("1")
		h := NewPipelineHandler(mockService)

		// act
		err := h.PostTrigger(c)

		// assert
		assert.Error(t, err)
		echoErr, ok := err.(*echo.HTTPError)
		assert.True(t, ok)
		assert.Equal(t, http.StatusTooManyRequests, echoErr.Code)
	})
}

func TestPipelineHandler_PutPipelineSchedule(t *testing.T) {
	t.Run("failure - schedule without a ref", func(t *testing.T) {
		// arrange
		mockService := new(MockPipelineService)
		e := echo.New()
		req := httptest.NewRequest(
			http.MethodPut,
			"/api/pipelines/1/schedule",
			strings.NewReader(`{"schedule": "0 3 * * *"}`),
		)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("pipeline_id")
		c.SetParamValues("1")
		h := NewPipelineHandler(mockService)

		// act
		err := h.PutPipelineSchedule(c)

		// assert
		assert.Error(t, err)
		echoErr, ok := err.(*echo.HTTPError)
		assert.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, echoErr.Code)
		mockService.AssertNotCalled(t, "UpdatePipelineSchedule")
	})
}
