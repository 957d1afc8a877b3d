package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/haatos/stageci/internal/engine"
	"github.com/haatos/stageci/internal/store"
	"github.com/stretchr/testify/assert"
)

// fakePipelineServicer records run and job lifecycle updates in memory.
type fakePipelineServicer struct {
	mu sync.Mutex

	pipeline *store.Pipeline

	runStatus   store.RunStatus
	runWorkdir  string
	jobStatuses map[string]store.RunStatus
	jobOutput   map[int64]string
	artifacts   []string

	nextJobID int64
	jobNames  map[int64]string
}

func newFakePipelineServicer(descriptorPath string) *fakePipelineServicer {
	return &fakePipelineServicer{
		pipeline: &store.Pipeline{
			PipelineID:     1,
			Name:           "toxcore",
			DescriptorPath: descriptorPath,
		},
		jobStatuses: map[string]store.RunStatus{},
		jobOutput:   map[int64]string{},
		jobNames:    map[int64]string{},
	}
}

func (f *fakePipelineServicer) GetPipelineByID(ctx context.Context, id int64) (*store.Pipeline, error) {
	return f.pipeline, nil
}

func (f *fakePipelineServicer) GetRunByID(ctx context.Context, id int64) (*store.Run, error) {
	return &store.Run{RunID: id, RunPipelineID: f.pipeline.PipelineID}, nil
}

func (f *fakePipelineServicer) UpdateRunStartedOn(
	ctx context.Context, runID int64, wd string, status store.RunStatus, startedOn *time.Time,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runStatus = status
	f.runWorkdir = wd
	return nil
}

func (f *fakePipelineServicer) UpdateRunEndedOn(
	ctx context.Context, runID int64, status store.RunStatus, endedOn *time.Time,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runStatus = status
	return nil
}

func (f *fakePipelineServicer) CreateJob(
	ctx context.Context, runID int64, job *engine.ExpandedJob,
) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextJobID++
	f.jobNames[f.nextJobID] = job.Name
	f.jobStatuses[job.Name] = store.StatusPending
	return &store.Job{JobID: f.nextJobID, JobRunID: runID, Name: job.Name}, nil
}

func (f *fakePipelineServicer) UpdateJobStartedOn(
	ctx context.Context, jobID int64, status store.RunStatus, startedOn *time.Time,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobStatuses[f.jobNames[jobID]] = status
	return nil
}

func (f *fakePipelineServicer) UpdateJobEndedOn(
	ctx context.Context, jobID int64, status store.RunStatus, endedOn *time.Time,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobStatuses[f.jobNames[jobID]] = status
	return nil
}

func (f *fakePipelineServicer) AppendJobOutput(ctx context.Context, jobID int64, out string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobOutput[jobID] += out
	return nil
}

func (f *fakePipelineServicer) CreateArtifact(
	ctx context.Context, jobID int64, bundle *engine.ArtifactBundle,
) (*store.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts = append(f.artifacts, bundle.Name)
	return &store.Artifact{ArtifactID: int64(len(f.artifacts))}, nil
}

func (f *fakePipelineServicer) jobStatus(name string) store.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobStatuses[name]
}

func writeDescriptor(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestRunQueue(svc PipelineServicer, workspaceDir string) *RunQueue {
	return NewRunQueue(
		svc,
		engine.NewLocalRunner(),
		nil,
		nil,
		workspaceDir,
		2,
		1,
	)
}

func TestRunQueue_ProcessRun(t *testing.T) {
	t.Run("success - run passes and jobs reach terminal states", func(t *testing.T) {
		// arrange
		path := writeDescriptor(t, `
stages: [test, build]
unit-tests:
  stage: test
  script:
    - echo testing
package:
  stage: build
  script:
    - echo packaging
`)
		svc := newFakePipelineServicer(path)
		wd := t.TempDir()
		rq := newTestRunQueue(svc, wd)
		run := &store.Run{RunID: 10, RunPipelineID: 1, Ref: "master", RefKind: "branch"}

		// act
		status, err := rq.processRun(context.Background(), run)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, store.StatusPassed, status)
		assert.Equal(t, store.StatusPassed, svc.jobStatus("unit-tests"))
		assert.Equal(t, store.StatusPassed, svc.jobStatus("package"))
		assert.Equal(t, filepath.Join(wd, "run_10"), svc.runWorkdir)
		assert.DirExists(t, filepath.Join(wd, "run_10"))
	})
	t.Run("success - failing stage skips the rest of the run", func(t *testing.T) {
		// arrange
		path := writeDescriptor(t, `
stages: [test, build]
unit-tests:
  stage: test
  script:
    - exit 1
package:
  stage: build
  script:
    - echo packaging
`)
		svc := newFakePipelineServicer(path)
		rq := newTestRunQueue(svc, t.TempDir())
		run := &store.Run{RunID: 11, RunPipelineID: 1, Ref: "master", RefKind: "branch"}

		// act
		status, err := rq.processRun(context.Background(), run)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, store.StatusFailed, status)
		assert.Equal(t, store.StatusFailed, svc.jobStatus("unit-tests"))
		assert.Equal(t, store.StatusSkipped, svc.jobStatus("package"))
	})
	t.Run("success - run with no included jobs passes", func(t *testing.T) {
		// arrange
		path := writeDescriptor(t, `
stages: [deploy]
release:
  stage: deploy
  script:
    - echo releasing
  only:
    - /^v[0-9]+\./
`)
		svc := newFakePipelineServicer(path)
		rq := newTestRunQueue(svc, t.TempDir())
		run := &store.Run{RunID: 12, RunPipelineID: 1, Ref: "develop", RefKind: "branch"}

		// act
		status, err := rq.processRun(context.Background(), run)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, store.StatusPassed, status)
		assert.Empty(t, svc.jobStatuses)
	})
	t.Run("failure - schema error fails the run before any job", func(t *testing.T) {
		// arrange
		path := writeDescriptor(t, `
stages: [test]
unit-tests:
  stage: test
`)
		svc := newFakePipelineServicer(path)
		rq := newTestRunQueue(svc, t.TempDir())
		run := &store.Run{RunID: 13, RunPipelineID: 1, Ref: "master", RefKind: "branch"}

		// act
		status, err := rq.processRun(context.Background(), run)

		// assert
		assert.Error(t, err)
		assert.Equal(t, store.StatusFailed, status)
		assert.Empty(t, svc.jobStatuses)
	})
	t.Run("success - matrix jobs expand into separate job rows", func(t *testing.T) {
		// arrange
		path := writeDescriptor(t, `
stages: [test]
unit-tests:
  stage: test
  script:
    - echo $CI_JOB_IMAGE
  images:
    - stable
    - nightly
`)
		svc := newFakePipelineServicer(path)
		rq := newTestRunQueue(svc, t.TempDir())
		run := &store.Run{RunID: 14, RunPipelineID: 1, Ref: "master", RefKind: "branch"}

		// act
		status, err := rq.processRun(context.Background(), run)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, store.StatusPassed, status)
		assert.Equal(t, store.StatusPassed, svc.jobStatus("unit-tests:stable"))
		assert.Equal(t, store.StatusPassed, svc.jobStatus("unit-tests:nightly"))
	})
}

func TestRunQueue_Enqueue(t *testing.T) {
	t.Run("failure - full queue rejects the run", func(t *testing.T) {
		// arrange
		rq := newTestRunQueue(newFakePipelineServicer(""), t.TempDir())

		// act: capacity is one, so the second enqueue overflows
		err1 := rq.Enqueue(&store.Run{RunID: 1})
		err2 := rq.Enqueue(&store.Run{RunID: 2})

		// assert
		assert.NoError(t, err1)
		var full *ErrRunQueueFull
		assert.ErrorAs(t, err2, &full)
	})
}

func TestRunStatusForState(t *testing.T) {
	assert.Equal(t, store.StatusPassed, runStatusForState(engine.StateSucceeded))
	assert.Equal(t, store.StatusCancelled, runStatusForState(engine.StateCanceled))
	assert.Equal(t, store.StatusSkipped, runStatusForState(engine.StateSkipped))
	assert.Equal(t, store.StatusFailed, runStatusForState(engine.StateFailed))
}

func TestJobStatusForState(t *testing.T) {
	assert.Equal(t, store.StatusPassed, jobStatusForState(engine.StateSucceeded))
	assert.Equal(t, store.StatusCancelled, jobStatusForState(engine.StateCanceled))
	assert.Equal(t, store.StatusSkipped, jobStatusForState(engine.StateSkipped))
	assert.Equal(t, store.StatusRunning, jobStatusForState(engine.StateRunning))
	assert.Equal(t, store.StatusFailed, jobStatusForState(engine.StateFailed))
}
