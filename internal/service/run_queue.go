package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/haatos/stageci/internal/descriptor"
	"github.com/haatos/stageci/internal/engine"
	"github.com/haatos/stageci/internal/store"
	"github.com/haatos/stageci/internal/util"
)

// PipelineServicer is the slice of PipelineService a run queue needs.
type PipelineServicer interface {
	GetPipelineByID(context.Context, int64) (*store.Pipeline, error)
	GetRunByID(context.Context, int64) (*store.Run, error)
	UpdateRunStartedOn(context.Context, int64, string, store.RunStatus, *time.Time) error
	UpdateRunEndedOn(context.Context, int64, store.RunStatus, *time.Time) error
	CreateJob(context.Context, int64, *engine.ExpandedJob) (*store.Job, error)
	UpdateJobStartedOn(context.Context, int64, store.RunStatus, *time.Time) error
	UpdateJobEndedOn(context.Context, int64, store.RunStatus, *time.Time) error
	AppendJobOutput(context.Context, int64, string) error
	CreateArtifact(context.Context, int64, *engine.ArtifactBundle) (*store.Artifact, error)
}

func NewRunQueue(
	pipelineService PipelineServicer,
	runner engine.Runner,
	cacheMgr *engine.CacheManager,
	artifactMgr *engine.ArtifactManager,
	workspaceDir string,
	stageWorkers int,
	maxRuns int64,
) *RunQueue {
	return &RunQueue{
		pipelineService: pipelineService,
		runner:          runner,
		cacheMgr:        cacheMgr,
		artifactMgr:     artifactMgr,
		workspaceDir:    workspaceDir,
		stageWorkers:    stageWorkers,
		queue:           make(chan *store.Run, maxRuns),
		done:            make(chan struct{}),
		cancelRunMap:    NewCancelMap[int64](),
	}
}

// RunQueue serializes runs of one pipeline: queued runs execute one at a
// time, each cancellable through the cancel map.
type RunQueue struct {
	pipelineService PipelineServicer
	runner          engine.Runner
	cacheMgr        *engine.CacheManager
	artifactMgr     *engine.ArtifactManager
	workspaceDir    string
	stageWorkers    int

	queue        chan *store.Run
	done         chan struct{}
	cancelRunMap *CancelMap[int64]
	mu           sync.Mutex
}

func (rq *RunQueue) CancelRun(runID int64) {
	rq.cancelRunMap.Call(runID)
}

func (rq *RunQueue) Enqueue(r *store.Run) error {
	select {
	case rq.queue <- r:
		return nil
	default:
		return NewErrRunQueueFull()
	}
}

func (rq *RunQueue) Run() {
	for {
		select {
		case run := <-rq.queue:
			ctx, cancel := context.WithCancel(context.Background())
			rq.cancelRunMap.AddCancel(run.RunID, cancel)

			status, err := rq.processRun(ctx, run)
			if err != nil {
				slog.Error("err processing run", "run", run.RunID, "error", err)
			}

			endedOn := time.Now().UTC()
			if sqlErr := rq.pipelineService.UpdateRunEndedOn(
				context.Background(),
				run.RunID,
				status,
				&endedOn,
			); sqlErr != nil {
				slog.Error("err updating run final status", "run", run.RunID, "error", sqlErr)
			}

			rq.cancelRunMap.RemoveCancel(run.RunID)
			cancel()
		case <-rq.done:
			close(rq.queue)
			return
		}
	}
}

func (rq *RunQueue) Shutdown() {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	select {
	case <-rq.done:
	default:
		close(rq.done)
	}
}

// processRun drives a run from pending to a terminal status: parse the
// descriptor, expand and filter jobs, persist the job rows and execute
// stage by stage. Schema and expansion errors fail the run before any job
// starts.
func (rq *RunQueue) processRun(ctx context.Context, run *store.Run) (store.RunStatus, error) {
	p, err := rq.pipelineService.GetPipelineByID(ctx, run.RunPipelineID)
	if err != nil {
		return store.StatusFailed, err
	}

	doc, err := descriptor.Load(p.DescriptorPath)
	if err != nil {
		return store.StatusFailed, err
	}

	trigger := descriptor.TriggerContext{
		RefName: run.Ref,
		RefKind: descriptor.RefKind(run.RefKind),
	}

	expanded, err := engine.Expand(doc, trigger)
	if err != nil {
		return store.StatusFailed, err
	}
	included := engine.Filter(expanded, trigger)

	workdir := filepath.Join(rq.workspaceDir, fmt.Sprintf("run_%d", run.RunID))
	startedOn := time.Now().UTC()
	if err := rq.pipelineService.UpdateRunStartedOn(
		context.Background(),
		run.RunID,
		workdir,
		store.StatusRunning,
		&startedOn,
	); err != nil {
		return store.StatusFailed, err
	}

	if len(included) == 0 {
		slog.Info("no jobs included for ref", "run", run.RunID, "ref", run.Ref)
		return store.StatusPassed, nil
	}

	recorder := &runRecorder{
		svc:    rq.pipelineService,
		jobIDs: make(map[string]int64, len(included)),
	}
	for _, job := range included {
		row, err := rq.pipelineService.CreateJob(ctx, run.RunID, job)
		if err != nil {
			return store.StatusFailed, err
		}
		recorder.jobIDs[job.Name] = row.JobID
	}

	sched := engine.NewScheduler(
		rq.runner,
		rq.cacheMgr,
		rq.artifactMgr,
		rq.stageWorkers,
		recorder,
	)
	state, err := sched.Execute(ctx, engine.Run{
		ID:           run.RunID,
		Trigger:      trigger,
		Stages:       doc.Stages,
		WorkspaceDir: rq.workspaceDir,
	}, included)
	if err != nil {
		return store.StatusFailed, err
	}

	return runStatusForState(state), nil
}

func runStatusForState(state engine.State) store.RunStatus {
	switch state {
	case engine.StateSucceeded:
		return store.StatusPassed
	case engine.StateCanceled:
		return store.StatusCancelled
	case engine.StateSkipped:
		return store.StatusSkipped
	default:
		return store.StatusFailed
	}
}

// runRecorder persists job lifecycle events from the engine scheduler.
type runRecorder struct {
	svc    PipelineServicer
	jobIDs map[string]int64
}

func (r *runRecorder) JobStarted(ctx context.Context, job *engine.ExpandedJob) {
	id, ok := r.jobIDs[job.Name]
	if !ok {
		return
	}
	if err := r.svc.UpdateJobStartedOn(
		context.Background(), id, store.StatusRunning, util.AsPtr(time.Now().UTC()),
	); err != nil {
		slog.Error("err updating job started on", "job", job.Name, "error", err)
	}
}

func (r *runRecorder) JobOutput(ctx context.Context, job *engine.ExpandedJob, chunk string) {
	id, ok := r.jobIDs[job.Name]
	if !ok {
		return
	}
	if err := r.svc.AppendJobOutput(context.Background(), id, chunk); err != nil {
		slog.Error("err appending job output", "job", job.Name, "error", err)
	}
}

func (r *runRecorder) JobFinished(
	ctx context.Context,
	job *engine.ExpandedJob,
	state engine.State,
	bundle *engine.ArtifactBundle,
	jobErr error,
) {
	id, ok := r.jobIDs[job.Name]
	if !ok {
		return
	}
	if jobErr != nil {
		if err := r.svc.AppendJobOutput(
			context.Background(), id, "ERROR: "+jobErr.Error()+"\n",
		); err != nil {
			slog.Error("err appending job error output", "job", job.Name, "error", err)
		}
	}
	if err := r.svc.UpdateJobEndedOn(
		context.Background(), id, jobStatusForState(state), util.AsPtr(time.Now().UTC()),
	); err != nil {
		slog.Error("err updating job ended on", "job", job.Name, "error", err)
	}
	if bundle != nil {
		if _, err := r.svc.CreateArtifact(context.Background(), id, bundle); err != nil {
			slog.Error("err recording artifact", "job", job.Name, "error", err)
		}
	}
}

func jobStatusForState(state engine.State) store.RunStatus {
	switch state {
	case engine.StateSucceeded:
		return store.StatusPassed
	case engine.StateCanceled:
		return store.StatusCancelled
	case engine.StateSkipped:
		return store.StatusSkipped
	case engine.StateRunning:
		return store.StatusRunning
	default:
		return store.StatusFailed
	}
}
