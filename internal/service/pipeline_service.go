package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/haatos/stageci/internal"
	"github.com/haatos/stageci/internal/engine"
	"github.com/haatos/stageci/internal/store"
	"github.com/haatos/stageci/internal/util"
)

type PipelineService struct {
	pipelineStore store.PipelineStore
	runStore      store.RunStore
	jobStore      store.JobStore
	artifactStore store.ArtifactStore
	scheduler     gocron.Scheduler

	runner       engine.Runner
	cacheMgr     *engine.CacheManager
	artifactMgr  *engine.ArtifactManager
	workspaceDir string

	mu     sync.Mutex
	queues map[int64]*RunQueue
}

func NewPipelineService(
	pipelineStore store.PipelineStore,
	runStore store.RunStore,
	jobStore store.JobStore,
	artifactStore store.ArtifactStore,
	scheduler gocron.Scheduler,
	runner engine.Runner,
	cacheMgr *engine.CacheManager,
	artifactMgr *engine.ArtifactManager,
	workspaceDir string,
) *PipelineService {
	return &PipelineService{
		pipelineStore: pipelineStore,
		runStore:      runStore,
		jobStore:      jobStore,
		artifactStore: artifactStore,
		scheduler:     scheduler,
		runner:        runner,
		cacheMgr:      cacheMgr,
		artifactMgr:   artifactMgr,
		workspaceDir:  workspaceDir,
		queues:        make(map[int64]*RunQueue),
	}
}

// InitializeRunQueues creates and starts one run queue per known pipeline
// and re-registers cron schedules persisted from earlier sessions.
func (s *PipelineService) InitializeRunQueues(ctx context.Context) error {
	pipelines, err := s.ListPipelines(ctx)
	if err != nil {
		return err
	}

	ids := make([]int64, len(pipelines))
	for i, p := range pipelines {
		ids[i] = p.PipelineID
	}

	s.AddRunQueues(ids, internal.Config.QueueSize)
	s.StartRunQueues()

	scheduled, err := s.pipelineStore.ListScheduledPipelines(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	for _, p := range scheduled {
		jobID, err := s.SchedulePipelineRun(p.PipelineID, *p.Schedule, *p.ScheduleRef)
		if err != nil {
			return err
		}
		if err := s.pipelineStore.UpdatePipelineSchedule(
			ctx, p.PipelineID, p.Schedule, p.ScheduleRef, jobID,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *PipelineService) CreatePipeline(
	ctx context.Context,
	name, description, descriptorPath string,
) (*store.Pipeline, error) {
	p, err := s.pipelineStore.CreatePipeline(ctx, name, description, descriptorPath)
	if err != nil {
		return nil, err
	}
	s.AddRunQueue(p.PipelineID, internal.Config.QueueSize)
	if err := s.StartRunQueue(p.PipelineID); err != nil {
		return p, err
	}
	return p, nil
}

func (s *PipelineService) GetPipelineByID(ctx context.Context, id int64) (*store.Pipeline, error) {
	return s.pipelineStore.ReadPipelineByID(ctx, id)
}

func (s *PipelineService) ListPipelines(ctx context.Context) ([]*store.Pipeline, error) {
	pipelines, err := s.pipelineStore.ListPipelines(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return pipelines, nil
}

func (s *PipelineService) UpdatePipeline(
	ctx context.Context,
	id int64,
	name, description, descriptorPath string,
) error {
	return s.pipelineStore.UpdatePipeline(ctx, id, name, description, descriptorPath)
}

func (s *PipelineService) DeletePipeline(ctx context.Context, id int64) error {
	if err := s.pipelineStore.DeletePipeline(ctx, id); err != nil {
		return err
	}
	s.RemoveRunQueue(id)
	return nil
}

// TriggerRun creates a pending run for the given ref and hands it to the
// pipeline's queue.
func (s *PipelineService) TriggerRun(
	ctx context.Context,
	pipelineID int64,
	ref, refKind string,
) (*store.Run, error) {
	r, err := s.runStore.CreateRun(ctx, pipelineID, ref, refKind)
	if err != nil {
		return nil, err
	}
	if err := s.EnqueueRun(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PipelineService) GetRunByID(ctx context.Context, runID int64) (*store.Run, error) {
	return s.runStore.ReadRunByID(ctx, runID)
}

func (s *PipelineService) ListPipelineRuns(ctx context.Context, pipelineID int64) ([]store.Run, error) {
	runs, err := s.runStore.ListPipelineRuns(ctx, pipelineID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return runs, nil
}

func (s *PipelineService) UpdateRunStartedOn(
	ctx context.Context,
	runID int64,
	workingDirectory string,
	status store.RunStatus,
	startedOn *time.Time,
) error {
	return s.runStore.UpdateRunStartedOn(ctx, runID, workingDirectory, status, startedOn)
}

func (s *PipelineService) UpdateRunEndedOn(
	ctx context.Context,
	runID int64,
	status store.RunStatus,
	endedOn *time.Time,
) error {
	return s.runStore.UpdateRunEndedOn(ctx, runID, status, endedOn)
}

func (s *PipelineService) CreateJob(
	ctx context.Context,
	runID int64,
	job *engine.ExpandedJob,
) (*store.Job, error) {
	return s.jobStore.CreateJob(
		ctx, runID,
		job.Name, job.SpecName, job.Axis, job.Stage, job.AllowFailure,
	)
}

func (s *PipelineService) GetJobByID(ctx context.Context, jobID int64) (*store.Job, error) {
	return s.jobStore.ReadJobByID(ctx, jobID)
}

func (s *PipelineService) ListRunJobs(ctx context.Context, runID int64) ([]store.Job, error) {
	jobs, err := s.jobStore.ListRunJobs(ctx, runID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return jobs, nil
}

func (s *PipelineService) UpdateJobStartedOn(
	ctx context.Context,
	jobID int64,
	status store.RunStatus,
	startedOn *time.Time,
) error {
	return s.jobStore.UpdateJobStartedOn(ctx, jobID, status, startedOn)
}

func (s *PipelineService) UpdateJobEndedOn(
	ctx context.Context,
	jobID int64,
	status store.RunStatus,
	endedOn *time.Time,
) error {
	return s.jobStore.UpdateJobEndedOn(ctx, jobID, status, endedOn)
}

func (s *PipelineService) AppendJobOutput(ctx context.Context, jobID int64, out string) error {
	return s.jobStore.AppendJobOutput(ctx, jobID, out)
}

func (s *PipelineService) CreateArtifact(
	ctx context.Context,
	jobID int64,
	bundle *engine.ArtifactBundle,
) (*store.Artifact, error) {
	return s.artifactStore.CreateArtifact(ctx, jobID, bundle.Name, bundle.ArchivePath, bundle.ExpiresOn)
}

func (s *PipelineService) GetArtifactByID(ctx context.Context, id int64) (*store.Artifact, error) {
	return s.artifactStore.ReadArtifactByID(ctx, id)
}

func (s *PipelineService) ListJobArtifacts(ctx context.Context, jobID int64) ([]store.Artifact, error) {
	artifacts, err := s.artifactStore.ListJobArtifacts(ctx, jobID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return artifacts, nil
}

// GetArtifactArchive returns the archive path of an artifact for download.
// An artifact at or past its expiry is unavailable even when the sweeper
// has not visited it yet; metadata stays readable either way.
func (s *PipelineService) GetArtifactArchive(ctx context.Context, id int64) (string, error) {
	a, err := s.artifactStore.ReadArtifactByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !a.Available || a.Expired(time.Now().UTC()) {
		return "", ArtifactUnavailableError{ArtifactID: a.ArtifactID, Name: a.Name}
	}
	return a.ArchivePath, nil
}

// SweepExpiredArtifacts removes archives whose retention elapsed and marks
// their rows unavailable for audit.
func (s *PipelineService) SweepExpiredArtifacts(ctx context.Context) error {
	expired, err := s.artifactStore.ListExpiredArtifacts(ctx, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	for _, a := range expired {
		if err := os.Remove(a.ArchivePath); err != nil && !os.IsNotExist(err) {
			slog.Error("err removing expired artifact archive",
				"artifact", a.ArtifactID, "path", a.ArchivePath, "error", err)
			continue
		}
		if err := s.artifactStore.MarkArtifactUnavailable(ctx, a.ArtifactID); err != nil {
			return err
		}
		slog.Info("expired artifact swept", "artifact", a.ArtifactID, "name", a.Name)
	}
	return nil
}

// StartArtifactSweeper registers the recurring retention sweep.
func (s *PipelineService) StartArtifactSweeper(interval time.Duration) error {
	if s.scheduler == nil {
		return nil
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := s.SweepExpiredArtifacts(context.Background()); err != nil {
				slog.Error("artifact sweep failed", "error", err)
			}
		}))
	if err != nil {
		return fmt.Errorf("error scheduling artifact sweeper: %+w", err)
	}
	return nil
}

func (s *PipelineService) SchedulePipelineRun(
	pipelineID int64,
	schedule, ref string,
) (*string, error) {
	if s.scheduler == nil {
		return nil, nil
	}
	job, err := s.scheduler.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(func() {
			if _, err := s.TriggerRun(
				context.Background(),
				pipelineID,
				ref,
				"branch",
			); err != nil {
				slog.Error("err triggering scheduled run",
					"pipeline", pipelineID, "error", err)
			}
		}))
	if err != nil {
		return nil, fmt.Errorf("error scheduling pipeline job: %+w", err)
	}
	return util.AsPtr(job.ID().String()), nil
}

func (s *PipelineService) UpdatePipelineSchedule(
	ctx context.Context,
	id int64,
	schedule, ref *string,
) error {
	p, err := s.pipelineStore.ReadPipelineByID(ctx, id)
	if err != nil {
		return err
	}

	if schedule == nil {
		if p.ScheduleJobID != nil && s.scheduler != nil {
			if err := s.scheduler.RemoveJob(uuid.MustParse(*p.ScheduleJobID)); err != nil {
				slog.Warn("unable to remove existing schedule job", "error", err)
			}
		}
		return s.pipelineStore.UpdatePipelineSchedule(ctx, id, nil, nil, nil)
	}

	jobID, err := s.SchedulePipelineRun(p.PipelineID, *schedule, *ref)
	if err != nil {
		return err
	}
	return s.pipelineStore.UpdatePipelineSchedule(ctx, p.PipelineID, schedule, ref, jobID)
}

func (s *PipelineService) CancelRun(runID int64, pipelineID int64) {
	if rq, ok := s.GetPipelineRunQueue(pipelineID); ok {
		rq.CancelRun(runID)
	}
}

func (s *PipelineService) AddRunQueues(ids []int64, maxRuns int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.queues[id] = s.newRunQueue(maxRuns)
	}
}

func (s *PipelineService) StartRunQueues() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queues {
		go s.queues[i].Run()
	}
}

func (s *PipelineService) AddRunQueue(id int64, maxRuns int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[id] = s.newRunQueue(maxRuns)
}

func (s *PipelineService) newRunQueue(maxRuns int64) *RunQueue {
	return NewRunQueue(
		s,
		s.runner,
		s.cacheMgr,
		s.artifactMgr,
		s.workspaceDir,
		internal.Config.StageWorkers,
		maxRuns,
	)
}

func (s *PipelineService) StartRunQueue(id int64) error {
	rq, ok := s.GetPipelineRunQueue(id)
	if !ok {
		return fmt.Errorf("run queue for pipeline %d does not exist", id)
	}
	go rq.Run()
	return nil
}

func (s *PipelineService) GetPipelineRunQueue(id int64) (*RunQueue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rq, ok := s.queues[id]
	return rq, ok
}

func (s *PipelineService) RemoveRunQueue(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, id)
}

func (s *PipelineService) EnqueueRun(r *store.Run) error {
	rq, ok := s.GetPipelineRunQueue(r.RunPipelineID)
	if !ok {
		return fmt.Errorf("run queue for pipeline %d does not exist", r.RunPipelineID)
	}
	return rq.Enqueue(r)
}

func (s *PipelineService) ShutdownAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var wg sync.WaitGroup
	for _, rq := range s.queues {
		wg.Go(func() {
			rq.Shutdown()
		})
	}
	wg.Wait()
}
