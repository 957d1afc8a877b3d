package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/haatos/stageci/internal/descriptor"
	"github.com/haatos/stageci/internal/util"
)

// Observer receives job lifecycle events as the scheduler drives a run.
// Implementations persist state, stream output, or both.
type Observer interface {
	JobStarted(ctx context.Context, job *ExpandedJob)
	JobOutput(ctx context.Context, job *ExpandedJob, chunk string)
	JobFinished(ctx context.Context, job *ExpandedJob, state State, bundle *ArtifactBundle, jobErr error)
}

type NopObserver struct{}

func (NopObserver) JobStarted(context.Context, *ExpandedJob)        {}
func (NopObserver) JobOutput(context.Context, *ExpandedJob, string) {}
func (NopObserver) JobFinished(context.Context, *ExpandedJob, State, *ArtifactBundle, error) {}

// Run identifies one pipeline run being executed.
type Run struct {
	ID           int64
	Trigger      descriptor.TriggerContext
	Stages       []string
	WorkspaceDir string
}

// Scheduler orders job execution by stage: all jobs within a stage run
// concurrently, bounded by Workers, and a stage must fully reach terminal
// states before the next one starts. A failed job without allow_failure
// fails the stage closed; jobs in later stages are marked skipped. It
// performs no retries.
type Scheduler struct {
	Runner    Runner
	Cache     *CacheManager
	Artifacts *ArtifactManager
	Workers   int
	Observer  Observer
}

func NewScheduler(runner Runner, cache *CacheManager, artifacts *ArtifactManager, workers int, observer Observer) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Scheduler{
		Runner:    runner,
		Cache:     cache,
		Artifacts: artifacts,
		Workers:   workers,
		Observer:  observer,
	}
}

// Execute drives the run to a terminal state. The whole pipeline is
// rejected before any job runs when a job resolved to an undeclared stage.
func (s *Scheduler) Execute(ctx context.Context, run Run, jobs []*ExpandedJob) (State, error) {
	stageIndex := map[string]int{}
	for i, stage := range run.Stages {
		stageIndex[stage] = i
	}
	for _, job := range jobs {
		if _, ok := stageIndex[job.Stage]; !ok {
			return StateFailed, StageError{Job: job.Name, Stage: job.Stage}
		}
	}

	byStage := make([][]*ExpandedJob, len(run.Stages))
	for _, job := range jobs {
		i := stageIndex[job.Stage]
		byStage[i] = append(byStage[i], job)
	}

	failed := false
	canceled := false
	for i, stage := range run.Stages {
		stageJobs := byStage[i]
		if len(stageJobs) == 0 {
			continue
		}

		if canceled || ctx.Err() != nil {
			canceled = true
			s.finishAll(ctx, stageJobs, StateCanceled)
			continue
		}
		if failed {
			s.finishAll(ctx, stageJobs, StateSkipped)
			continue
		}

		slog.Info("starting stage", "run", run.ID, "stage", stage, "jobs", len(stageJobs))
		states := s.runStage(ctx, run, stageJobs)

		for j, state := range states {
			switch state {
			case StateCanceled:
				canceled = true
			case StateFailed:
				if !stageJobs[j].AllowFailure {
					failed = true
				}
			}
		}
	}

	switch {
	case canceled:
		return StateCanceled, nil
	case failed:
		return StateFailed, nil
	default:
		return StateSucceeded, nil
	}
}

// runStage executes a stage's jobs concurrently, bounded by the worker
// pool. Relative start order within a stage is not guaranteed.
func (s *Scheduler) runStage(ctx context.Context, run Run, jobs []*ExpandedJob) []State {
	states := make([]State, len(jobs))
	sem := make(chan struct{}, s.Workers)
	var wg sync.WaitGroup

	for i, job := range jobs {
		wg.Go(func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			states[i] = s.executeJob(ctx, run, job)
		})
	}
	wg.Wait()
	return states
}

func (s *Scheduler) executeJob(ctx context.Context, run Run, job *ExpandedJob) State {
	if ctx.Err() != nil {
		s.Observer.JobFinished(ctx, job, StateCanceled, nil, nil)
		return StateCanceled
	}

	job.Variables["CI_PIPELINE_ID"] = fmt.Sprintf("%d", run.ID)
	s.Observer.JobStarted(ctx, job)

	workdir := filepath.Join(
		run.WorkspaceDir,
		fmt.Sprintf("run_%d", run.ID),
		util.SanitizeKey(job.Name),
	)
	out := &observerWriter{ctx: ctx, job: job, observer: s.Observer}

	state, jobErr := s.runJob(ctx, run, job, workdir, out)

	var bundle *ArtifactBundle
	if s.Artifacts != nil && job.Artifacts != nil &&
		state.Terminal() && state != StateCanceled && state != StateSkipped &&
		job.Artifacts.When.PersistFor(state == StateSucceeded) {
		b, err := s.Artifacts.Collect(run.ID, job, workdir)
		if err != nil {
			slog.Error("artifact collection failed", "job", job.Name, "error", err)
		} else {
			bundle = b
		}
	}

	s.Observer.JobFinished(ctx, job, state, bundle, jobErr)
	return state
}

func (s *Scheduler) runJob(
	ctx context.Context,
	run Run,
	job *ExpandedJob,
	workdir string,
	out *observerWriter,
) (State, error) {
	if err := os.MkdirAll(workdir, os.ModePerm); err != nil {
		return StateFailed, fmt.Errorf("creating workspace: %w", err)
	}

	if s.Cache != nil {
		if err := s.Cache.Restore(ctx, job, workdir); err != nil {
			// restore trouble beyond a plain miss is still best-effort
			slog.Warn("cache restore failed", "job", job.Name, "error", err)
		}
	}

	if err := s.Runner.RunJob(ctx, job, workdir, out); err != nil {
		if ctx.Err() != nil {
			return StateCanceled, err
		}
		return StateFailed, err
	}

	if s.Cache != nil {
		if err := s.Cache.Save(ctx, job, workdir); err != nil {
			slog.Warn("cache save failed", "job", job.Name, "error", err)
		}
	}
	return StateSucceeded, nil
}

func (s *Scheduler) finishAll(ctx context.Context, jobs []*ExpandedJob, state State) {
	for _, job := range jobs {
		s.Observer.JobFinished(ctx, job, state, nil, nil)
	}
}

// observerWriter forwards captured job output to the observer.
type observerWriter struct {
	ctx      context.Context
	job      *ExpandedJob
	observer Observer
	mu       sync.Mutex
}

func (w *observerWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observer.JobOutput(w.ctx, w.job, string(p))
	return len(p), nil
}
