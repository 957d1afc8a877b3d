package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/haatos/stageci/internal/descriptor"
	"github.com/haatos/stageci/internal/engine"
	"github.com/haatos/stageci/internal/logging"
)

const (
	_ = iota
	exitBadUsage
	exitSchemaError
	exitRunFailed
)

var (
	descriptorPath string
	ref            string
	refKind        string
	workers        int
	dataDir        string
	dryRun         bool
	loggingType    string
	logLevel       string
)

func init() {
	flag.StringVar(
		&descriptorPath,
		"f",
		".stageci.yml",
		"pipeline descriptor file")
	flag.StringVar(
		&ref,
		"ref",
		"main",
		"ref name the run is triggered for")
	flag.StringVar(
		&refKind,
		"ref-kind",
		"branch",
		"ref kind: branch or tag")
	flag.IntVar(
		&workers,
		"workers",
		4,
		"max concurrent jobs per stage")
	flag.StringVar(
		&dataDir,
		"data-dir",
		".stageci",
		"directory for workspaces, cache and artifacts")
	flag.BoolVar(
		&dryRun,
		"dry-run",
		false,
		"print the expanded job plan without executing")
	flag.StringVar(
		&loggingType,
		"logging-type",
		"tint",
		"logging type: json, text or tint")
	flag.StringVar(
		&logLevel,
		"log-level",
		"info",
		"logging level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	if refKind != "branch" && refKind != "tag" {
		fmt.Fprintln(os.Stderr, "ref-kind must be branch or tag")
		os.Exit(exitBadUsage)
	}

	_ = logging.Initialize(loggingType, logLevel)

	doc, err := descriptor.Load(descriptorPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitSchemaError)
	}

	trigger := descriptor.TriggerContext{
		RefName: ref,
		RefKind: descriptor.RefKind(refKind),
	}

	expanded, err := engine.Expand(doc, trigger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitSchemaError)
	}
	included := engine.Filter(expanded, trigger)

	if dryRun {
		printPlan(doc, included)
		return
	}
	if len(included) == 0 {
		fmt.Printf("no jobs to run for %s %q\n", refKind, ref)
		return
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	sched := engine.NewScheduler(
		engine.NewLocalRunner(),
		engine.NewCacheManager(filepath.Join(dataDir, "cache"), nil),
		engine.NewArtifactManager(filepath.Join(dataDir, "artifacts"), 0),
		workers,
		consoleObserver{},
	)
	state, err := sched.Execute(ctx, engine.Run{
		ID:           time.Now().Unix(),
		Trigger:      trigger,
		Stages:       doc.Stages,
		WorkspaceDir: filepath.Join(dataDir, "workspaces"),
	}, included)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRunFailed)
	}

	fmt.Printf("run %s\n", state)
	if state != engine.StateSucceeded {
		os.Exit(exitRunFailed)
	}
}

func printPlan(doc *descriptor.Document, jobs []*engine.ExpandedJob) {
	byStage := make(map[string][]*engine.ExpandedJob, len(doc.Stages))
	for _, job := range jobs {
		byStage[job.Stage] = append(byStage[job.Stage], job)
	}
	for _, stage := range doc.Stages {
		if len(byStage[stage]) == 0 {
			continue
		}
		fmt.Printf("stage %s:\n", stage)
		for _, job := range byStage[stage] {
			fmt.Printf("  %s\n", job.Name)
		}
	}
}

// consoleObserver streams job lifecycle events and output to stdout.
type consoleObserver struct{}

func (consoleObserver) JobStarted(_ context.Context, job *engine.ExpandedJob) {
	fmt.Printf(">>> %s started\n", job.Name)
}

func (consoleObserver) JobOutput(_ context.Context, job *engine.ExpandedJob, chunk string) {
	fmt.Printf("[%s] %s", job.Name, chunk)
}

func (consoleObserver) JobFinished(
	_ context.Context,
	job *engine.ExpandedJob,
	state engine.State,
	bundle *engine.ArtifactBundle,
	jobErr error,
) {
	if jobErr != nil {
		fmt.Printf(">>> %s %s: %v\n", job.Name, state, jobErr)
		return
	}
	if bundle != nil {
		fmt.Printf(">>> %s %s (artifact %s, %d files)\n",
			job.Name, state, bundle.Name, bundle.Files)
		return
	}
	fmt.Printf(">>> %s %s\n", job.Name, state)
}
