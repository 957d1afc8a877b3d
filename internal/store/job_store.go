package store

import (
	"context"
	"time"
)

type Job struct {
	JobID        int64 `param:"job_id"`
	JobRunID     int64
	Name         string
	SpecName     string
	Axis         string
	Stage        string
	AllowFailure bool
	Status       RunStatus
	Output       *string
	StartedOn    *time.Time
	EndedOn      *time.Time
}

type JobStore interface {
	CreateJob(context.Context, int64, string, string, string, string, bool) (*Job, error)
	ReadJobByID(context.Context, int64) (*Job, error)
	ReadRunJobByName(context.Context, int64, string) (*Job, error)
	UpdateJobStartedOn(context.Context, int64, RunStatus, *time.Time) error
	UpdateJobEndedOn(context.Context, int64, RunStatus, *time.Time) error
	AppendJobOutput(context.Context, int64, string) error
	ListRunJobs(context.Context, int64) ([]Job, error)
}
