package store

import (
	"context"
	"time"
)

type Pipeline struct {
	PipelineID     int64 `param:"pipeline_id"`
	Name           string
	Description    string
	DescriptorPath string
	Schedule       *string
	ScheduleRef    *string
	ScheduleJobID  *string
	CreatedOn      time.Time
}

type PipelineStore interface {
	CreatePipeline(context.Context, string, string, string) (*Pipeline, error)
	ReadPipelineByID(context.Context, int64) (*Pipeline, error)
	ReadPipelineByName(context.Context, string) (*Pipeline, error)
	ListPipelines(context.Context) ([]*Pipeline, error)
	ListScheduledPipelines(context.Context) ([]*Pipeline, error)
	UpdatePipeline(context.Context, int64, string, string, string) error
	UpdatePipelineSchedule(context.Context, int64, *string, *string, *string) error
	DeletePipeline(context.Context, int64) error
}
