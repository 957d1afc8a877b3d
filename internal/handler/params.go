package handler

type PipelineParams struct {
	PipelineID     int64  `param:"pipeline_id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	DescriptorPath string `json:"descriptor_path"`
}

type TriggerParams struct {
	PipelineID int64  `param:"pipeline_id"`
	Ref        string `json:"ref"`
	RefKind    string `json:"ref_kind"`
}

type ScheduleParams struct {
	PipelineID int64   `param:"pipeline_id"`
	Schedule   *string `json:"schedule"`
	Ref        *string `json:"ref"`
}

type RunParams struct {
	RunID int64 `param:"run_id"`
}

type JobParams struct {
	JobID int64 `param:"job_id"`
}

type ArtifactParams struct {
	ArtifactID int64 `param:"artifact_id"`
}

type APIKeyParams struct {
	APIKeyID int64 `param:"api_key_id"`
}
