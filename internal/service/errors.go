package service

import "fmt"

type ErrRunQueueFull struct{}

func (e ErrRunQueueFull) Error() string {
	return "run queue is full"
}

func NewErrRunQueueFull() *ErrRunQueueFull {
	return &ErrRunQueueFull{}
}

type RunCancelError struct {
	Message string
}

func (rce RunCancelError) Error() string {
	return rce.Message
}

// ArtifactUnavailableError is returned for a download of an expired or
// swept artifact. The metadata row stays queryable; only the archive is
// gone.
type ArtifactUnavailableError struct {
	ArtifactID int64
	Name       string
}

func (e ArtifactUnavailableError) Error() string {
	return fmt.Sprintf("artifact %q (%d) is no longer available", e.Name, e.ArtifactID)
}
