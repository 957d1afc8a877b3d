package store

import (
	"context"
	"time"
)

type Artifact struct {
	ArtifactID    int64 `param:"artifact_id"`
	ArtifactJobID int64
	Name          string
	ArchivePath   string
	Available     bool
	CreatedOn     time.Time
	ExpiresOn     *time.Time
}

// Expired reports whether the artifact's retention has elapsed at the
// given instant. The boundary is exclusive: an artifact requested exactly
// at its expiry is already expired.
func (a *Artifact) Expired(now time.Time) bool {
	return a.ExpiresOn != nil && !now.Before(*a.ExpiresOn)
}

type ArtifactStore interface {
	CreateArtifact(context.Context, int64, string, string, *time.Time) (*Artifact, error)
	ReadArtifactByID(context.Context, int64) (*Artifact, error)
	ListJobArtifacts(context.Context, int64) ([]Artifact, error)
	ListExpiredArtifacts(context.Context, time.Time) ([]Artifact, error)
	MarkArtifactUnavailable(context.Context, int64) error
}
