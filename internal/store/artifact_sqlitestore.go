package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/stageci/internal"
)

type ArtifactSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewArtifactSQLiteStore(rdb, rwdb *sql.DB) *ArtifactSQLiteStore {
	return &ArtifactSQLiteStore{rdb, rwdb}
}

func (store *ArtifactSQLiteStore) CreateArtifact(
	ctx context.Context,
	jobID int64,
	name, archivePath string,
	expiresOn *time.Time,
) (*Artifact, error) {
	a := &Artifact{
		ArtifactJobID: jobID,
		Name:          name,
		ArchivePath:   archivePath,
		Available:     true,
		ExpiresOn:     expiresOn,
	}
	var expires *string
	if expiresOn != nil {
		formatted := expiresOn.Format(internal.DBTimestampLayout)
		expires = &formatted
	}
	query := `insert into artifacts (
		artifact_job_id,
		name,
		archive_path,
		available,
		expires_on
	)
	values ($1, $2, $3, $4, $5)
	returning artifact_id, created_on`
	if err := sqlscan.Get(
		ctx, store.rwdb, a, query,
		a.ArtifactJobID, a.Name, a.ArchivePath, a.Available, expires,
	); err != nil {
		return nil, err
	}
	return a, nil
}

func (store *ArtifactSQLiteStore) ReadArtifactByID(ctx context.Context, id int64) (*Artifact, error) {
	a := &Artifact{ArtifactID: id}
	query := "select * from artifacts where artifact_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, a, query, a.ArtifactID); err != nil {
		return nil, err
	}
	return a, nil
}

func (store *ArtifactSQLiteStore) ListJobArtifacts(ctx context.Context, jobID int64) ([]Artifact, error) {
	query := `select * from artifacts
	where artifact_job_id = $1
	order by artifact_id`
	artifacts := make([]Artifact, 0)
	err := sqlscan.Select(ctx, store.rdb, &artifacts, query, jobID)
	return artifacts, err
}

func (store *ArtifactSQLiteStore) ListExpiredArtifacts(
	ctx context.Context,
	now time.Time,
) ([]Artifact, error) {
	query := `select * from artifacts
	where available = 1
	and expires_on is not null
	and expires_on <= $1`
	artifacts := make([]Artifact, 0)
	err := sqlscan.Select(
		ctx, store.rdb, &artifacts, query,
		now.Format(internal.DBTimestampLayout),
	)
	return artifacts, err
}

// MarkArtifactUnavailable flips availability off while keeping the row for
// audit.
func (store *ArtifactSQLiteStore) MarkArtifactUnavailable(ctx context.Context, id int64) error {
	query := `update artifacts
	set available = 0
	where artifact_id = $1`
	_, err := store.rwdb.ExecContext(ctx, query, id)
	return err
}
