package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/stageci/internal"
)

type JobSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewJobSQLiteStore(rdb, rwdb *sql.DB) *JobSQLiteStore {
	return &JobSQLiteStore{rdb, rwdb}
}

func (store *JobSQLiteStore) CreateJob(
	ctx context.Context,
	runID int64,
	name, specName, axis, stage string,
	allowFailure bool,
) (*Job, error) {
	j := &Job{
		JobRunID:     runID,
		Name:         name,
		SpecName:     specName,
		Axis:         axis,
		Stage:        stage,
		AllowFailure: allowFailure,
		Status:       StatusPending,
	}
	query := `insert into jobs (
		job_run_id,
		name,
		spec_name,
		axis,
		stage,
		allow_failure,
		status
	)
	values ($1, $2, $3, $4, $5, $6, $7)
	returning job_id`
	if err := sqlscan.Get(
		ctx, store.rwdb, j, query,
		j.JobRunID, j.Name, j.SpecName, j.Axis, j.Stage, j.AllowFailure, j.Status,
	); err != nil {
		return nil, err
	}
	return j, nil
}

func (store *JobSQLiteStore) ReadJobByID(ctx context.Context, id int64) (*Job, error) {
	j := &Job{JobID: id}
	query := "select * from jobs where job_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, j, query, j.JobID); err != nil {
		return nil, err
	}
	return j, nil
}

func (store *JobSQLiteStore) ReadRunJobByName(
	ctx context.Context,
	runID int64,
	name string,
) (*Job, error) {
	j := new(Job)
	query := "select * from jobs where job_run_id = $1 and name = $2"
	if err := sqlscan.Get(ctx, store.rdb, j, query, runID, name); err != nil {
		return nil, err
	}
	return j, nil
}

func (store *JobSQLiteStore) UpdateJobStartedOn(
	ctx context.Context,
	id int64,
	status RunStatus,
	startedOn *time.Time,
) error {
	query := `update jobs
	set status = $1,
		started_on = $2
	where job_id = $3`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		status,
		startedOn.Format(internal.DBTimestampLayout),
		id,
	)
	return err
}

func (store *JobSQLiteStore) UpdateJobEndedOn(
	ctx context.Context,
	id int64,
	status RunStatus,
	endedOn *time.Time,
) error {
	query := `update jobs
	set status = $1,
		ended_on = $2
	where job_id = $3`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		status,
		endedOn.Format(internal.DBTimestampLayout),
		id,
	)
	return err
}

func (store *JobSQLiteStore) AppendJobOutput(ctx context.Context, id int64, out string) error {
	tx, err := store.rwdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	j := &Job{JobID: id}
	readQuery := `select * from jobs where job_id = $1`
	if err := sqlscan.Get(ctx, tx, j, readQuery, j.JobID); err != nil {
		return err
	}

	var existingOutput string
	if j.Output != nil {
		existingOutput = *j.Output
	}
	updateQuery := `update jobs
	set output = $1
	where job_id = $2`
	if _, err := tx.ExecContext(ctx, updateQuery, existingOutput+out, j.JobID); err != nil {
		return err
	}

	return tx.Commit()
}

func (store *JobSQLiteStore) ListRunJobs(ctx context.Context, runID int64) ([]Job, error) {
	query := `select * from jobs
	where job_run_id = $1
	order by job_id`
	jobs := make([]Job, 0)
	err := sqlscan.Select(ctx, store.rdb, &jobs, query, runID)
	return jobs, err
}
