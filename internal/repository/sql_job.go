package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/imagetext/constants"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/entity"
)

const jobsTable = "jobs"

var jobColumns = []string{
	"job_id", "status", "original_s3_key", "preprocessed_s3_key",
	"extracted_text", "error_message", "created_at", "updated_at",
}

type sqlJobRepo struct {
	drv *entsql.Driver
	log *slog.Logger
}

// NewSQLJobRepository returns a JobRepository over Postgres or SQLite. The
// schema must already exist (see Migrate).
func NewSQLJobRepository(drv *entsql.Driver, log *slog.Logger) JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &sqlJobRepo{drv: drv, log: log}
}

func (r *sqlJobRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *sqlJobRepo) Create(ctx context.Context, job *entity.Job) error {
	q, args := r.builder().Insert(jobsTable).
		Columns("job_id", "status", "original_s3_key", "created_at", "updated_at").
		Values(job.ID, string(job.Status), job.OriginalKey, job.CreatedAt.UnixMicro(), job.UpdatedAt.UnixMicro()).
		OnConflict(entsql.ConflictColumns("job_id"), entsql.DoNothing()).
		Query()
	res, err := r.drv.ExecContext(ctx, q, args...)
	if err != nil {
		r.log.Error("job create failed", "job_id", job.ID, "err", err)
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("create job %s: %w", job.ID, common.ErrJobExists)
	}
	r.log.Debug("job created", "job_id", job.ID)
	return nil
}

func (r *sqlJobRepo) Get(ctx context.Context, jobID string) (*entity.Job, error) {
	b := r.builder()
	q, args := b.Select(jobColumns...).
		From(b.Table(jobsTable)).
		Where(entsql.EQ("job_id", jobID)).
		Query()
	rows, err := r.drv.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("get job %s: %w", jobID, common.ErrJobNotFound)
	}
	return jobs[0], nil
}

func (r *sqlJobRepo) Complete(ctx context.Context, jobID string, c entity.Completion) error {
	q, args := r.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusCompleted)).
		Set("extracted_text", c.ExtractedText).
		Set("preprocessed_s3_key", c.DerivedKey).
		Set("updated_at", c.At.UnixMicro()).
		Where(entsql.And(
			entsql.EQ("job_id", jobID),
			entsql.EQ("status", string(constants.JobStatusPending)),
		)).
		Query()
	return r.transition(ctx, jobID, constants.JobStatusCompleted, q, args)
}

func (r *sqlJobRepo) Fail(ctx context.Context, jobID string, f entity.Failure) error {
	q, args := r.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusFailed)).
		Set("error_message", f.Message).
		Set("updated_at", f.At.UnixMicro()).
		Where(entsql.And(
			entsql.EQ("job_id", jobID),
			entsql.EQ("status", string(constants.JobStatusPending)),
		)).
		Query()
	return r.transition(ctx, jobID, constants.JobStatusFailed, q, args)
}

// transition runs a conditional UPDATE and classifies a zero-row result as
// either a missing record or a lost compare-and-swap.
func (r *sqlJobRepo) transition(ctx context.Context, jobID string, to constants.JobStatus, q string, args []any) error {
	res, err := r.drv.ExecContext(ctx, q, args...)
	if err != nil {
		r.log.Error("job transition failed", "job_id", jobID, "to", to, "err", err)
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if n == 1 {
		r.log.Info("job transitioned", "job_id", jobID, "to", to)
		return nil
	}
	if _, err := r.Get(ctx, jobID); err != nil {
		return err
	}
	return fmt.Errorf("update job %s to %s: %w", jobID, to, common.ErrConflict)
}

func (r *sqlJobRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*entity.Job, error) {
	b := r.builder()
	sel := b.Select(jobColumns...).
		From(b.Table(jobsTable)).
		Where(entsql.And(
			entsql.EQ("status", string(constants.JobStatusPending)),
			entsql.LT("updated_at", olderThan.UnixMicro()),
		)).
		OrderBy(entsql.Asc("updated_at"))
	if limit > 0 {
		sel.Limit(limit)
	}
	q, args := sel.Query()
	rows, err := r.drv.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*entity.Job, error) {
	defer rows.Close()
	var out []*entity.Job
	for rows.Next() {
		var (
			j                    entity.Job
			status               string
			derived, text, msg   sql.NullString
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&j.ID, &status, &j.OriginalKey, &derived, &text, &msg, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		j.Status = constants.JobStatus(status)
		if !j.Status.Valid() {
			return nil, errors.New("unknown job status " + status)
		}
		if derived.Valid {
			j.DerivedKey = strPtr(derived.String)
		}
		if text.Valid {
			j.ExtractedText = strPtr(text.String)
		}
		if msg.Valid {
			j.ErrorMessage = strPtr(msg.String)
		}
		j.CreatedAt = time.UnixMicro(createdAt).UTC()
		j.UpdatedAt = time.UnixMicro(updatedAt).UTC()
		out = append(out, &j)
	}
	return out, rows.Err()
}
