package repository

import (
	"context"
	"time"

	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/entity"
)

// JobRepository persists Job records. Complete and Fail are compare-and-swap
// transitions: they apply only while the stored status is PENDING and return
// common.ErrConflict otherwise, or common.ErrJobNotFound when no record exists.
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, jobID string) (*entity.Job, error)
	Complete(ctx context.Context, jobID string, c entity.Completion) error
	Fail(ctx context.Context, jobID string, f entity.Failure) error
	// ListStale returns PENDING jobs last updated before olderThan, oldest first.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*entity.Job, error)
}

// UnavailableJobs is the JobRepository used when no job store is configured.
type UnavailableJobs struct{ Reason string }

func (u UnavailableJobs) err() error { return common.Unavailable("job store", u.Reason) }

func (u UnavailableJobs) Create(context.Context, *entity.Job) error { return u.err() }
func (u UnavailableJobs) Get(context.Context, string) (*entity.Job, error) {
	return nil, u.err()
}
func (u UnavailableJobs) Complete(context.Context, string, entity.Completion) error { return u.err() }
func (u UnavailableJobs) Fail(context.Context, string, entity.Failure) error       { return u.err() }
func (u UnavailableJobs) ListStale(context.Context, time.Time, int) ([]*entity.Job, error) {
	return nil, u.err()
}

func strPtr(s string) *string { return &s }
