package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/joseph-ayodele/imagetext/constants"
	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/entity"
)

const testJobID = "3f1c2a9e-8d4b-4c6f-9a1e-2b7d5e0f6a13"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteRepo(t *testing.T) JobRepository {
	t.Helper()
	drv, err := OpenSQLite(":memory:", quietLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = drv.Close() })
	if err := Migrate(context.Background(), drv); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLJobRepository(drv, quietLogger())
}

// exerciseRepository runs the behaviour shared by every JobRepository backend.
func exerciseRepository(t *testing.T, repo JobRepository) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		if err := repo.Create(ctx, entity.NewPendingJob(testJobID, "original-images/"+testJobID+"-receipt.png", created)); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := repo.Get(ctx, testJobID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != constants.JobStatusPending || got.OriginalKey != "original-images/"+testJobID+"-receipt.png" {
			t.Fatalf("unexpected job %+v", got)
		}
		if got.DerivedKey != nil || got.ExtractedText != nil || got.ErrorMessage != nil {
			t.Fatalf("pending job has terminal attributes: %+v", got)
		}
		if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(created) {
			t.Fatalf("timestamps = %v / %v", got.CreatedAt, got.UpdatedAt)
		}
	})

	t.Run("duplicate create", func(t *testing.T) {
		err := repo.Create(ctx, entity.NewPendingJob(testJobID, "other", created))
		if !errors.Is(err, common.ErrJobExists) {
			t.Fatalf("expected ErrJobExists, got %v", err)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		if _, err := repo.Get(ctx, "missing"); !errors.Is(err, common.ErrJobNotFound) {
			t.Fatalf("get: expected ErrJobNotFound, got %v", err)
		}
		err := repo.Fail(ctx, "missing", entity.Failure{Message: "x", At: created})
		if !errors.Is(err, common.ErrJobNotFound) {
			t.Fatalf("fail: expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("stale listing", func(t *testing.T) {
		stale, err := repo.ListStale(ctx, created.Add(time.Minute), 10)
		if err != nil {
			t.Fatalf("list stale: %v", err)
		}
		if len(stale) != 1 || stale[0].ID != testJobID {
			t.Fatalf("stale = %+v", stale)
		}
		stale, _ = repo.ListStale(ctx, created, 10)
		if len(stale) != 0 {
			t.Fatalf("job updated at the threshold must not be stale: %+v", stale)
		}
	})

	completedAt := created.Add(3 * time.Second)
	t.Run("complete", func(t *testing.T) {
		err := repo.Complete(ctx, testJobID, entity.Completion{
			ExtractedText: "Total: $12.00\nThank you",
			DerivedKey:    "preprocessed-images/" + testJobID + "-preprocessed.png",
			At:            completedAt,
		})
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		got, _ := repo.Get(ctx, testJobID)
		if got.Status != constants.JobStatusCompleted || got.ExtractedText == nil || *got.ExtractedText != "Total: $12.00\nThank you" {
			t.Fatalf("unexpected job %+v", got)
		}
		if got.ErrorMessage != nil || got.DerivedKey == nil || !got.UpdatedAt.Equal(completedAt) {
			t.Fatalf("unexpected job %+v", got)
		}
	})

	t.Run("terminal state is final", func(t *testing.T) {
		err := repo.Fail(ctx, testJobID, entity.Failure{Message: "late", At: completedAt.Add(time.Second)})
		if !errors.Is(err, common.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		err = repo.Complete(ctx, testJobID, entity.Completion{ExtractedText: "other", DerivedKey: "k", At: completedAt.Add(time.Second)})
		if !errors.Is(err, common.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		got, _ := repo.Get(ctx, testJobID)
		if *got.ExtractedText != "Total: $12.00\nThank you" || got.ErrorMessage != nil || !got.UpdatedAt.Equal(completedAt) {
			t.Fatalf("terminal record changed: %+v", got)
		}
		stale, _ := repo.ListStale(ctx, completedAt.Add(time.Hour), 0)
		if len(stale) != 0 {
			t.Fatalf("terminal job listed as stale: %+v", stale)
		}
	})
}

func TestSQLJobRepository(t *testing.T) {
	exerciseRepository(t, newSQLiteRepo(t))
}

func TestSQLJobRepositoryFail(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)
	now := time.Now().UTC().Truncate(time.Microsecond)
	_ = repo.Create(ctx, entity.NewPendingJob(testJobID, "k", now))

	if err := repo.Fail(ctx, testJobID, entity.Failure{Message: "decode image: unknown format", At: now}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := repo.Get(ctx, testJobID)
	if got.Status != constants.JobStatusFailed || got.ErrorMessage == nil || *got.ErrorMessage == "" {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.ExtractedText != nil || got.DerivedKey != nil {
		t.Fatalf("failed job carries completion attributes: %+v", got)
	}
}

func TestSQLJobRepositoryConcurrentTransitions(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)
	now := time.Now().UTC()
	_ = repo.Create(ctx, entity.NewPendingJob(testJobID, "k", now))

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = repo.Complete(ctx, testJobID, entity.Completion{ExtractedText: "t", DerivedKey: "d", At: now})
			} else {
				err = repo.Fail(ctx, testJobID, entity.Failure{Message: "m", At: now})
			}
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case !errors.Is(err, common.ErrConflict):
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", wins)
	}
}

func TestUnavailableJobs(t *testing.T) {
	repo := UnavailableJobs{Reason: "DYNAMODB_TABLE_NAME not set"}
	if _, err := repo.Get(context.Background(), testJobID); !errors.Is(err, common.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
}
