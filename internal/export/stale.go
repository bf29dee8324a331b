package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/imagetext/internal/entity"
	"github.com/joseph-ayodele/imagetext/internal/repository"
)

const (
	staleSheet   = "Stale Jobs"
	resultsSheet = "Results"
)

// Service produces XLSX reports over the job store.
type Service struct {
	jobs   repository.JobRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewService(jobs repository.JobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger, now: time.Now}
}

// StaleJobsXLSX lists PENDING jobs not updated for at least olderThan and
// returns the workbook bytes together with the jobs it contains.
func (s *Service) StaleJobsXLSX(ctx context.Context, olderThan time.Duration, limit int) ([]byte, []*entity.Job, error) {
	start := s.now()
	cutoff := start.Add(-olderThan).UTC()

	jobs, err := s.jobs.ListStale(ctx, cutoff, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query stale jobs: %w", err)
	}

	sh, err := newSheet(staleSheet, []string{"Job ID", "Status", "Original Key", "Created At", "Updated At", "Pending For (min)"})
	if err != nil {
		return nil, nil, err
	}
	for _, j := range jobs {
		sh.append(
			j.ID,
			string(j.Status),
			j.OriginalKey,
			j.CreatedAt.UTC().Format(time.RFC3339),
			j.UpdatedAt.UTC().Format(time.RFC3339),
			int(start.Sub(j.UpdatedAt).Minutes()),
		)
	}
	sh.width("A", "A", 38)
	sh.width("B", "B", 12)
	sh.width("C", "C", 70)
	sh.width("D", "E", 22)
	sh.width("F", "F", 18)

	out, err := sh.bytes()
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("export.stale.ok",
		"rows", len(jobs),
		"cutoff", cutoff.Format(time.RFC3339),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, jobs, nil
}

// ResultsXLSX loads each job and writes one row per job with its outcome.
// Ids that no longer resolve are listed with an empty status.
func (s *Service) ResultsXLSX(ctx context.Context, jobIDs []string) ([]byte, error) {
	sh, err := newSheet(resultsSheet, []string{"Job ID", "Status", "Original Key", "Extracted Text", "Error", "Updated At"})
	if err != nil {
		return nil, err
	}
	for _, id := range jobIDs {
		j, err := s.jobs.Get(ctx, id)
		if err != nil {
			s.logger.Warn("export.results.missing", "job_id", id, "err", err)
			sh.append(id)
			continue
		}
		sh.append(
			j.ID,
			string(j.Status),
			j.OriginalKey,
			deref(j.ExtractedText),
			deref(j.ErrorMessage),
			j.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}
	sh.width("A", "A", 38)
	sh.width("C", "C", 60)
	sh.width("D", "D", 80)
	sh.width("E", "E", 40)
	sh.width("F", "F", 22)
	return sh.bytes()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
