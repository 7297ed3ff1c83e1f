package service

import (
	"context"
	"errors"
	"time"

	"hdget/internal/domain"
	"hdget/internal/repository"
)

// ErrHistoryDisabled is returned by the no-op service for read operations.
var ErrHistoryDisabled = errors.New("job history is disabled")

// JobService records job lifecycle events. The engine calls it on every
// transition; whether anything is persisted depends on the implementation.
type JobService interface {
	Create(ctx context.Context, job *domain.Job) error
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMsg *string) error
	UpdateProgress(ctx context.Context, id string, bytesDone, speed int64) error
	UpdateDownloadInfo(ctx context.Context, id, outputPath string, totalSize int64) error
	MarkCompleted(ctx context.Context, id, remote string) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context) ([]domain.Job, error)
}

type jobService struct {
	jobs repository.JobRepository
}

func NewJobService(jobs repository.JobRepository) JobService {
	return &jobService{jobs: jobs}
}

func (s *jobService) Create(ctx context.Context, job *domain.Job) error {
	return s.jobs.Create(ctx, job)
}

func (s *jobService) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMsg *string) error {
	return s.jobs.UpdateStatus(ctx, id, status, errMsg)
}

func (s *jobService) UpdateProgress(ctx context.Context, id string, bytesDone, speed int64) error {
	return s.jobs.UpdateProgress(ctx, id, bytesDone, speed)
}

func (s *jobService) UpdateDownloadInfo(ctx context.Context, id, outputPath string, totalSize int64) error {
	return s.jobs.UpdateDownloadInfo(ctx, id, outputPath, totalSize)
}

func (s *jobService) MarkCompleted(ctx context.Context, id, remote string) error {
	return s.jobs.MarkCompleted(ctx, id, remote, time.Now())
}

func (s *jobService) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.jobs.Get(ctx, id)
}

func (s *jobService) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.jobs.List(ctx)
}

// NewNoop returns a JobService that records nothing. Used when no history
// database is configured, so the engine leaves no state behind beyond the
// downloaded media files.
func NewNoop() JobService {
	return noopService{}
}

type noopService struct{}

func (noopService) Create(context.Context, *domain.Job) error { return nil }
func (noopService) UpdateStatus(context.Context, string, domain.JobStatus, *string) error {
	return nil
}
func (noopService) UpdateProgress(context.Context, string, int64, int64) error       { return nil }
func (noopService) UpdateDownloadInfo(context.Context, string, string, int64) error  { return nil }
func (noopService) MarkCompleted(context.Context, string, string) error              { return nil }
func (noopService) GetJob(context.Context, string) (*domain.Job, error)              { return nil, ErrHistoryDisabled }
func (noopService) ListJobs(context.Context) ([]domain.Job, error)                   { return nil, ErrHistoryDisabled }
