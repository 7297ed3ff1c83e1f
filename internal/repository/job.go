package repository

import (
	"context"
	"time"

	"hdget/internal/domain"
)

// JobRepository exposes persistence operations for download job records.
type JobRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, job *domain.Job) error
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errorMessage *string) error
	UpdateProgress(ctx context.Context, id string, bytesDone, speed int64) error
	UpdateDownloadInfo(ctx context.Context, id, outputPath string, totalSize int64) error
	MarkCompleted(ctx context.Context, id, remote string, completedAt time.Time) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context) ([]domain.Job, error)
}
