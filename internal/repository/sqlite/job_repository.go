package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hdget/internal/domain"
	"hdget/internal/repository"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	identifier TEXT NOT NULL,
	quality TEXT NOT NULL DEFAULT '',
	audio_only INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	output_path TEXT NOT NULL DEFAULT '',
	bytes_done INTEGER NOT NULL DEFAULT 0,
	total_size INTEGER NOT NULL DEFAULT 0,
	speed INTEGER NOT NULL DEFAULT 0,
	remote TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME NULL
);
`

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) repository.JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createJobsTable); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO jobs (id, identifier, quality, audio_only, status, output_path, bytes_done, total_size, speed, remote, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Identifier, job.Quality, boolToInt(job.AudioOnly), string(job.Status),
		job.OutputPath, job.BytesDone, job.TotalSize, job.Speed, job.Remote, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errorMessage *string) error {
	msg := ""
	if errorMessage != nil {
		msg = *errorMessage
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id string, bytesDone, speed int64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE jobs SET bytes_done = ?, speed = ?, updated_at = ? WHERE id = ?`,
		bytesDone, speed, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

func (r *JobRepository) UpdateDownloadInfo(ctx context.Context, id, outputPath string, totalSize int64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE jobs SET output_path = ?, total_size = ?, updated_at = ? WHERE id = ?`,
		outputPath, totalSize, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update job download info: %w", err)
	}
	return nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id, remote string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE jobs SET status = ?, remote = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(domain.JobStatusDone), remote, completedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, selectJobs+` WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) List(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, selectJobs+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

const selectJobs = `
SELECT id, identifier, quality, audio_only, status, output_path, bytes_done, total_size, speed, remote, error_message, created_at, updated_at, completed_at
FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job         domain.Job
		audioOnly   int
		status      string
		completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.Identifier, &job.Quality, &audioOnly, &status,
		&job.OutputPath, &job.BytesDone, &job.TotalSize, &job.Speed,
		&job.Remote, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	job.AudioOnly = audioOnly != 0
	job.Status = domain.JobStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
