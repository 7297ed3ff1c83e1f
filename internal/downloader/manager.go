package downloader

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"hdget/internal/domain"
	"hdget/internal/muxer"
	"hdget/internal/ratelimit"
	"hdget/internal/resolver"
	"hdget/internal/service"
	"hdget/internal/storage"
)

// Manager coordinates download jobs: bounded concurrency, cancellation, and
// aggregated progress.
type Manager interface {
	Start(ctx context.Context) error
	Enqueue(req Request) (*domain.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Snapshot() []JobView
	Wait() Summary
	Shutdown()
}

// Request describes one video to download.
type Request struct {
	Identifier string
	Quality    string
	AudioOnly  bool
}

type Config struct {
	OutputDir      string
	Threads        int
	MaxConcurrent  int
	AllOrNothing   bool
	StatusInterval time.Duration
	SegmentRetries int
	RetryBackoff   time.Duration
	ChunkSize      int
	UploadOptions  storage.UploadOptions
	Logger         *logrus.Logger
}

// JobView is a point-in-time snapshot of one job's progress.
type JobView struct {
	ID         string            `json:"id"`
	Identifier string            `json:"identifier"`
	Status     domain.JobStatus  `json:"status"`
	BytesDone  int64             `json:"bytes_done"`
	TotalSize  int64             `json:"total_size"`
	Speed      int64             `json:"speed"`
	OutputPath string            `json:"output_path,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Summary aggregates the terminal states of every enqueued job.
type Summary struct {
	Done     int
	Failed   int
	Canceled int
	Jobs     []JobView
}

// ExitCode maps the summary onto the process exit contract: 0 when every
// job finished, 1 when none did, 2 on partial success.
func (s Summary) ExitCode() int {
	switch {
	case s.Failed == 0 && s.Canceled == 0:
		return 0
	case s.Done > 0:
		return 2
	default:
		return 1
	}
}

type manager struct {
	cfg      Config
	resolver resolver.Resolver
	muxer    muxer.Muxer
	storage  storage.Service
	jobs     service.JobService
	fetcher  *Fetcher
	limiter  *ratelimit.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	queue  chan *jobState

	mu      sync.Mutex
	started bool
	closed  bool
	active  map[string]*jobHandle
	states  []*jobState
}

type jobHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type jobState struct {
	mu       sync.Mutex
	job      *domain.Job
	progress *Progress
	speed    int64
	canceled bool // set when canceled while still queued
}

func (s *jobState) view() JobView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return JobView{
		ID:         s.job.ID,
		Identifier: s.job.Identifier,
		Status:     s.job.Status,
		BytesDone:  s.progress.Done(),
		TotalSize:  s.progress.Total(),
		Speed:      s.speed,
		OutputPath: s.job.OutputPath,
		Error:      s.job.ErrorMessage,
	}
}

// NewManager builds a Manager. storageSvc may be nil (no upload step);
// jobSvc may be the no-op service when history is disabled.
func NewManager(cfg Config, res resolver.Resolver, mux muxer.Muxer, storageSvc storage.Service, jobSvc service.JobService, limiter *ratelimit.Limiter) Manager {
	if cfg.Threads <= 0 {
		cfg.Threads = 4
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if jobSvc == nil {
		jobSvc = service.NewNoop()
	}

	return &manager{
		cfg:      cfg,
		resolver: res,
		muxer:    mux,
		storage:  storageSvc,
		jobs:     jobSvc,
		limiter:  limiter,
		fetcher: NewFetcher(FetcherConfig{
			Client:         http.DefaultClient,
			Limiter:        limiter,
			Logger:         cfg.Logger.WithField("component", "fetcher"),
			SegmentRetries: cfg.SegmentRetries,
			RetryBackoff:   cfg.RetryBackoff,
			ChunkSize:      cfg.ChunkSize,
		}),
		queue:  make(chan *jobState, 1024),
		active: map[string]*jobHandle{},
	}
}

func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("manager already started")
	}
	if err := os.MkdirAll(m.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started = true

	for i := 0; i < m.cfg.MaxConcurrent; i++ {
		m.wg.Add(1)
		go m.worker()
	}

	m.cfg.Logger.Infof("download manager started, output dir: %s, %d slots", m.cfg.OutputDir, m.cfg.MaxConcurrent)
	return nil
}

// worker pulls queued jobs in FIFO order; at most MaxConcurrent jobs are in
// a non-terminal state at once.
func (m *manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			m.drainCanceled()
			return
		case state, ok := <-m.queue:
			if !ok {
				return
			}
			m.dispatch(state)
		}
	}
}

// drainCanceled marks still-queued jobs canceled after shutdown. Only one
// worker wins each queue element, so this is race-free.
func (m *manager) drainCanceled() {
	for {
		select {
		case state, ok := <-m.queue:
			if !ok {
				return
			}
			m.finishQueued(state, domain.JobStatusCanceled, "scheduler shut down")
		default:
			return
		}
	}
}

func (m *manager) dispatch(state *jobState) {
	state.mu.Lock()
	canceled := state.canceled
	state.mu.Unlock()
	if canceled {
		m.finishQueued(state, domain.JobStatusCanceled, "canceled while queued")
		return
	}

	jobCtx, cancel := context.WithCancel(m.ctx)
	handle := &jobHandle{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.active[state.job.ID] = handle
	m.mu.Unlock()

	m.runJob(jobCtx, state)

	cancel()
	m.mu.Lock()
	delete(m.active, state.job.ID)
	m.mu.Unlock()
	close(handle.done)
}

func (m *manager) finishQueued(state *jobState, status domain.JobStatus, reason string) {
	state.mu.Lock()
	state.job.Status = status
	state.job.ErrorMessage = reason
	state.mu.Unlock()
	msg := reason
	_ = m.jobs.UpdateStatus(context.Background(), state.job.ID, status, &msg)
}

func (m *manager) Enqueue(req Request) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil, fmt.Errorf("manager not started")
	}
	if m.closed {
		return nil, fmt.Errorf("manager is draining")
	}

	job := &domain.Job{
		ID:         uuid.NewString(),
		Identifier: req.Identifier,
		Quality:    req.Quality,
		AudioOnly:  req.AudioOnly,
		Status:     domain.JobStatusQueued,
		TotalSize:  domain.SizeUnknown,
	}
	state := &jobState{job: job, progress: &Progress{}}
	m.states = append(m.states, state)

	if err := m.jobs.Create(m.ctx, job); err != nil {
		m.cfg.Logger.Warnf("record job %s: %v", job.ID, err)
	}

	select {
	case m.queue <- state:
	default:
		return nil, fmt.Errorf("job queue is full")
	}
	return job, nil
}

func (m *manager) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	handle, running := m.active[jobID]
	var queued *jobState
	if !running {
		for _, state := range m.states {
			if state.job.ID == jobID {
				queued = state
				break
			}
		}
	}
	m.mu.Unlock()

	if running {
		handle.cancel()
		select {
		case <-handle.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if queued != nil {
		queued.mu.Lock()
		if !queued.job.Status.IsTerminal() {
			queued.canceled = true
		}
		queued.mu.Unlock()
	}
	return nil
}

func (m *manager) Snapshot() []JobView {
	m.mu.Lock()
	states := make([]*jobState, len(m.states))
	copy(states, m.states)
	m.mu.Unlock()

	views := make([]JobView, len(states))
	for i, state := range states {
		views[i] = state.view()
	}
	return views
}

// Wait closes the queue, blocks until every enqueued job reaches a terminal
// state, and returns the aggregate summary.
func (m *manager) Wait() Summary {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	m.wg.Wait()

	var summary Summary
	for _, view := range m.Snapshot() {
		summary.Jobs = append(summary.Jobs, view)
		switch view.Status {
		case domain.JobStatusDone:
			summary.Done++
		case domain.JobStatusCanceled:
			summary.Canceled++
		default:
			summary.Failed++
		}
	}
	return summary
}

// Shutdown cancels all active jobs. Jobs that already completed stay done.
func (m *manager) Shutdown() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.cfg.Logger.Info("download manager stopped")
}

// cancelAll is the all-or-nothing escalation: the first failure tears down
// every sibling.
func (m *manager) cancelAll() {
	m.mu.Lock()
	for _, handle := range m.active {
		handle.cancel()
	}
	for _, state := range m.states {
		state.mu.Lock()
		if state.job.Status == domain.JobStatusQueued {
			state.canceled = true
		}
		state.mu.Unlock()
	}
	m.mu.Unlock()
}

var _ Manager = (*manager)(nil)
