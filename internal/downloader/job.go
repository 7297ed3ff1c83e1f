package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hdget/internal/domain"
)

// runJob drives one job through its lifecycle:
// resolving → downloading → assembling → (muxing) → done.
func (m *manager) runJob(ctx context.Context, state *jobState) {
	job, progress := state.job, state.progress
	logger := m.cfg.Logger.WithField("job_id", job.ID)

	transition := func(next domain.JobStatus) bool {
		state.mu.Lock()
		err := job.Transition(next)
		state.mu.Unlock()
		if err != nil {
			logger.Errorf("lifecycle bug: %v", err)
			return false
		}
		// Recording must survive job cancellation.
		if err := m.jobs.UpdateStatus(context.Background(), job.ID, next, nil); err != nil {
			logger.Warnf("record status %s: %v", next, err)
		}
		return true
	}

	fail := func(failErr error) {
		state.mu.Lock()
		job.Status = domain.JobStatusFailed
		job.ErrorMessage = failErr.Error()
		state.mu.Unlock()
		msg := failErr.Error()
		_ = m.jobs.UpdateStatus(context.Background(), job.ID, domain.JobStatusFailed, &msg)
		logger.Errorf("job failed: %v", failErr)
		if m.cfg.AllOrNothing {
			logger.Warn("all-or-nothing mode, canceling sibling jobs")
			go m.cancelAll()
		}
	}

	markCanceled := func() {
		state.mu.Lock()
		job.Status = domain.JobStatusCanceled
		state.mu.Unlock()
		msg := "canceled"
		_ = m.jobs.UpdateStatus(context.Background(), job.ID, domain.JobStatusCanceled, &msg)
		logger.Info("job canceled")
	}

	if !transition(domain.JobStatusResolving) {
		return
	}

	locators, err := m.resolver.Resolve(ctx, job.Identifier, job.Quality, job.AudioOnly)
	if err != nil {
		if ctx.Err() != nil {
			markCanceled()
			return
		}
		fail(err)
		return
	}
	if len(locators) == 0 {
		fail(&domain.ResolveError{Identifier: job.Identifier, Err: errors.New("resolver returned no locators")})
		return
	}

	total := int64(0)
	for _, loc := range locators {
		if !loc.SizeKnown() {
			total = domain.SizeUnknown
			break
		}
		total += loc.TotalSize
	}
	if total >= 0 {
		progress.SetTotal(total)
	}

	finalPath := filepath.Join(m.cfg.OutputDir, outputName(job, locators))
	state.mu.Lock()
	job.OutputPath = finalPath
	job.TotalSize = total
	state.mu.Unlock()
	if err := m.jobs.UpdateDownloadInfo(context.Background(), job.ID, finalPath, total); err != nil {
		logger.Warnf("record download info: %v", err)
	}

	if !transition(domain.JobStatusDownloading) {
		return
	}
	logger.Infof("downloading %s (%d streams, %s)", job.Identifier, len(locators), sizeLabel(total))

	stopTicker := m.startProgressTicker(ctx, state)
	defer stopTicker()

	type fetched struct {
		path string
		asm  Assembler
	}
	var streams []fetched
	abortAll := func() {
		for _, s := range streams {
			if err := s.asm.Abort(); err != nil {
				logger.Warnf("discard partial %s: %v", s.path, err)
			}
		}
	}

	for _, loc := range locators {
		streamPath := streamPath(finalPath, loc, len(locators) > 1)
		asm, err := m.fetchLocator(ctx, loc, streamPath, progress, logger)
		if err != nil {
			abortAll()
			if ctx.Err() != nil {
				markCanceled()
				return
			}
			fail(err)
			return
		}
		streams = append(streams, fetched{path: streamPath, asm: asm})
	}
	stopTicker()

	if !transition(domain.JobStatusAssembling) {
		abortAll()
		return
	}
	for _, s := range streams {
		if err := s.asm.Complete(); err != nil {
			abortAll()
			fail(fmt.Errorf("assemble %s: %w", s.path, err))
			return
		}
	}

	if len(streams) == 2 {
		if !transition(domain.JobStatusMuxing) {
			return
		}
		logger.Info("muxing video and audio streams")
		if err := m.muxer.Mux(ctx, streams[0].path, streams[1].path, finalPath); err != nil {
			if ctx.Err() != nil {
				markCanceled()
				return
			}
			// Elementary streams stay on disk for manual recovery.
			fail(err)
			return
		}
		for _, s := range streams {
			if err := os.Remove(s.path); err != nil {
				logger.Warnf("remove elementary stream %s: %v", s.path, err)
			}
		}
	}

	remote := ""
	if m.storage != nil {
		opts := m.cfg.UploadOptions
		opts.ProgressCallback = newUploadProgressLogger(logger)

		logger.Infof("uploading %s", finalPath)
		dest, err := m.storage.UploadFile(ctx, finalPath, opts)
		if err != nil {
			if ctx.Err() != nil {
				markCanceled()
				return
			}
			fail(fmt.Errorf("upload: %w", err))
			return
		}
		remote = dest
		state.mu.Lock()
		job.Remote = dest
		state.mu.Unlock()
	}

	if !transition(domain.JobStatusDone) {
		return
	}
	if err := m.jobs.MarkCompleted(context.Background(), job.ID, remote); err != nil {
		logger.Warnf("record completion: %v", err)
	}
	logger.Infof("job done: %s", finalPath)
}

// fetchLocator plans, allocates the output sink, and pulls every segment.
// The returned assembler has all segments committed but is not finalized.
func (m *manager) fetchLocator(ctx context.Context, loc domain.Locator, outPath string, progress *Progress, logger *logrus.Entry) (Assembler, error) {
	segments, err := Plan(loc, m.cfg.Threads)
	if err != nil {
		var rangeErr *domain.UnsupportedRangeError
		if !errors.As(err, &rangeErr) {
			return nil, err
		}
		logger.Warnf("server does not support ranges, falling back to a single stream")
		if segments, err = Plan(loc, 1); err != nil {
			return nil, err
		}
	}

	asm, err := newAssemblerFor(loc, outPath, len(segments))
	if err != nil {
		return nil, err
	}

	if err := m.fetcher.FetchAll(ctx, loc, segments, asm, m.cfg.Threads, progress); err != nil {
		asm.Abort()
		return nil, err
	}
	return asm, nil
}

// newAssemblerFor picks the assembly strategy: a pre-sized random-access
// file when the size is known and the server honors ranges, otherwise a
// sequential sink since the output cannot be pre-sized.
func newAssemblerFor(loc domain.Locator, path string, planned int) (Assembler, error) {
	if loc.SizeKnown() && loc.SupportsRanges && loc.TotalSize > 0 {
		return NewFileAssembler(path, loc.TotalSize, planned)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return &sequentialFileAssembler{
		SequentialAssembler: NewSequentialAssembler(file, planned),
		file:                file,
		path:                path,
	}, nil
}

// sequentialFileAssembler owns the file underneath a sequential sink.
type sequentialFileAssembler struct {
	*SequentialAssembler
	file *os.File
	path string
}

func (a *sequentialFileAssembler) Complete() error {
	if err := a.SequentialAssembler.Complete(); err != nil {
		a.file.Close()
		return err
	}
	if err := a.file.Sync(); err != nil {
		a.file.Close()
		return fmt.Errorf("sync output: %w", err)
	}
	return a.file.Close()
}

func (a *sequentialFileAssembler) Abort() error {
	a.SequentialAssembler.Abort()
	a.file.Close()
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// startProgressTicker reports progress and speed periodically until stopped.
func (m *manager) startProgressTicker(ctx context.Context, state *jobState) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		logger := m.cfg.Logger.WithField("job_id", state.job.ID)
		ticker := time.NewTicker(m.cfg.StatusInterval)
		defer ticker.Stop()

		lastBytes := state.progress.Done()
		lastTime := time.Now()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				bytesDone := state.progress.Done()
				elapsed := time.Since(lastTime).Seconds()
				speed := int64(0)
				if elapsed > 0 {
					speed = int64(float64(bytesDone-lastBytes) / elapsed)
				}
				lastBytes = bytesDone
				lastTime = time.Now()

				state.mu.Lock()
				state.speed = speed
				state.mu.Unlock()

				if err := m.jobs.UpdateProgress(context.Background(), state.job.ID, bytesDone, speed); err != nil {
					logger.Warnf("record progress: %v", err)
				}

				if pct := state.progress.Percent(); pct >= 0 {
					logger.Infof("progress %d%% (%s/%s) at %s/s", pct, formatBytes(bytesDone), formatBytes(state.progress.Total()), formatBytes(speed))
				} else {
					logger.Infof("progress %s at %s/s", formatBytes(bytesDone), formatBytes(speed))
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// newUploadProgressLogger throttles upload progress lines to twice a second.
func newUploadProgressLogger(logger *logrus.Entry) func(done, total int64) {
	var lastLog time.Time
	return func(done, total int64) {
		now := time.Now()
		if now.Sub(lastLog) < 500*time.Millisecond && done != total {
			return
		}
		lastLog = now
		if total <= 0 {
			logger.Infof("upload progress: %s uploaded", formatBytes(done))
			return
		}
		percent := float64(done) / float64(total) * 100
		logger.Infof("upload progress: %.1f%% (%s/%s)", percent, formatBytes(done), formatBytes(total))
	}
}

// outputName derives the artifact file name from the identifier, falling
// back to the job id for opaque identifiers.
func outputName(job *domain.Job, locators []domain.Locator) string {
	base := fmt.Sprintf("video-%s", shortID(job.ID))
	if parsed, err := url.Parse(job.Identifier); err == nil && parsed.Path != "" {
		name := strings.TrimSuffix(path.Base(parsed.Path), path.Ext(parsed.Path))
		if name != "" && name != "." && name != "/" {
			base = name
		}
	}

	container := ""
	for _, loc := range locators {
		if job.AudioOnly || loc.Kind != domain.MediaKindAudio {
			container = loc.Container
			break
		}
	}
	if container == "" {
		if job.AudioOnly {
			container = "m4a"
		} else {
			container = "mp4"
		}
	}
	return base + "." + container
}

// streamPath names the temporary elementary stream files of a two-stream
// job; single-stream jobs download straight into the final path.
func streamPath(finalPath string, loc domain.Locator, multi bool) string {
	if !multi {
		return finalPath
	}
	ext := loc.Container
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s.%s-only.%s", strings.TrimSuffix(finalPath, filepath.Ext(finalPath)), loc.Kind, ext)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sizeLabel(total int64) string {
	if total < 0 {
		return "size unknown"
	}
	return formatBytes(total)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}
