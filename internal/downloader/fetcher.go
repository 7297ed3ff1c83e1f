package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hdget/internal/domain"
	"hdget/internal/ratelimit"
)

const (
	defaultChunkSize      = 128 * 1024
	defaultSegmentRetries = 3
	defaultRetryBackoff   = 500 * time.Millisecond
	maxRetryBackoff       = 8 * time.Second
)

// FetcherConfig tunes the per-job worker pool.
type FetcherConfig struct {
	Client         *http.Client
	Limiter        *ratelimit.Limiter
	Logger         *logrus.Entry
	SegmentRetries int
	RetryBackoff   time.Duration
	ChunkSize      int
}

// Fetcher pulls the segments of one locator in parallel, throttling every
// chunk through the shared rate limiter.
type Fetcher struct {
	cfg FetcherConfig
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.New())
	}
	if cfg.SegmentRetries <= 0 {
		cfg.SegmentRetries = defaultSegmentRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &Fetcher{cfg: cfg}
}

// FetchAll downloads every segment into asm with at most workers in flight.
// Segment completion order is unordered; progress is visible throughout via
// progress. The first segment to exhaust its retries fails the whole fetch.
func (f *Fetcher) FetchAll(ctx context.Context, loc domain.Locator, segments []domain.Segment, asm Assembler, workers int, progress *Progress) error {
	if workers < 1 {
		workers = 1
	}
	if workers > len(segments) {
		workers = len(segments)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan int, len(segments))
	for i := range segments {
		queue <- i
	}
	close(queue)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				if ctx.Err() != nil {
					return
				}
				seg := &segments[idx]
				if err := f.fetchSegment(ctx, loc, seg, asm, progress); err != nil {
					seg.State = domain.SegmentFailed
					fail(err)
					return
				}
				seg.State = domain.SegmentDone
				if err := asm.Commit(seg.Index); err != nil {
					fail(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// fetchSegment streams one byte range into its storage slot, retrying
// transient failures with exponential backoff up to the configured ceiling.
func (f *Fetcher) fetchSegment(ctx context.Context, loc domain.Locator, seg *domain.Segment, asm Assembler, progress *Progress) error {
	var lastErr error
	backoff := f.cfg.RetryBackoff

	for seg.Attempts = 0; seg.Attempts < f.cfg.SegmentRetries; {
		seg.Attempts++
		seg.State = domain.SegmentInFlight

		retriable, err := f.fetchOnce(ctx, loc, seg, asm, progress)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retriable || seg.Attempts >= f.cfg.SegmentRetries {
			break
		}

		f.cfg.Logger.Warnf("segment %d attempt %d failed, retrying in %s: %v", seg.Index, seg.Attempts, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}

	return &domain.SegmentFetchError{Index: seg.Index, Attempts: seg.Attempts, Err: lastErr}
}

// fetchOnce is a single attempt. It reports whether a failure is worth
// retrying (network hiccups and 5xx-class responses are, client errors are
// not). Partial progress from a failed attempt is rolled back so the job
// counter never double-counts retried bytes.
func (f *Fetcher) fetchOnce(ctx context.Context, loc domain.Locator, seg *domain.Segment, asm Assembler, progress *Progress) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL, nil)
	if err != nil {
		return false, err
	}

	ranged := seg.End >= 0 || seg.Start > 0
	if ranged {
		if seg.End >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", seg.Start, seg.End))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", seg.Start))
		}
	}

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	switch {
	case ranged && resp.StatusCode != http.StatusPartialContent:
		return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			fmt.Errorf("range request got %s", resp.Status)
	case !ranged && resp.StatusCode != http.StatusOK:
		return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			fmt.Errorf("unexpected status %s", resp.Status)
	}

	w := asm.SegmentWriter(*seg)
	buf := make([]byte, f.cfg.ChunkSize)
	var written int64

	rollback := func() {
		if written > 0 {
			progress.Add(-written)
		}
	}

	for {
		// Cooperative cancellation at chunk boundaries keeps the slot
		// consistent; a canceled attempt is rolled back like a failed one.
		if err := ctx.Err(); err != nil {
			rollback()
			return false, err
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := f.cfg.Limiter.Acquire(ctx, n); err != nil {
				rollback()
				return false, err
			}
			if _, err := w.Write(buf[:n]); err != nil {
				rollback()
				return false, fmt.Errorf("write segment %d: %w", seg.Index, err)
			}
			written += int64(n)
			progress.Add(int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			rollback()
			return true, fmt.Errorf("read segment %d: %w", seg.Index, readErr)
		}
	}

	if size := seg.Size(); size >= 0 && written != size {
		rollback()
		return true, fmt.Errorf("segment %d short read: %d of %d bytes", seg.Index, written, size)
	}
	return false, nil
}
