package downloader

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hdget/internal/domain"
)

// mediaServer serves payload with range support and can inject failures for
// the first failN requests.
func mediaServer(payload []byte, failN int32, failCode int) (*httptest.Server, *atomic.Int32) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if n <= failN {
			w.WriteHeader(failCode)
			return
		}
		http.ServeContent(w, r, "clip.mp4", time.Unix(0, 0), bytes.NewReader(payload))
	}))
	return srv, &requests
}

func testFetcher(retries int) *Fetcher {
	return NewFetcher(FetcherConfig{
		SegmentRetries: retries,
		RetryBackoff:   5 * time.Millisecond,
		ChunkSize:      1024,
	})
}

func fetchToFile(t *testing.T, f *Fetcher, url string, size int64, threads int) ([]byte, *Progress, error) {
	t.Helper()
	loc := domain.Locator{URL: url, TotalSize: size, SupportsRanges: true}
	segments, err := Plan(loc, threads)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.bin")
	asm, err := NewFileAssembler(path, size, len(segments))
	require.NoError(t, err)

	progress := &Progress{}
	progress.SetTotal(size)

	if err := f.FetchAll(context.Background(), loc, segments, asm, threads, progress); err != nil {
		asm.Abort()
		return nil, progress, err
	}
	require.NoError(t, asm.Complete())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	return got, progress, nil
}

func TestFetcher_ParallelFetchMatchesReference(t *testing.T) {
	payload := referenceBytes(256*1024 + 19)
	srv, _ := mediaServer(payload, 0, 0)
	defer srv.Close()

	got, progress, err := fetchToFile(t, testFetcher(3), srv.URL, int64(len(payload)), 4)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, int64(len(payload)), progress.Done())
	require.Equal(t, 100, progress.Percent())
}

func TestFetcher_SingleOpenEndedSegment(t *testing.T) {
	payload := referenceBytes(40 * 1024)
	srv, _ := mediaServer(payload, 0, 0)
	defer srv.Close()

	loc := domain.Locator{URL: srv.URL, TotalSize: domain.SizeUnknown, SupportsRanges: false}
	segments, err := Plan(loc, 1)
	require.NoError(t, err)

	var sink bytes.Buffer
	asm := NewSequentialAssembler(&sink, len(segments))
	progress := &Progress{}

	require.NoError(t, testFetcher(3).FetchAll(context.Background(), loc, segments, asm, 1, progress))
	require.NoError(t, asm.Complete())
	require.Equal(t, payload, sink.Bytes())
	require.Equal(t, int64(len(payload)), progress.Done())
}

func TestFetcher_RetriesTransientServerErrors(t *testing.T) {
	payload := referenceBytes(16 * 1024)
	srv, requests := mediaServer(payload, 2, http.StatusInternalServerError)
	defer srv.Close()

	got, progress, err := fetchToFile(t, testFetcher(3), srv.URL, int64(len(payload)), 2)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	// Retried bytes must not be double counted.
	require.Equal(t, int64(len(payload)), progress.Done())
	require.GreaterOrEqual(t, requests.Load(), int32(4))
}

func TestFetcher_RetryCeilingFailsJob(t *testing.T) {
	payload := referenceBytes(8 * 1024)
	srv, _ := mediaServer(payload, 1<<30, http.StatusBadGateway)
	defer srv.Close()

	_, progress, err := fetchToFile(t, testFetcher(3), srv.URL, int64(len(payload)), 2)
	require.Error(t, err)

	var fetchErr *domain.SegmentFetchError
	require.True(t, errors.As(err, &fetchErr), "error is %T", err)
	require.Equal(t, 3, fetchErr.Attempts)
	require.Zero(t, progress.Done())
}

func TestFetcher_ClientErrorFailsFast(t *testing.T) {
	payload := referenceBytes(8 * 1024)
	srv, requests := mediaServer(payload, 1<<30, http.StatusNotFound)
	defer srv.Close()

	_, _, err := fetchToFile(t, testFetcher(3), srv.URL, int64(len(payload)), 1)
	require.Error(t, err)

	var fetchErr *domain.SegmentFetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, 1, fetchErr.Attempts)
	require.Equal(t, int32(1), requests.Load())
}

func TestFetcher_CancelStopsWorkers(t *testing.T) {
	payload := referenceBytes(1 << 20)
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.WriteHeader(http.StatusOK)
		w.Write(payload[:1024])
		w.(http.Flusher).Flush()
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	loc := domain.Locator{URL: srv.URL, TotalSize: domain.SizeUnknown, SupportsRanges: false}
	segments, _ := Plan(loc, 1)
	asm := NewSequentialAssembler(&bytes.Buffer{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- testFetcher(3).FetchAll(ctx, loc, segments, asm, 1, &Progress{})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not stop after cancel")
	}
}
