package downloader

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hdget/internal/domain"
)

// referenceBytes builds a deterministic payload distinguishable at every
// offset.
func referenceBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*31 + i/251)
	}
	return out
}

func shuffledSegments(t *testing.T, size int64, threads int) []domain.Segment {
	t.Helper()
	segments, err := Plan(domain.Locator{URL: "http://example/v", TotalSize: size, SupportsRanges: true}, threads)
	require.NoError(t, err)
	rand.Shuffle(len(segments), func(i, j int) {
		segments[i], segments[j] = segments[j], segments[i]
	})
	return segments
}

func TestFileAssembler_OutOfOrderEquivalence(t *testing.T) {
	const size = 64*1024 + 13
	payload := referenceBytes(size)
	path := filepath.Join(t.TempDir(), "out.mp4")

	segments := shuffledSegments(t, size, 7)
	asm, err := NewFileAssembler(path, size, len(segments))
	require.NoError(t, err)

	for _, seg := range segments {
		w := asm.SegmentWriter(seg)
		_, err := w.Write(payload[seg.Start : seg.End+1])
		require.NoError(t, err)
		require.NoError(t, asm.Commit(seg.Index))
	}
	require.NoError(t, asm.Complete())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFileAssembler_RetryOverwritesSlot(t *testing.T) {
	const size = 4096
	payload := referenceBytes(size)
	path := filepath.Join(t.TempDir(), "out.bin")

	segments := shuffledSegments(t, size, 4)
	asm, err := NewFileAssembler(path, size, len(segments))
	require.NoError(t, err)

	for _, seg := range segments {
		// First attempt dies partway through with garbage.
		w := asm.SegmentWriter(seg)
		_, err := w.Write(bytes.Repeat([]byte{0xFF}, int(seg.Size())/2))
		require.NoError(t, err)

		// Retry gets a fresh writer positioned at the segment start.
		w = asm.SegmentWriter(seg)
		_, err = w.Write(payload[seg.Start : seg.End+1])
		require.NoError(t, err)
		require.NoError(t, asm.Commit(seg.Index))
	}
	require.NoError(t, asm.Complete())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFileAssembler_CompleteRequiresAllSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	asm, err := NewFileAssembler(path, 1024, 2)
	require.NoError(t, err)
	defer asm.Abort()

	require.NoError(t, asm.Commit(0))
	require.Error(t, asm.Complete())
}

func TestFileAssembler_AbortRemovesOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	asm, err := NewFileAssembler(path, 1024, 1)
	require.NoError(t, err)

	require.NoError(t, asm.Abort())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestSequentialAssembler_OutOfOrderEquivalence(t *testing.T) {
	const size = 32*1024 + 5
	payload := referenceBytes(size)

	for trial := 0; trial < 10; trial++ {
		var sink bytes.Buffer
		segments := shuffledSegments(t, size, 6)
		asm := NewSequentialAssembler(&sink, len(segments))

		for _, seg := range segments {
			w := asm.SegmentWriter(seg)
			_, err := w.Write(payload[seg.Start : seg.End+1])
			require.NoError(t, err)
			require.NoError(t, asm.Commit(seg.Index))
		}
		require.NoError(t, asm.Complete())
		require.Equal(t, payload, sink.Bytes(), "trial %d", trial)
	}
}

func TestSequentialAssembler_RetryDiscardsPartialBytes(t *testing.T) {
	payload := referenceBytes(1024)
	var sink bytes.Buffer

	seg := domain.Segment{Index: 0, Start: 0, End: 1023}
	asm := NewSequentialAssembler(&sink, 1)

	w := asm.SegmentWriter(seg)
	_, _ = w.Write([]byte("partial garbage"))

	w = asm.SegmentWriter(seg)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, asm.Commit(0))
	require.NoError(t, asm.Complete())
	require.Equal(t, payload, sink.Bytes())
}

func TestSequentialAssembler_CompleteRequiresAllSegments(t *testing.T) {
	asm := NewSequentialAssembler(&bytes.Buffer{}, 3)
	asm.SegmentWriter(domain.Segment{Index: 2, Start: 100, End: 149})
	require.NoError(t, asm.Commit(2))
	require.Error(t, asm.Complete())
}
