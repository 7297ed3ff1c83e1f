package downloader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"hdget/internal/domain"
)

// Assembler reconstructs the ordered output from segments that complete in
// any order. Workers obtain a fresh writer per fetch attempt, commit the
// segment once fully fetched, and the owner finalizes with Complete or
// discards everything with Abort.
type Assembler interface {
	// SegmentWriter returns the storage slot for one segment. Calling it
	// again for the same segment discards any partial bytes from an earlier
	// attempt. Each slot is exclusively owned by the worker fetching it.
	SegmentWriter(seg domain.Segment) io.Writer

	// Commit marks a segment's bytes as final.
	Commit(index int) error

	// Complete finalizes the artifact. It fails unless every planned
	// segment was committed.
	Complete() error

	// Abort discards the artifact and any partial state.
	Abort() error
}

// FileAssembler writes each segment directly at its byte offset in a
// pre-sized output file, so out-of-order completion costs nothing.
type FileAssembler struct {
	path string
	file *os.File

	mu        sync.Mutex
	planned   int
	committed map[int]bool
}

// NewFileAssembler creates the output file, pre-sized to size when known.
func NewFileAssembler(path string, size int64, planned int) (*FileAssembler, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	if size > 0 {
		if err := file.Truncate(size); err != nil {
			file.Close()
			os.Remove(path)
			return nil, fmt.Errorf("presize output: %w", err)
		}
	}
	return &FileAssembler{
		path:      path,
		file:      file,
		planned:   planned,
		committed: make(map[int]bool, planned),
	}, nil
}

func (a *FileAssembler) Path() string { return a.path }

func (a *FileAssembler) SegmentWriter(seg domain.Segment) io.Writer {
	return &offsetWriter{file: a.file, off: seg.Start}
}

func (a *FileAssembler) Commit(index int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if index < 0 || index >= a.planned {
		return fmt.Errorf("commit of unplanned segment %d", index)
	}
	a.committed[index] = true
	return nil
}

func (a *FileAssembler) Complete() error {
	a.mu.Lock()
	done := len(a.committed)
	a.mu.Unlock()
	if done != a.planned {
		return fmt.Errorf("incomplete assembly: %d of %d segments committed", done, a.planned)
	}
	if err := a.file.Sync(); err != nil {
		a.file.Close()
		return fmt.Errorf("sync output: %w", err)
	}
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func (a *FileAssembler) Abort() error {
	a.file.Close()
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// offsetWriter appends at a fixed position via WriteAt. The file region it
// covers is owned by exactly one worker, so no locking is needed.
type offsetWriter struct {
	file *os.File
	off  int64
}

func (w *offsetWriter) Write(p []byte) (int, error) {
	n, err := w.file.WriteAt(p, w.off)
	w.off += int64(n)
	return n, err
}

// SequentialAssembler serves sinks that only accept in-order writes. It
// buffers out-of-order completions and flushes strictly by increasing index
// once the next expected segment commits.
type SequentialAssembler struct {
	w io.Writer

	mu      sync.Mutex
	planned int
	next    int
	ready   map[int]*bytes.Buffer
	slots   map[int]*bytes.Buffer
}

func NewSequentialAssembler(w io.Writer, planned int) *SequentialAssembler {
	return &SequentialAssembler{
		w:       w,
		planned: planned,
		ready:   make(map[int]*bytes.Buffer, planned),
		slots:   make(map[int]*bytes.Buffer, planned),
	}
}

func (a *SequentialAssembler) SegmentWriter(seg domain.Segment) io.Writer {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf := &bytes.Buffer{}
	a.slots[seg.Index] = buf
	delete(a.ready, seg.Index)
	return buf
}

func (a *SequentialAssembler) Commit(index int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, ok := a.slots[index]
	if !ok {
		return fmt.Errorf("commit of segment %d without a slot", index)
	}
	if index < a.next {
		return fmt.Errorf("segment %d already flushed", index)
	}
	a.ready[index] = buf

	for {
		pending, ok := a.ready[a.next]
		if !ok {
			return nil
		}
		if _, err := a.w.Write(pending.Bytes()); err != nil {
			return fmt.Errorf("flush segment %d: %w", a.next, err)
		}
		delete(a.ready, a.next)
		delete(a.slots, a.next)
		a.next++
	}
}

func (a *SequentialAssembler) Complete() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next != a.planned {
		missing := make([]int, 0, len(a.slots))
		for idx := range a.slots {
			missing = append(missing, idx)
		}
		sort.Ints(missing)
		return fmt.Errorf("incomplete assembly: flushed %d of %d segments, pending %v", a.next, a.planned, missing)
	}
	return nil
}

func (a *SequentialAssembler) Abort() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready = map[int]*bytes.Buffer{}
	a.slots = map[int]*bytes.Buffer{}
	return nil
}

var (
	_ Assembler = (*FileAssembler)(nil)
	_ Assembler = (*SequentialAssembler)(nil)
)
