package domain

import "fmt"

// ResolveError indicates the resolver could not supply a locator for an
// identifier: invalid identifier, unavailable video, or quality not offered.
// Fatal to the affected job only.
type ResolveError struct {
	Identifier string
	Err        error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Identifier, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// UnsupportedRangeError indicates more than one segment was requested for a
// locator that cannot serve partial content. Callers recover by falling back
// to a single segment.
type UnsupportedRangeError struct {
	URL string
}

func (e *UnsupportedRangeError) Error() string {
	return fmt.Sprintf("locator %s does not support range requests", e.URL)
}

// SegmentFetchError indicates a segment exhausted its retry ceiling.
// Fatal to the affected job.
type SegmentFetchError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *SegmentFetchError) Error() string {
	return fmt.Sprintf("segment %d failed after %d attempts: %v", e.Index, e.Attempts, e.Err)
}

func (e *SegmentFetchError) Unwrap() error { return e.Err }

// RateParseError indicates a malformed --limit-rate value. Fatal at startup,
// before any job runs.
type RateParseError struct {
	Value  string
	Reason string
}

func (e *RateParseError) Error() string {
	return fmt.Sprintf("invalid rate %q: %s", e.Value, e.Reason)
}

// MuxError indicates combining the audio and video streams failed. Both
// elementary streams are kept on disk for manual recovery.
type MuxError struct {
	VideoPath string
	AudioPath string
	Err       error
}

func (e *MuxError) Error() string {
	return fmt.Sprintf("mux %s + %s: %v", e.VideoPath, e.AudioPath, e.Err)
}

func (e *MuxError) Unwrap() error { return e.Err }

// InvalidTransitionError reports an illegal job state change.
type InvalidTransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job transition %s -> %s", e.From, e.To)
}
