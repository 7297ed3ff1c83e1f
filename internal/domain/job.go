package domain

import "time"

type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusResolving   JobStatus = "resolving"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusAssembling  JobStatus = "assembling"
	JobStatusMuxing      JobStatus = "muxing"
	JobStatusDone        JobStatus = "done"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCanceled    JobStatus = "canceled"
)

// validTransitions describes the job lifecycle: queued → resolving →
// downloading → assembling → (muxing) → done. failed and canceled are
// reachable from any non-terminal state.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:      {JobStatusResolving},
	JobStatusResolving:   {JobStatusDownloading},
	JobStatusDownloading: {JobStatusAssembling},
	JobStatusAssembling:  {JobStatusMuxing, JobStatusDone},
	JobStatusMuxing:      {JobStatusDone},
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is legal.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStatusFailed || next == JobStatusCanceled {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
	MediaKindMuxed MediaKind = "muxed"
)

// SizeUnknown marks a locator whose total size the server did not report.
const SizeUnknown int64 = -1

// Locator is a resolved, fetchable description of one media stream.
// It is immutable once obtained from the resolver.
type Locator struct {
	URL            string
	TotalSize      int64 // SizeUnknown when not reported
	SupportsRanges bool
	Kind           MediaKind
	Container      string // e.g. "mp4", "webm", "m4a"
}

// SizeKnown reports whether the locator carries a byte size.
func (l Locator) SizeKnown() bool {
	return l.TotalSize >= 0
}

type SegmentState string

const (
	SegmentPending  SegmentState = "pending"
	SegmentInFlight SegmentState = "in_flight"
	SegmentDone     SegmentState = "done"
	SegmentFailed   SegmentState = "failed"
)

// Segment is one contiguous byte range of a locator, the unit of parallel
// fetch. Index defines the authoritative byte order for reassembly. The
// range is inclusive on both ends; End < 0 means "to end of resource".
type Segment struct {
	Index    int
	Start    int64
	End      int64
	State    SegmentState
	Attempts int
}

// Size returns the byte length of the segment, or SizeUnknown for an
// open-ended range.
func (s Segment) Size() int64 {
	if s.End < 0 {
		return SizeUnknown
	}
	return s.End - s.Start + 1
}

// Job is one video's end-to-end download tracked by the system.
type Job struct {
	ID           string
	Identifier   string
	Quality      string
	AudioOnly    bool
	Status       JobStatus
	OutputPath   string
	BytesDone    int64
	TotalSize    int64
	Speed        int64
	Remote       string // object storage location after upload, if any
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// Transition moves the job to next, rejecting illegal transitions.
func (j *Job) Transition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return &InvalidTransitionError{From: j.Status, To: next}
	}
	j.Status = next
	return nil
}
