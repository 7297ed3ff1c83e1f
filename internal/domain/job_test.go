package domain

import "testing"

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusQueued, JobStatusResolving, true},
		{JobStatusResolving, JobStatusDownloading, true},
		{JobStatusDownloading, JobStatusAssembling, true},
		{JobStatusAssembling, JobStatusMuxing, true},
		{JobStatusAssembling, JobStatusDone, true},
		{JobStatusMuxing, JobStatusDone, true},

		{JobStatusQueued, JobStatusDownloading, false},
		{JobStatusAssembling, JobStatusResolving, false},
		{JobStatusMuxing, JobStatusDownloading, false},
		{JobStatusDone, JobStatusResolving, false},
		{JobStatusDone, JobStatusFailed, false},
		{JobStatusFailed, JobStatusResolving, false},
		{JobStatusCanceled, JobStatusQueued, false},

		// failed/canceled reachable from any non-terminal state
		{JobStatusQueued, JobStatusFailed, true},
		{JobStatusResolving, JobStatusCanceled, true},
		{JobStatusDownloading, JobStatusFailed, true},
		{JobStatusMuxing, JobStatusCanceled, true},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestJob_Transition(t *testing.T) {
	job := &Job{Status: JobStatusQueued}

	for _, next := range []JobStatus{JobStatusResolving, JobStatusDownloading, JobStatusAssembling, JobStatusMuxing, JobStatusDone} {
		if err := job.Transition(next); err != nil {
			t.Fatalf("Transition(%s): %v", next, err)
		}
	}

	err := job.Transition(JobStatusResolving)
	if err == nil {
		t.Fatal("expected error transitioning out of done")
	}
	if _, ok := err.(*InvalidTransitionError); !ok {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if job.Status != JobStatusDone {
		t.Fatalf("status mutated on rejected transition: %s", job.Status)
	}
}

func TestSegment_Size(t *testing.T) {
	if got := (Segment{Start: 0, End: 24}).Size(); got != 25 {
		t.Errorf("Size() = %d, want 25", got)
	}
	if got := (Segment{Start: 100, End: -1}).Size(); got != SizeUnknown {
		t.Errorf("open-ended Size() = %d, want SizeUnknown", got)
	}
}

func TestLocator_SizeKnown(t *testing.T) {
	if !(Locator{TotalSize: 0}).SizeKnown() {
		t.Error("zero-byte locator should report a known size")
	}
	if (Locator{TotalSize: SizeUnknown}).SizeKnown() {
		t.Error("SizeUnknown locator should not report a known size")
	}
}
