package downloader

import "hdget/internal/domain"

// MaxSegments caps the per-job worker count regardless of what was requested.
const MaxSegments = 32

// Plan partitions a locator into at most threads contiguous segments covering
// [0, TotalSize) exactly. Locators without a known size, or empty ones, plan
// as a single open-ended segment. Requesting more than one segment for a
// locator that cannot serve partial content is an error; callers fall back
// to Plan(loc, 1).
func Plan(loc domain.Locator, threads int) ([]domain.Segment, error) {
	if threads < 1 {
		threads = 1
	}
	if threads > MaxSegments {
		threads = MaxSegments
	}

	if !loc.SupportsRanges && threads > 1 {
		return nil, &domain.UnsupportedRangeError{URL: loc.URL}
	}

	if !loc.SizeKnown() || loc.TotalSize == 0 || !loc.SupportsRanges {
		return []domain.Segment{{Index: 0, Start: 0, End: -1, State: domain.SegmentPending}}, nil
	}

	count := int64(threads)
	if loc.TotalSize < count {
		count = loc.TotalSize
	}

	// ceil(TotalSize / count)
	chunk := (loc.TotalSize + count - 1) / count

	segments := make([]domain.Segment, 0, count)
	for start := int64(0); start < loc.TotalSize; start += chunk {
		end := start + chunk - 1
		if end >= loc.TotalSize {
			end = loc.TotalSize - 1
		}
		segments = append(segments, domain.Segment{
			Index: len(segments),
			Start: start,
			End:   end,
			State: domain.SegmentPending,
		})
	}
	return segments, nil
}
