package ratelimit

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"hdget/internal/domain"
)

// Limiter throttles aggregate download throughput across every worker of
// every job. It is a thin wrapper over a token bucket; a nil or unlimited
// Limiter admits everything immediately.
type Limiter struct {
	bucket *rate.Limiter
	limit  int64
}

// New creates a shared limiter allowing bytesPerSec across all consumers.
// bytesPerSec <= 0 means unlimited. The burst is one second of budget, so a
// single acquire can never exceed the bucket capacity.
func New(bytesPerSec int64) *Limiter {
	if bytesPerSec <= 0 {
		return &Limiter{}
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec)),
		limit:  bytesPerSec,
	}
}

// Limit returns the configured bytes/sec, 0 when unlimited.
func (l *Limiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return l.limit
}

// Acquire blocks until n bytes fit within the aggregate budget or ctx is
// canceled. Acquires larger than the bucket capacity are split so the wait
// stays bounded at roughly n/limit.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	if l == nil || l.bucket == nil || n <= 0 {
		return nil
	}
	burst := l.bucket.Burst()
	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}
		if err := l.bucket.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// ParseRate converts a human rate such as "50M" or "512K" into bytes/sec.
// A K, M, or G suffix is mandatory; base is 1024.
func ParseRate(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, &domain.RateParseError{Value: value, Reason: "empty value"}
	}

	var mult int64
	switch strings.ToUpper(trimmed[len(trimmed)-1:]) {
	case "K":
		mult = 1024
	case "M":
		mult = 1024 * 1024
	case "G":
		mult = 1024 * 1024 * 1024
	default:
		return 0, &domain.RateParseError{Value: value, Reason: "missing K/M/G suffix"}
	}

	num, err := strconv.ParseInt(trimmed[:len(trimmed)-1], 10, 64)
	if err != nil {
		return 0, &domain.RateParseError{Value: value, Reason: "not a whole number"}
	}
	if num <= 0 {
		return 0, &domain.RateParseError{Value: value, Reason: "rate must be positive"}
	}
	return num * mult, nil
}
