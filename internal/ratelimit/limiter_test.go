package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hdget/internal/domain"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		value   string
		want    int64
		wantErr bool
	}{
		{"50M", 50 * 1024 * 1024, false},
		{"512K", 512 * 1024, false},
		{"1G", 1024 * 1024 * 1024, false},
		{"10m", 10 * 1024 * 1024, false},
		{" 2K ", 2 * 1024, false},
		{"", 0, true},
		{"50", 0, true},   // suffix required
		{"M", 0, true},    // no number
		{"1.5M", 0, true}, // whole numbers only
		{"-5M", 0, true},
		{"0K", 0, true},
		{"fastM", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseRate(tt.value)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRate(%q): expected error, got %d", tt.value, got)
				continue
			}
			var parseErr *domain.RateParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("ParseRate(%q): error is %T, want RateParseError", tt.value, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRate(%q): %v", tt.value, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRate(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestLimiter_UnlimitedIsImmediate(t *testing.T) {
	limiter := New(0)

	start := time.Now()
	for i := 0; i < 1000; i++ {
		if err := limiter.Acquire(context.Background(), 1<<20); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("unlimited acquire took %v, want effectively no wait", elapsed)
	}
	if limiter.Limit() != 0 {
		t.Errorf("Limit() = %d, want 0", limiter.Limit())
	}
}

func TestLimiter_NilIsSafe(t *testing.T) {
	var limiter *Limiter
	if err := limiter.Acquire(context.Background(), 4096); err != nil {
		t.Fatalf("nil limiter acquire: %v", err)
	}
}

func TestLimiter_BoundsAggregateThroughput(t *testing.T) {
	// 64KiB/s budget, 4 workers pulling 32KiB each beyond the initial burst.
	const limit = 64 * 1024
	limiter := New(limit)

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2; i++ {
				if err := limiter.Acquire(context.Background(), 32*1024); err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	// 256KiB total against a 64KiB bucket + 64KiB/s refill needs ~3s.
	if elapsed := time.Since(start); elapsed < 2500*time.Millisecond {
		t.Errorf("consumed 256KiB at 64KiB/s in %v, expected >= 2.5s", elapsed)
	}
}

func TestLimiter_AcquireLargerThanBurst(t *testing.T) {
	limiter := New(16 * 1024)

	// A single acquire of 2x the bucket capacity must not error and must
	// wait roughly size/limit.
	start := time.Now()
	if err := limiter.Acquire(context.Background(), 32*1024); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("oversized acquire returned in %v, expected ~1s wait", elapsed)
	}
}

func TestLimiter_AcquireHonorsCancel(t *testing.T) {
	limiter := New(1024)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Drain the bucket, then ask for more than can refill before the deadline.
	_ = limiter.Acquire(context.Background(), 1024)
	err := limiter.Acquire(ctx, 10*1024)
	if err == nil {
		t.Fatal("expected context error")
	}
}
