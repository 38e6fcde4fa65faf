package crawler

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(100 * time.Millisecond)
	ctx := context.Background()

	// Test rate limiting for same host
	start := time.Now()

	// First request should be immediate
	err := limiter.Wait(ctx, "https://example.com/page1")
	if err != nil {
		t.Errorf("First request failed: %v", err)
	}

	// Second request should wait
	err = limiter.Wait(ctx, "https://example.com/page2")
	if err != nil {
		t.Errorf("Second request failed: %v", err)
	}

	elapsed := time.Since(start)
	if elapsed < 100*time.Millisecond {
		t.Errorf("Rate limiting not working, elapsed time: %v", elapsed)
	}

	// Different host should not be rate limited
	start2 := time.Now()
	err = limiter.Wait(ctx, "https://other.com/page1")
	if err != nil {
		t.Errorf("Different host request failed: %v", err)
	}
	elapsed2 := time.Since(start2)
	if elapsed2 > 10*time.Millisecond {
		t.Errorf("Different host was rate limited, elapsed time: %v", elapsed2)
	}
}

func TestRateLimiterCustomDelay(t *testing.T) {
	limiter := NewRateLimiter(100 * time.Millisecond)
	ctx := context.Background()

	// Crawl-delay longer than the default
	limiter.SetHostDelay("example.com", 200*time.Millisecond)

	start := time.Now()

	// First request
	err := limiter.Wait(ctx, "https://example.com/page1")
	if err != nil {
		t.Errorf("First request failed: %v", err)
	}

	// Second request should wait 200ms
	err = limiter.Wait(ctx, "https://example.com/page2")
	if err != nil {
		t.Errorf("Second request failed: %v", err)
	}

	elapsed := time.Since(start)
	if elapsed < 200*time.Millisecond {
		t.Errorf("Custom delay not working, elapsed time: %v", elapsed)
	}
}

func TestRateLimiterContextCancellation(t *testing.T) {
	limiter := NewRateLimiter(500 * time.Millisecond)

	// Create a context that will be cancelled
	ctx, cancel := context.WithCancel(context.Background())

	// First request to establish timing
	err := limiter.Wait(ctx, "https://example.com/page1")
	if err != nil {
		t.Errorf("First request failed: %v", err)
	}

	// Cancel context before second request
	cancel()

	// Second request should return context cancelled error
	err = limiter.Wait(ctx, "https://example.com/page2")
	if err == nil {
		t.Errorf("Expected context cancellation error, got nil")
	}
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRateLimiterInvalidURL(t *testing.T) {
	limiter := NewRateLimiter(100 * time.Millisecond)
	ctx := context.Background()

	// Test with invalid URL (contains invalid characters)
	err := limiter.Wait(ctx, "http://[::1]:namedport")
	if err == nil {
		t.Errorf("Expected error for invalid URL, got nil")
	}
}

func TestRateLimiterHostDelay(t *testing.T) {
	limiter := NewRateLimiter(100 * time.Millisecond)

	if d := limiter.HostDelay("example.com"); d != 100*time.Millisecond {
		t.Errorf("Expected default delay, got %v", d)
	}

	// Shorter delays never relax the default
	limiter.SetHostDelay("example.com", 10*time.Millisecond)
	if d := limiter.HostDelay("example.com"); d != 100*time.Millisecond {
		t.Errorf("Expected shorter delay to be ignored, got %v", d)
	}

	limiter.SetHostDelay("example.com", 2*time.Second)
	if d := limiter.HostDelay("example.com"); d != 2*time.Second {
		t.Errorf("Expected 2s delay, got %v", d)
	}
	if d := limiter.HostDelay("other.com"); d != 100*time.Millisecond {
		t.Errorf("Expected other host to keep default delay, got %v", d)
	}
}

func TestRateLimiterZeroDelay(t *testing.T) {
	limiter := NewRateLimiter(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := limiter.Wait(ctx, "https://example.com/"); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Zero delay should not throttle, elapsed %v", elapsed)
	}
}
