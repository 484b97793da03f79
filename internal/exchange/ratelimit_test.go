package exchange

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterBurstIsImmediate(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(1, 5)

	for i := 0; i < 5; i++ {
		start := time.Now()
		if err := wait(context.Background(), rl.Order); err != nil {
			t.Fatalf("wait: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Errorf("wait took %v, expected immediate (token %d)", elapsed, i)
		}
	}
}

func TestRateLimiterBlocks(t *testing.T) {
	t.Parallel()
	// 1 token burst, refills at 10/sec → ~100ms per token
	rl := NewRateLimiter(10, 1)

	if err := wait(context.Background(), rl.Read); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := wait(context.Background(), rl.Read); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second wait took %v, expected ~100ms", elapsed)
	}
}

func TestRateLimiterCategoriesIndependent(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(0.001, 1)

	if err := wait(context.Background(), rl.Order); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := wait(ctx, rl.Cancel); err != nil {
		t.Errorf("cancel bucket blocked by order bucket: %v", err)
	}
}

func TestRateLimiterContextCancel(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(0.001, 1)
	_ = wait(context.Background(), rl.Order)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := wait(ctx, rl.Order); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestUnlimited(t *testing.T) {
	t.Parallel()
	rl := Unlimited()
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := wait(context.Background(), rl.Read); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("unlimited limiter blocked")
	}
}
