package resilience

import (
	"context"
	"testing"
	"time"
)

func TestLimiterBudgetsArePerClass(t *testing.T) {
	lim := NewLimiter(Budget{PerSecond: 0}, map[string]Budget{
		"drive.write": {PerSecond: 0.001, Burst: 1},
	})

	if !lim.Allow("drive.write") {
		t.Fatal("expected burst token for drive.write")
	}
	if lim.Allow("drive.write") {
		t.Fatal("expected drive.write budget exhausted")
	}
	for i := 0; i < 10; i++ {
		if !lim.Allow("drive.read") {
			t.Fatal("unconfigured class with zero fallback rate should be unlimited")
		}
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	lim := NewLimiter(Budget{PerSecond: 0.001, Burst: 1}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := lim.Wait(ctx, "generator"); err != nil {
		t.Fatalf("first wait should use the burst token: %v", err)
	}
	if err := lim.Wait(ctx, "generator"); err == nil {
		t.Fatal("expected wait to fail before the next token")
	}
}
