package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMap_PreservesOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}

	results := Map(context.Background(), 3, items, func(ctx context.Context, idx int, n int) int {
		// Later items finish first.
		time.Sleep(time.Duration(len(items)-idx) * 5 * time.Millisecond)
		return n * 10
	})

	want := []int{50, 10, 40, 20, 30}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %d, want %d", i, results[i], want[i])
		}
	}
}

func TestMap_Empty(t *testing.T) {
	results := Map(context.Background(), 4, []string{}, func(ctx context.Context, idx int, s string) string {
		t.Error("fn should not be called for empty input")
		return s
	})
	if len(results) != 0 {
		t.Errorf("Expected empty results, got %v", results)
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	const width = 3
	var inFlight, peak atomic.Int32

	items := make([]int, 20)
	Run(context.Background(), width, items, func(ctx context.Context, idx int, _ int) struct{} {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}
	}, nil)

	if got := peak.Load(); got > width {
		t.Errorf("Peak concurrency %d exceeded width %d", got, width)
	}
	if got := peak.Load(); got < 2 {
		t.Errorf("Expected work to overlap, peak concurrency was %d", got)
	}
}

func TestRun_CollectSeesEveryItemOnce(t *testing.T) {
	items := make([]int, 50)
	seen := make(map[int]int)

	Run(context.Background(), 8, items, func(ctx context.Context, idx int, _ int) int {
		return idx
	}, func(idx int, value int) {
		// Collect runs on a single goroutine, so plain map writes are safe.
		seen[idx]++
		if value != idx {
			t.Errorf("value %d delivered for index %d", value, idx)
		}
	})

	if len(seen) != len(items) {
		t.Fatalf("Collected %d items, want %d", len(seen), len(items))
	}
	for idx, count := range seen {
		if count != 1 {
			t.Errorf("Index %d collected %d times", idx, count)
		}
	}
}

func TestRun_NonPositiveWidth(t *testing.T) {
	var calls atomic.Int32
	Run(context.Background(), 0, []int{1, 2, 3}, func(ctx context.Context, idx int, n int) int {
		calls.Add(1)
		return n
	}, nil)
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestRun_CancelledContextStillVisitsItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := Map(ctx, 2, []int{1, 2, 3}, func(ctx context.Context, idx int, n int) error {
		return ctx.Err()
	})
	for i, err := range results {
		if err != context.Canceled {
			t.Errorf("results[%d] = %v, want context.Canceled", i, err)
		}
	}
}
