package workerpool

import (
	"context"
	"sync"
)

// Run processes items on a fixed number of workers fed from a bounded task
// queue. collect is called once per item, in completion order, from the
// calling goroutine only, so it may update shared state without locking.
//
// Every item is handed to fn; fn receives ctx and is expected to return
// promptly once ctx is done.
func Run[T any, R any](
	ctx context.Context,
	width int,
	items []T,
	fn func(context.Context, int, T) R,
	collect func(int, R),
) {
	if len(items) == 0 {
		return
	}
	if width <= 0 {
		width = 1
	}
	width = min(width, len(items))

	type task struct {
		index int
		item  T
	}
	type result struct {
		index int
		value R
	}

	tasks := make(chan task, width)
	results := make(chan result, width)

	var wg sync.WaitGroup
	for range width {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				results <- result{index: t.index, value: fn(ctx, t.index, t.item)}
			}
		}()
	}

	go func() {
		for i, item := range items {
			tasks <- task{index: i, item: item}
		}
		close(tasks)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if collect != nil {
			collect(res.index, res.value)
		}
	}
}

// Map is Run with results gathered by input index.
func Map[T any, R any](ctx context.Context, width int, items []T, fn func(context.Context, int, T) R) []R {
	out := make([]R, len(items))
	Run(ctx, width, items, fn, func(i int, r R) {
		out[i] = r
	})
	return out
}
