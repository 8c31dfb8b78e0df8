package worker_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leadgrid/places-pipeline/pkg/pipeline/core"
	"github.com/leadgrid/places-pipeline/pkg/pipeline/worker"
)

func TestProcessAll_RetriesTransient(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0

	fn := func(_ context.Context, _ string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 2 {
			return "", &core.TransientError{Err: errors.New("try again")}
		}
		return "ok", nil
	}

	out, err := worker.ProcessAll(context.Background(), []string{"plumber"}, fn, worker.Options{
		Workers:        1,
		MaxRetries:     3,
		BackoffInitial: 1 * time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Err != nil || out[0].Output != "ok" {
		t.Fatalf("unexpected output: %#v", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestProcessAll_DoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	fn := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", errors.New("permanent")
	}

	out, err := worker.ProcessAll(context.Background(), []string{"plumber"}, fn, worker.Options{
		Workers:        1,
		MaxRetries:     10,
		BackoffInitial: 1 * time.Millisecond,
		BackoffMax:     1 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Err == nil || out[0].Err.Error() != "permanent" {
		t.Fatalf("unexpected output: %#v", out[0])
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
}

func TestProcessAll_PartialOutputKeepsGoing(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, in string) (string, error) {
		if in == "bad" {
			return "", errors.New("boom")
		}
		return in + "!", nil
	}

	out, err := worker.ProcessAll(context.Background(), []string{"a", "bad", "c"}, fn, worker.Options{
		Workers: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Output != "a!" || out[2].Output != "c!" {
		t.Fatalf("siblings should complete: %#v", out)
	}
	if out[1].Err == nil {
		t.Fatalf("expected error for bad item")
	}
}

func TestProcessAll_FailFastCancels(t *testing.T) {
	t.Parallel()

	var started atomic.Int64
	fn := func(ctx context.Context, in int) (int, error) {
		started.Add(1)
		if in == 0 {
			return 0, errors.New("boom")
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		return in, nil
	}

	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	_, err := worker.ProcessAll(context.Background(), items, fn, worker.Options{
		Workers:       2,
		FailurePolicy: worker.FailurePolicyFailFast,
	})
	if err == nil {
		t.Fatalf("expected run error")
	}
	if started.Load() == int64(len(items)) {
		t.Fatalf("expected cancellation to skip remaining items")
	}
}

func TestProcessAll_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const workers = 3
	var inFlight, peak atomic.Int64

	fn := func(_ context.Context, in int) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return in, nil
	}

	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}
	if _, err := worker.ProcessAll(context.Background(), items, fn, worker.Options{Workers: workers}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p := peak.Load(); p > workers {
		t.Fatalf("peak concurrency %d exceeds %d workers", p, workers)
	}
}

func TestProcessAllWithCallback_CompletionOrderAndSerialized(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, in int) (string, error) {
		return strconv.Itoa(in), nil
	}

	var seen []string
	onDone := func(r worker.Result[int, string]) error {
		// No locking on purpose: the callback contract is single-threaded.
		seen = append(seen, r.Output)
		return nil
	}

	items := []int{1, 2, 3, 4, 5}
	out, err := worker.ProcessAllWithCallback(context.Background(), items, fn, onDone, worker.Options{Workers: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != len(items) {
		t.Fatalf("callback saw %d of %d completions", len(seen), len(items))
	}
	// Returned slice is input-ordered regardless of completion order.
	for i, r := range out {
		if r.Output != strconv.Itoa(items[i]) {
			t.Fatalf("result %d out of order: %#v", i, r)
		}
	}
}

func TestProcessAllWithCallback_CallbackErrorStopsRun(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, in int) (int, error) { return in, nil }
	wantErr := errors.New("writer broke")

	_, err := worker.ProcessAllWithCallback(context.Background(), []int{1, 2, 3}, fn,
		func(worker.Result[int, int]) error { return wantErr },
		worker.Options{Workers: 2},
	)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
}
