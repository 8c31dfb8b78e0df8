package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/leadgrid/places-pipeline/pkg/pipeline/core"
	"golang.org/x/time/rate"
)

type FailurePolicy int

const (
	// FailurePolicyPartialOutput records per-item errors and keeps going.
	FailurePolicyPartialOutput FailurePolicy = iota
	// FailurePolicyFailFast cancels the run on the first item error.
	FailurePolicyFailFast
)

type Options struct {
	// Workers caps the number of concurrently in-flight items.
	Workers int

	// MaxRetries is the number of extra attempts for transient failures.
	MaxRetries int

	// TaskTimeout bounds a single attempt. Set to <=0 to disable.
	TaskTimeout time.Duration

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64

	FailurePolicy FailurePolicy

	// BackoffInitial is the initial sleep before retrying a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	Input  In
	Output Out
	Err    error
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 10
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	return o
}

// ProcessAll runs fn over all items with bounded concurrency and returns
// results in input order.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	fn core.ProcessFunc[In, Out],
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, fn, nil, opts)
}

// ProcessAllWithCallback additionally invokes onDone as each item finishes.
// The callback sees results in completion order, not input order, and is
// never called concurrently with itself. A non-nil callback error cancels
// the run.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	fn core.ProcessFunc[In, Out],
	onDone func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	type task struct {
		idx int
		in  In
	}
	type completion struct {
		idx int
		res Result[In, Out]
	}

	tasks := make(chan task)
	completions := make(chan completion, opts.Workers)

	var failMu sync.Mutex
	var firstErr error
	fail := func(err error) {
		if err == nil {
			return
		}
		failMu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		failMu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				if runCtx.Err() != nil {
					return
				}
				out, err := runWithRetry(runCtx, t.in, fn, limiter, opts)
				res := Result[In, Out]{Input: t.in, Output: out, Err: err}
				select {
				case completions <- completion{idx: t.idx, res: res}:
				case <-runCtx.Done():
					return
				}
				if err != nil && opts.FailurePolicy == FailurePolicyFailFast {
					fail(err)
					return
				}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for i, item := range items {
			select {
			case tasks <- task{idx: i, in: item}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(completions)
	}()

	out := make([]Result[In, Out], len(items))
	for c := range completions {
		out[c.idx] = c.res
		if onDone != nil {
			if err := onDone(c.res); err != nil {
				fail(err)
			}
		}
	}

	failMu.Lock()
	err := firstErr
	failMu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func runWithRetry[In any, Out any](
	ctx context.Context,
	item In,
	fn core.ProcessFunc[In, Out],
	limiter *rate.Limiter,
	opts Options,
) (Out, error) {
	var last Out
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return last, err
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if opts.TaskTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.TaskTimeout)
		}
		out, err := fn(attemptCtx, item)
		if cancel != nil {
			cancel()
		}
		last = out
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return last, ctx.Err()
		}
		if !isTransient(err) || attempt >= opts.MaxRetries {
			return last, err
		}

		t := time.NewTimer(backoffSleep(opts, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return last, ctx.Err()
		}
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func backoffSleep(opts Options, attempt int) time.Duration {
	sleep := opts.BackoffInitial
	for i := 0; i < attempt && sleep < opts.BackoffMax; i++ {
		sleep *= 2
	}
	if sleep > opts.BackoffMax {
		sleep = opts.BackoffMax
	}
	if opts.BackoffJitterFrac <= 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*opts.BackoffJitterFrac
	return time.Duration(float64(sleep) * j)
}
