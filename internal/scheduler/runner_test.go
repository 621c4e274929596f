package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"expander/internal/domain"
	"expander/internal/imagegen"
)

// stubExecutor scripts per-attempt results and tracks invocation counts plus
// the peak number of simultaneous executions.
type stubExecutor struct {
	handler func(ctx context.Context, job Job, attempt int) Result

	mu          sync.Mutex
	calls       map[string]int
	inFlight    int32
	maxInFlight int32
}

func newStubExecutor(handler func(ctx context.Context, job Job, attempt int) Result) *stubExecutor {
	return &stubExecutor{handler: handler, calls: make(map[string]int)}
}

func (s *stubExecutor) Execute(ctx context.Context, job Job) Result {
	s.mu.Lock()
	s.calls[job.ProductID]++
	attempt := s.calls[job.ProductID]
	s.mu.Unlock()

	cur := atomic.AddInt32(&s.inFlight, 1)
	for {
		max := atomic.LoadInt32(&s.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&s.maxInFlight, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&s.inFlight, -1)

	return s.handler(ctx, job, attempt)
}

func (s *stubExecutor) callCount(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[productID]
}

func testConfig(concurrency int) Config {
	return Config{
		Concurrency: concurrency,
		ItemDelay:   time.Millisecond,
		RetryDelay:  5 * time.Millisecond,
	}
}

func makeJobs(ids ...string) []Job {
	jobs := make([]Job, len(ids))
	for i, id := range ids {
		jobs[i] = Job{
			ProductID:         id,
			SourceImageURL:    "https://example.com/" + id + ".png",
			Mode:              domain.ExpansionModeLifestyle,
			CurrentImageCount: 1,
		}
	}
	return jobs
}

func succeedWith(n int) func(ctx context.Context, job Job, attempt int) Result {
	return func(ctx context.Context, job Job, attempt int) Result {
		images := make([]imagegen.GeneratedImage, n)
		for i := range images {
			images[i] = imagegen.GeneratedImage{Type: string(job.Mode), URL: "https://cdn.example.com/out.png"}
		}
		return Result{Images: images}
	}
}

func TestRunnerAllSucceed(t *testing.T) {
	exec := newStubExecutor(succeedWith(1))
	r := NewRunner(exec, testConfig(2), zerolog.Nop())

	if err := r.Start(context.Background(), makeJobs("a", "b", "c", "d", "e"), nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	r.Wait()

	state := r.Snapshot()
	if !state.Finished() {
		t.Fatalf("batch not settled: %+v", state)
	}
	if state.Running || state.Cancelled {
		t.Fatalf("unexpected flags: running=%v cancelled=%v", state.Running, state.Cancelled)
	}
	if state.Completed != 5 || state.Total != 5 {
		t.Fatalf("unexpected counters: completed=%d total=%d", state.Completed, state.Total)
	}
	for _, item := range state.Items {
		if item.Status != StatusDone {
			t.Fatalf("item %s: status %s, want done", item.ProductID, item.Status)
		}
		if item.GeneratedCount != 1 {
			t.Fatalf("item %s: generated %d, want 1", item.ProductID, item.GeneratedCount)
		}
	}
}

func TestRunnerConcurrencyBound(t *testing.T) {
	exec := newStubExecutor(func(ctx context.Context, job Job, attempt int) Result {
		time.Sleep(10 * time.Millisecond)
		return succeedWith(1)(ctx, job, attempt)
	})
	r := NewRunner(exec, testConfig(2), zerolog.Nop())

	if err := r.Start(context.Background(), makeJobs("a", "b", "c", "d", "e", "f"), nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	r.Wait()

	if max := atomic.LoadInt32(&exec.maxInFlight); max > 2 {
		t.Fatalf("max in-flight %d exceeds concurrency 2", max)
	}
}

func TestRunnerRetriesTransientExactlyOnce(t *testing.T) {
	exec := newStubExecutor(func(ctx context.Context, job Job, attempt int) Result {
		return failed(FailureServiceError, "model overloaded")
	})
	r := NewRunner(exec, testConfig(1), zerolog.Nop())

	if err := r.Start(context.Background(), makeJobs("a"), nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	r.Wait()

	if got := exec.callCount("a"); got != 2 {
		t.Fatalf("executor invoked %d times, want 2", got)
	}
	state := r.Snapshot()
	if state.Items[0].Status != StatusFailed {
		t.Fatalf("status %s, want failed", state.Items[0].Status)
	}
	if state.Items[0].Error != "model overloaded" {
		t.Fatalf("unexpected error message: %q", state.Items[0].Error)
	}
}

func TestRunnerTimeoutThenSuccessOnRetry(t *testing.T) {
	exec := newStubExecutor(func(ctx context.Context, job Job, attempt int) Result {
		if attempt == 1 {
			return failed(FailureTimeout, reasonTimeout)
		}
		return succeedWith(2)(ctx, job, attempt)
	})
	r := NewRunner(exec, testConfig(1), zerolog.Nop())

	if err := r.Start(context.Background(), makeJobs("a"), nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	r.Wait()

	state := r.Snapshot()
	if state.Items[0].Status != StatusDone {
		t.Fatalf("status %s, want done", state.Items[0].Status)
	}
	if state.Items[0].GeneratedCount != 2 {
		t.Fatalf("generated %d, want 2", state.Items[0].GeneratedCount)
	}
	if got := exec.callCount("a"); got != 2 {
		t.Fatalf("executor invoked %d times, want 2", got)
	}
}

func TestRunnerRateLimitTripsBreaker(t *testing.T) {
	exec := newStubExecutor(func(ctx context.Context, job Job, attempt int) Result {
		return failed(FailureRateLimited, reasonRateLimited)
	})
	var doneCalls int32
	r := NewRunner(exec, testConfig(1), zerolog.Nop())

	onDone := func(productID string, res Result) {
		atomic.AddInt32(&doneCalls, 1)
	}
	if err := r.Start(context.Background(), makeJobs("a", "b", "c"), onDone); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	r.Wait()

	if got := exec.callCount("a"); got != 1 {
		t.Fatalf("rate-limited job retried: %d calls", got)
	}
	for _, id := range []string{"b", "c"} {
		if got := exec.callCount(id); got != 0 {
			t.Fatalf("job %s was attempted after breaker: %d calls", id, got)
		}
	}
	state := r.Snapshot()
	if !state.Cancelled {
		t.Fatalf("expected cancelled state after breaker")
	}
	if state.Completed != state.Total {
		t.Fatalf("completed=%d total=%d, want equal", state.Completed, state.Total)
	}
	for _, item := range state.Items {
		if item.Status != StatusFailed {
			t.Fatalf("item %s: status %s, want failed", item.ProductID, item.Status)
		}
		if item.Error != reasonRateLimited {
			t.Fatalf("item %s: error %q, want %q", item.ProductID, item.Error, reasonRateLimited)
		}
	}
	// Only the claimed job reaches the callback; short-circuited ones never do.
	if got := atomic.LoadInt32(&doneCalls); got != 1 {
		t.Fatalf("onItemDone fired %d times, want 1", got)
	}
}

func TestRunnerCreditsExhaustedWhileRetryInFlight(t *testing.T) {
	exec := newStubExecutor(func(ctx context.Context, job Job, attempt int) Result {
		switch job.ProductID {
		case "a":
			if attempt == 1 {
				return failed(FailureTimeout, reasonTimeout)
			}
			return succeedWith(1)(ctx, job, attempt)
		case "b":
			time.Sleep(2 * time.Millisecond)
			return failed(FailureCreditsExhausted, reasonCreditsExhausted)
		default:
			return succeedWith(1)(ctx, job, attempt)
		}
	})
	cfg := Config{Concurrency: 2, ItemDelay: time.Millisecond, RetryDelay: 20 * time.Millisecond}
	r := NewRunner(exec, cfg, zerolog.Nop())

	if err := r.Start(context.Background(), makeJobs("a", "b", "c"), nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	r.Wait()

	state := r.Snapshot()
	byID := make(map[string]ItemState, len(state.Items))
	for _, item := range state.Items {
		byID[item.ProductID] = item
	}
	// A's retry was already in flight when B tripped the breaker, so it
	// finishes naturally.
	if byID["a"].Status != StatusDone {
		t.Fatalf("a: status %s, want done", byID["a"].Status)
	}
	if byID["b"].Status != StatusFailed || byID["b"].Error != reasonCreditsExhausted {
		t.Fatalf("b: %+v, want failed with credits reason", byID["b"])
	}
	if byID["c"].Status != StatusFailed || byID["c"].Error != reasonCreditsExhausted {
		t.Fatalf("c: %+v, want failed with credits reason", byID["c"])
	}
	if got := exec.callCount("c"); got != 0 {
		t.Fatalf("c was attempted: %d calls", got)
	}
	if state.Completed != state.Total {
		t.Fatalf("completed=%d total=%d, want equal", state.Completed, state.Total)
	}
	if state.Running || !state.Cancelled {
		t.Fatalf("unexpected flags: running=%v cancelled=%v", state.Running, state.Cancelled)
	}
}

func TestRunnerCancelMidRun(t *testing.T) {
	started := make(chan struct{})
	exec := newStubExecutor(func(ctx context.Context, job Job, attempt int) Result {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return failed(FailureCancelled, reasonStopped)
	})
	r := NewRunner(exec, testConfig(1), zerolog.Nop())

	if err := r.Start(context.Background(), makeJobs("a", "b", "c", "d"), nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	<-started
	r.Cancel()

	// State settles deterministically at cancel time, before lanes drain.
	state := r.Snapshot()
	if state.Running {
		t.Fatalf("still running after cancel")
	}
	if !state.Cancelled {
		t.Fatalf("cancelled flag not set")
	}
	if state.Completed != state.Total {
		t.Fatalf("completed=%d total=%d, want equal", state.Completed, state.Total)
	}
	for _, item := range state.Items {
		if item.Status != StatusDone && item.Status != StatusFailed {
			t.Fatalf("item %s: non-terminal status %s", item.ProductID, item.Status)
		}
	}

	r.Wait()
	for _, id := range []string{"b", "c", "d"} {
		if got := exec.callCount(id); got != 0 {
			t.Fatalf("job %s started after cancellation: %d calls", id, got)
		}
	}

	// Cancelling again after the run settled is a no-op.
	r.Cancel()
}

func TestRunnerCallbackRunsBeforeCompletedAdvances(t *testing.T) {
	exec := newStubExecutor(succeedWith(1))
	r := NewRunner(exec, testConfig(1), zerolog.Nop())

	var order []int
	var mu sync.Mutex
	onDone := func(productID string, res Result) {
		mu.Lock()
		order = append(order, r.Snapshot().Completed)
		mu.Unlock()
	}
	if err := r.Start(context.Background(), makeJobs("a", "b", "c"), onDone); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	r.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, completed := range order {
		if completed != i {
			t.Fatalf("callback %d observed completed=%d, want %d", i, completed, i)
		}
	}
}

func TestRunnerRejectsSecondBatch(t *testing.T) {
	release := make(chan struct{})
	exec := newStubExecutor(func(ctx context.Context, job Job, attempt int) Result {
		<-release
		return succeedWith(1)(ctx, job, attempt)
	})
	r := NewRunner(exec, testConfig(1), zerolog.Nop())

	if err := r.Start(context.Background(), makeJobs("a"), nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := r.Start(context.Background(), makeJobs("b"), nil); !errors.Is(err, domain.ErrBatchActive) {
		t.Fatalf("got %v, want ErrBatchActive", err)
	}
	close(release)
	r.Wait()

	// A settled batch can be replaced.
	if err := r.Start(context.Background(), makeJobs("b"), nil); err != nil {
		t.Fatalf("Start after settle error: %v", err)
	}
	r.Wait()
}

func TestRunnerDismiss(t *testing.T) {
	release := make(chan struct{})
	exec := newStubExecutor(func(ctx context.Context, job Job, attempt int) Result {
		<-release
		return succeedWith(1)(ctx, job, attempt)
	})
	r := NewRunner(exec, testConfig(1), zerolog.Nop())

	if err := r.Start(context.Background(), makeJobs("a"), nil); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := r.Dismiss(); !errors.Is(err, domain.ErrBatchActive) {
		t.Fatalf("dismiss while running: got %v, want ErrBatchActive", err)
	}
	close(release)
	r.Wait()

	if err := r.Dismiss(); err != nil {
		t.Fatalf("Dismiss error: %v", err)
	}
	state := r.Snapshot()
	if state.Total != 0 || state.Completed != 0 || len(state.Items) != 0 || state.Running || state.Cancelled {
		t.Fatalf("state not reset: %+v", state)
	}
}

func TestRunnerValidatesJobs(t *testing.T) {
	exec := newStubExecutor(succeedWith(1))
	r := NewRunner(exec, testConfig(1), zerolog.Nop())

	tests := []struct {
		name string
		jobs []Job
	}{
		{name: "empty list", jobs: nil},
		{name: "missing product id", jobs: []Job{{SourceImageURL: "https://example.com/a.png"}}},
		{name: "missing source image", jobs: []Job{{ProductID: "a"}}},
		{name: "duplicate product id", jobs: append(makeJobs("a"), makeJobs("a")...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Start(context.Background(), tt.jobs, nil); !errors.Is(err, domain.ErrInvalidProduct) {
				t.Fatalf("got %v, want ErrInvalidProduct", err)
			}
		})
	}
}
