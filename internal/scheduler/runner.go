package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"expander/internal/domain"
)

// ItemDoneFunc receives each claimed job's terminal result, exactly once,
// before the batch completed counter advances for that job. Jobs the circuit
// breaker fails while still queued never reach it.
type ItemDoneFunc func(productID string, res Result)

// Config holds the scheduler knobs. The defaults mirror informal rate-limit
// avoidance, not a tuned backoff scheme.
type Config struct {
	Concurrency int
	ItemDelay   time.Duration
	RetryDelay  time.Duration
}

const (
	defaultConcurrency = 2
	defaultItemDelay   = 500 * time.Millisecond
	defaultRetryDelay  = 2 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.ItemDelay <= 0 {
		c.ItemDelay = defaultItemDelay
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}

// Runner executes one expansion batch at a time over a fixed pool of lanes.
// Each lane claims the lowest unclaimed job, runs it through the executor and
// retry policy, reports the result, then pauses briefly before claiming the
// next one.
type Runner struct {
	exec Executor
	cfg  Config
	log  zerolog.Logger

	mu  sync.Mutex
	cur *run
}

func NewRunner(exec Executor, cfg Config, logger zerolog.Logger) *Runner {
	return &Runner{exec: exec, cfg: cfg.withDefaults(), log: logger}
}

// Start begins a new batch. It rejects an empty or malformed job list and
// refuses to start while another batch is running. The context bounds the
// whole run; cancelling it behaves like Cancel.
func (r *Runner) Start(ctx context.Context, jobs []Job, onItemDone ItemDoneFunc) error {
	if err := validateJobs(jobs); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil && r.cur.running() {
		return domain.ErrBatchActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	x := &run{
		exec:       r.exec,
		cfg:        r.cfg,
		retry:      RetryPolicy{Delay: r.cfg.RetryDelay},
		log:        r.log,
		jobs:       append([]Job(nil), jobs...),
		onItemDone: onItemDone,
		cancelCtx:  cancel,
		done:       make(chan struct{}),
	}
	items := make([]ItemState, len(jobs))
	for i, job := range jobs {
		items[i] = ItemState{ProductID: job.ProductID, Status: StatusQueued}
	}
	x.state = BatchState{Running: true, Total: len(jobs), Items: items}
	r.cur = x

	lanes := min(r.cfg.Concurrency, len(jobs))
	var wg sync.WaitGroup
	for i := 0; i < lanes; i++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			x.lane(runCtx, lane)
		}(i)
	}
	go func() {
		wg.Wait()
		x.finalize()
	}()

	r.log.Info().Int("total", len(jobs)).Int("lanes", lanes).Msg("scheduler: batch started")
	return nil
}

// Cancel aborts the current batch: in-flight calls are interrupted through
// the shared signal and every item not yet settled is failed. Calling it with
// no active batch is a no-op.
func (r *Runner) Cancel() {
	r.mu.Lock()
	x := r.cur
	r.mu.Unlock()
	if x != nil {
		x.cancel()
	}
}

// Dismiss clears a finished batch so its state reads empty again. It is
// rejected while a batch is running.
func (r *Runner) Dismiss() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil && r.cur.running() {
		return domain.ErrBatchActive
	}
	r.cur = nil
	return nil
}

// Snapshot returns a deep copy of the current batch state, safe to poll from
// any goroutine.
func (r *Runner) Snapshot() BatchState {
	r.mu.Lock()
	x := r.cur
	r.mu.Unlock()
	if x == nil {
		return BatchState{Items: []ItemState{}}
	}
	return x.snapshot()
}

// Wait blocks until the current batch settles. It returns immediately when no
// batch was ever started.
func (r *Runner) Wait() {
	r.mu.Lock()
	x := r.cur
	r.mu.Unlock()
	if x != nil {
		<-x.done
	}
}

func validateJobs(jobs []Job) error {
	if len(jobs) == 0 {
		return fmt.Errorf("%w: empty job list", domain.ErrInvalidProduct)
	}
	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if strings.TrimSpace(job.ProductID) == "" {
			return fmt.Errorf("%w: missing product id", domain.ErrInvalidProduct)
		}
		if _, dup := seen[job.ProductID]; dup {
			return fmt.Errorf("%w: duplicate product id %s", domain.ErrInvalidProduct, job.ProductID)
		}
		seen[job.ProductID] = struct{}{}
		if strings.TrimSpace(job.SourceImageURL) == "" {
			return fmt.Errorf("%w: product %s has no source image", domain.ErrInvalidProduct, job.ProductID)
		}
	}
	return nil
}

// run is the state of one batch. Lanes of a finished run may still be
// draining when the next run starts; keeping per-run state isolated means
// they can never touch the new batch.
type run struct {
	exec  Executor
	cfg   Config
	retry RetryPolicy
	log   zerolog.Logger

	jobs       []Job
	onItemDone ItemDoneFunc
	cursor     atomic.Int64
	aborted    atomic.Bool
	cancelCtx  context.CancelFunc
	done       chan struct{}

	mu    sync.Mutex
	state BatchState
}

func (x *run) running() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state.Running
}

func (x *run) snapshot() BatchState {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := x.state
	out.Items = append([]ItemState(nil), x.state.Items...)
	return out
}

func (x *run) lane(ctx context.Context, lane int) {
	for {
		if ctx.Err() != nil || x.aborted.Load() {
			return
		}
		idx := int(x.cursor.Add(1)) - 1
		if idx >= len(x.jobs) {
			return
		}
		if !x.claim(idx) {
			continue
		}
		job := x.jobs[idx]
		x.log.Debug().Int("lane", lane).Str("product_id", job.ProductID).Msg("scheduler: claimed job")

		res := x.executeWithRetry(ctx, job)
		x.record(idx, job, res)

		if res.Failure != nil && res.Failure.QuotaClass() {
			x.breakCircuit(res.Failure)
			return
		}
		if x.aborted.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(x.cfg.ItemDelay):
		}
	}
}

// claim transitions a queued item to processing. It fails when cancellation
// already settled the item between the cursor advance and here.
func (x *run) claim(idx int) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	item := &x.state.Items[idx]
	if item.Status != StatusQueued {
		return false
	}
	item.Status = StatusProcessing
	return true
}

func (x *run) executeWithRetry(ctx context.Context, job Job) Result {
	if ctx.Err() != nil {
		return failed(FailureCancelled, reasonStopped)
	}
	res := x.exec.Execute(ctx, job)
	if res.Failure == nil || !x.retry.ShouldRetry(res.Failure) {
		return res
	}
	x.log.Info().Str("product_id", job.ProductID).Str("reason", res.Failure.Message).Msg("scheduler: retrying once")
	select {
	case <-ctx.Done():
		return failed(FailureCancelled, reasonStopped)
	case <-time.After(x.retry.Delay):
	}
	return x.exec.Execute(ctx, job)
}

// record settles the item, reports it, then advances the completed counter.
// The callback runs outside the lock and strictly before the increment.
func (x *run) record(idx int, job Job, res Result) {
	x.mu.Lock()
	item := &x.state.Items[idx]
	if item.Status == StatusProcessing {
		if res.Failure == nil {
			item.Status = StatusDone
			item.GeneratedCount = len(res.Images)
		} else {
			item.Status = StatusFailed
			item.Error = res.Failure.Message
		}
	}
	x.mu.Unlock()

	if x.onItemDone != nil {
		x.onItemDone(job.ProductID, res)
	}

	x.mu.Lock()
	if x.state.Completed < x.state.Total {
		x.state.Completed++
	}
	completed, total := x.state.Completed, x.state.Total
	x.mu.Unlock()
	x.log.Info().
		Str("product_id", job.ProductID).
		Bool("success", res.Failure == nil).
		Int("completed", completed).
		Int("total", total).
		Msg("scheduler: job finished")
}

// breakCircuit is the quota-class short circuit: no lane starts new work,
// every still-queued item fails with the same reason, and the batch reads as
// finished. In-flight jobs on other lanes finish naturally.
func (x *run) breakCircuit(f *Failure) {
	x.aborted.Store(true)
	x.mu.Lock()
	for i := range x.state.Items {
		item := &x.state.Items[i]
		if item.Status == StatusQueued {
			item.Status = StatusFailed
			item.Error = f.Message
		}
	}
	x.state.Cancelled = true
	x.state.Completed = x.state.Total
	x.mu.Unlock()
	x.log.Warn().Str("reason", f.Message).Msg("scheduler: quota failure, halting batch")
}

// cancel is the user-initiated stop. Unlike the circuit breaker it aborts
// in-flight calls through the shared signal and settles processing items too.
func (x *run) cancel() {
	x.mu.Lock()
	if !x.state.Running {
		x.mu.Unlock()
		return
	}
	for i := range x.state.Items {
		item := &x.state.Items[i]
		if item.Status == StatusQueued || item.Status == StatusProcessing {
			item.Status = StatusFailed
			item.Error = reasonStopped
		}
	}
	x.state.Completed = x.state.Total
	x.state.Cancelled = true
	x.state.Running = false
	x.mu.Unlock()

	x.aborted.Store(true)
	x.cancelCtx()
	x.log.Info().Msg("scheduler: batch cancelled")
}

func (x *run) finalize() {
	x.mu.Lock()
	x.state.Running = false
	completed, total := x.state.Completed, x.state.Total
	x.mu.Unlock()
	x.cancelCtx()
	close(x.done)
	x.log.Info().Int("completed", completed).Int("total", total).Msg("scheduler: batch settled")
}
