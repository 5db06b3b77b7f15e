package queue

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var _ Queue = (*Memory)(nil)

// Memory is an in-process Queue with the same semantics as the Redis
// implementation: id dedup, delayed promotion, bounded retry. Used in tests
// and redis-less development runs; pending jobs do not survive a restart.
type Memory struct {
	mu      sync.Mutex
	ready   []Job
	delayed map[string]delayedJob
	seen    map[string]struct{}
	failed  []Job
	closed  bool

	wake chan struct{}
}

type delayedJob struct {
	job   Job
	dueAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		delayed: make(map[string]delayedJob),
		seen:    make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

func (q *Memory) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.seen[job.ID]; dup {
		slog.Debug("Duplicate job id, dropping enqueue", "job_id", job.ID)
		return nil
	}
	q.seen[job.ID] = struct{}{}

	job.ScheduledAt = time.Now().UTC().Add(delay)
	if delay > 0 {
		q.delayed[job.ID] = delayedJob{job: job, dueAt: job.ScheduledAt}
	} else {
		q.ready = append(q.ready, job)
	}

	q.signal()
	return nil
}

// push requeues a retry without the dedup check.
func (q *Memory) push(job Job, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if delay > 0 {
		q.delayed[job.ID] = delayedJob{job: job, dueAt: time.Now().UTC().Add(delay)}
	} else {
		q.ready = append(q.ready, job)
	}
	q.signal()
}

func (q *Memory) RemoveScheduled(ctx context.Context, idPrefix string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id := range q.delayed {
		if strings.HasPrefix(id, idPrefix) {
			delete(q.delayed, id)
			delete(q.seen, id)
		}
	}
	return nil
}

func (q *Memory) Drain(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.ready {
		delete(q.seen, job.ID)
	}
	for id := range q.delayed {
		delete(q.seen, id)
	}
	q.ready = nil
	q.delayed = make(map[string]delayedJob)
	return nil
}

func (q *Memory) Consume(ctx context.Context, handler Handler, concurrency int, ratePerSec float64) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	limiter := rate.NewLimiter(rate.Limit(ratePerSec), 1)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.worker(ctx, handler, limiter)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func (q *Memory) worker(ctx context.Context, handler Handler, limiter *rate.Limiter) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			case <-ticker.C:
			}
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			// Shutting down; the popped job is lost from memory, which
			// matches the non-durable contract of this implementation.
			return
		}

		q.runJob(ctx, handler, job)
	}
}

func (q *Memory) runJob(ctx context.Context, handler Handler, job Job) {
	job.Attempt++
	err := handler(ctx, job)
	if err == nil {
		q.forget(job.ID)
		return
	}

	if IsTerminal(err) || job.Attempt >= job.MaxAttempts {
		slog.Error("Job failed permanently", "job_id", job.ID, "attempt", job.Attempt, "error", err)
		q.mu.Lock()
		q.failed = append(q.failed, job)
		q.mu.Unlock()
		q.forget(job.ID)
		return
	}

	delay := backoffDelay(job.Attempt)
	slog.Warn("Job retry scheduled", "job_id", job.ID, "attempt", job.Attempt, "max_attempts", job.MaxAttempts, "delay", delay.String())
	q.push(job, delay)
}

func (q *Memory) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteLocked()

	if len(q.ready) == 0 {
		return Job{}, false
	}
	job := q.ready[0]
	q.ready = q.ready[1:]
	return job, true
}

// promoteLocked moves due delayed jobs onto the ready list.
func (q *Memory) promoteLocked() {
	now := time.Now().UTC()
	for id, d := range q.delayed {
		if !d.dueAt.After(now) {
			q.ready = append(q.ready, d.job)
			delete(q.delayed, id)
		}
	}
}

func (q *Memory) forget(id string) {
	q.mu.Lock()
	delete(q.seen, id)
	q.mu.Unlock()
}

func (q *Memory) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// FailedJobs returns jobs that exhausted their retries or failed terminally.
func (q *Memory) FailedJobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.failed))
	copy(out, q.failed)
	return out
}

// PendingCount reports ready plus delayed jobs, for tests and status.
func (q *Memory) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.delayed)
}

func (q *Memory) Close() error {
	return nil
}
