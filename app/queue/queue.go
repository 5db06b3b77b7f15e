// Package queue provides the durable job queue feeding the worker pool.
// Jobs are deduplicated by id, optionally delayed, and retried with
// exponential backoff up to their attempt cap unless marked terminal.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ozeron/spyglass/app/target"
)

// Job drives exactly one scrape-cycle invocation (or its delayed successor).
type Job struct {
	ID            string             `json:"id"`
	TargetAccount string             `json:"target_account"`
	BurnerAccount string             `json:"burner_account"`
	Proxy         target.ProxyConfig `json:"proxy"`
	Attempt       int                `json:"attempt"`
	MaxAttempts   int                `json:"max_attempts"`
	ScheduledAt   time.Time          `json:"scheduled_at"`
}

// Handler processes one job. A nil return acknowledges the job; an error
// triggers the queue's retry policy unless the error is marked Terminal.
type Handler func(ctx context.Context, job Job) error

// Queue is the durable-queue contract the scheduler and worker pool consume.
type Queue interface {
	// Enqueue adds a job, optionally delayed. A job id already known to
	// the queue is silently dropped; unique ids per enqueue are the
	// caller's responsibility.
	Enqueue(ctx context.Context, job Job, delay time.Duration) error

	// RemoveScheduled drops all delayed jobs whose id starts with prefix.
	RemoveScheduled(ctx context.Context, idPrefix string) error

	// Drain removes every pending and delayed job. Running jobs finish.
	Drain(ctx context.Context) error

	// Consume processes jobs with the given concurrency and a cap on job
	// starts per second. It blocks until ctx is cancelled.
	Consume(ctx context.Context, handler Handler, concurrency int, ratePerSec float64) error

	Close() error
}

// terminalError marks a failure that must not be retried.
type terminalError struct {
	err error
}

func (e terminalError) Error() string { return "terminal: " + e.err.Error() }
func (e terminalError) Unwrap() error { return e.err }

// Terminal wraps err so the queue fails the job without retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

// IsTerminal reports whether err carries the no-retry marker.
func IsTerminal(err error) bool {
	var te terminalError
	return errors.As(err, &te)
}

// backoffDelay grows exponentially per attempt (1s, 2s, 4s...) capped at
// 30s. attempt is 1-based.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(1<<uint(attempt-1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
