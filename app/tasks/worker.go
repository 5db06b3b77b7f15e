package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ozeron/spyglass/app/auth"
	"github.com/ozeron/spyglass/app/queue"
	"github.com/ozeron/spyglass/app/target"
)

// Worker consumes surveillance jobs and runs one scrape cycle per job. On
// success it asks the scheduler for the target's successor; on a dead
// session it marks the job terminal so the queue stops retrying and the
// chain ends for that target.
type Worker struct {
	queue       queue.Queue
	cycle       CycleRunner
	scheduler   SchedulerInterface
	concurrency int
	ratePerSec  float64
}

func NewWorker(q queue.Queue, cycle CycleRunner, scheduler SchedulerInterface,
	concurrency int, ratePerSec float64) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &Worker{
		queue:       q,
		cycle:       cycle,
		scheduler:   scheduler,
		concurrency: concurrency,
		ratePerSec:  ratePerSec,
	}
}

// Run blocks consuming jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("Worker pool started", "concurrency", w.concurrency, "rate_per_sec", w.ratePerSec)
	return w.queue.Consume(ctx, w.handle, w.concurrency, w.ratePerSec)
}

func (w *Worker) handle(ctx context.Context, job queue.Job) error {
	slog.Info("Processing surveillance job",
		"job_id", job.ID, "target", job.TargetAccount, "attempt", job.Attempt)

	tgt := target.Target{
		Account: job.TargetAccount,
		Burner:  job.BurnerAccount,
		Proxy:   job.Proxy,
		Enabled: true,
	}

	if err := w.cycle.Run(ctx, tgt); err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			// Retrying cannot heal a dead headless session. The chain
			// ends here until an operator reseeds the login.
			slog.Error("Session expired, halting target's surveillance chain",
				"job_id", job.ID, "target", job.TargetAccount)
			return queue.Terminal(err)
		}
		return fmt.Errorf("surveillance cycle failed: %w", err)
	}

	slog.Info("Surveillance job completed", "job_id", job.ID, "target", job.TargetAccount)

	if err := w.scheduler.ScheduleNext(ctx, job); err != nil {
		// The cycle's data is already persisted. Losing the successor is
		// not worth a retry that would re-scrape the target.
		slog.Error("Failed to schedule successor", "job_id", job.ID, "error", err)
	}
	return nil
}
