package tasks

import (
	"context"

	"github.com/ozeron/spyglass/app/queue"
	"github.com/ozeron/spyglass/app/target"
)

// SchedulerInterface is consumed by the control surface and the worker pool.
//
// Start is idempotent in the sense that a second call while running is a
// no-op signalled by ErrAlreadyRunning. Stop clears pending work but lets
// the in-flight job finish; ScheduleNext must observe the stopped state and
// decline to enqueue a successor.
type SchedulerInterface interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() Status
	ScheduleNext(ctx context.Context, prev queue.Job) error
}

// CycleRunner executes one scrape cycle for a target.
type CycleRunner interface {
	Run(ctx context.Context, tgt target.Target) error
}
