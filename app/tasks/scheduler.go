package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ozeron/spyglass/app/auth"
	"github.com/ozeron/spyglass/app/queue"
	"github.com/ozeron/spyglass/app/target"
)

var _ SchedulerInterface = (*Scheduler)(nil)

// ErrAlreadyRunning signals a start command while surveillance is active.
var ErrAlreadyRunning = errors.New("surveillance is already running")

const jobIDPrefix = "run-"

// Status is the point-in-time control state. Auth carries the last observed
// checkpoint state per target so operators can see a pending manual login.
type Status struct {
	Running bool              `json:"running"`
	Auth    map[string]string `json:"auth,omitempty"`
}

// Options tune the scheduling loop.
type Options struct {
	// MinDelay and MaxDelay bound the uniformly sampled pause between a
	// completed cycle and its successor.
	MinDelay time.Duration
	MaxDelay time.Duration
	// MaxAttempts caps the queue's automatic retries per job.
	MaxAttempts int
}

// Scheduler owns the run state and the per-target job chains. There is no
// fixed-interval repeat: every successor is enqueued by its predecessor's
// completion, so stopping simply lets the chains run out.
type Scheduler struct {
	queue   queue.Queue
	targets []target.Target
	opts    Options

	mu         sync.RWMutex
	running    bool
	authStates map[string]auth.State
}

func NewScheduler(q queue.Queue, targets []target.Target, opts Options) *Scheduler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	return &Scheduler{
		queue:      q,
		targets:    targets,
		opts:       opts,
		authStates: make(map[string]auth.State),
	}
}

// Start activates surveillance: clears stale scheduled entries for every
// configured target and enqueues one immediate job per enabled target.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		slog.Warn("Start requested but surveillance is already running")
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	slog.Info("Starting surveillance", "targets", len(s.targets))

	for _, tgt := range s.targets {
		// Stale successors from a previous run must not race the fresh
		// chain.
		if err := s.queue.RemoveScheduled(ctx, jobIDPrefix+tgt.Account+"-"); err != nil {
			slog.Warn("Failed to clear stale scheduled jobs", "target", tgt.Account, "error", err)
		}

		if !tgt.Enabled {
			slog.Debug("Target disabled, skipping", "target", tgt.Account)
			continue
		}

		job := s.newJob(tgt.Account, tgt.Burner, tgt.Proxy)
		if err := s.queue.Enqueue(ctx, job, 0); err != nil {
			return fmt.Errorf("failed to enqueue job for %s: %w", tgt.Account, err)
		}
		slog.Info("Triggered surveillance chain", "target", tgt.Account, "job_id", job.ID)
	}

	return nil
}

// Stop deactivates surveillance and drains all pending and delayed jobs. A
// job already executing finishes naturally; its completion will observe the
// stopped state and decline to self-reschedule.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	slog.Info("Stopping surveillance, draining queue")
	if err := s.queue.Drain(ctx); err != nil {
		return fmt.Errorf("failed to drain queue: %w", err)
	}

	slog.Info("Queue cleared, surveillance stopped")
	return nil
}

// Status is a non-blocking read of the control state.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{Running: s.running}
	if len(s.authStates) > 0 {
		st.Auth = make(map[string]string, len(s.authStates))
		for account, state := range s.authStates {
			st.Auth[account] = string(state)
		}
	}
	return st
}

// ScheduleNext enqueues the successor for a completed job with a fresh
// unique id and a randomized delay. After a stop command it is a no-op, so
// a cycle finishing late cannot resurrect the loop.
func (s *Scheduler) ScheduleNext(ctx context.Context, prev queue.Job) error {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	if !running {
		slog.Info("Surveillance stopped, not scheduling successor", "target", prev.TargetAccount)
		return nil
	}

	delay := s.nextDelay()
	job := s.newJob(prev.TargetAccount, prev.BurnerAccount, prev.Proxy)

	if err := s.queue.Enqueue(ctx, job, delay); err != nil {
		return fmt.Errorf("failed to schedule next cycle for %s: %w", prev.TargetAccount, err)
	}

	slog.Info("Next cycle scheduled", "target", prev.TargetAccount, "job_id", job.ID, "delay", delay.String())
	return nil
}

// SetAuthState records the last observed checkpoint state for a target.
func (s *Scheduler) SetAuthState(account string, state auth.State) {
	s.mu.Lock()
	s.authStates[account] = state
	s.mu.Unlock()
}

func (s *Scheduler) newJob(account, burner string, proxy target.ProxyConfig) queue.Job {
	return queue.Job{
		// (target, timestamp)-derived so distinct runs never collide in
		// the queue's dedup set.
		ID:            fmt.Sprintf("%s%s-%d", jobIDPrefix, account, time.Now().UnixNano()),
		TargetAccount: account,
		BurnerAccount: burner,
		Proxy:         proxy,
		MaxAttempts:   s.opts.MaxAttempts,
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	spread := int64(s.opts.MaxDelay - s.opts.MinDelay)
	if spread <= 0 {
		return s.opts.MinDelay
	}
	return s.opts.MinDelay + time.Duration(rand.Int63n(spread+1))
}
