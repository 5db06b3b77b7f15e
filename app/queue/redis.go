package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var _ Queue = (*Redis)(nil)

// Redis is the durable Queue over a Redis instance. Ready jobs live in a
// list, delayed jobs in a sorted set scored by due time, and known job ids
// in a set for dedup. Jobs survive process restarts.
type Redis struct {
	client *redis.Client
	name   string
}

// promoteScript atomically moves due members from the delayed sorted set
// onto the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, member in ipairs(due) do
    redis.call('ZREM', KEYS[1], member)
    redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// NewRedis connects to Redis at addr and verifies the connection. name
// namespaces all keys so several queues can share one instance.
func NewRedis(addr, name string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr, "queue", name)
	return &Redis{client: client, name: name}, nil
}

func (q *Redis) readyKey() string   { return "spyglass:" + q.name + ":ready" }
func (q *Redis) delayedKey() string { return "spyglass:" + q.name + ":delayed" }
func (q *Redis) idsKey() string     { return "spyglass:" + q.name + ":ids" }
func (q *Redis) failedKey() string  { return "spyglass:" + q.name + ":failed" }

func (q *Redis) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	added, err := q.client.SAdd(ctx, q.idsKey(), job.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to register job id: %w", err)
	}
	if added == 0 {
		slog.Debug("Duplicate job id, dropping enqueue", "job_id", job.ID)
		return nil
	}

	job.ScheduledAt = time.Now().UTC().Add(delay)
	return q.push(ctx, job, delay)
}

func (q *Redis) push(ctx context.Context, job Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	if delay > 0 {
		dueAt := float64(time.Now().UTC().Add(delay).UnixMilli())
		if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: dueAt, Member: payload}).Err(); err != nil {
			return fmt.Errorf("failed to enqueue delayed job: %w", err)
		}
		return nil
	}

	if err := q.client.LPush(ctx, q.readyKey(), payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (q *Redis) RemoveScheduled(ctx context.Context, idPrefix string) error {
	members, err := q.client.ZRange(ctx, q.delayedKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list delayed jobs: %w", err)
	}

	for _, member := range members {
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			continue
		}
		if !strings.HasPrefix(job.ID, idPrefix) {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.delayedKey(), member)
		pipe.SRem(ctx, q.idsKey(), job.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to remove scheduled job %s: %w", job.ID, err)
		}
	}
	return nil
}

func (q *Redis) Drain(ctx context.Context) error {
	if err := q.client.Del(ctx, q.readyKey(), q.delayedKey(), q.idsKey()).Err(); err != nil {
		return fmt.Errorf("failed to drain queue: %w", err)
	}
	return nil
}

func (q *Redis) Consume(ctx context.Context, handler Handler, concurrency int, ratePerSec float64) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	limiter := rate.NewLimiter(rate.Limit(ratePerSec), 1)

	var wg sync.WaitGroup

	// Promoter moves due delayed jobs onto the ready list.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := fmt.Sprintf("%d", time.Now().UTC().UnixMilli())
				if err := promoteScript.Run(ctx, q.client,
					[]string{q.delayedKey(), q.readyKey()}, now).Err(); err != nil && err != redis.Nil {
					slog.Warn("Failed to promote delayed jobs", "error", err)
				}
			}
		}
	}()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			q.worker(ctx, workerID, handler, limiter)
		}(i)
	}

	wg.Wait()
	return ctx.Err()
}

func (q *Redis) worker(ctx context.Context, workerID int, handler Handler, limiter *rate.Limiter) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := q.client.BRPop(ctx, time.Second, q.readyKey()).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			slog.Warn("Queue pop failed", "worker_id", workerID, "error", err)
			continue
		}
		// BRPop returns [key, value].
		if len(res) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			slog.Error("Dropping undecodable job payload", "worker_id", workerID, "error", err)
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			// Shutting down mid-dispatch: put the job back for the next run.
			if pushErr := q.push(context.Background(), job, 0); pushErr != nil {
				slog.Error("Failed to requeue job during shutdown", "job_id", job.ID, "error", pushErr)
			}
			return
		}

		q.runJob(ctx, handler, job)
	}
}

func (q *Redis) runJob(ctx context.Context, handler Handler, job Job) {
	job.Attempt++
	err := handler(ctx, job)
	if err == nil {
		q.forget(job.ID)
		return
	}

	if IsTerminal(err) || job.Attempt >= job.MaxAttempts {
		slog.Error("Job failed permanently", "job_id", job.ID, "attempt", job.Attempt, "error", err)
		if payload, mErr := json.Marshal(job); mErr == nil {
			q.client.LPush(context.Background(), q.failedKey(), payload)
			q.client.LTrim(context.Background(), q.failedKey(), 0, 99)
		}
		q.forget(job.ID)
		return
	}

	delay := backoffDelay(job.Attempt)
	slog.Warn("Job retry scheduled", "job_id", job.ID, "attempt", job.Attempt, "max_attempts", job.MaxAttempts, "delay", delay.String())
	if err := q.push(context.Background(), job, delay); err != nil {
		slog.Error("Failed to requeue job for retry", "job_id", job.ID, "error", err)
	}
}

func (q *Redis) forget(id string) {
	if err := q.client.SRem(context.Background(), q.idsKey(), id).Err(); err != nil {
		slog.Debug("Failed to clear job id", "job_id", id, "error", err)
	}
}

func (q *Redis) Close() error {
	return q.client.Close()
}
