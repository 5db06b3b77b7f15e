// Package scrape runs one surveillance cycle against one target: session
// acquisition, authentication checkpoint, paced extraction, persistence.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ozeron/spyglass/app/auth"
	"github.com/ozeron/spyglass/app/browser"
	"github.com/ozeron/spyglass/app/database"
	"github.com/ozeron/spyglass/app/metrics"
	"github.com/ozeron/spyglass/app/session"
	"github.com/ozeron/spyglass/app/target"
)

const (
	profileURLFormat = "https://x.com/%s"

	navigationTimeout = 30 * time.Second
	profileSettle     = 5 * time.Second

	// Human-scale pacing between content advances.
	pauseMin = 1500 * time.Millisecond
	pauseJit = 1500 * time.Millisecond

	advanceKey = "j"
)

// activePostScript extracts the viewport-focused post. The platform keeps
// legacy "tweet" test ids in its markup.
const activePostScript = `(() => {
  const article = document.querySelector('article[data-testid="tweet"]');
  if (!article) return null;
  const text = article.querySelector('div[data-testid="tweetText"]')?.textContent || '';
  const timestamp = article.querySelector('time')?.getAttribute('datetime') || '';
  const counts = { likes: '', reposts: '', replies: '', views: '' };
  article.querySelectorAll('div[role="group"] div[aria-label]').forEach(g => {
    const label = g.getAttribute('aria-label') || '';
    for (const key of Object.keys(counts)) {
      if (label.includes(key)) counts[key] = g.textContent || '';
    }
  });
  const link = article.querySelector('a[href*="/status/"]')?.getAttribute('href');
  const id = link ? link.split('/status/')[1] : null;
  return { id, text, timestamp, metrics: counts };
})()`

// rawPost is the engine's extraction result. Counts arrive as the platform
// renders them ("1.2K") and go through the normalizer.
type rawPost struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Metrics   struct {
		Likes   string `json:"likes"`
		Reposts string `json:"reposts"`
		Replies string `json:"replies"`
		Views   string `json:"views"`
	} `json:"metrics"`
}

// Config carries the cycle's tunables from process configuration.
type Config struct {
	// Headless is the global default; individual launches may be forced
	// interactive by the session-seeding policy.
	Headless bool
	// DisableSeedCheck skips the force-interactive-on-first-run policy.
	DisableSeedCheck bool
	// Iterations is the number of pacing advances per cycle.
	Iterations int
	// Proxy is the process-wide default, overridable per target.
	Proxy     target.ProxyConfig
	UserAgent string
}

// Cycle orchestrates scrape runs. Safe for concurrent use across distinct
// targets; the scheduler guarantees no two concurrent runs share a burner.
type Cycle struct {
	engine     browser.Engine
	sessions   *session.Store
	repo       database.PostRepository
	classifier metrics.Classifier
	cfg        Config

	// OnAuthState, when set, receives checkpoint transitions tagged by
	// target account, for the control surface.
	OnAuthState func(account string, state auth.State)

	// sleep and newCheckpoint are swapped in tests.
	sleep         func(ctx context.Context, d time.Duration) error
	newCheckpoint func() *auth.Checkpoint
}

func NewCycle(engine browser.Engine, sessions *session.Store, repo database.PostRepository,
	classifier metrics.Classifier, cfg Config) *Cycle {
	if cfg.Iterations <= 0 {
		cfg.Iterations = 5
	}
	return &Cycle{
		engine:        engine,
		sessions:      sessions,
		repo:          repo,
		classifier:    classifier,
		cfg:           cfg,
		sleep:         sleepCtx,
		newCheckpoint: auth.NewCheckpoint,
	}
}

// Run executes one full cycle for the target. Navigation and authentication
// errors are fatal for the cycle; single-item extraction and persistence
// failures are logged and skipped. The browsing session is always released
// before an error propagates.
func (c *Cycle) Run(ctx context.Context, tgt target.Target) error {
	slog.Info("Starting surveillance cycle", "target", tgt.Account, "burner", tgt.Burner)

	dir, err := c.sessions.DirectoryFor(tgt.Burner)
	if err != nil {
		return fmt.Errorf("failed to acquire session: %w", err)
	}

	// First-run policy: with no session artifacts, force one interactive
	// launch so a human can seed the login, even if the default is
	// headless.
	interactive := !c.cfg.Headless
	if !interactive && !c.cfg.DisableSeedCheck && !c.sessions.HasArtifacts(tgt.Burner) {
		slog.Warn("No session artifacts, forcing interactive launch", "burner", tgt.Burner)
		interactive = true
	}

	proxy := c.cfg.Proxy
	if tgt.Proxy.Configured() {
		proxy = tgt.Proxy
	}

	handle, err := c.engine.Launch(ctx, browser.Options{
		SessionDir: dir,
		Headless:   !interactive,
		Proxy:      proxy,
		UserAgent:  c.cfg.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("failed to launch browsing session: %w", err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			slog.Warn("Failed to release browsing session", "burner", tgt.Burner, "error", err)
		}
	}()

	checkpoint := c.newCheckpoint()
	if c.OnAuthState != nil {
		checkpoint.OnTransition = func(s auth.State) { c.OnAuthState(tgt.Account, s) }
	}
	if err := checkpoint.Run(ctx, handle, interactive); err != nil {
		return fmt.Errorf("authentication checkpoint failed: %w", err)
	}

	profileURL := fmt.Sprintf(profileURLFormat, tgt.Account)
	slog.Info("Acquiring target", "url", profileURL)
	if err := handle.Navigate(ctx, profileURL, navigationTimeout); err != nil {
		return fmt.Errorf("failed to navigate to target: %w", err)
	}
	if err := c.sleep(ctx, profileSettle); err != nil {
		return err
	}

	saved := 0
	skipped := 0
	for i := 0; i < c.cfg.Iterations; i++ {
		if err := handle.Press(ctx, advanceKey); err != nil {
			return fmt.Errorf("failed to advance content: %w", err)
		}

		pause := pauseMin + time.Duration(rand.Int63n(int64(pauseJit)))
		if err := c.sleep(ctx, pause); err != nil {
			return err
		}

		if err := c.processActivePost(ctx, handle, tgt.Account); err != nil {
			slog.Warn("Failed to process active post, skipping", "target", tgt.Account, "error", err)
			skipped++
			continue
		}
		saved++
	}

	slog.Info("Surveillance cycle completed", "target", tgt.Account, "saved", saved, "skipped", skipped)
	return nil
}

// processActivePost extracts the viewport-focused post, normalizes its
// metrics, and records the observation. A failed write drops only this
// observation; the next cycle gets another chance.
func (c *Cycle) processActivePost(ctx context.Context, handle browser.Handle, account string) error {
	data, err := handle.Extract(ctx, activePostScript)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	if data == nil {
		return fmt.Errorf("no active post in viewport")
	}

	var raw rawPost
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode extracted post: %w", err)
	}
	if raw.ID == "" {
		return fmt.Errorf("extracted post has no id")
	}

	now := time.Now().UTC()
	createdAt := now
	if ts, err := time.Parse(time.RFC3339, raw.Timestamp); err == nil {
		createdAt = ts
	}

	likes := metrics.ParseCount(raw.Metrics.Likes)
	reposts := metrics.ParseCount(raw.Metrics.Reposts)
	replies := metrics.ParseCount(raw.Metrics.Replies)
	views := metrics.ParseCount(raw.Metrics.Views)

	post := database.Post{
		ID:            raw.ID,
		Author:        account,
		Content:       raw.Text,
		CreatedAt:     createdAt,
		LastScrapedAt: now,
		Likes:         likes,
		Reposts:       reposts,
		Replies:       replies,
		Views:         views,
	}
	snap := database.Snapshot{
		PostID:     raw.ID,
		CapturedAt: now,
		Likes:      likes,
		Reposts:    reposts,
		Replies:    replies,
		Views:      views,
		Hotness:    metrics.Hotness(likes, reposts, replies),
		Mood:       c.classifier.Classify(raw.Text),
	}

	if err := c.repo.RecordObservation(post, snap); err != nil {
		// Dropped observation, not a cycle failure.
		slog.Error("Database write failed, dropping observation", "post_id", raw.ID, "error", err)
		return nil
	}

	slog.Info("Saved snapshot", "post_id", raw.ID, "likes", likes, "hotness", snap.Hotness)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
