package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ozeron/spyglass/app/auth"
	"github.com/ozeron/spyglass/app/browser"
	"github.com/ozeron/spyglass/app/database"
	"github.com/ozeron/spyglass/app/metrics"
	"github.com/ozeron/spyglass/app/session"
	"github.com/ozeron/spyglass/app/target"
)

// scriptedEngine hands out scriptedHandles and records launch options.
type scriptedEngine struct {
	mu       sync.Mutex
	launches []browser.Options
	handle   *scriptedHandle
}

var _ browser.Engine = (*scriptedEngine)(nil)

func (e *scriptedEngine) Launch(ctx context.Context, opts browser.Options) (browser.Handle, error) {
	e.mu.Lock()
	e.launches = append(e.launches, opts)
	e.mu.Unlock()
	return e.handle, nil
}

type scriptedHandle struct {
	loginRedirect bool
	extractErr    error
	extractNil    bool
	postID        string

	mu         sync.Mutex
	navigated  []string
	pressed    int
	extracts   int
	closed     bool
	currentURL string
}

var _ browser.Handle = (*scriptedHandle)(nil)

func (h *scriptedHandle) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.navigated = append(h.navigated, url)
	if h.loginRedirect && url == "https://x.com/home" {
		h.currentURL = "https://x.com/i/flow/login"
	} else {
		h.currentURL = url
	}
	return nil
}

func (h *scriptedHandle) CurrentURL(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentURL, nil
}

func (h *scriptedHandle) WaitForURL(ctx context.Context, substr string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (h *scriptedHandle) Press(ctx context.Context, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pressed++
	return nil
}

func (h *scriptedHandle) Extract(ctx context.Context, script string) (json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extracts++
	if h.extractErr != nil {
		return nil, h.extractErr
	}
	if h.extractNil {
		return nil, nil
	}
	payload := fmt.Sprintf(
		`{"id":%q,"text":"feeling great about this","timestamp":"2026-08-01T12:00:00Z","metrics":{"likes":"1.2K","reposts":"34","replies":"5","views":"88K"}}`,
		h.postID)
	return json.RawMessage(payload), nil
}

func (h *scriptedHandle) Cookies(ctx context.Context, url string) ([]browser.Cookie, error) {
	return nil, nil
}

func (h *scriptedHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// recordingRepo implements database.PostRepository for cycle tests.
type recordingRepo struct {
	mu       sync.Mutex
	posts    []database.Post
	snaps    []database.Snapshot
	writeErr error
}

var _ database.PostRepository = (*recordingRepo)(nil)

func (r *recordingRepo) RecordObservation(post database.Post, snap database.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	r.posts = append(r.posts, post)
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *recordingRepo) GetPost(id string) (*database.Post, error)       { return nil, nil }
func (r *recordingRepo) GetPostsByAuthor(a string) ([]database.Post, error) { return nil, nil }
func (r *recordingRepo) GetSnapshots(p string) ([]database.Snapshot, error) { return nil, nil }
func (r *recordingRepo) GetPostCount() (int, error)                      { return 0, nil }
func (r *recordingRepo) GetSnapshotCount() (int, error)                  { return 0, nil }

func (r *recordingRepo) snapshotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func seedArtifacts(t *testing.T, store *session.Store, burner string) {
	t.Helper()
	dir, err := store.DirectoryFor(burner)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Cookies"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestCycle(t *testing.T, engine browser.Engine, repo database.PostRepository,
	cfg Config) (*Cycle, *session.Store) {
	t.Helper()
	store := session.NewStore(t.TempDir(), engine, target.ProxyConfig{})
	c := NewCycle(engine, store, repo, metrics.NewKeywordClassifier(), cfg)
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	c.newCheckpoint = func() *auth.Checkpoint {
		cp := auth.NewCheckpoint()
		cp.Settle = 0
		cp.LoginSettle = 0
		return cp
	}
	return c, store
}

func testTarget() target.Target {
	return target.Target{Account: "elonmusk", Burner: "burner_01", Enabled: true}
}

func TestCycle_SuccessfulRun(t *testing.T) {
	handle := &scriptedHandle{postID: "1800000000000000001"}
	engine := &scriptedEngine{handle: handle}
	repo := &recordingRepo{}

	cycle, store := newTestCycle(t, engine, repo, Config{Headless: true, Iterations: 5})
	seedArtifacts(t, store, "burner_01")

	if err := cycle.Run(context.Background(), testTarget()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if handle.pressed != 5 {
		t.Errorf("Expected 5 content advances, got %d", handle.pressed)
	}
	if repo.snapshotCount() != 5 {
		t.Errorf("Expected 5 snapshots, got %d", repo.snapshotCount())
	}
	if !handle.closed {
		t.Error("Browsing session must be released")
	}

	// Normalized metrics flow through
	repo.mu.Lock()
	defer repo.mu.Unlock()
	snap := repo.snaps[0]
	if snap.Likes != 1200 {
		t.Errorf("Expected normalized likes 1200, got %d", snap.Likes)
	}
	if snap.Views != 88000 {
		t.Errorf("Expected normalized views 88000, got %d", snap.Views)
	}
	if snap.Mood != metrics.MoodPositive {
		t.Errorf("Expected POSITIVE mood, got %s", snap.Mood)
	}
	if repo.posts[0].Author != "elonmusk" {
		t.Errorf("Post author should be the target account, got %q", repo.posts[0].Author)
	}
}

func TestCycle_HeadlessExpiredSessionIsFatal(t *testing.T) {
	handle := &scriptedHandle{loginRedirect: true}
	engine := &scriptedEngine{handle: handle}
	repo := &recordingRepo{}

	cycle, store := newTestCycle(t, engine, repo, Config{Headless: true, Iterations: 5})
	seedArtifacts(t, store, "burner_01")

	err := cycle.Run(context.Background(), testTarget())
	if !errors.Is(err, auth.ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got %v", err)
	}
	if repo.snapshotCount() != 0 {
		t.Error("No observations should be recorded after a failed checkpoint")
	}
	if !handle.closed {
		t.Error("Session must be released even on fatal error")
	}
}

func TestCycle_ItemFailuresAreNonFatal(t *testing.T) {
	handle := &scriptedHandle{extractErr: errors.New("stale element")}
	engine := &scriptedEngine{handle: handle}
	repo := &recordingRepo{}

	cycle, store := newTestCycle(t, engine, repo, Config{Headless: true, Iterations: 3})
	seedArtifacts(t, store, "burner_01")

	if err := cycle.Run(context.Background(), testTarget()); err != nil {
		t.Fatalf("Item extraction failures must not fail the cycle: %v", err)
	}
	if handle.extracts != 3 {
		t.Errorf("All iterations should still run, got %d extracts", handle.extracts)
	}
}

func TestCycle_EmptyViewportIsNonFatal(t *testing.T) {
	handle := &scriptedHandle{extractNil: true}
	engine := &scriptedEngine{handle: handle}
	repo := &recordingRepo{}

	cycle, store := newTestCycle(t, engine, repo, Config{Headless: true, Iterations: 2})
	seedArtifacts(t, store, "burner_01")

	if err := cycle.Run(context.Background(), testTarget()); err != nil {
		t.Fatalf("Empty viewport must not fail the cycle: %v", err)
	}
	if repo.snapshotCount() != 0 {
		t.Error("Nothing should be recorded for an empty viewport")
	}
}

func TestCycle_PersistenceFailureDropsObservation(t *testing.T) {
	handle := &scriptedHandle{postID: "1800000000000000002"}
	engine := &scriptedEngine{handle: handle}
	repo := &recordingRepo{writeErr: errors.New("disk full")}

	cycle, store := newTestCycle(t, engine, repo, Config{Headless: true, Iterations: 2})
	seedArtifacts(t, store, "burner_01")

	if err := cycle.Run(context.Background(), testTarget()); err != nil {
		t.Fatalf("Persistence failure must not fail the cycle: %v", err)
	}
}

func TestCycle_ForcesInteractiveWithoutArtifacts(t *testing.T) {
	handle := &scriptedHandle{postID: "1800000000000000003"}
	engine := &scriptedEngine{handle: handle}
	repo := &recordingRepo{}

	cycle, _ := newTestCycle(t, engine, repo, Config{Headless: true, Iterations: 1})
	// No artifacts seeded.

	if err := cycle.Run(context.Background(), testTarget()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if len(engine.launches) != 1 {
		t.Fatalf("Expected 1 launch, got %d", len(engine.launches))
	}
	if engine.launches[0].Headless {
		t.Error("First run without artifacts should force an interactive launch")
	}
}

func TestCycle_SeedCheckDisabledStaysHeadless(t *testing.T) {
	handle := &scriptedHandle{postID: "1800000000000000004"}
	engine := &scriptedEngine{handle: handle}
	repo := &recordingRepo{}

	cycle, _ := newTestCycle(t, engine, repo,
		Config{Headless: true, DisableSeedCheck: true, Iterations: 1})

	if err := cycle.Run(context.Background(), testTarget()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if !engine.launches[0].Headless {
		t.Error("With the seed check disabled the launch should stay headless")
	}
}

func TestCycle_TargetProxyOverridesDefault(t *testing.T) {
	handle := &scriptedHandle{postID: "1800000000000000005"}
	engine := &scriptedEngine{handle: handle}
	repo := &recordingRepo{}

	defaultProxy := target.ProxyConfig{Server: "http://default:8080"}
	cycle, store := newTestCycle(t, engine, repo,
		Config{Headless: true, Iterations: 1, Proxy: defaultProxy})
	seedArtifacts(t, store, "burner_01")

	tgt := testTarget()
	tgt.Proxy = target.ProxyConfig{Server: "http://override:8080"}

	if err := cycle.Run(context.Background(), tgt); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if got := engine.launches[0].Proxy.Server; got != "http://override:8080" {
		t.Errorf("Expected per-target proxy override, got %q", got)
	}
}
