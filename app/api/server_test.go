package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ozeron/spyglass/app/database"
	"github.com/ozeron/spyglass/app/queue"
	"github.com/ozeron/spyglass/app/tasks"
)

// stubScheduler scripts control responses.
type stubScheduler struct {
	startErr error
	stopErr  error
	status   tasks.Status
	started  int
	stopped  int
}

var _ tasks.SchedulerInterface = (*stubScheduler)(nil)

func (s *stubScheduler) Start(ctx context.Context) error { s.started++; return s.startErr }
func (s *stubScheduler) Stop(ctx context.Context) error  { s.stopped++; return s.stopErr }
func (s *stubScheduler) Status() tasks.Status            { return s.status }
func (s *stubScheduler) ScheduleNext(ctx context.Context, prev queue.Job) error {
	return nil
}

// stubRepo serves canned posts and snapshots.
type stubRepo struct {
	posts []database.Post
	snaps []database.Snapshot
}

var _ database.PostRepository = (*stubRepo)(nil)

func (r *stubRepo) RecordObservation(post database.Post, snap database.Snapshot) error { return nil }

func (r *stubRepo) GetPost(id string) (*database.Post, error) {
	for i := range r.posts {
		if r.posts[i].ID == id {
			return &r.posts[i], nil
		}
	}
	return nil, nil
}

func (r *stubRepo) GetPostsByAuthor(author string) ([]database.Post, error) {
	var out []database.Post
	for _, p := range r.posts {
		if p.Author == author {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *stubRepo) GetSnapshots(postID string) ([]database.Snapshot, error) {
	var out []database.Snapshot
	for _, s := range r.snaps {
		if s.PostID == postID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *stubRepo) GetPostCount() (int, error)     { return len(r.posts), nil }
func (r *stubRepo) GetSnapshotCount() (int, error) { return len(r.snaps), nil }

func newTestServer(scheduler tasks.SchedulerInterface, repo database.PostRepository, key string) *httptest.Server {
	return httptest.NewServer(NewServer(NewHandler(repo, scheduler), key))
}

func TestControlStart(t *testing.T) {
	scheduler := &stubScheduler{}
	srv := newTestServer(scheduler, &stubRepo{}, "")
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/control/start", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if scheduler.started != 1 {
		t.Errorf("Expected 1 start call, got %d", scheduler.started)
	}
}

func TestControlStartWhileRunning(t *testing.T) {
	scheduler := &stubScheduler{startErr: tasks.ErrAlreadyRunning}
	srv := newTestServer(scheduler, &stubRepo{}, "")
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/control/start", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for repeated start, got %d", resp.StatusCode)
	}
}

func TestControlStatus(t *testing.T) {
	scheduler := &stubScheduler{status: tasks.Status{
		Running: true,
		Auth:    map[string]string{"elonmusk": "WAITING_FOR_MANUAL_LOGIN"},
	}}
	srv := newTestServer(scheduler, &stubRepo{}, "")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/control/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var status tasks.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if !status.Running {
		t.Error("Expected running status")
	}
	if status.Auth["elonmusk"] != "WAITING_FOR_MANUAL_LOGIN" {
		t.Errorf("Expected auth state passthrough, got %v", status.Auth)
	}
}

func TestAPIKeyGuardsControlEndpoints(t *testing.T) {
	scheduler := &stubScheduler{}
	srv := newTestServer(scheduler, &stubRepo{}, "secret-key")
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/control/start", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without key, got %d", resp.StatusCode)
	}
	if scheduler.started != 0 {
		t.Error("Unauthorized request must not reach the scheduler")
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/control/start", nil)
	req.Header.Set("X-API-Key", "secret-key")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with valid key, got %d", resp.StatusCode)
	}
}

func TestGetPostsByAuthor(t *testing.T) {
	repo := &stubRepo{posts: []database.Post{
		{ID: "1", Author: "elonmusk", Content: "post one", Likes: 100},
		{ID: "2", Author: "elonmusk", Content: "post two", Likes: 200},
		{ID: "3", Author: "someoneelse", Content: "unrelated"},
	}}
	srv := newTestServer(&stubScheduler{}, repo, "")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/posts/elonmusk")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Author string          `json:"author"`
		Posts  []database.Post `json:"posts"`
		Total  int             `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 2 {
		t.Errorf("Expected 2 posts for author, got %d", body.Total)
	}
}

func TestGetSnapshots(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubRepo{
		posts: []database.Post{{ID: "p1", Author: "elonmusk"}},
		snaps: []database.Snapshot{
			{ID: "s1", PostID: "p1", CapturedAt: now, Hotness: 40},
			{ID: "s2", PostID: "p1", CapturedAt: now.Add(time.Hour), Hotness: 55},
		},
	}
	srv := newTestServer(&stubScheduler{}, repo, "")
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/snapshots/p1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Snapshots []database.Snapshot `json:"snapshots"`
		Total     int                 `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 2 {
		t.Errorf("Expected 2 snapshots, got %d", body.Total)
	}

	resp, err = http.Get(srv.URL + "/snapshots/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown post, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&stubScheduler{}, &stubRepo{posts: []database.Post{{ID: "1"}}}, "secret")
	defer srv.Close()

	// Health stays reachable without a key.
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}
