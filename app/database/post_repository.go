package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

var _ PostRepository = (*PostRepositorySQL)(nil)

// PostRepositorySQL implements PostRepository over sqlite.
type PostRepositorySQL struct {
	db *DB
}

func NewPostRepository(db *DB) *PostRepositorySQL {
	return &PostRepositorySQL{db: db}
}

// RecordObservation upserts the post by id and appends a snapshot row in one
// transaction. Calling it twice with the same post id leaves exactly one
// post row (fields overwritten) and one more snapshot row per call.
func (r *PostRepositorySQL) RecordObservation(post Post, snap Snapshot) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO posts (id, author, content, created_at, last_scraped_at, likes, reposts, replies, views)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content,
			last_scraped_at = excluded.last_scraped_at,
			likes = excluded.likes,
			reposts = excluded.reposts,
			replies = excluded.replies,
			views = excluded.views
	`, post.ID, post.Author, post.Content, post.CreatedAt, post.LastScrapedAt,
		post.Likes, post.Reposts, post.Replies, post.Views)
	if err != nil {
		return fmt.Errorf("failed to upsert post: %w", err)
	}

	snapID := snap.ID
	if snapID == "" {
		snapID = uuid.New().String()
	}

	_, err = tx.Exec(`
		INSERT INTO snapshots (id, post_id, captured_at, likes, reposts, replies, views, hotness, mood)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snapID, post.ID, snap.CapturedAt, snap.Likes, snap.Reposts, snap.Replies,
		snap.Views, snap.Hotness, snap.Mood)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit observation: %w", err)
	}

	return nil
}

func (r *PostRepositorySQL) GetPost(id string) (*Post, error) {
	var post Post
	err := r.db.QueryRow(`
		SELECT id, author, content, created_at, last_scraped_at, likes, reposts, replies, views
		FROM posts
		WHERE id = ?
	`, id).Scan(
		&post.ID, &post.Author, &post.Content, &post.CreatedAt, &post.LastScrapedAt,
		&post.Likes, &post.Reposts, &post.Replies, &post.Views,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	return &post, nil
}

func (r *PostRepositorySQL) GetPostsByAuthor(author string) ([]Post, error) {
	rows, err := r.db.Query(`
		SELECT id, author, content, created_at, last_scraped_at, likes, reposts, replies, views
		FROM posts
		WHERE author = ?
		ORDER BY last_scraped_at DESC
	`, author)
	if err != nil {
		return nil, fmt.Errorf("failed to get posts by author: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var post Post
		err := rows.Scan(
			&post.ID, &post.Author, &post.Content, &post.CreatedAt, &post.LastScrapedAt,
			&post.Likes, &post.Reposts, &post.Replies, &post.Views,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}

	return posts, nil
}

func (r *PostRepositorySQL) GetSnapshots(postID string) ([]Snapshot, error) {
	rows, err := r.db.Query(`
		SELECT id, post_id, captured_at, likes, reposts, replies, views, hotness, mood
		FROM snapshots
		WHERE post_id = ?
		ORDER BY captured_at ASC
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		err := rows.Scan(
			&snap.ID, &snap.PostID, &snap.CapturedAt, &snap.Likes, &snap.Reposts,
			&snap.Replies, &snap.Views, &snap.Hotness, &snap.Mood,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}

	return snaps, nil
}

func (r *PostRepositorySQL) GetPostCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}

func (r *PostRepositorySQL) GetSnapshotCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}
