package database

import (
	"time"
)

// Post is one observed post, upserted by its stable external id. The metric
// columns mirror the most recent snapshot for cheap reads.
type Post struct {
	ID            string // External platform id, the natural key
	Author        string
	Content       string
	CreatedAt     time.Time
	LastScrapedAt time.Time
	Likes         int64
	Reposts       int64
	Replies       int64
	Views         int64
}

// Snapshot is one immutable point-in-time measurement. The ordered sequence
// of snapshots per post is the time series; rows are never mutated.
type Snapshot struct {
	ID         string // Generated UUID
	PostID     string
	CapturedAt time.Time
	Likes      int64
	Reposts    int64
	Replies    int64
	Views      int64
	Hotness    int
	Mood       string
}
