package database

// PostRepository is the only writer of durable state. RecordObservation is
// the upsert-plus-append contract: the post row is created or refreshed and
// a new snapshot is appended, both in one transaction.
type PostRepository interface {
	RecordObservation(post Post, snap Snapshot) error

	GetPost(id string) (*Post, error)
	GetPostsByAuthor(author string) ([]Post, error)
	GetSnapshots(postID string) ([]Snapshot, error)
	GetPostCount() (int, error)
	GetSnapshotCount() (int, error)
}
