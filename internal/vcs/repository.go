package vcs

import "context"

// Repository is the persistence surface for commits, blocks and page
// snapshots. One Repository value is bound to one unit of work: every
// component of a single logical operation reads and writes through it.
type Repository interface {
	// AcquireLock takes a transaction-scoped lock on key. Shared holders
	// exclude only exclusive holders.
	AcquireLock(ctx context.Context, key string, shared bool) error

	// Head returns the commit of scope that has no child inside scope.
	Head(ctx context.Context, projectID string, scope Scope) (Commit, bool, error)
	RootExists(ctx context.Context, projectID string) (bool, error)

	CommitByID(ctx context.Context, projectID string, id int64) (Commit, error)
	CommitByHash(ctx context.Context, projectID, hash string) (Commit, error)
	InsertCommit(ctx context.Context, commit Commit) (int64, error)
	// UpdateCommit persists the mutable fields: mode, status, parent,
	// block range and max page.
	UpdateCommit(ctx context.Context, commit Commit) error
	// DeleteCommits removes commits together with their blocks and snapshots.
	DeleteCommits(ctx context.Context, projectID string, ids []int64) error
	LocalCommits(ctx context.Context, projectID string) ([]Commit, error)
	PromoteDevelop(ctx context.Context, projectID string) (int64, error)

	WriteBlocks(ctx context.Context, projectID string, page int, commitID int64, blocks []string) error
	ReadBlocks(ctx context.Context, projectID string, commitID int64) ([]string, int, error)

	Snapshot(ctx context.Context, projectID string, page int, commitID int64) (string, bool, error)
	SaveSnapshot(ctx context.Context, projectID string, page int, commitID int64, content string) error
	DeleteLocalSnapshots(ctx context.Context, projectID string) error
	CopySnapshots(ctx context.Context, projectID string, fromID, toID int64, skipPages []int) error
	// DropSnapshots deletes the snapshots of commitID except keepPages.
	DropSnapshots(ctx context.Context, projectID string, commitID int64, keepPages []int) error

	SearchCommits(ctx context.Context, projectID string, filter Filter) ([]LogEntry, error)
	// Ancestors walks at most depth parent links from fromID and returns the
	// window [offset, offset+limit) of the walk ordered by depth (fromID
	// itself is depth 0). The walk ends before any commit that is private to
	// another author than viewerID.
	Ancestors(ctx context.Context, projectID, viewerID string, fromID int64, depth, offset, limit int) ([]LogEntry, error)
}

// Store opens units of work. The embedded Repository runs each call on its
// own, outside any transaction.
type Store interface {
	Repository
	// InTx runs fn in a read-write transaction; fn's error rolls it back.
	InTx(ctx context.Context, fn func(Repository) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(Repository) error) error
}

// SnapshotCache is an optional read-through cache in front of the snapshot
// table. It only ever holds snapshots of non-local commits, whose content
// can no longer change.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, projectID string, page int, commitID int64) (string, bool, error)
	SetSnapshot(ctx context.Context, projectID string, page int, commitID int64, content string) error
}
