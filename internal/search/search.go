// Package search indexes commit titles and descriptions in Meilisearch and
// answers text queries over them, falling back to the engine's SQL title
// filter whenever the index is unavailable.
package search

import (
	"strings"
	"time"

	"folio/api/internal/vcs"
)

// Backend names the source that answered a query.
type Backend string

const (
	BackendMeili Backend = "meilisearch"
	BackendSQL   Backend = "sql"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Hash      string     `json:"hash"`
	AuthorID  string     `json:"author"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	Mode      vcs.Mode   `json:"mode"`
	Status    vcs.Status `json:"status"`
	Page      int        `json:"page"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Query describes a search request.
type Query struct {
	ProjectID string
	Text      string
	Viewer    vcs.Actor
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend Backend  `json:"backend"`
}

// CommitRecord is the data we index for a commit.
type CommitRecord struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	Hash        string `json:"hash"`
	AuthorID    string `json:"authorId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Mode        string `json:"mode"`
	Status      string `json:"status"`
	Page        int    `json:"page"`
	CreatedAt   int64  `json:"createdAt"`
}

// RecordFor builds the index record of commit.
func RecordFor(commit vcs.Commit) CommitRecord {
	return CommitRecord{
		ID:          DocumentID(commit.ProjectID, commit.Hash),
		ProjectID:   commit.ProjectID,
		Hash:        commit.Hash,
		AuthorID:    commit.AuthorID,
		Title:       commit.Title,
		Description: commit.Description,
		Mode:        string(commit.Mode),
		Status:      string(commit.Status),
		Page:        commit.Page,
		CreatedAt:   commit.CreatedAt.UTC().UnixMilli(),
	}
}

// DocumentID derives the Meilisearch primary key, which only admits
// alphanumerics, '-' and '_'.
func DocumentID(projectID, hash string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, projectID)
	return safe + "_" + hash
}

func resultFromEntry(entry vcs.LogEntry) Result {
	return Result{
		Hash:      entry.Hash,
		AuthorID:  entry.AuthorID,
		Title:     entry.Title,
		Snippet:   entry.Description,
		Mode:      entry.Mode,
		Status:    entry.Status,
		Page:      entry.Page,
		CreatedAt: entry.CreatedAt,
	}
}
