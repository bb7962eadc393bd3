package search

import (
	"context"
	"log/slog"

	"folio/api/internal/vcs"
)

// Index is the subset of Meili the service drives.
type Index interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexCommits(records []CommitRecord) error
	DeleteCommit(projectID, hash string) error
}

// Fallback answers title searches from the commit store.
type Fallback interface {
	Search(ctx context.Context, projectID string, filter vcs.Filter) ([]vcs.LogEntry, error)
}

// Service is the facade that tries Meilisearch first and falls back to the
// engine's SQL title filter.
type Service struct {
	index    Index
	fallback Fallback
	logger   *slog.Logger
}

// NewService creates a search service. index may be nil if Meilisearch is
// not configured.
func NewService(index Index, fallback Fallback, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{index: index, fallback: fallback, logger: logger}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to the store.
// Errors from the fallback are returned as is so callers can map them.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if s.indexReady() && q.Text != "" {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: BackendMeili}, nil
		}
		s.logger.Warn("meilisearch error, falling back to sql", "project", q.ProjectID, "error", err)
	}

	entries, err := s.fallback.Search(ctx, q.ProjectID, vcs.Filter{
		Viewer:        q.Viewer,
		TitleContains: q.Text,
		Offset:        q.Offset,
		Limit:         q.Limit,
	})
	if err != nil {
		return Response{}, err
	}
	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		results = append(results, resultFromEntry(entry))
	}
	return Response{Results: results, Total: len(results), Query: q.Text, Backend: BackendSQL}, nil
}

// IndexCommits indexes commits (fire-and-forget to Meilisearch).
func (s *Service) IndexCommits(commits ...vcs.Commit) {
	if !s.indexReady() || len(commits) == 0 {
		return
	}
	records := make([]CommitRecord, 0, len(commits))
	for _, commit := range commits {
		records = append(records, RecordFor(commit))
	}
	go func() {
		if err := s.index.IndexCommits(records); err != nil {
			s.logger.Warn("index commits", "project", records[0].ProjectID, "count", len(records), "error", err)
		}
	}()
}

// DeleteCommits removes commits from the index (fire-and-forget).
func (s *Service) DeleteCommits(projectID string, hashes []string) {
	if !s.indexReady() || len(hashes) == 0 {
		return
	}
	go func() {
		for _, hash := range hashes {
			if err := s.index.DeleteCommit(projectID, hash); err != nil {
				s.logger.Warn("delete commit from index", "project", projectID, "hash", hash, "error", err)
			}
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
