package vcs

import (
	"context"
	"strings"

	"folio/api/internal/rbac"

	"go.opentelemetry.io/otel/attribute"
)

// Search runs a flat filtered query over the project's commits. Other
// authors' unshared local commits never appear in the result.
func (e *Engine) Search(ctx context.Context, projectID string, filter Filter) (entries []LogEntry, err error) {
	const op = "search commits"
	ctx, span := e.startSpan(ctx, "vcs.Search", attribute.String("project", projectID))
	started := e.now()
	defer func() { e.finish(span, op, started, err) }()

	if err := authorize(op, filter.Viewer, rbac.ActionRead); err != nil {
		return nil, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, Validation(op, "date range ends before it starts")
	}
	filter.TitleContains = strings.TrimSpace(filter.TitleContains)
	filter.Offset, filter.Limit = normalizeWindow(filter.Offset, filter.Limit)

	entries, err = e.store.SearchCommits(ctx, projectID, filter)
	if err != nil {
		return nil, Storage(op, err)
	}
	return entries, nil
}

// Log walks the chain backwards from q.Hash, or from the head of q.Mode,
// and returns the requested window of the walk, nearest commit first.
func (e *Engine) Log(ctx context.Context, q LogQuery) (entries []LogEntry, err error) {
	const op = "log"
	ctx, span := e.startSpan(ctx, "vcs.Log",
		attribute.String("project", q.ProjectID),
		attribute.String("mode", string(q.Mode)),
	)
	started := e.now()
	defer func() { e.finish(span, op, started, err) }()

	if err := authorize(op, q.Viewer, rbac.ActionRead); err != nil {
		return nil, err
	}
	depth := q.Depth
	if depth <= 0 || depth > e.maxDepth {
		depth = e.maxDepth
	}
	offset, limit := normalizeWindow(q.Offset, q.Limit)

	err = e.store.View(ctx, func(repo Repository) error {
		start, ok, err := resolveCommit(ctx, repo, op, q.ProjectID, q.Hash, q.Mode, q.Viewer)
		if err != nil || !ok {
			return err
		}
		if err := gateCommit(op, q.Viewer, start); err != nil {
			return err
		}
		entries, err = repo.Ancestors(ctx, q.ProjectID, q.Viewer.UserID, start.ID, depth, offset, limit)
		if err != nil {
			return Storage(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, Storage(op, err)
	}
	if entries == nil {
		entries = []LogEntry{}
	}
	return entries, nil
}

// GetCommit returns one commit together with its diff payload.
func (e *Engine) GetCommit(ctx context.Context, viewer Actor, projectID, hash string) (detail CommitDetail, err error) {
	const op = "get commit"
	if err := authorize(op, viewer, rbac.ActionRead); err != nil {
		return CommitDetail{}, err
	}
	err = e.store.View(ctx, func(repo Repository) error {
		commit, err := lookupCommit(ctx, repo, op, projectID, hash)
		if err != nil {
			return err
		}
		if err := gateCommit(op, viewer, commit); err != nil {
			return err
		}
		blocks, _, err := repo.ReadBlocks(ctx, projectID, commit.ID)
		if err != nil {
			return Storage(op, err)
		}
		detail = CommitDetail{LogEntry: LogEntry{Commit: commit}, Blocks: blocks}
		if commit.ParentID != nil {
			parent, err := repo.CommitByID(ctx, projectID, *commit.ParentID)
			if err != nil {
				return Storage(op, err)
			}
			detail.ParentHash = parent.Hash
		}
		return nil
	})
	if err != nil {
		return CommitDetail{}, Storage(op, err)
	}
	return detail, nil
}
