package vcs

import (
	"context"
	"errors"
	"fmt"

	"folio/api/internal/rbac"

	"go.opentelemetry.io/otel/attribute"
)

type materialized struct {
	lines  []string
	source PageSource
	walked int
}

// GetPage returns the content of req.Page at the selected commit. found is
// false when the selected chain is empty or the page does not exist at that
// revision.
func (e *Engine) GetPage(ctx context.Context, req PageRequest) (page Page, found bool, err error) {
	const op = "get page"
	ctx, span := e.startSpan(ctx, "vcs.GetPage",
		attribute.String("project", req.ProjectID),
		attribute.Int("page", req.Page),
	)
	started := e.now()
	defer func() { e.finish(span, op, started, err) }()

	if err := authorize(op, req.Viewer, rbac.ActionRead); err != nil {
		return Page{}, false, err
	}
	if req.Page <= 0 {
		return Page{}, false, Validation(op, "page must be positive")
	}

	type result struct {
		page  Page
		found bool
		base  sharedMark
	}
	key := fmt.Sprintf("%s\x00%d\x00%s\x00%s\x00%s", req.ProjectID, req.Page, req.Hash, req.Mode, req.Viewer.UserID)
	value, err, _ := e.flight.Do(key, func() (any, error) {
		var out result
		err := e.store.View(ctx, func(repo Repository) error {
			commit, ok, err := resolveCommit(ctx, repo, op, req.ProjectID, req.Hash, req.Mode, req.Viewer)
			if err != nil || !ok {
				return err
			}
			if err := gateCommit(op, req.Viewer, commit); err != nil {
				return err
			}
			if req.Page > commit.MaxPage {
				return nil
			}
			m, err := e.materialize(ctx, repo, req.Page, commit)
			if err != nil {
				return err
			}
			e.observer.ObserveMaterialize(m.source, m.walked)
			out = result{
				page:  Page{Number: req.Page, Commit: commit, Lines: m.lines, Source: m.source},
				found: true,
			}
			if commit.Mode == ModeLocal && m.source == SourceReconstructed {
				out.base, err = markShared(ctx, repo, req.ProjectID)
				if err != nil {
					return Storage(op, err)
				}
			}
			return nil
		})
		if err != nil {
			return nil, Storage(op, err)
		}
		if out.found {
			e.remember(ctx, out.page, out.base)
		}
		return out, nil
	})
	if err != nil {
		return Page{}, false, err
	}
	out := value.(result)
	if !out.found {
		return Page{}, false, nil
	}
	out.page.Lines = cloneBlocks(out.page.Lines)
	return out.page, true, nil
}

// sharedMark records the shared head a read was served against. Only a
// merge moves the shared head, and only a merge rewrites local commits.
type sharedMark struct {
	id    int64
	found bool
}

func markShared(ctx context.Context, repo Repository, projectID string) (sharedMark, error) {
	head, ok, err := repo.Head(ctx, projectID, SharedScope())
	if err != nil {
		return sharedMark{}, err
	}
	return sharedMark{id: head.ID, found: ok}, nil
}

// remember memoizes materialized content. Failures are logged and never
// fail the read.
func (e *Engine) remember(ctx context.Context, page Page, base sharedMark) {
	content := page.Content()
	if page.Source == SourceReconstructed {
		var err error
		if page.Commit.Mode == ModeLocal {
			err = e.rememberLocal(ctx, page, content, base)
		} else {
			err = e.store.SaveSnapshot(ctx, page.Commit.ProjectID, page.Number, page.Commit.ID, content)
		}
		if err != nil {
			e.logger.Warn("persist page snapshot failed",
				"project", page.Commit.ProjectID,
				"page", page.Number,
				"hash", page.Commit.Hash,
				"error", err,
			)
		}
	}
	if e.cache == nil || page.Commit.Mode == ModeLocal || page.Source == SourceCache {
		return
	}
	if err := e.cache.SetSnapshot(ctx, page.Commit.ProjectID, page.Number, page.Commit.ID, content); err != nil {
		e.logger.Warn("cache page snapshot failed",
			"project", page.Commit.ProjectID,
			"page", page.Number,
			"hash", page.Commit.Hash,
			"error", err,
		)
	}
}

// rememberLocal saves a local snapshot only while no merge has landed since
// the read. The project lock is held shared so no merge can land between the
// check and the write.
func (e *Engine) rememberLocal(ctx context.Context, page Page, content string, base sharedMark) error {
	projectID := page.Commit.ProjectID
	return e.mutate(ctx, readPlan(projectID), func(repo Repository) error {
		current, err := markShared(ctx, repo, projectID)
		if err != nil {
			return err
		}
		if current != base {
			e.logger.Debug("stale local snapshot skipped", "project", projectID, "page", page.Number, "hash", page.Commit.Hash)
			return nil
		}
		return repo.SaveSnapshot(ctx, projectID, page.Number, page.Commit.ID, content)
	})
}

// insertPage computes the content of commit.Page once commit is applied on
// top of parent. A commit that opens a new page defines the page outright.
func (e *Engine) insertPage(ctx context.Context, repo Repository, commit Commit, parent *Commit, blocks []string) ([]string, error) {
	const op = "insert page"
	if parent == nil || commit.Page > parent.MaxPage {
		return cloneBlocks(blocks), nil
	}
	base, err := e.materialize(ctx, repo, commit.Page, *parent)
	if err != nil {
		return nil, err
	}
	content, err := Splice(base.lines, commit.OldStart, commit.OldEnd, blocks)
	if err != nil {
		return nil, Validation(op, err.Error())
	}
	return content, nil
}

// materialize reconstructs page at target. It walks parent links until it
// reaches a commit holding a snapshot of the page, or the commit that
// opened the page, then replays the collected diffs oldest first.
func (e *Engine) materialize(ctx context.Context, repo Repository, page int, target Commit) (materialized, error) {
	const op = "materialize page"
	var (
		pending []Commit
		content []string
		source  = SourceReconstructed
	)
	current := target
	for depth := 0; ; depth++ {
		if depth > e.maxDepth {
			return materialized{}, Integrity(op, fmt.Sprintf("walk from %s exceeded %d ancestors", target.Hash, e.maxDepth))
		}
		if current.MaxPage < page {
			return materialized{}, Integrity(op, fmt.Sprintf("page %d has no origin before %s", page, current.Hash))
		}

		if lines, src, ok, err := e.lookupSnapshot(ctx, repo, page, current); err != nil {
			return materialized{}, err
		} else if ok {
			content = lines
			if depth == 0 {
				source = src
			}
			break
		}

		var parent *Commit
		if current.ParentID != nil {
			p, err := repo.CommitByID(ctx, current.ProjectID, *current.ParentID)
			if errors.Is(err, ErrNotFound) {
				return materialized{}, Integrity(op, fmt.Sprintf("parent of %s is missing", current.Hash))
			}
			if err != nil {
				return materialized{}, Storage(op, err)
			}
			parent = &p
		}

		if current.Page == page && (parent == nil || page > parent.MaxPage) {
			blocks, _, err := repo.ReadBlocks(ctx, current.ProjectID, current.ID)
			if err != nil {
				return materialized{}, Storage(op, err)
			}
			content = blocks
			break
		}
		if parent == nil {
			return materialized{}, Integrity(op, fmt.Sprintf("no base snapshot for page %d below %s", page, target.Hash))
		}
		pending = append(pending, current)
		current = *parent
	}

	walked := len(pending)
	for i := len(pending) - 1; i >= 0; i-- {
		commit := pending[i]
		if commit.Page != page {
			continue
		}
		blocks, blockPage, err := repo.ReadBlocks(ctx, commit.ProjectID, commit.ID)
		if err != nil {
			return materialized{}, Storage(op, err)
		}
		if len(blocks) > 0 && blockPage != page {
			continue
		}
		content, err = Splice(content, commit.OldStart, commit.OldEnd, blocks)
		if err != nil {
			return materialized{}, Integrity(op, fmt.Sprintf("replay %s: %v", commit.Hash, err))
		}
	}
	return materialized{lines: content, source: source, walked: walked}, nil
}

func (e *Engine) lookupSnapshot(ctx context.Context, repo Repository, page int, commit Commit) ([]string, PageSource, bool, error) {
	const op = "read page snapshot"
	if e.cache != nil && commit.Mode != ModeLocal {
		content, ok, err := e.cache.GetSnapshot(ctx, commit.ProjectID, page, commit.ID)
		if err != nil {
			e.logger.Warn("page cache read failed", "project", commit.ProjectID, "page", page, "error", err)
		} else if ok {
			return SplitBlocks(content), SourceCache, true, nil
		}
	}
	content, ok, err := repo.Snapshot(ctx, commit.ProjectID, page, commit.ID)
	if err != nil {
		return nil, "", false, Storage(op, err)
	}
	if !ok {
		return nil, "", false, nil
	}
	return SplitBlocks(content), SourceSnapshot, true, nil
}

// resolveCommit maps a selector onto a commit: an explicit hash, or the
// head of mode's chain as seen by viewer.
func resolveCommit(ctx context.Context, repo Repository, op, projectID, hash string, mode Mode, viewer Actor) (Commit, bool, error) {
	if hash != "" {
		commit, err := repo.CommitByHash(ctx, projectID, hash)
		if errors.Is(err, ErrNotFound) {
			return Commit{}, false, NotFound(op, fmt.Sprintf("commit %s not found", hash))
		}
		if err != nil {
			return Commit{}, false, Storage(op, err)
		}
		return commit, true, nil
	}
	commit, ok, err := headFor(ctx, repo, projectID, mode, viewer.UserID)
	if err != nil {
		return Commit{}, false, Storage(op, err)
	}
	return commit, ok, nil
}
