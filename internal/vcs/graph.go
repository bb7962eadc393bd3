package vcs

import (
	"context"
	"fmt"
	"strings"

	"folio/api/internal/rbac"

	"go.opentelemetry.io/otel/attribute"
)

// CreateCommit records edit as a new local commit on top of the author's
// local head, or on top of the shared head when the author has no local
// work. The first commit of a project must edit page 1 and becomes its root.
func (e *Engine) CreateCommit(ctx context.Context, actor Actor, edit Edit) (created Commit, err error) {
	const op = "create commit"
	ctx, span := e.startSpan(ctx, "vcs.CreateCommit",
		attribute.String("project", edit.ProjectID),
		attribute.Int("page", edit.Page),
	)
	started := e.now()
	defer func() { e.finish(span, op, started, err) }()

	if err := authorize(op, actor, rbac.ActionWrite); err != nil {
		return Commit{}, err
	}
	if err := validateEdit(op, edit); err != nil {
		return Commit{}, err
	}

	var releaseBootstrap func()
	defer func() {
		if releaseBootstrap != nil {
			releaseBootstrap()
		}
	}()

	err = e.mutate(ctx, localPlan(edit.ProjectID, actor.UserID), func(repo Repository) error {
		parent, hasParent, err := repo.Head(ctx, edit.ProjectID, LocalScope(actor.UserID))
		if err != nil {
			return Storage(op, err)
		}
		if !hasParent {
			parent, hasParent, err = repo.Head(ctx, edit.ProjectID, SharedScope())
			if err != nil {
				return Storage(op, err)
			}
		}

		now := e.now().UTC()
		commit := Commit{
			Hash:        CommitHash(actor.UserID, edit, now),
			ProjectID:   edit.ProjectID,
			AuthorID:    actor.UserID,
			Mode:        ModeLocal,
			Status:      StatusNormal,
			OldStart:    edit.OldStart,
			OldEnd:      edit.OldEnd,
			Page:        edit.Page,
			Title:       edit.Title,
			Description: edit.Description,
			CreatedAt:   now,
		}

		if !hasParent {
			if edit.Page != 1 {
				return Validation(op, "the first commit of a project must edit page 1")
			}
			releaseBootstrap = e.locks.bootstrap(edit.ProjectID)
			if err := repo.AcquireLock(ctx, bootstrapLockKey(edit.ProjectID), false); err != nil {
				return Storage(op, err)
			}
			exists, err := repo.RootExists(ctx, edit.ProjectID)
			if err != nil {
				return Storage(op, err)
			}
			if exists {
				return Conflict(op, "project already has a root commit", nil)
			}
			if err := validateOpening(op, edit); err != nil {
				return err
			}
			commit.MaxPage = 1
		} else {
			if edit.Page > parent.MaxPage+1 {
				return Validation(op, fmt.Sprintf("page %d skips past page count %d", edit.Page, parent.MaxPage))
			}
			if edit.Page > parent.MaxPage {
				if err := validateOpening(op, edit); err != nil {
					return err
				}
			}
			parentID := parent.ID
			commit.ParentID = &parentID
			commit.MaxPage = max(parent.MaxPage, edit.Page)
		}

		var base *Commit
		if hasParent {
			base = &parent
		}
		blocks := edit.Blocks()
		content, err := e.insertPage(ctx, repo, commit, base, blocks)
		if err != nil {
			return err
		}

		id, err := repo.InsertCommit(ctx, commit)
		if err != nil {
			return Storage(op, err)
		}
		commit.ID = id
		if err := repo.WriteBlocks(ctx, commit.ProjectID, commit.Page, commit.ID, blocks); err != nil {
			return Storage(op, err)
		}
		if err := repo.SaveSnapshot(ctx, commit.ProjectID, commit.Page, commit.ID, JoinBlocks(content)); err != nil {
			return Storage(op, err)
		}
		created = commit
		return nil
	})
	if err != nil {
		return Commit{}, err
	}
	e.logger.Debug("commit created",
		"project", created.ProjectID,
		"hash", created.Hash,
		"page", created.Page,
		"author", created.AuthorID,
	)
	return created, nil
}

func validateEdit(op string, edit Edit) error {
	switch {
	case strings.TrimSpace(edit.ProjectID) == "":
		return Validation(op, "project id is required")
	case edit.Page <= 0:
		return Validation(op, "page must be positive")
	case edit.OldStart < 0 || edit.OldEnd < edit.OldStart:
		return Validation(op, fmt.Sprintf("invalid block range [%d,%d)", edit.OldStart, edit.OldEnd))
	}
	return nil
}

// validateOpening rejects a range on a page that does not exist yet.
func validateOpening(op string, edit Edit) error {
	if edit.OldStart != 0 || edit.OldEnd != 0 {
		return Validation(op, fmt.Sprintf("page %d is new; range [%d,%d) must be [0,0)", edit.Page, edit.OldStart, edit.OldEnd))
	}
	return nil
}
