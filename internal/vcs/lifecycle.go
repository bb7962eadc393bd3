package vcs

import (
	"context"
	"errors"
	"fmt"

	"folio/api/internal/rbac"

	"go.opentelemetry.io/otel/attribute"
)

// Push marks one of the actor's own local commits as ready for review.
func (e *Engine) Push(ctx context.Context, actor Actor, projectID, hash string) (pushed Commit, err error) {
	const op = "push commit"
	ctx, span := e.startSpan(ctx, "vcs.Push",
		attribute.String("project", projectID),
		attribute.String("hash", hash),
	)
	started := e.now()
	defer func() { e.finish(span, op, started, err) }()

	if err := authorize(op, actor, rbac.ActionPush); err != nil {
		return Commit{}, err
	}

	err = e.mutate(ctx, localPlan(projectID, actor.UserID), func(repo Repository) error {
		commit, err := lookupCommit(ctx, repo, op, projectID, hash)
		if err != nil {
			return err
		}
		if commit.AuthorID != actor.UserID {
			return Authorization(op, "only the author may push a commit")
		}
		if commit.Mode != ModeLocal {
			return Conflict(op, fmt.Sprintf("commit is in %s mode", commit.Mode), nil)
		}
		switch commit.Status {
		case StatusNormal:
		case StatusPushed:
			return Conflict(op, "commit is already pushed", nil)
		case StatusMerged:
			return Conflict(op, "commit is already merged", nil)
		default:
			return Integrity(op, fmt.Sprintf("commit has unknown status %q", commit.Status))
		}
		commit.Status = StatusPushed
		if err := repo.UpdateCommit(ctx, commit); err != nil {
			return Storage(op, err)
		}
		pushed = commit
		return nil
	})
	if err != nil {
		return Commit{}, err
	}
	e.logger.Info("commit pushed", "project", projectID, "hash", hash, "author", actor.UserID)
	return pushed, nil
}

// Merge integrates a pushed local commit into the shared chain. Other local
// work on the same page that overlaps the merged range is discarded along
// with its descendants; the rest is re-indexed and rebased onto the merged
// commit.
func (e *Engine) Merge(ctx context.Context, actor Actor, projectID, hash string) (result MergeResult, err error) {
	const op = "merge commit"
	ctx, span := e.startSpan(ctx, "vcs.Merge",
		attribute.String("project", projectID),
		attribute.String("hash", hash),
	)
	started := e.now()
	defer func() { e.finish(span, op, started, err) }()

	if err := authorize(op, actor, rbac.ActionMerge); err != nil {
		return MergeResult{}, err
	}

	err = e.mutate(ctx, sharedPlan(projectID), func(repo Repository) error {
		target, err := lookupCommit(ctx, repo, op, projectID, hash)
		if err != nil {
			return err
		}
		if err := checkMergeable(op, target); err != nil {
			return err
		}

		head, hasHead, err := repo.Head(ctx, projectID, SharedScope())
		if err != nil {
			return Storage(op, err)
		}
		switch {
		case target.ParentID == nil && hasHead:
			return Integrity(op, "a parentless commit cannot join an existing shared chain")
		case target.ParentID != nil && !hasHead:
			return Conflict(op, "commit depends on unmerged local work", nil)
		case target.ParentID != nil && *target.ParentID != head.ID:
			return Conflict(op, "commit depends on unmerged local work; merge its parent first", nil)
		}

		blocks, _, err := repo.ReadBlocks(ctx, projectID, target.ID)
		if err != nil {
			return Storage(op, err)
		}
		delta := len(blocks) - (target.OldEnd - target.OldStart)

		locals, err := repo.LocalCommits(ctx, projectID)
		if err != nil {
			return Storage(op, err)
		}
		opensPage := !hasHead || target.Page > head.MaxPage
		plan := planRebase(target, opensPage, locals)

		target.Mode = ModeDevelop
		target.Status = StatusMerged
		if err := repo.UpdateCommit(ctx, target); err != nil {
			return Storage(op, err)
		}

		if len(plan.discard) > 0 {
			ids := make([]int64, 0, len(plan.discard))
			for _, commit := range plan.discard {
				ids = append(ids, commit.ID)
				result.Deleted = append(result.Deleted, commit.Hash)
			}
			if err := repo.DeleteCommits(ctx, projectID, ids); err != nil {
				return Storage(op, err)
			}
		}

		for _, commit := range plan.keep {
			changed := false
			if plan.siblings[commit.ID] {
				if commit.Page == target.Page && commit.OldStart >= target.OldEnd && delta != 0 {
					commit.OldStart += delta
					commit.OldEnd += delta
					result.Shifted++
					changed = true
				}
				if commit.ParentID == nil || !plan.local[*commit.ParentID] {
					id := target.ID
					commit.ParentID = &id
					result.Rebased++
					changed = true
				}
			}
			if commit.MaxPage < target.MaxPage {
				commit.MaxPage = target.MaxPage
				changed = true
			}
			if changed {
				if err := repo.UpdateCommit(ctx, commit); err != nil {
					return Storage(op, err)
				}
			}
		}

		if err := repo.DeleteLocalSnapshots(ctx, projectID); err != nil {
			return Storage(op, err)
		}
		if hasHead {
			skip := []int{target.Page}
			if err := repo.CopySnapshots(ctx, projectID, head.ID, target.ID, skip); err != nil {
				return Storage(op, err)
			}
			if head.Mode != ModeRelease {
				// The head keeps the snapshot of its own page: it is the
				// base that later walks through the head stop at.
				if err := repo.DropSnapshots(ctx, projectID, head.ID, []int{head.Page}); err != nil {
					return Storage(op, err)
				}
			}
		}
		result.Commit = target
		return nil
	})
	if err != nil {
		return MergeResult{}, err
	}
	e.logger.Info("commit merged",
		"project", projectID,
		"hash", hash,
		"deleted", len(result.Deleted),
		"shifted", result.Shifted,
		"rebased", result.Rebased,
	)
	return result, nil
}

func checkMergeable(op string, commit Commit) error {
	switch commit.Mode {
	case ModeLocal:
	case ModeDevelop, ModeRelease:
		return Conflict(op, fmt.Sprintf("commit is already in %s mode", commit.Mode), nil)
	default:
		return Integrity(op, fmt.Sprintf("commit has unknown mode %q", commit.Mode))
	}
	switch commit.Status {
	case StatusPushed:
		return nil
	case StatusNormal:
		return Conflict(op, "commit must be pushed before it can be merged", nil)
	case StatusMerged:
		return Conflict(op, "commit is already merged", nil)
	default:
		return Integrity(op, fmt.Sprintf("commit has unknown status %q", commit.Status))
	}
}

type rebasePlan struct {
	keep     []Commit
	discard  []Commit
	siblings map[int64]bool
	local    map[int64]bool
}

// planRebase splits the project's other local commits into the ones that
// survive a merge of target and the ones discarded with it. Descendants of
// target already build on its content and are neither shifted nor checked
// for overlap. When target opens a new page, every other local commit on
// that page belongs to a competing opening of it and is discarded.
func planRebase(target Commit, opensPage bool, locals []Commit) rebasePlan {
	children := make(map[int64][]Commit)
	for _, commit := range locals {
		if commit.ID == target.ID || commit.ParentID == nil {
			continue
		}
		children[*commit.ParentID] = append(children[*commit.ParentID], commit)
	}
	subtree := func(root Commit, into map[int64]bool) {
		queue := []Commit{root}
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			for _, child := range children[next.ID] {
				if into[child.ID] {
					continue
				}
				into[child.ID] = true
				queue = append(queue, child)
			}
		}
	}

	descendants := make(map[int64]bool)
	subtree(target, descendants)

	doomed := make(map[int64]bool)
	for _, commit := range locals {
		if commit.ID == target.ID || descendants[commit.ID] {
			continue
		}
		if commit.Page == target.Page && (opensPage || commit.overlaps(target)) {
			doomed[commit.ID] = true
			subtree(commit, doomed)
		}
	}

	plan := rebasePlan{
		siblings: make(map[int64]bool),
		local:    make(map[int64]bool),
	}
	for _, commit := range locals {
		if commit.ID == target.ID {
			continue
		}
		if doomed[commit.ID] {
			plan.discard = append(plan.discard, commit)
			continue
		}
		plan.keep = append(plan.keep, commit)
		plan.local[commit.ID] = true
		if !descendants[commit.ID] {
			plan.siblings[commit.ID] = true
		}
	}
	return plan
}

// Promote publishes every develop commit of the project to release.
func (e *Engine) Promote(ctx context.Context, actor Actor, projectID string) (result PromoteResult, err error) {
	const op = "promote"
	ctx, span := e.startSpan(ctx, "vcs.Promote", attribute.String("project", projectID))
	started := e.now()
	defer func() { e.finish(span, op, started, err) }()

	if err := authorize(op, actor, rbac.ActionPromote); err != nil {
		return PromoteResult{}, err
	}

	err = e.mutate(ctx, sharedPlan(projectID), func(repo Repository) error {
		promoted, err := repo.PromoteDevelop(ctx, projectID)
		if err != nil {
			return Storage(op, err)
		}
		result.Promoted = promoted
		head, ok, err := repo.Head(ctx, projectID, ReleaseScope())
		if err != nil {
			return Storage(op, err)
		}
		if ok {
			result.Head = &head
		}
		return nil
	})
	if err != nil {
		return PromoteResult{}, err
	}
	if result.Promoted > 0 {
		e.logger.Info("develop promoted", "project", projectID, "commits", result.Promoted)
	}
	return result, nil
}

func lookupCommit(ctx context.Context, repo Repository, op, projectID, hash string) (Commit, error) {
	commit, err := repo.CommitByHash(ctx, projectID, hash)
	if errors.Is(err, ErrNotFound) {
		return Commit{}, NotFound(op, fmt.Sprintf("commit %s not found", hash))
	}
	if err != nil {
		return Commit{}, Storage(op, err)
	}
	return commit, nil
}
