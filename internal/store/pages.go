package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"folio/api/internal/vcs"
)

func (r repo) Snapshot(ctx context.Context, projectID string, page int, commitID int64) (string, bool, error) {
	var content string
	err := r.queryRow(ctx, `
		SELECT content FROM pages
		WHERE project_id = ? AND page = ? AND commit_id = ?
	`, projectID, page, commitID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read page snapshot: %w", err)
	}
	return content, true, nil
}

func (r repo) SaveSnapshot(ctx context.Context, projectID string, page int, commitID int64, content string) error {
	_, err := r.exec(ctx, `
		INSERT INTO pages (project_id, page, commit_id, content)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, page, commit_id) DO UPDATE SET content = excluded.content
	`, projectID, page, commitID, content)
	if err != nil {
		return fmt.Errorf("save page snapshot: %w", err)
	}
	return nil
}

func (r repo) DeleteLocalSnapshots(ctx context.Context, projectID string) error {
	_, err := r.exec(ctx, `
		DELETE FROM pages
		WHERE project_id = ? AND commit_id IN (
			SELECT id FROM commits WHERE project_id = ? AND mode = ?
		)
	`, projectID, projectID, string(vcs.ModeLocal))
	if err != nil {
		return fmt.Errorf("delete local snapshots: %w", err)
	}
	return nil
}

func (r repo) CopySnapshots(ctx context.Context, projectID string, fromID, toID int64, skipPages []int) error {
	args := []any{toID, projectID, fromID}
	query := `
		INSERT INTO pages (project_id, page, commit_id, content)
		SELECT project_id, page, CAST(? AS BIGINT), content
		FROM pages
		WHERE project_id = ? AND commit_id = ?`
	if len(skipPages) > 0 {
		query += ` AND page NOT IN ` + inClause(len(skipPages))
		for _, page := range skipPages {
			args = append(args, page)
		}
	}
	query += ` ON CONFLICT (project_id, page, commit_id) DO NOTHING`
	if _, err := r.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("copy snapshots %d -> %d: %w", fromID, toID, err)
	}
	return nil
}

func (r repo) DropSnapshots(ctx context.Context, projectID string, commitID int64, keepPages []int) error {
	args := []any{projectID, commitID}
	query := `DELETE FROM pages WHERE project_id = ? AND commit_id = ?`
	if len(keepPages) > 0 {
		query += ` AND page NOT IN ` + inClause(len(keepPages))
		for _, page := range keepPages {
			args = append(args, page)
		}
	}
	if _, err := r.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("drop snapshots of %d: %w", commitID, err)
	}
	return nil
}
