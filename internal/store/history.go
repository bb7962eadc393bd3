package store

import (
	"context"
	"fmt"
	"strings"

	"folio/api/internal/vcs"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchCommits runs the flat history filter. Unshared local commits are
// only visible to their author.
func (r repo) SearchCommits(ctx context.Context, projectID string, filter vcs.Filter) ([]vcs.LogEntry, error) {
	where := []string{
		"c.project_id = ?",
		"NOT (c.mode = ? AND c.status = ? AND c.author_id <> ?)",
	}
	args := []any{projectID, string(vcs.ModeLocal), string(vcs.StatusNormal), filter.Viewer.UserID}

	if filter.AuthorID != "" {
		where = append(where, "c.author_id = ?")
		args = append(args, filter.AuthorID)
	}
	if filter.Status != "" {
		where = append(where, "c.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Mode != "" {
		where = append(where, "c.mode = ?")
		args = append(args, string(filter.Mode))
	}
	if filter.TitleContains != "" {
		where = append(where, `LOWER(c.title) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(filter.TitleContains))+"%")
	}
	if !filter.From.IsZero() {
		where = append(where, "c.created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where = append(where, "c.created_at < ?")
		args = append(args, filter.To.UTC())
	}
	args = append(args, filter.Limit, filter.Offset)

	query := `
		SELECT ` + commitColumns("c") + `, COALESCE(p.hash, '')
		FROM commits c
		LEFT JOIN commits p ON p.id = c.parent_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search commits: %w", err)
	}
	defer rows.Close()

	items := make([]vcs.LogEntry, 0)
	for rows.Next() {
		var entry vcs.LogEntry
		commit, err := scanCommit(rows, &entry.ParentHash)
		if err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		entry.Commit = commit
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return items, nil
}

// Ancestors walks parent links with a recursive query bounded by depth. The
// walk stops below the last commit viewerID may see.
func (r repo) Ancestors(ctx context.Context, projectID, viewerID string, fromID int64, depth, offset, limit int) ([]vcs.LogEntry, error) {
	query := `
		WITH RECURSIVE chain (id, walk_depth) AS (
			SELECT id, 0 FROM commits WHERE project_id = ? AND id = ?
			UNION ALL
			SELECT p.id, chain.walk_depth + 1
			FROM commits c
			JOIN chain ON c.id = chain.id
			JOIN commits p ON p.id = c.parent_id
			WHERE NOT (p.mode = ? AND p.status = ? AND p.author_id <> ?)
				AND chain.walk_depth + 1 < ?
		)
		SELECT ` + commitColumns("c") + `, COALESCE(p.hash, ''), chain.walk_depth
		FROM chain
		JOIN commits c ON c.id = chain.id
		LEFT JOIN commits p ON p.id = c.parent_id
			AND NOT (p.mode = ? AND p.status = ? AND p.author_id <> ?)
		ORDER BY chain.walk_depth
		LIMIT ? OFFSET ?
	`
	local, normal := string(vcs.ModeLocal), string(vcs.StatusNormal)
	rows, err := r.query(ctx, query,
		projectID, fromID,
		local, normal, viewerID, depth,
		local, normal, viewerID,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("walk ancestors: %w", err)
	}
	defer rows.Close()

	items := make([]vcs.LogEntry, 0)
	for rows.Next() {
		var entry vcs.LogEntry
		commit, err := scanCommit(rows, &entry.ParentHash, &entry.Depth)
		if err != nil {
			return nil, fmt.Errorf("scan ancestor: %w", err)
		}
		entry.Commit = commit
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ancestors: %w", err)
	}
	return items, nil
}
