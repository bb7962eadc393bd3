package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"folio/api/internal/vcs"
)

var commitFields = []string{
	"id", "hash", "project_id", "author_id", "parent_id", "mode", "status",
	"old_start", "old_end", "page", "max_page_number", "title", "description", "created_at",
}

func commitColumns(alias string) string {
	cols := make([]string, len(commitFields))
	for i, field := range commitFields {
		cols[i] = alias + "." + field
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommit(row rowScanner, extra ...any) (vcs.Commit, error) {
	var (
		commit vcs.Commit
		parent sql.NullInt64
		mode   string
		status string
	)
	dest := []any{
		&commit.ID, &commit.Hash, &commit.ProjectID, &commit.AuthorID, &parent, &mode, &status,
		&commit.OldStart, &commit.OldEnd, &commit.Page, &commit.MaxPage, &commit.Title, &commit.Description, &commit.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return vcs.Commit{}, err
	}
	if parent.Valid {
		id := parent.Int64
		commit.ParentID = &id
	}
	var err error
	if commit.Mode, err = vcs.ParseMode(mode); err != nil {
		return vcs.Commit{}, fmt.Errorf("commit %d: %w", commit.ID, err)
	}
	if commit.Status, err = vcs.ParseStatus(status); err != nil {
		return vcs.Commit{}, fmt.Errorf("commit %d: %w", commit.ID, err)
	}
	commit.CreatedAt = commit.CreatedAt.UTC()
	return commit, nil
}

func scopeArgs(scope vcs.Scope) (string, []any) {
	args := make([]any, 0, len(scope.Modes))
	for _, mode := range scope.Modes {
		args = append(args, string(mode))
	}
	return inClause(len(scope.Modes)), args
}

func (r repo) Head(ctx context.Context, projectID string, scope vcs.Scope) (vcs.Commit, bool, error) {
	modes, modeArgs := scopeArgs(scope)
	parentFilter, childFilter := "", ""
	args := []any{projectID}
	args = append(args, modeArgs...)
	if scope.AuthorID != "" {
		parentFilter = " AND c.author_id = ?"
		args = append(args, scope.AuthorID)
	}
	args = append(args, modeArgs...)
	if scope.AuthorID != "" {
		childFilter = " AND k.author_id = ?"
		args = append(args, scope.AuthorID)
	}

	query := `
		SELECT ` + commitColumns("c") + `
		FROM commits c
		WHERE c.project_id = ? AND c.mode IN ` + modes + parentFilter + `
			AND NOT EXISTS (
				SELECT 1 FROM commits k
				WHERE k.parent_id = c.id AND k.mode IN ` + modes + childFilter + `
			)
		ORDER BY c.id DESC
		LIMIT 1
	`
	commit, err := scanCommit(r.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return vcs.Commit{}, false, nil
	}
	if err != nil {
		return vcs.Commit{}, false, fmt.Errorf("resolve head: %w", err)
	}
	return commit, true, nil
}

func (r repo) RootExists(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	err := r.queryRow(ctx, `SELECT EXISTS(SELECT 1 FROM commits WHERE project_id = ? AND parent_id IS NULL)`, projectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check root commit: %w", err)
	}
	return exists, nil
}

func (r repo) CommitByID(ctx context.Context, projectID string, id int64) (vcs.Commit, error) {
	query := `SELECT ` + commitColumns("c") + ` FROM commits c WHERE c.project_id = ? AND c.id = ?`
	commit, err := scanCommit(r.queryRow(ctx, query, projectID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return vcs.Commit{}, vcs.NotFound("load commit", fmt.Sprintf("commit %d not found", id))
	}
	if err != nil {
		return vcs.Commit{}, fmt.Errorf("load commit %d: %w", id, err)
	}
	return commit, nil
}

func (r repo) CommitByHash(ctx context.Context, projectID, hash string) (vcs.Commit, error) {
	query := `SELECT ` + commitColumns("c") + ` FROM commits c WHERE c.project_id = ? AND c.hash = ?`
	commit, err := scanCommit(r.queryRow(ctx, query, projectID, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return vcs.Commit{}, vcs.NotFound("load commit", fmt.Sprintf("commit %s not found", hash))
	}
	if err != nil {
		return vcs.Commit{}, fmt.Errorf("load commit %s: %w", hash, err)
	}
	return commit, nil
}

func (r repo) InsertCommit(ctx context.Context, commit vcs.Commit) (int64, error) {
	var parent sql.NullInt64
	if commit.ParentID != nil {
		parent = sql.NullInt64{Int64: *commit.ParentID, Valid: true}
	}
	var id int64
	err := r.queryRow(ctx, `
		INSERT INTO commits (
			hash, project_id, author_id, parent_id, mode, status,
			old_start, old_end, page, max_page_number, title, description, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		commit.Hash, commit.ProjectID, commit.AuthorID, parent, string(commit.Mode), string(commit.Status),
		commit.OldStart, commit.OldEnd, commit.Page, commit.MaxPage, commit.Title, commit.Description, commit.CreatedAt.UTC(),
	).Scan(&id)
	if isUniqueViolation(err) {
		return 0, vcs.Conflict("insert commit", "commit collides with an existing commit or root", err)
	}
	if err != nil {
		return 0, fmt.Errorf("insert commit: %w", err)
	}
	return id, nil
}

func (r repo) UpdateCommit(ctx context.Context, commit vcs.Commit) error {
	var parent sql.NullInt64
	if commit.ParentID != nil {
		parent = sql.NullInt64{Int64: *commit.ParentID, Valid: true}
	}
	res, err := r.exec(ctx, `
		UPDATE commits
		SET mode = ?, status = ?, parent_id = ?, old_start = ?, old_end = ?, max_page_number = ?
		WHERE project_id = ? AND id = ?
	`, string(commit.Mode), string(commit.Status), parent, commit.OldStart, commit.OldEnd, commit.MaxPage, commit.ProjectID, commit.ID)
	if err != nil {
		return fmt.Errorf("update commit %s: %w", commit.Hash, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return vcs.NotFound("update commit", fmt.Sprintf("commit %s not found", commit.Hash))
	}
	return nil
}

func (r repo) DeleteCommits(ctx context.Context, projectID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, projectID)
	for _, id := range ids {
		args = append(args, id)
	}
	in := inClause(len(ids))
	statements := []struct {
		name  string
		query string
	}{
		{"pages", `DELETE FROM pages WHERE project_id = ? AND commit_id IN ` + in},
		{"blocks", `DELETE FROM blocks WHERE project_id = ? AND commit_id IN ` + in},
		{"commits", `DELETE FROM commits WHERE project_id = ? AND id IN ` + in},
	}
	for _, stmt := range statements {
		if _, err := r.exec(ctx, stmt.query, args...); err != nil {
			return fmt.Errorf("delete %s: %w", stmt.name, err)
		}
	}
	return nil
}

func (r repo) LocalCommits(ctx context.Context, projectID string) ([]vcs.Commit, error) {
	rows, err := r.query(ctx, `
		SELECT `+commitColumns("c")+`
		FROM commits c
		WHERE c.project_id = ? AND c.mode = ?
		ORDER BY c.id
	`, projectID, string(vcs.ModeLocal))
	if err != nil {
		return nil, fmt.Errorf("list local commits: %w", err)
	}
	defer rows.Close()

	items := make([]vcs.Commit, 0)
	for rows.Next() {
		commit, err := scanCommit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		items = append(items, commit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate local commits: %w", err)
	}
	return items, nil
}

func (r repo) PromoteDevelop(ctx context.Context, projectID string) (int64, error) {
	res, err := r.exec(ctx, `UPDATE commits SET mode = ? WHERE project_id = ? AND mode = ?`,
		string(vcs.ModeRelease), projectID, string(vcs.ModeDevelop))
	if err != nil {
		return 0, fmt.Errorf("promote develop: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("promote develop: %w", err)
	}
	return n, nil
}
