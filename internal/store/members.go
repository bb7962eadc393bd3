package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"folio/api/internal/rbac"
)

// ProjectLevel reads the caller's authorization level on a project. The
// membership table is owned by the project service; a missing row means
// no access.
func (s *SQLStore) ProjectLevel(ctx context.Context, projectID, userID string) (rbac.Level, error) {
	var level int
	err := s.queryRow(ctx, `SELECT level FROM project_members WHERE project_id = ? AND user_id = ?`, projectID, userID).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.LevelNone, nil
	}
	if err != nil {
		return rbac.LevelNone, fmt.Errorf("read project level: %w", err)
	}
	return rbac.Normalize(level), nil
}

// SetProjectLevel upserts a membership row. It exists for bootstrapping and
// tests; membership management proper lives outside this service.
func (s *SQLStore) SetProjectLevel(ctx context.Context, projectID, userID string, level rbac.Level) error {
	_, err := s.exec(ctx, `
		INSERT INTO project_members (project_id, user_id, level)
		VALUES (?, ?, ?)
		ON CONFLICT (project_id, user_id) DO UPDATE SET level = excluded.level
	`, projectID, userID, int(level))
	if err != nil {
		return fmt.Errorf("set project level: %w", err)
	}
	return nil
}
