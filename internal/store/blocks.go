package store

import (
	"context"
	"fmt"
)

// WriteBlocks stores the diff payload of a commit. It must run in the same
// transaction as the commit insert so a short write is never visible.
func (r repo) WriteBlocks(ctx context.Context, projectID string, page int, commitID int64, blocks []string) error {
	for i, block := range blocks {
		if _, err := r.exec(ctx, `
			INSERT INTO blocks (project_id, page, block_index, content, commit_id)
			VALUES (?, ?, ?, ?, ?)
		`, projectID, page, i, block, commitID); err != nil {
			return fmt.Errorf("insert block %d of commit %d: %w", i, commitID, err)
		}
	}
	return nil
}

// ReadBlocks returns the diff payload of a commit in original order together
// with the page it targets.
func (r repo) ReadBlocks(ctx context.Context, projectID string, commitID int64) ([]string, int, error) {
	rows, err := r.query(ctx, `
		SELECT page, content
		FROM blocks
		WHERE project_id = ? AND commit_id = ?
		ORDER BY block_index
	`, projectID, commitID)
	if err != nil {
		return nil, 0, fmt.Errorf("read blocks of commit %d: %w", commitID, err)
	}
	defer rows.Close()

	var (
		page   int
		blocks = make([]string, 0)
	)
	for rows.Next() {
		var content string
		if err := rows.Scan(&page, &content); err != nil {
			return nil, 0, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, content)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate blocks: %w", err)
	}
	return blocks, page, nil
}
