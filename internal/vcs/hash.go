package vcs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// CommitHash digests the edit together with its creation time. The time salt
// keeps two identical edits made at different moments apart; uniqueness of
// (project, hash) is still enforced by storage.
func CommitHash(authorID string, edit Edit, createdAt time.Time) string {
	source := strings.Join([]string{
		edit.ProjectID,
		authorID,
		edit.Title,
		edit.Description,
		fmt.Sprintf("%d-%d-%d", edit.OldStart, edit.OldEnd, edit.Page),
		edit.Text,
		createdAt.UTC().Format(time.RFC3339Nano),
	}, "\n")
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
