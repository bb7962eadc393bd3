package vcs

import (
	"fmt"
	"strings"

	"folio/api/internal/rbac"
)

func authorize(op string, actor Actor, action rbac.Action) error {
	if strings.TrimSpace(actor.UserID) == "" {
		return Authorization(op, "an authenticated user is required")
	}
	if !rbac.Can(actor.Level, action) {
		return Authorization(op, fmt.Sprintf("level %s may not %s", actor.Level, action))
	}
	return nil
}

// gateCommit denies access to another author's unshared local work.
func gateCommit(op string, viewer Actor, commit Commit) error {
	if commit.IsPrivateTo(viewer.UserID) {
		return Authorization(op, "commit is private to its author")
	}
	return nil
}
