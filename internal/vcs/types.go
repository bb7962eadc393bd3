// Package vcs implements the paged document version-control engine: the
// commit graph, the block store contract, the page materializer, the commit
// lifecycle (push, merge, promote) and history queries.
package vcs

import (
	"fmt"
	"strings"
	"time"

	"folio/api/internal/rbac"
)

// Mode is the lifecycle tier of a commit.
type Mode string

const (
	ModeLocal   Mode = "local"
	ModeDevelop Mode = "develop"
	ModeRelease Mode = "release"
)

// ParseMode rejects anything outside the closed set of modes.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeLocal:
		return ModeLocal, nil
	case ModeDevelop:
		return ModeDevelop, nil
	case ModeRelease:
		return ModeRelease, nil
	default:
		return "", Validation("parse mode", fmt.Sprintf("unknown mode %q", value))
	}
}

// Status is the sub-state of a local commit.
type Status string

const (
	StatusNormal Status = "normal"
	StatusPushed Status = "pushed"
	StatusMerged Status = "merged"
)

// ParseStatus rejects anything outside the closed set of statuses.
func ParseStatus(value string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusNormal:
		return StatusNormal, nil
	case StatusPushed:
		return StatusPushed, nil
	case StatusMerged:
		return StatusMerged, nil
	default:
		return "", Validation("parse status", fmt.Sprintf("unknown status %q", value))
	}
}

// Commit is one recorded edit: a block range replacement on one page.
// Parent links are stored as ids and resolved through the Repository.
type Commit struct {
	ID          int64
	Hash        string
	ProjectID   string
	AuthorID    string
	ParentID    *int64
	Mode        Mode
	Status      Status
	OldStart    int
	OldEnd      int
	Page        int
	MaxPage     int
	Title       string
	Description string
	CreatedAt   time.Time
}

// HasParent reports whether the commit is attached to a parent.
func (c Commit) HasParent() bool {
	return c.ParentID != nil
}

// IsPrivateTo reports whether viewerID may not see the commit: an unshared
// local commit belonging to someone else.
func (c Commit) IsPrivateTo(viewerID string) bool {
	return c.Mode == ModeLocal && c.Status == StatusNormal && c.AuthorID != viewerID
}

func (c Commit) overlaps(other Commit) bool {
	return c.OldStart < other.OldEnd && other.OldStart < c.OldEnd
}

// Scope selects a mode-set whose head can be resolved.
type Scope struct {
	Modes    []Mode
	AuthorID string
}

// SharedScope is the integration chain: develop and release together.
func SharedScope() Scope {
	return Scope{Modes: []Mode{ModeDevelop, ModeRelease}}
}

// ReleaseScope is the published prefix of the shared chain.
func ReleaseScope() Scope {
	return Scope{Modes: []Mode{ModeRelease}}
}

// LocalScope is one author's private working chain.
func LocalScope(authorID string) Scope {
	return Scope{Modes: []Mode{ModeLocal}, AuthorID: authorID}
}

// Actor is the authenticated caller of an engine operation together with
// its authorization level on the project.
type Actor struct {
	UserID string
	Level  rbac.Level
}

// Edit is a validated request to record a new commit. The author is the
// actor passed alongside it.
type Edit struct {
	ProjectID   string
	Page        int
	OldStart    int
	OldEnd      int
	Text        string
	Title       string
	Description string
}

// Blocks splits the replacement text into line blocks.
func (e Edit) Blocks() []string {
	return SplitBlocks(e.Text)
}

// Filter narrows a flat history search.
type Filter struct {
	Viewer        Actor
	AuthorID      string
	Status        Status
	Mode          Mode
	TitleContains string
	From          time.Time
	To            time.Time
	Offset        int
	Limit         int
}

// LogEntry is one history row.
type LogEntry struct {
	Commit
	ParentHash string
	Depth      int
}

// LogQuery asks for a chain walk starting at Hash, or at the head of Mode
// when Hash is empty.
type LogQuery struct {
	ProjectID string
	Viewer    Actor
	Hash      string
	Mode      Mode
	Depth     int
	Offset    int
	Limit     int
}

// PageRequest selects a page either by explicit commit hash or by the head
// of a mode chain.
type PageRequest struct {
	ProjectID string
	Page      int
	Hash      string
	Mode      Mode
	Viewer    Actor
}

// PageSource records where materialized content came from.
type PageSource string

const (
	SourceSnapshot      PageSource = "snapshot"
	SourceCache         PageSource = "cache"
	SourceReconstructed PageSource = "reconstructed"
)

// Page is materialized page content at one commit.
type Page struct {
	Number int
	Commit Commit
	Lines  []string
	Source PageSource
}

// Content joins the page blocks back into text.
func (p Page) Content() string {
	return JoinBlocks(p.Lines)
}

// CommitDetail is a history row plus the diff payload.
type CommitDetail struct {
	LogEntry
	Blocks []string
}

// MergeResult describes the effects of a merge.
type MergeResult struct {
	Commit  Commit
	Deleted []string
	Shifted int
	Rebased int
}

// PromoteResult describes the effects of a promote.
type PromoteResult struct {
	Promoted int64
	Head     *Commit
}
