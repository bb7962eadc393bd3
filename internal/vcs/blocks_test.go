package vcs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitJoinBlocks(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, SplitBlocks("A\nB"))
	assert.Equal(t, []string{""}, SplitBlocks(""))
	assert.Equal(t, "A\nX\nB", JoinBlocks([]string{"A", "X", "B"}))
}

func TestSplice(t *testing.T) {
	content := []string{"A", "B", "C"}

	got, err := Splice(content, 1, 1, []string{"X"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "X", "B", "C"}, got)

	got, err = Splice(content, 0, 3, []string{"Z"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Z"}, got)

	got, err = Splice(content, 3, 3, []string{"D", "E"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, got)

	assert.Equal(t, []string{"A", "B", "C"}, content, "input must not be modified")

	_, err = Splice(content, 2, 4, nil)
	assert.Error(t, err)
	_, err = Splice(content, 2, 1, nil)
	assert.Error(t, err)
}

func TestCommitHashIncludesCreationTime(t *testing.T) {
	edit := Edit{ProjectID: "p1", Page: 1, OldStart: 0, OldEnd: 0, Text: "A\nB"}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := CommitHash("ann", edit, at)
	assert.Len(t, first, 64)
	assert.Equal(t, first, CommitHash("ann", edit, at))
	assert.NotEqual(t, first, CommitHash("ann", edit, at.Add(time.Nanosecond)))
	assert.NotEqual(t, first, CommitHash("bob", edit, at))

	moved := edit
	moved.OldEnd = 1
	assert.NotEqual(t, first, CommitHash("ann", moved, at))
}

func TestErrorKindsMatchSentinels(t *testing.T) {
	err := Conflict("merge commit", "commit must be pushed", nil)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "merge commit: conflict: commit must be pushed", err.Error())

	cause := errors.New("disk full")
	wrapped := Storage("save", cause)
	assert.True(t, errors.Is(wrapped, ErrStorage))
	assert.True(t, errors.Is(wrapped, cause))

	assert.Same(t, err, Storage("outer", err), "engine errors pass through Storage untouched")
	assert.Nil(t, Storage("noop", nil))
	assert.Equal(t, Kind(0), KindOf(cause))
}

func TestParseModeAndStatusRejectUnknownValues(t *testing.T) {
	mode, err := ParseMode(" Develop ")
	require.NoError(t, err)
	assert.Equal(t, ModeDevelop, mode)
	_, err = ParseMode("staging")
	assert.ErrorIs(t, err, ErrValidation)

	status, err := ParseStatus("pushed")
	require.NoError(t, err)
	assert.Equal(t, StatusPushed, status)
	_, err = ParseStatus("draft")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPlanRebase(t *testing.T) {
	id := func(v int64) *int64 { return &v }
	head := int64(1)
	target := Commit{ID: 10, ParentID: id(head), Page: 1, OldStart: 2, OldEnd: 5}
	locals := []Commit{
		target,
		{ID: 11, ParentID: id(10), Page: 1, OldStart: 3, OldEnd: 4}, // builds on target
		{ID: 12, ParentID: id(head), Page: 1, OldStart: 10, OldEnd: 12},
		{ID: 13, ParentID: id(head), Page: 1, OldStart: 4, OldEnd: 6}, // overlaps
		{ID: 14, ParentID: id(13), Page: 1, OldStart: 0, OldEnd: 0},   // child of discarded work
		{ID: 15, ParentID: id(head), Page: 2, OldStart: 2, OldEnd: 5}, // other page
		{ID: 16, ParentID: id(12), Page: 1, OldStart: 12, OldEnd: 12}, // chained sibling
	}

	plan := planRebase(target, false, locals)

	var discarded []int64
	for _, c := range plan.discard {
		discarded = append(discarded, c.ID)
	}
	assert.ElementsMatch(t, []int64{13, 14}, discarded)

	var kept []int64
	for _, c := range plan.keep {
		kept = append(kept, c.ID)
	}
	assert.ElementsMatch(t, []int64{11, 12, 15, 16}, kept)
	assert.False(t, plan.siblings[11])
	assert.True(t, plan.siblings[12])
	assert.True(t, plan.siblings[15])
	assert.True(t, plan.local[12])
}

func TestPlanRebaseDiscardsCompetingPageOpenings(t *testing.T) {
	id := func(v int64) *int64 { return &v }
	head := int64(1)
	target := Commit{ID: 20, ParentID: id(head), Page: 2}
	locals := []Commit{
		target,
		{ID: 21, ParentID: id(head), Page: 2}, // opens page 2 too
		{ID: 22, ParentID: id(21), Page: 2, OldStart: 1, OldEnd: 1},   // edits the competing page
		{ID: 23, ParentID: id(head), Page: 1, OldStart: 0, OldEnd: 1}, // other page
		{ID: 24, ParentID: id(20), Page: 2, OldStart: 0, OldEnd: 1},   // builds on target
	}

	plan := planRebase(target, true, locals)

	var discarded []int64
	for _, c := range plan.discard {
		discarded = append(discarded, c.ID)
	}
	assert.ElementsMatch(t, []int64{21, 22}, discarded)

	var kept []int64
	for _, c := range plan.keep {
		kept = append(kept, c.ID)
	}
	assert.ElementsMatch(t, []int64{23, 24}, kept)
}

func TestOverlapIsHalfOpen(t *testing.T) {
	a := Commit{OldStart: 2, OldEnd: 5}
	assert.True(t, a.overlaps(Commit{OldStart: 4, OldEnd: 6}))
	assert.True(t, a.overlaps(Commit{OldStart: 0, OldEnd: 3}))
	assert.False(t, a.overlaps(Commit{OldStart: 5, OldEnd: 7}))
	assert.False(t, a.overlaps(Commit{OldStart: 0, OldEnd: 2}))
	assert.False(t, Commit{OldStart: 3, OldEnd: 3}.overlaps(Commit{OldStart: 3, OldEnd: 3}))
}
