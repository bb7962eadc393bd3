package vcs_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"folio/api/internal/rbac"
	"folio/api/internal/store"
	"folio/api/internal/vcs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const project = "p1"

var (
	ann  = vcs.Actor{UserID: "ann", Level: rbac.LevelAdmin}
	bob  = vcs.Actor{UserID: "bob", Level: rbac.LevelMember}
	carl = vcs.Actor{UserID: "carl", Level: rbac.LevelMember}
	dave = vcs.Actor{UserID: "dave", Level: rbac.LevelMember}
	vera = vcs.Actor{UserID: "vera", Level: rbac.LevelViewer}
)

type fixture struct {
	engine *vcs.Engine
	store  *store.SQLStore
}

func newFixture(t *testing.T, opts ...vcs.Option) fixture {
	t.Helper()
	return newFixtureWith(t, func(s *store.SQLStore) vcs.Store { return s }, opts...)
}

// newFixtureWith lets a test put its own Store in front of the SQLite one.
func newFixtureWith(t *testing.T, wrap func(*store.SQLStore) vcs.Store, opts ...vcs.Option) fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "folio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.ApplyMigrations(ctx, db, store.SQLite))

	var tick atomic.Int64
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Millisecond)
	}
	s := store.NewSQLiteStore(db)
	opts = append([]vcs.Option{
		vcs.WithClock(clock),
		vcs.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return fixture{engine: vcs.New(wrap(s), opts...), store: s}
}

func (f fixture) commit(t *testing.T, actor vcs.Actor, page, start, end int, text string) vcs.Commit {
	t.Helper()
	commit, err := f.engine.CreateCommit(context.Background(), actor, vcs.Edit{
		ProjectID: project,
		Page:      page,
		OldStart:  start,
		OldEnd:    end,
		Text:      text,
		Title:     fmt.Sprintf("edit page %d", page),
	})
	require.NoError(t, err)
	return commit
}

func (f fixture) land(t *testing.T, actor vcs.Actor, commit vcs.Commit) vcs.MergeResult {
	t.Helper()
	ctx := context.Background()
	_, err := f.engine.Push(ctx, actor, project, commit.Hash)
	require.NoError(t, err)
	result, err := f.engine.Merge(ctx, ann, project, commit.Hash)
	require.NoError(t, err)
	return result
}

func (f fixture) page(t *testing.T, viewer vcs.Actor, hash string, number int) vcs.Page {
	t.Helper()
	page, found, err := f.engine.GetPage(context.Background(), vcs.PageRequest{
		ProjectID: project,
		Page:      number,
		Hash:      hash,
		Viewer:    viewer,
	})
	require.NoError(t, err)
	require.True(t, found, "page %d at %s", number, hash)
	return page
}

func lines(prefix string, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return vcs.JoinBlocks(out)
}

func TestInsertBlockBetweenLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.commit(t, ann, 1, 0, 0, "A\nB")
	assert.Nil(t, root.ParentID)
	assert.Equal(t, vcs.ModeLocal, root.Mode)
	assert.Equal(t, vcs.StatusNormal, root.Status)
	assert.Equal(t, 1, root.MaxPage)

	next := f.commit(t, ann, 1, 1, 1, "X")
	require.NotNil(t, next.ParentID)
	assert.Equal(t, root.ID, *next.ParentID)

	page := f.page(t, ann, next.Hash, 1)
	assert.Equal(t, "A\nX\nB", page.Content())
	assert.Equal(t, vcs.SourceSnapshot, page.Source)

	_, err := f.engine.Merge(ctx, ann, project, next.Hash)
	assert.ErrorIs(t, err, vcs.ErrConflict)
}

func TestMergeRequiresPush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.commit(t, ann, 1, 0, 0, "A")

	_, err := f.engine.Merge(ctx, ann, project, root.Hash)
	require.ErrorIs(t, err, vcs.ErrConflict)

	pushed, err := f.engine.Push(ctx, ann, project, root.Hash)
	require.NoError(t, err)
	assert.Equal(t, vcs.StatusPushed, pushed.Status)

	_, err = f.engine.Push(ctx, ann, project, root.Hash)
	assert.ErrorIs(t, err, vcs.ErrConflict)

	result, err := f.engine.Merge(ctx, ann, project, root.Hash)
	require.NoError(t, err)
	assert.Equal(t, vcs.ModeDevelop, result.Commit.Mode)
	assert.Equal(t, vcs.StatusMerged, result.Commit.Status)

	_, err = f.engine.Merge(ctx, ann, project, root.Hash)
	assert.ErrorIs(t, err, vcs.ErrConflict)
}

func TestMergeReindexesAndDiscardsOverlaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := f.commit(t, ann, 1, 0, 0, lines("l", 12))
	f.land(t, ann, base)

	a := f.commit(t, bob, 1, 2, 5, "a0\na1\na2\na3")
	b := f.commit(t, carl, 1, 10, 12, "b0")
	c := f.commit(t, dave, 1, 3, 4, "c0")
	require.Equal(t, base.ID, *a.ParentID)
	require.Equal(t, base.ID, *b.ParentID)

	result := f.land(t, bob, a)
	assert.Equal(t, []string{c.Hash}, result.Deleted)
	assert.Equal(t, 1, result.Shifted)

	_, err := f.engine.GetCommit(ctx, dave, project, c.Hash)
	assert.ErrorIs(t, err, vcs.ErrNotFound)

	detail, err := f.engine.GetCommit(ctx, carl, project, b.Hash)
	require.NoError(t, err)
	assert.Equal(t, 11, detail.OldStart)
	assert.Equal(t, 13, detail.OldEnd)
	assert.Equal(t, a.Hash, detail.ParentHash)
	assert.Equal(t, []string{"b0"}, detail.Blocks)

	first := f.page(t, carl, b.Hash, 1)
	assert.Equal(t, vcs.SourceReconstructed, first.Source)
	assert.Equal(t, "l0\nl1\na0\na1\na2\na3\nl5\nl6\nl7\nl8\nl9\nb0", first.Content())

	second := f.page(t, carl, b.Hash, 1)
	assert.Equal(t, vcs.SourceSnapshot, second.Source)
	assert.Equal(t, first.Lines, second.Lines)

	result = f.land(t, carl, b)
	assert.Empty(t, result.Deleted)
	head, found, err := f.engine.GetPage(ctx, vcs.PageRequest{ProjectID: project, Page: 1, Mode: vcs.ModeDevelop, Viewer: vera})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, b.Hash, head.Commit.Hash)
	assert.Equal(t, first.Lines, head.Lines)
}

func TestMergeRejectsCommitBuiltOnUnmergedWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := f.commit(t, ann, 1, 0, 0, "A")
	f.land(t, ann, base)

	first := f.commit(t, bob, 1, 1, 1, "B")
	second := f.commit(t, bob, 1, 2, 2, "C")
	_, err := f.engine.Push(ctx, bob, project, second.Hash)
	require.NoError(t, err)

	_, err = f.engine.Merge(ctx, ann, project, second.Hash)
	require.ErrorIs(t, err, vcs.ErrConflict)

	f.land(t, bob, first)
	result, err := f.engine.Merge(ctx, ann, project, second.Hash)
	require.NoError(t, err)
	assert.Equal(t, "A\nB\nC", f.page(t, vera, result.Commit.Hash, 1).Content())
}

func TestPagesGrowOneAtATime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateCommit(ctx, ann, vcs.Edit{ProjectID: project, Page: 2, Text: "orphan"})
	assert.ErrorIs(t, err, vcs.ErrValidation)

	root := f.commit(t, ann, 1, 0, 0, "first page")
	_, err = f.engine.CreateCommit(ctx, ann, vcs.Edit{ProjectID: project, Page: 3, Text: "too far"})
	assert.ErrorIs(t, err, vcs.ErrValidation)

	second := f.commit(t, ann, 2, 0, 0, "second page")
	assert.Equal(t, 2, second.MaxPage)
	back := f.commit(t, ann, 1, 1, 1, "more")
	assert.Equal(t, 2, back.MaxPage)

	assert.Equal(t, "first page\nmore", f.page(t, ann, back.Hash, 1).Content())
	assert.Equal(t, "second page", f.page(t, ann, back.Hash, 2).Content())

	_, found, err := f.engine.GetPage(ctx, vcs.PageRequest{ProjectID: project, Page: 2, Hash: root.Hash, Viewer: ann})
	require.NoError(t, err)
	assert.False(t, found)

	_, err = f.engine.CreateCommit(ctx, ann, vcs.Edit{ProjectID: project, Page: 1, OldStart: 3, OldEnd: 5, Text: "x"})
	assert.ErrorIs(t, err, vcs.ErrValidation)
}

func TestReconstructionMatchesInsertedContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.commit(t, ann, 1, 0, 0, "one\ntwo\nthree")
	f.commit(t, ann, 2, 0, 0, "other")
	f.commit(t, ann, 1, 1, 2, "TWO\n2b")
	tip := f.commit(t, ann, 1, 0, 1, "")
	want := f.page(t, ann, tip.Hash, 1)
	require.Equal(t, vcs.SourceSnapshot, want.Source)

	_, err := f.store.DB().ExecContext(ctx, `DELETE FROM pages`)
	require.NoError(t, err)

	got := f.page(t, ann, tip.Hash, 1)
	assert.Equal(t, vcs.SourceReconstructed, got.Source)
	assert.Equal(t, want.Lines, got.Lines)
	assert.Equal(t, "\nTWO\n2b\nthree", got.Content())

	again := f.page(t, ann, tip.Hash, 1)
	assert.Equal(t, vcs.SourceSnapshot, again.Source)
	assert.Equal(t, want.Lines, again.Lines)
}

func TestReconstructionStopsAtChainDepth(t *testing.T) {
	f := newFixture(t, vcs.WithMaxChainDepth(2))
	ctx := context.Background()

	f.commit(t, ann, 1, 0, 0, "a")
	f.commit(t, ann, 1, 1, 1, "b")
	f.commit(t, ann, 1, 2, 2, "c")
	tip := f.commit(t, ann, 1, 3, 3, "d")

	_, err := f.store.DB().ExecContext(ctx, `DELETE FROM pages`)
	require.NoError(t, err)

	_, _, err = f.engine.GetPage(ctx, vcs.PageRequest{ProjectID: project, Page: 1, Hash: tip.Hash, Viewer: ann})
	assert.ErrorIs(t, err, vcs.ErrIntegrity)
}

func TestConcurrentBootstrapCreatesOneRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const writers = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := vcs.Actor{UserID: fmt.Sprintf("writer-%d", i), Level: rbac.LevelMember}
			_, err := f.engine.CreateCommit(ctx, actor, vcs.Edit{ProjectID: project, Page: 1, Text: actor.UserID})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, vcs.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("CreateCommit() unexpected error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(writers-1), conflicts.Load())

	var roots int
	require.NoError(t, f.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commits WHERE project_id = ? AND parent_id IS NULL`, project).Scan(&roots))
	assert.Equal(t, 1, roots)
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateCommit(ctx, vera, vcs.Edit{ProjectID: project, Page: 1, Text: "A"})
	assert.ErrorIs(t, err, vcs.ErrAuthorization)
	_, err = f.engine.CreateCommit(ctx, vcs.Actor{Level: rbac.LevelAdmin}, vcs.Edit{ProjectID: project, Page: 1, Text: "A"})
	assert.ErrorIs(t, err, vcs.ErrAuthorization)

	root := f.commit(t, ann, 1, 0, 0, "A")
	f.land(t, ann, root)
	draft := f.commit(t, bob, 1, 1, 1, "B")

	_, err = f.engine.Push(ctx, carl, project, draft.Hash)
	assert.ErrorIs(t, err, vcs.ErrAuthorization)

	_, _, err = f.engine.GetPage(ctx, vcs.PageRequest{ProjectID: project, Page: 1, Hash: draft.Hash, Viewer: carl})
	assert.ErrorIs(t, err, vcs.ErrAuthorization)
	_, err = f.engine.GetCommit(ctx, carl, project, draft.Hash)
	assert.ErrorIs(t, err, vcs.ErrAuthorization)

	_, err = f.engine.Push(ctx, bob, project, draft.Hash)
	require.NoError(t, err)
	_, err = f.engine.Merge(ctx, bob, project, draft.Hash)
	assert.ErrorIs(t, err, vcs.ErrAuthorization)
	_, err = f.engine.Promote(ctx, bob, project)
	assert.ErrorIs(t, err, vcs.ErrAuthorization)

	assert.Equal(t, "A\nB", f.page(t, carl, draft.Hash, 1).Content())

	_, err = f.engine.Push(ctx, bob, project, "missing")
	assert.ErrorIs(t, err, vcs.ErrNotFound)
}

func TestLocalSelectorFallsBackToSharedHead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.commit(t, ann, 1, 0, 0, "A")
	f.land(t, ann, root)
	draft := f.commit(t, bob, 1, 1, 1, "B")

	page, found, err := f.engine.GetPage(ctx, vcs.PageRequest{ProjectID: project, Page: 1, Mode: vcs.ModeLocal, Viewer: bob})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, draft.Hash, page.Commit.Hash)

	page, found, err = f.engine.GetPage(ctx, vcs.PageRequest{ProjectID: project, Page: 1, Mode: vcs.ModeLocal, Viewer: carl})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, root.Hash, page.Commit.Hash)
	assert.Equal(t, "A", page.Content())

	_, found, err = f.engine.GetPage(ctx, vcs.PageRequest{ProjectID: project, Page: 1, Mode: vcs.ModeRelease, Viewer: carl})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPromoteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.engine.Promote(ctx, ann, project)
	require.NoError(t, err)
	assert.Zero(t, empty.Promoted)
	assert.Nil(t, empty.Head)

	root := f.commit(t, ann, 1, 0, 0, "A")
	f.land(t, ann, root)
	next := f.commit(t, ann, 1, 1, 1, "B")
	f.land(t, ann, next)

	first, err := f.engine.Promote(ctx, ann, project)
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.Promoted)
	require.NotNil(t, first.Head)
	assert.Equal(t, next.Hash, first.Head.Hash)

	second, err := f.engine.Promote(ctx, ann, project)
	require.NoError(t, err)
	assert.Zero(t, second.Promoted)
	require.NotNil(t, second.Head)
	assert.Equal(t, next.Hash, second.Head.Hash)

	page, found, err := f.engine.GetPage(ctx, vcs.PageRequest{ProjectID: project, Page: 1, Mode: vcs.ModeRelease, Viewer: vera})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "A\nB", page.Content())

	// Work merged after a release lands on top of the release head.
	third := f.commit(t, bob, 1, 2, 2, "C")
	f.land(t, bob, third)
	page = f.page(t, vera, third.Hash, 1)
	assert.Equal(t, "A\nB\nC", page.Content())
}

func TestLogWalksTheChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var hashes []string
	for i := 0; i < 5; i++ {
		c := f.commit(t, ann, 1, i, i, fmt.Sprintf("line %d", i))
		hashes = append(hashes, c.Hash)
	}

	entries, err := f.engine.Log(ctx, vcs.LogQuery{ProjectID: project, Viewer: ann, Mode: vcs.ModeLocal})
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, hashes[4], entries[0].Hash)
	assert.Equal(t, hashes[3], entries[0].ParentHash)
	assert.Equal(t, hashes[0], entries[4].Hash)
	assert.Empty(t, entries[4].ParentHash)
	assert.Equal(t, 4, entries[4].Depth)

	window, err := f.engine.Log(ctx, vcs.LogQuery{ProjectID: project, Viewer: ann, Hash: hashes[3], Depth: 3, Offset: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, hashes[2], window[0].Hash)
	assert.Equal(t, hashes[1], window[1].Hash)

	_, err = f.engine.Log(ctx, vcs.LogQuery{ProjectID: project, Viewer: bob, Hash: hashes[4]})
	assert.ErrorIs(t, err, vcs.ErrAuthorization)

	none, err := f.engine.Log(ctx, vcs.LogQuery{ProjectID: "empty", Viewer: bob})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSearchFiltersHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.engine.CreateCommit(ctx, ann, vcs.Edit{ProjectID: project, Page: 1, Text: "A", Title: "Intro draft"})
	require.NoError(t, err)
	f.land(t, ann, root)
	_, err = f.engine.CreateCommit(ctx, bob, vcs.Edit{ProjectID: project, Page: 1, OldStart: 1, OldEnd: 1, Text: "B", Title: "Bob's 100% private"})
	require.NoError(t, err)

	all, err := f.engine.Search(ctx, project, vcs.Filter{Viewer: carl})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, root.Hash, all[0].Hash)

	mine, err := f.engine.Search(ctx, project, vcs.Filter{Viewer: bob, TitleContains: " 100% "})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "bob", mine[0].AuthorID)
	assert.Equal(t, root.Hash, mine[0].ParentHash)

	merged, err := f.engine.Search(ctx, project, vcs.Filter{Viewer: bob, Status: vcs.StatusMerged, Mode: vcs.ModeDevelop})
	require.NoError(t, err)
	require.Len(t, merged, 1)

	now := time.Now()
	_, err = f.engine.Search(ctx, project, vcs.Filter{Viewer: bob, From: now, To: now.Add(-time.Hour)})
	assert.ErrorIs(t, err, vcs.ErrValidation)
}

type countingObserver struct {
	mu      sync.Mutex
	kinds   map[string][]vcs.Kind
	sources []vcs.PageSource
}

func (o *countingObserver) ObserveOperation(op string, kind vcs.Kind, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.kinds == nil {
		o.kinds = make(map[string][]vcs.Kind)
	}
	o.kinds[op] = append(o.kinds[op], kind)
}

func (o *countingObserver) ObserveMaterialize(source vcs.PageSource, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources = append(o.sources, source)
}

func TestObserverSeesOutcomes(t *testing.T) {
	observer := &countingObserver{}
	f := newFixture(t, vcs.WithObserver(observer))
	ctx := context.Background()

	root := f.commit(t, ann, 1, 0, 0, "A")
	_, err := f.engine.Merge(ctx, ann, project, root.Hash)
	require.Error(t, err)
	f.page(t, ann, root.Hash, 1)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, []vcs.Kind{0}, observer.kinds["create commit"])
	assert.Equal(t, []vcs.Kind{vcs.KindConflict}, observer.kinds["merge commit"])
	assert.Equal(t, []vcs.PageSource{vcs.SourceSnapshot}, observer.sources)
}

func TestNewPageMustStartEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateCommit(ctx, ann, vcs.Edit{ProjectID: project, Page: 1, OldStart: 0, OldEnd: 1, Text: "A"})
	assert.ErrorIs(t, err, vcs.ErrValidation)

	root := f.commit(t, ann, 1, 0, 0, "A")
	f.land(t, ann, root)

	_, err = f.engine.CreateCommit(ctx, bob, vcs.Edit{ProjectID: project, Page: 2, OldStart: 0, OldEnd: 1, Text: "x"})
	assert.ErrorIs(t, err, vcs.ErrValidation)
}

func TestMergeDiscardsCompetingPageOpenings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.commit(t, ann, 1, 0, 0, "A")
	f.land(t, ann, root)

	bobPage := f.commit(t, bob, 2, 0, 0, "bob page")
	bobMore := f.commit(t, bob, 2, 1, 1, "bob more")
	carlPage := f.commit(t, carl, 2, 0, 0, "carl page")
	daveEdit := f.commit(t, dave, 1, 1, 1, "B")

	result := f.land(t, carl, carlPage)
	assert.ElementsMatch(t, []string{bobPage.Hash, bobMore.Hash}, result.Deleted)

	_, err := f.engine.Push(ctx, bob, project, bobPage.Hash)
	assert.ErrorIs(t, err, vcs.ErrNotFound)

	head, found, err := f.engine.GetPage(ctx, vcs.PageRequest{ProjectID: project, Page: 2, Mode: vcs.ModeDevelop, Viewer: vera})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "carl page", head.Content())

	f.land(t, dave, daveEdit)
	next := f.commit(t, bob, 2, 1, 1, "more")
	assert.Equal(t, "carl page\nmore", f.page(t, bob, next.Hash, 2).Content())
	assert.Equal(t, "A\nB", f.page(t, bob, next.Hash, 1).Content())
}

// afterViewStore runs a hook once, right after the next read-only unit of
// work has finished.
type afterViewStore struct {
	*store.SQLStore
	afterView func()
}

func (s *afterViewStore) View(ctx context.Context, fn func(vcs.Repository) error) error {
	err := s.SQLStore.View(ctx, fn)
	if hook := s.afterView; hook != nil {
		s.afterView = nil
		hook()
	}
	return err
}

func TestReadRacingMergeDoesNotPersistStaleSnapshot(t *testing.T) {
	var hooked *afterViewStore
	f := newFixtureWith(t, func(s *store.SQLStore) vcs.Store {
		hooked = &afterViewStore{SQLStore: s}
		return hooked
	})
	ctx := context.Background()

	base := f.commit(t, ann, 1, 0, 0, "l0\nl1\nl2")
	f.land(t, ann, base)
	b := f.commit(t, bob, 1, 3, 3, "b")
	c := f.commit(t, carl, 1, 0, 0, "c")
	_, err := f.engine.Push(ctx, carl, project, c.Hash)
	require.NoError(t, err)
	_, err = f.store.DB().ExecContext(ctx, `DELETE FROM pages WHERE commit_id = ?`, b.ID)
	require.NoError(t, err)

	hooked.afterView = func() {
		_, err := f.engine.Merge(ctx, ann, project, c.Hash)
		require.NoError(t, err)
	}
	stale := f.page(t, bob, b.Hash, 1)
	assert.Equal(t, "l0\nl1\nl2\nb", stale.Content())
	assert.Equal(t, vcs.SourceReconstructed, stale.Source)

	fresh := f.page(t, bob, b.Hash, 1)
	assert.Equal(t, vcs.SourceReconstructed, fresh.Source)
	assert.Equal(t, "c\nl0\nl1\nl2\nb", fresh.Content())

	again := f.page(t, bob, b.Hash, 1)
	assert.Equal(t, vcs.SourceSnapshot, again.Source)
	assert.Equal(t, fresh.Lines, again.Lines)
}

func TestLogStopsAtOtherAuthorsPrivateWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.commit(t, ann, 1, 0, 0, "A")
	f.land(t, ann, root)
	draft := f.commit(t, carl, 1, 1, 1, "secret")
	shared := f.commit(t, carl, 1, 2, 2, "C")
	_, err := f.engine.Push(ctx, carl, project, shared.Hash)
	require.NoError(t, err)

	seen, err := f.engine.Log(ctx, vcs.LogQuery{ProjectID: project, Viewer: bob, Hash: shared.Hash})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, shared.Hash, seen[0].Hash)
	assert.Empty(t, seen[0].ParentHash)

	own, err := f.engine.Log(ctx, vcs.LogQuery{ProjectID: project, Viewer: carl, Hash: shared.Hash})
	require.NoError(t, err)
	require.Len(t, own, 3)
	assert.Equal(t, draft.Hash, own[1].Hash)
	assert.Equal(t, root.Hash, own[2].Hash)
}

func snapshotPages(t *testing.T, f fixture, commitID int64) []int {
	t.Helper()
	rows, err := f.store.DB().QueryContext(context.Background(),
		`SELECT page FROM pages WHERE commit_id = ? ORDER BY page`, commitID)
	require.NoError(t, err)
	defer rows.Close()
	pages := []int{}
	for rows.Next() {
		var page int
		require.NoError(t, rows.Scan(&page))
		pages = append(pages, page)
	}
	require.NoError(t, rows.Err())
	return pages
}

func TestMergeOntoReleaseCopiesSnapshotsForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.commit(t, ann, 1, 0, 0, "one")
	f.land(t, ann, root)
	second := f.commit(t, ann, 2, 0, 0, "two")
	f.land(t, ann, second)
	promoted, err := f.engine.Promote(ctx, ann, project)
	require.NoError(t, err)
	require.NotNil(t, promoted.Head)
	require.Equal(t, second.Hash, promoted.Head.Hash)

	edit := f.commit(t, bob, 1, 1, 1, "more")
	f.land(t, bob, edit)

	assert.Equal(t, []int{1, 2}, snapshotPages(t, f, second.ID), "release head keeps every snapshot")
	assert.Equal(t, []int{1, 2}, snapshotPages(t, f, edit.ID))

	page := f.page(t, vera, edit.Hash, 2)
	assert.Equal(t, vcs.SourceSnapshot, page.Source)
	assert.Equal(t, "two", page.Content())
	assert.Equal(t, "one\nmore", f.page(t, vera, edit.Hash, 1).Content())
}

func TestMergeOntoDevelopTrimsOldHeadSnapshots(t *testing.T) {
	f := newFixture(t)

	root := f.commit(t, ann, 1, 0, 0, "one")
	f.land(t, ann, root)
	second := f.commit(t, ann, 2, 0, 0, "two")
	f.land(t, ann, second)
	require.Equal(t, []int{1, 2}, snapshotPages(t, f, second.ID))

	edit := f.commit(t, bob, 1, 1, 1, "more")
	f.land(t, bob, edit)

	assert.Equal(t, []int{2}, snapshotPages(t, f, second.ID))
	assert.Equal(t, []int{1, 2}, snapshotPages(t, f, edit.ID))

	old := f.page(t, vera, second.Hash, 1)
	assert.Equal(t, vcs.SourceReconstructed, old.Source)
	assert.Equal(t, "one", old.Content())
}
