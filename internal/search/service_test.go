package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"folio/api/internal/rbac"
	"folio/api/internal/vcs"
)

type fakeIndex struct {
	healthy  bool
	searchFn func(q Query) ([]Result, int, error)
	indexed  chan []CommitRecord
	deleted  chan string
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(q Query) ([]Result, int, error) {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return nil, 0, nil
}

func (f *fakeIndex) IndexCommits(records []CommitRecord) error {
	f.indexed <- records
	return nil
}

func (f *fakeIndex) DeleteCommit(projectID, hash string) error {
	f.deleted <- projectID + "/" + hash
	return nil
}

type fakeFallback struct {
	searchFn func(ctx context.Context, projectID string, filter vcs.Filter) ([]vcs.LogEntry, error)
}

func (f fakeFallback) Search(ctx context.Context, projectID string, filter vcs.Filter) ([]vcs.LogEntry, error) {
	return f.searchFn(ctx, projectID, filter)
}

var viewer = vcs.Actor{UserID: "bob", Level: rbac.LevelMember}

func TestSearchUsesHealthyIndex(t *testing.T) {
	index := &fakeIndex{healthy: true, searchFn: func(q Query) ([]Result, int, error) {
		if q.ProjectID != "p1" || q.Viewer.UserID != "bob" || q.Limit != 20 {
			t.Fatalf("unexpected query %+v", q)
		}
		return []Result{{Hash: "abc", Title: "<mark>Intro</mark>"}}, 1, nil
	}}
	fallback := fakeFallback{searchFn: func(context.Context, string, vcs.Filter) ([]vcs.LogEntry, error) {
		t.Fatal("fallback must not run while the index answers")
		return nil, nil
	}}

	resp, err := NewService(index, fallback, nil).Search(context.Background(), Query{ProjectID: "p1", Text: "intro", Viewer: viewer})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Backend != BackendMeili || resp.Total != 1 || resp.Results[0].Hash != "abc" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSearchFallsBackToStore(t *testing.T) {
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	var got vcs.Filter
	fallback := fakeFallback{searchFn: func(_ context.Context, projectID string, filter vcs.Filter) ([]vcs.LogEntry, error) {
		got = filter
		return []vcs.LogEntry{{Commit: vcs.Commit{Hash: "h1", AuthorID: "ann", Title: "Intro", Mode: vcs.ModeDevelop, Status: vcs.StatusMerged, Page: 2, CreatedAt: created}}}, nil
	}}

	cases := map[string]Index{
		"no index":        nil,
		"unhealthy index": &fakeIndex{healthy: false},
		"failing index": &fakeIndex{healthy: true, searchFn: func(Query) ([]Result, int, error) {
			return nil, 0, errors.New("boom")
		}},
	}
	for name, index := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := NewService(index, fallback, nil).Search(context.Background(), Query{ProjectID: "p1", Text: "intro", Viewer: viewer, Limit: 5, Offset: 2})
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if resp.Backend != BackendSQL || len(resp.Results) != 1 {
				t.Fatalf("unexpected response %+v", resp)
			}
			if r := resp.Results[0]; r.Hash != "h1" || r.Page != 2 || !r.CreatedAt.Equal(created) || r.Mode != vcs.ModeDevelop {
				t.Fatalf("unexpected result %+v", r)
			}
			if got.TitleContains != "intro" || got.Limit != 5 || got.Offset != 2 || got.Viewer.UserID != "bob" {
				t.Fatalf("unexpected filter %+v", got)
			}
		})
	}
}

func TestSearchReturnsFallbackErrors(t *testing.T) {
	fallback := fakeFallback{searchFn: func(context.Context, string, vcs.Filter) ([]vcs.LogEntry, error) {
		return nil, vcs.Authorization("search commits", "denied")
	}}
	_, err := NewService(nil, fallback, nil).Search(context.Background(), Query{ProjectID: "p1"})
	if !errors.Is(err, vcs.ErrAuthorization) {
		t.Fatalf("Search() error = %v, want authorization", err)
	}
}

func TestIndexAndDeleteCommits(t *testing.T) {
	index := &fakeIndex{healthy: true, indexed: make(chan []CommitRecord, 1), deleted: make(chan string, 2)}
	svc := NewService(index, nil, nil)

	svc.IndexCommits(vcs.Commit{ProjectID: "team/p1", Hash: "abc", Title: "t", Mode: vcs.ModeLocal, Status: vcs.StatusPushed})
	select {
	case records := <-index.indexed:
		if len(records) != 1 || records[0].ID != "team_p1_abc" || records[0].Status != "pushed" {
			t.Fatalf("unexpected records %+v", records)
		}
	case <-time.After(time.Second):
		t.Fatal("commit was not indexed")
	}

	svc.DeleteCommits("p1", []string{"x", "y"})
	for _, want := range []string{"p1/x", "p1/y"} {
		select {
		case got := <-index.deleted:
			if got != want {
				t.Fatalf("deleted %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s was not deleted", want)
		}
	}
}

func TestIndexSkipsUnhealthyBackend(t *testing.T) {
	index := &fakeIndex{healthy: false}
	svc := NewService(index, nil, nil)
	svc.IndexCommits(vcs.Commit{Hash: "abc"})
	svc.DeleteCommits("p1", []string{"abc"})
}

func TestVisibilityFilter(t *testing.T) {
	got := visibilityFilter(`p"1`, "bob")
	want := `projectId = "p\"1" AND (mode != "local" OR status != "normal" OR authorId = "bob")`
	if got != want {
		t.Fatalf("visibilityFilter() = %s, want %s", got, want)
	}
}
