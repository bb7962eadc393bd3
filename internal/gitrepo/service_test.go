package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestPublishReleaseLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first, err := svc.Publish(Release{
		ProjectID: "p1",
		Hash:      "aaaaaaaaaaaaaaaaaaaa",
		Author:    "Avery Admin",
		Title:     "First release",
		Pages:     map[int]string{1: "A\nB", 2: "second page"},
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if first.Tag != "release-aaaaaaaaaaaa" {
		t.Fatalf("unexpected tag %q", first.Tag)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "p1", "page-0002.txt")); err != nil {
		t.Fatalf("page file missing: %v", err)
	}

	second, err := svc.Publish(Release{
		ProjectID: "p1",
		Hash:      "bbbbbbbbbbbbbbbbbbbb",
		Author:    "Avery Admin",
		Pages:     map[int]string{1: "A\nX\nB"},
	})
	if err != nil {
		t.Fatalf("Publish() second error = %v", err)
	}
	if second.Hash == first.Hash {
		t.Fatal("expected a new commit for changed content")
	}

	page, err := svc.ReadPage("p1", first.Tag, 1)
	if err != nil {
		t.Fatalf("ReadPage(first) error = %v", err)
	}
	if page != "A\nB" {
		t.Fatalf("ReadPage(first) = %q", page)
	}
	page, err = svc.ReadPage("p1", second.Tag, 1)
	if err != nil {
		t.Fatalf("ReadPage(second) error = %v", err)
	}
	if page != "A\nX\nB" {
		t.Fatalf("ReadPage(second) = %q", page)
	}
	if _, err := svc.ReadPage("p1", second.Tag, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected page 2 to be removed from the second release, got %v", err)
	}
	if _, err := svc.ReadPage("p1", "release-000000000000", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected unknown tag to be not found, got %v", err)
	}
	if _, err := svc.ReadPage("p2", first.Tag, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected missing mirror to be not found, got %v", err)
	}

	history, err := svc.History("p1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 mirrored releases, got %d", len(history))
	}
	if history[0].Tag != second.Tag || history[1].Tag != first.Tag {
		t.Fatalf("unexpected tags in history: %+v", history)
	}
	if !strings.HasPrefix(history[1].Message, "Release release-aaaaaaaaaaaa") {
		t.Fatalf("unexpected message %q", history[1].Message)
	}
	if history[0].Author != "Avery Admin" {
		t.Fatalf("unexpected author %q", history[0].Author)
	}
}

func TestPublishSameContentOnlyTags(t *testing.T) {
	svc := New(t.TempDir())
	rel := Release{ProjectID: "p1", Hash: "1111111111111111", Author: "Avery", Pages: map[int]string{1: "same"}}

	first, err := svc.Publish(rel)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	again, err := svc.Publish(rel)
	if err != nil {
		t.Fatalf("Publish() repeat error = %v", err)
	}
	if again.Hash != first.Hash || again.Tag != first.Tag {
		t.Fatalf("repeat publish changed the mirror: %+v vs %+v", again, first)
	}

	rel.Hash = "2222222222222222"
	other, err := svc.Publish(rel)
	if err != nil {
		t.Fatalf("Publish() new head error = %v", err)
	}
	if other.Hash != first.Hash || other.Tag != "release-222222222222" {
		t.Fatalf("unexpected snapshot %+v", other)
	}

	history, err := svc.History("p1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one commit, got %d", len(history))
	}
}

func TestPublishRejectsEmptyRelease(t *testing.T) {
	if _, err := New(t.TempDir()).Publish(Release{ProjectID: "p1", Hash: "x"}); err == nil {
		t.Fatal("expected error for a release without pages")
	}
}

func TestHistoryOfUnknownProjectIsEmpty(t *testing.T) {
	history, err := New(t.TempDir()).History("missing", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %+v", history)
	}
}

func TestProjectIDsStayInsideBaseDir(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	if _, err := svc.Publish(Release{ProjectID: "../escape", Hash: "abc", Author: "A", Pages: map[int]string{1: "x"}}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "___escape")); err != nil {
		t.Fatalf("expected sanitized repo dir: %v", err)
	}
}

func TestConcurrentPublishAcrossProjects(t *testing.T) {
	svc := New(t.TempDir())

	const writers = 6
	var wg sync.WaitGroup
	errCh := make(chan error, writers*2)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for round := 0; round < 2; round++ {
				_, err := svc.Publish(Release{
					ProjectID: fmt.Sprintf("p%d", idx%2),
					Hash:      fmt.Sprintf("%02d%02d", idx, round),
					Author:    "Avery",
					Pages:     map[int]string{1: fmt.Sprintf("writer %d round %d", idx, round)},
				})
				if err != nil {
					errCh <- err
				}
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("Publish() concurrent error = %v", err)
	}
	for _, project := range []string{"p0", "p1"} {
		history, err := svc.History(project, 100)
		if err != nil {
			t.Fatalf("History(%s) error = %v", project, err)
		}
		if len(history) != writers {
			t.Fatalf("expected %d releases in %s, got %d", writers, project, len(history))
		}
	}
}
