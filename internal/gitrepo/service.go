// Package gitrepo mirrors released document revisions into plain git
// repositories, one per project, with one text file per page.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const mainBranch = "main"

var pageFilePattern = regexp.MustCompile(`^page-(\d{4,})\.txt$`)

// ErrNotFound reports a missing mirror, revision or page file.
var ErrNotFound = errors.New("not found in release mirror")

// Release is the materialized content of one release head.
type Release struct {
	ProjectID string
	Hash      string
	Author    string
	Title     string
	Pages     map[int]string
}

// Snapshot describes one mirrored release commit.
type Snapshot struct {
	Hash      string    `json:"hash"`
	Tag       string    `json:"tag,omitempty"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// TagName is the tag a release head is published under.
func TagName(hash string) string {
	if len(hash) > 12 {
		hash = hash[:12]
	}
	return "release-" + hash
}

func pageFileName(page int) string {
	return fmt.Sprintf("page-%04d.txt", page)
}

// Publish writes every page of rel into the project's repository, commits
// the result on main and tags it. Publishing a release that is already
// mirrored only makes sure the tag exists.
func (s *Service) Publish(rel Release) (Snapshot, error) {
	if len(rel.Pages) == 0 {
		return Snapshot{}, errors.New("release has no pages")
	}
	lock := s.projectLock(rel.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(rel.ProjectID)
	if err != nil {
		return Snapshot{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open worktree: %w", err)
	}
	root := worktree.Filesystem.Root()

	if err := removeStalePages(worktree, root, rel.Pages); err != nil {
		return Snapshot{}, err
	}
	numbers := make([]int, 0, len(rel.Pages))
	for number := range rel.Pages {
		numbers = append(numbers, number)
	}
	sort.Ints(numbers)
	for _, number := range numbers {
		name := pageFileName(number)
		if err := os.WriteFile(filepath.Join(root, name), []byte(rel.Pages[number]), 0o644); err != nil {
			return Snapshot{}, fmt.Errorf("write %s: %w", name, err)
		}
		if _, err := worktree.Add(name); err != nil {
			return Snapshot{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	hash, err := s.commitIfChanged(repo, worktree, rel)
	if err != nil {
		return Snapshot{}, err
	}

	tag := TagName(rel.Hash)
	_, err = repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger:  s.signature("Folio"),
		Message: fmt.Sprintf("Release %s", rel.Hash),
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return Snapshot{}, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit object: %w", err)
	}
	snapshot := toSnapshot(commitObj)
	snapshot.Tag = tag
	return snapshot, nil
}

func (s *Service) commitIfChanged(repo *git.Repository, worktree *git.Worktree, rel Release) (plumbing.Hash, error) {
	head, headErr := repo.Head()
	if headErr == nil {
		status, err := worktree.Status()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("worktree status: %w", err)
		}
		if status.IsClean() {
			return head.Hash(), nil
		}
	} else if !errors.Is(headErr, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, fmt.Errorf("resolve HEAD: %w", headErr)
	}

	message := fmt.Sprintf("Release %s", TagName(rel.Hash))
	if rel.Title != "" {
		message += "\n\n" + rel.Title
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{Author: s.signature(rel.Author)})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit release: %w", err)
	}
	return hash, nil
}

func removeStalePages(worktree *git.Worktree, root string, pages map[int]string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read worktree: %w", err)
	}
	for _, entry := range entries {
		match := pageFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		number, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if _, keep := pages[number]; keep {
			continue
		}
		if _, err := worktree.Remove(entry.Name()); err != nil {
			return fmt.Errorf("git rm %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// History lists mirrored releases on main, newest first.
func (s *Service) History(projectID string, limit int) ([]Snapshot, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	tags, err := tagsByCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Snapshot, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		snapshot := toSnapshot(commitObj)
		snapshot.Tag = tags[commitObj.Hash]
		items = append(items, snapshot)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ReadPage returns one page as mirrored at revision, a tag or commit hash.
func (s *Service) ReadPage(projectID, revision string, page int) (string, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", fmt.Errorf("%w: project %s has no releases", ErrNotFound, projectID)
	}
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(revision))
	if errors.Is(err, plumbing.ErrReferenceNotFound) || errors.Is(err, plumbing.ErrObjectNotFound) {
		return "", fmt.Errorf("%w: revision %s", ErrNotFound, revision)
	}
	if err != nil {
		return "", fmt.Errorf("resolve revision %s: %w", revision, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", revision, err)
	}
	file, err := commitObj.File(pageFileName(page))
	if errors.Is(err, object.ErrFileNotFound) {
		return "", fmt.Errorf("%w: page %d at %s", ErrNotFound, page, revision)
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", pageFileName(page), err)
	}
	return file.Contents()
}

func (s *Service) ensureRepo(projectID string) (*git.Repository, error) {
	path := s.repoPath(projectID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", mainBranch, err)
	}
	return repo, nil
}

func (s *Service) repoPath(projectID string) string {
	return filepath.Join(s.baseDir, sanitizePath(projectID))
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[projectID] = lock
	return lock
}

func (s *Service) signature(name string) *object.Signature {
	return &object.Signature{
		Name:  name,
		Email: fmt.Sprintf("%s@folio.local", sanitizeEmail(name)),
		When:  s.now(),
	}
}

func tagsByCommit(repo *git.Repository) (map[plumbing.Hash]string, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer iter.Close()

	tags := make(map[plumbing.Hash]string)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
			target = tagObj.Target
		}
		tags[target] = ref.Name().Short()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

func toSnapshot(commitObj *object.Commit) Snapshot {
	return Snapshot{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	bytes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			bytes = append(bytes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			bytes = append(bytes, '.')
		}
	}
	if len(bytes) == 0 {
		return "user"
	}
	return string(bytes)
}

// sanitizePath keeps project ids from escaping the base directory.
func sanitizePath(projectID string) string {
	out := make([]rune, 0, len(projectID))
	for _, r := range projectID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out = append(out, r)
			continue
		}
		out = append(out, '_')
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
