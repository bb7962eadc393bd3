package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"folio/api/internal/config"
	"folio/api/internal/export"
	"folio/api/internal/gitrepo"
	"folio/api/internal/rbac"
	"folio/api/internal/search"
	"folio/api/internal/vcs"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

type CreateCommitInput struct {
	Page        int    `json:"page" validate:"gt=0"`
	OldStart    int    `json:"oldStart" validate:"gte=0"`
	OldEnd      int    `json:"oldEnd" validate:"gtefield=OldStart"`
	Text        string `json:"text"`
	Title       string `json:"title" validate:"max=200"`
	Description string `json:"description" validate:"max=4000"`
}

type PageQuery struct {
	Page int    `validate:"gt=0"`
	Mode string `validate:"omitempty,oneof=local develop release"`
	Hash string `validate:"omitempty,hexadecimal"`
}

type LogQueryInput struct {
	Hash   string `validate:"omitempty,hexadecimal"`
	Mode   string `validate:"omitempty,oneof=local develop release"`
	Depth  int    `validate:"gte=0"`
	Offset int    `validate:"gte=0"`
	Limit  int    `validate:"gte=0,lte=500"`
}

type CommitFilterInput struct {
	Author string `validate:"omitempty,max=200"`
	Status string `validate:"omitempty,oneof=normal pushed merged"`
	Mode   string `validate:"omitempty,oneof=local develop release"`
	Title  string `validate:"omitempty,max=200"`
	From   time.Time
	To     time.Time
	Offset int `validate:"gte=0"`
	Limit  int `validate:"gte=0,lte=500"`
}

type ExportInput struct {
	Format string `validate:"omitempty,oneof=html pdf docx"`
	Mode   string `validate:"omitempty,oneof=local develop release"`
	Hash   string `validate:"omitempty,hexadecimal"`
}

type SearchInput struct {
	Text   string `validate:"max=200"`
	Offset int    `validate:"gte=0"`
	Limit  int    `validate:"gte=0,lte=100"`
}

// LifecycleResult is the outcome of push, merge or promote.
type LifecycleResult struct {
	Command  string
	Commit   *vcs.Commit
	Merge    *vcs.MergeResult
	Promote  *vcs.PromoteResult
	Snapshot *gitrepo.Snapshot
}

type engine interface {
	CreateCommit(context.Context, vcs.Actor, vcs.Edit) (vcs.Commit, error)
	Push(context.Context, vcs.Actor, string, string) (vcs.Commit, error)
	Merge(context.Context, vcs.Actor, string, string) (vcs.MergeResult, error)
	Promote(context.Context, vcs.Actor, string) (vcs.PromoteResult, error)
	GetPage(context.Context, vcs.PageRequest) (vcs.Page, bool, error)
	Search(context.Context, string, vcs.Filter) ([]vcs.LogEntry, error)
	Log(context.Context, vcs.LogQuery) ([]vcs.LogEntry, error)
	GetCommit(context.Context, vcs.Actor, string, string) (vcs.CommitDetail, error)
}

type memberStore interface {
	ProjectLevel(ctx context.Context, projectID, userID string) (rbac.Level, error)
	Ping(ctx context.Context) error
}

type searchService interface {
	Search(context.Context, search.Query) (search.Response, error)
	IndexCommits(...vcs.Commit)
	DeleteCommits(string, []string)
}

type mirrorService interface {
	Publish(gitrepo.Release) (gitrepo.Snapshot, error)
	History(string, int) ([]gitrepo.Snapshot, error)
	ReadPage(projectID, revision string, page int) (string, error)
}

type exporter interface {
	Export(context.Context, export.Document, export.Format) (*export.Result, error)
}

type observer interface {
	ObserveRequest(route string, status int, elapsed time.Duration)
	SideEffectFailed(effect string)
	Handler() http.Handler
}

// Deps are the collaborators of a Service. Search, Mirror and Metrics are
// optional.
type Deps struct {
	Engine   *vcs.Engine
	Members  memberStore
	Search   *search.Service
	Mirror   *gitrepo.Service
	Exporter *export.Service
	Metrics  observer
	Logger   *slog.Logger
}

type Service struct {
	cfg      config.Config
	engine   engine
	members  memberStore
	search   searchService
	mirror   mirrorService
	exporter exporter
	metrics  observer
	logger   *slog.Logger
	validate *validator.Validate
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		engine:   deps.Engine,
		members:  deps.Members,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		validate: newValidator(),
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.Mirror != nil {
		s.mirror = deps.Mirror
	}
	if deps.Exporter != nil {
		s.exporter = deps.Exporter
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func (s *Service) Ping(ctx context.Context) error {
	return s.members.Ping(ctx)
}

// actor resolves the caller's level on projectID.
func (s *Service) actor(ctx context.Context, projectID, userID string) (vcs.Actor, error) {
	level, err := s.members.ProjectLevel(ctx, projectID, userID)
	if err != nil {
		return vcs.Actor{}, fmt.Errorf("load project level: %w", err)
	}
	return vcs.Actor{UserID: userID, Level: level}, nil
}

func (s *Service) CreateCommit(ctx context.Context, userID, projectID string, input CreateCommitInput) (vcs.Commit, error) {
	if err := s.validate.Struct(input); err != nil {
		return vcs.Commit{}, err
	}
	actor, err := s.actor(ctx, projectID, userID)
	if err != nil {
		return vcs.Commit{}, err
	}
	commit, err := s.engine.CreateCommit(ctx, actor, vcs.Edit{
		ProjectID:   projectID,
		Page:        input.Page,
		OldStart:    input.OldStart,
		OldEnd:      input.OldEnd,
		Text:        input.Text,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
	})
	if err != nil {
		return vcs.Commit{}, err
	}
	s.index(commit)
	return commit, nil
}

// Lifecycle runs push, merge or promote. hash is ignored for promote.
func (s *Service) Lifecycle(ctx context.Context, userID, projectID, command, hash string) (LifecycleResult, error) {
	actor, err := s.actor(ctx, projectID, userID)
	if err != nil {
		return LifecycleResult{}, err
	}
	result := LifecycleResult{Command: command}
	switch command {
	case "push":
		commit, err := s.engine.Push(ctx, actor, projectID, hash)
		if err != nil {
			return LifecycleResult{}, err
		}
		result.Commit = &commit
		s.index(commit)
	case "merge":
		merged, err := s.engine.Merge(ctx, actor, projectID, hash)
		if err != nil {
			return LifecycleResult{}, err
		}
		result.Commit = &merged.Commit
		result.Merge = &merged
		s.index(merged.Commit)
		if s.search != nil {
			s.search.DeleteCommits(projectID, merged.Deleted)
		}
	case "promote":
		promoted, err := s.engine.Promote(ctx, actor, projectID)
		if err != nil {
			return LifecycleResult{}, err
		}
		result.Promote = &promoted
		if promoted.Promoted > 0 && promoted.Head != nil {
			s.reindexRelease(ctx, actor, projectID, *promoted.Head, promoted.Promoted)
			result.Snapshot = s.publishRelease(ctx, actor, projectID, *promoted.Head)
		}
	default:
		return LifecycleResult{}, domainError(http.StatusNotFound, "UNKNOWN_COMMAND", fmt.Sprintf("unknown lifecycle command %q", command), nil)
	}
	return result, nil
}

func (s *Service) index(commits ...vcs.Commit) {
	if s.search != nil {
		s.search.IndexCommits(commits...)
	}
}

// reindexRelease refreshes the index entries of the commits a promote moved
// to release: the newest count commits of the release chain.
func (s *Service) reindexRelease(ctx context.Context, actor vcs.Actor, projectID string, head vcs.Commit, count int64) {
	if s.search == nil {
		return
	}
	limit := int(min(count, vcs.MaxHistoryLimit))
	entries, err := s.engine.Log(ctx, vcs.LogQuery{ProjectID: projectID, Viewer: actor, Hash: head.Hash, Limit: limit})
	if err != nil {
		s.sideEffectFailed("index", "reindex release failed", projectID, err)
		return
	}
	commits := make([]vcs.Commit, 0, len(entries))
	for _, entry := range entries {
		commits = append(commits, entry.Commit)
	}
	s.index(commits...)
}

// publishRelease mirrors every page of the release head into git. Failures
// are logged and never fail the promote.
func (s *Service) publishRelease(ctx context.Context, actor vcs.Actor, projectID string, head vcs.Commit) *gitrepo.Snapshot {
	if s.mirror == nil {
		return nil
	}
	pages, err := s.materializeAll(ctx, actor, projectID, head)
	if err != nil {
		s.sideEffectFailed("mirror", "materialize release failed", projectID, err)
		return nil
	}
	snapshot, err := s.mirror.Publish(gitrepo.Release{
		ProjectID: projectID,
		Hash:      head.Hash,
		Author:    actor.UserID,
		Title:     head.Title,
		Pages:     pages,
	})
	if err != nil {
		s.sideEffectFailed("mirror", "publish release failed", projectID, err)
		return nil
	}
	s.logger.Info("release mirrored", "project", projectID, "hash", head.Hash, "tag", snapshot.Tag, "pages", len(pages))
	return &snapshot
}

// materializeAll reads every page of head concurrently. Pages that do not
// exist at head are left out.
func (s *Service) materializeAll(ctx context.Context, actor vcs.Actor, projectID string, head vcs.Commit) (map[int]string, error) {
	contents := make([]*string, head.MaxPage)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for number := 1; number <= head.MaxPage; number++ {
		g.Go(func() error {
			page, found, err := s.engine.GetPage(gctx, vcs.PageRequest{
				ProjectID: projectID,
				Page:      number,
				Hash:      head.Hash,
				Viewer:    actor,
			})
			if err != nil {
				return fmt.Errorf("materialize page %d: %w", number, err)
			}
			if found {
				content := page.Content()
				contents[number-1] = &content
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pages := make(map[int]string, len(contents))
	for i, content := range contents {
		if content != nil {
			pages[i+1] = *content
		}
	}
	return pages, nil
}

func (s *Service) sideEffectFailed(effect, message, projectID string, err error) {
	s.logger.Warn(message, "project", projectID, "error", err)
	if s.metrics != nil {
		s.metrics.SideEffectFailed(effect)
	}
}

func (s *Service) Page(ctx context.Context, userID, projectID string, query PageQuery) (vcs.Page, bool, error) {
	if err := s.validate.Struct(query); err != nil {
		return vcs.Page{}, false, err
	}
	actor, err := s.actor(ctx, projectID, userID)
	if err != nil {
		return vcs.Page{}, false, err
	}
	mode, err := optionalMode(query.Mode)
	if err != nil {
		return vcs.Page{}, false, err
	}
	return s.engine.GetPage(ctx, vcs.PageRequest{
		ProjectID: projectID,
		Page:      query.Page,
		Hash:      query.Hash,
		Mode:      mode,
		Viewer:    actor,
	})
}

func (s *Service) Log(ctx context.Context, userID, projectID string, query LogQueryInput) ([]vcs.LogEntry, error) {
	if err := s.validate.Struct(query); err != nil {
		return nil, err
	}
	actor, err := s.actor(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	mode, err := optionalMode(query.Mode)
	if err != nil {
		return nil, err
	}
	return s.engine.Log(ctx, vcs.LogQuery{
		ProjectID: projectID,
		Viewer:    actor,
		Hash:      query.Hash,
		Mode:      mode,
		Depth:     query.Depth,
		Offset:    query.Offset,
		Limit:     query.Limit,
	})
}

func (s *Service) Commits(ctx context.Context, userID, projectID string, input CommitFilterInput) ([]vcs.LogEntry, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	actor, err := s.actor(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	filter := vcs.Filter{
		Viewer:        actor,
		AuthorID:      strings.TrimSpace(input.Author),
		TitleContains: input.Title,
		From:          input.From,
		To:            input.To,
		Offset:        input.Offset,
		Limit:         input.Limit,
	}
	if input.Status != "" {
		if filter.Status, err = vcs.ParseStatus(input.Status); err != nil {
			return nil, err
		}
	}
	if filter.Mode, err = optionalMode(input.Mode); err != nil {
		return nil, err
	}
	return s.engine.Search(ctx, projectID, filter)
}

func (s *Service) SearchCommits(ctx context.Context, userID, projectID string, input SearchInput) (search.Response, error) {
	if err := s.validate.Struct(input); err != nil {
		return search.Response{}, err
	}
	actor, err := s.actor(ctx, projectID, userID)
	if err != nil {
		return search.Response{}, err
	}
	query := search.Query{
		ProjectID: projectID,
		Text:      strings.TrimSpace(input.Text),
		Viewer:    actor,
		Offset:    input.Offset,
		Limit:     input.Limit,
	}
	if s.search == nil {
		return search.NewService(nil, s.engine, s.logger).Search(ctx, query)
	}
	return s.search.Search(ctx, query)
}

// Export renders every page of the selected version. The selector is the
// same as for Page.
func (s *Service) Export(ctx context.Context, userID, projectID string, input ExportInput) (*export.Result, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	format, err := export.ParseFormat(input.Format)
	if err != nil {
		return nil, err
	}
	actor, err := s.actor(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	mode, err := optionalMode(input.Mode)
	if err != nil {
		return nil, err
	}
	first, found, err := s.engine.GetPage(ctx, vcs.PageRequest{
		ProjectID: projectID,
		Page:      1,
		Hash:      input.Hash,
		Mode:      mode,
		Viewer:    actor,
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Nothing to export", nil)
	}
	head := first.Commit
	pages, err := s.materializeAll(ctx, actor, projectID, head)
	if err != nil {
		return nil, err
	}

	doc := export.Document{
		ProjectID: projectID,
		Title:     head.Title,
		Hash:      head.Hash,
		Mode:      string(head.Mode),
		Author:    head.AuthorID,
		CreatedAt: head.CreatedAt,
		Pages:     make([]export.Page, 0, len(pages)),
	}
	for number, content := range pages {
		doc.Pages = append(doc.Pages, export.Page{Number: number, Content: content})
	}
	return s.exporter.Export(ctx, doc, format)
}

func (s *Service) Commit(ctx context.Context, userID, projectID, hash string) (vcs.CommitDetail, error) {
	actor, err := s.actor(ctx, projectID, userID)
	if err != nil {
		return vcs.CommitDetail{}, err
	}
	return s.engine.GetCommit(ctx, actor, projectID, hash)
}

func (s *Service) Releases(ctx context.Context, userID, projectID string, limit int) ([]gitrepo.Snapshot, error) {
	actor, err := s.actor(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(actor.Level, rbac.ActionRead) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if s.mirror == nil {
		return []gitrepo.Snapshot{}, nil
	}
	return s.mirror.History(projectID, limit)
}

// ReleasePage reads one page as mirrored under a release tag.
func (s *Service) ReleasePage(ctx context.Context, userID, projectID, tag string, page int) (string, error) {
	actor, err := s.actor(ctx, projectID, userID)
	if err != nil {
		return "", err
	}
	if !rbac.Can(actor.Level, rbac.ActionRead) {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if page <= 0 {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "page must be a positive integer", nil)
	}
	if s.mirror == nil {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "Release not found", nil)
	}
	content, err := s.mirror.ReadPage(projectID, tag, page)
	if errors.Is(err, gitrepo.ErrNotFound) {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "Release page not found", nil)
	}
	return content, err
}

func optionalMode(value string) (vcs.Mode, error) {
	if value == "" {
		return "", nil
	}
	return vcs.ParseMode(value)
}
