package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"folio/api/internal/auth"
	"folio/api/internal/export"
	"folio/api/internal/gitrepo"
	"folio/api/internal/vcs"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Session struct {
	UserID   string
	UserName string
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	secret     []byte
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, secret: []byte(service.cfg.JWTSecret)}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.service.metrics != nil {
		s.service.metrics.Handler().ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 4 || parts[0] != "api" || parts[1] != "projects" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	projectID := parts[2]

	switch {
	case parts[3] == "commits":
		s.handleCommits(w, r, session, projectID, parts)
	case len(parts) == 4 && parts[3] == "promote" && r.Method == http.MethodPost:
		result, err := s.service.Lifecycle(r.Context(), session.UserID, projectID, "promote", "")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, LifecycleView(result))
	case len(parts) == 5 && parts[3] == "pages" && r.Method == http.MethodGet:
		s.handlePage(w, r, session, projectID, parts[4])
	case len(parts) == 4 && parts[3] == "log" && r.Method == http.MethodGet:
		s.handleLog(w, r, session, projectID)
	case len(parts) == 4 && parts[3] == "search" && r.Method == http.MethodGet:
		query := r.URL.Query()
		response, err := s.service.SearchCommits(r.Context(), session.UserID, projectID, SearchInput{
			Text:   query.Get("q"),
			Offset: queryInt(query.Get("offset"), 0),
			Limit:  queryInt(query.Get("limit"), 0),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, response)
	case len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodGet:
		query := r.URL.Query()
		result, err := s.service.Export(r.Context(), session.UserID, projectID, ExportInput{
			Format: query.Get("format"),
			Mode:   query.Get("mode"),
			Hash:   query.Get("hash"),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
	case len(parts) == 7 && parts[3] == "releases" && parts[5] == "pages" && r.Method == http.MethodGet:
		number, err := strconv.Atoi(parts[6])
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "page must be a positive integer", nil)
			return
		}
		content, err := s.service.ReleasePage(r.Context(), session.UserID, projectID, parts[4], number)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"release": parts[4], "page": number, "content": content})
	case len(parts) == 4 && parts[3] == "releases" && r.Method == http.MethodGet:
		releases, err := s.service.Releases(r.Context(), session.UserID, projectID, queryInt(r.URL.Query().Get("limit"), 20))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"releases": releaseViews(releases)})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleCommits(w http.ResponseWriter, r *http.Request, session Session, projectID string, parts []string) {
	if len(parts) == 4 && r.Method == http.MethodPost {
		var body CreateCommitInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		commit, err := s.service.CreateCommit(r.Context(), session.UserID, projectID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"commit": CommitView(commit, "")})
		return
	}

	if len(parts) == 4 && r.Method == http.MethodGet {
		query := r.URL.Query()
		input := CommitFilterInput{
			Author: query.Get("author"),
			Status: strings.TrimSpace(query.Get("status")),
			Mode:   strings.TrimSpace(query.Get("mode")),
			Title:  query.Get("title"),
			Offset: queryInt(query.Get("offset"), 0),
			Limit:  queryInt(query.Get("limit"), 0),
		}
		var err error
		if input.From, err = queryTime(query.Get("from")); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "from must be an RFC 3339 timestamp", nil)
			return
		}
		if input.To, err = queryTime(query.Get("to")); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "to must be an RFC 3339 timestamp", nil)
			return
		}
		entries, err := s.service.Commits(r.Context(), session.UserID, projectID, input)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": EntryViews(entries)})
		return
	}

	if len(parts) == 5 && r.Method == http.MethodGet {
		detail, err := s.service.Commit(r.Context(), session.UserID, projectID, parts[4])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		view := CommitView(detail.Commit, detail.ParentHash)
		view["blocks"] = detail.Blocks
		writeJSON(w, http.StatusOK, map[string]any{"commit": view})
		return
	}

	if len(parts) == 6 && r.Method == http.MethodPost && (parts[5] == "push" || parts[5] == "merge") {
		result, err := s.service.Lifecycle(r.Context(), session.UserID, projectID, parts[5], parts[4])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, LifecycleView(result))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handlePage(w http.ResponseWriter, r *http.Request, session Session, projectID, rawNumber string) {
	number, err := strconv.Atoi(rawNumber)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "page must be a positive integer", nil)
		return
	}
	query := r.URL.Query()
	page, found, err := s.service.Page(r.Context(), session.UserID, projectID, PageQuery{
		Page: number,
		Mode: strings.TrimSpace(query.Get("mode")),
		Hash: strings.TrimSpace(query.Get("hash")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{"page": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": PageView(page)})
}

func (s *HTTPServer) handleLog(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	query := r.URL.Query()
	entries, err := s.service.Log(r.Context(), session.UserID, projectID, LogQueryInput{
		Hash:   strings.TrimSpace(query.Get("hash")),
		Mode:   strings.TrimSpace(query.Get("mode")),
		Depth:  queryInt(query.Get("depth"), 0),
		Offset: queryInt(query.Get("offset"), 0),
		Limit:  queryInt(query.Get("limit"), 0),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"log": EntryViews(entries)})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return Session{UserID: claims.Subject, UserName: claims.Name}, true
}

// fail maps err to a response. Server errors are logged with the request id.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.service.logger.Error("request failed",
			"request_id", requestIDFrom(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		if s.service.metrics != nil {
			s.service.metrics.ObserveRequest(routeLabel(r.URL.Path), writer.status, elapsed)
		}
		s.service.logger.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", writer.status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routeLabel collapses path parameters so metric labels stay bounded.
func routeLabel(path string) string {
	parts := splitPath(path)
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "projects" {
		switch path {
		case "/api/health", "/api/ready", "/metrics":
			return path
		}
		return "other"
	}
	label := []string{"api", "projects", ":project"}
	for i, part := range parts[3:] {
		switch {
		case i == 1 && parts[3] == "commits":
			label = append(label, ":hash")
		case i == 1 && parts[3] == "pages":
			label = append(label, ":page")
		case i == 1 && parts[3] == "releases":
			label = append(label, ":tag")
		case i == 3 && parts[3] == "releases":
			label = append(label, ":page")
		default:
			label = append(label, part)
		}
	}
	return "/" + strings.Join(label, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func queryTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		fields := make(map[string]string, len(invalid))
		for _, fieldErr := range invalid {
			fields[lowerFirst(fieldErr.Field())] = fieldErr.Tag()
		}
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid request", fields
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	switch {
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export converter is not installed", nil
	}

	var vcsErr *vcs.Error
	message = "Server error"
	if errors.As(err, &vcsErr) {
		message = vcsErr.Message
	}
	switch {
	case errors.Is(err, vcs.ErrValidation):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil
	case errors.Is(err, vcs.ErrAuthorization):
		return http.StatusForbidden, "FORBIDDEN", message, nil
	case errors.Is(err, vcs.ErrConflict):
		return http.StatusConflict, "CONFLICT", message, nil
	case errors.Is(err, vcs.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", message, nil
	case errors.Is(err, vcs.ErrIntegrity):
		return http.StatusInternalServerError, "INTEGRITY_ERROR", message, nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func CommitView(commit vcs.Commit, parentHash string) map[string]any {
	view := map[string]any{
		"hash":        commit.Hash,
		"author":      commit.AuthorID,
		"date":        commit.CreatedAt.UTC().Format(time.RFC3339Nano),
		"title":       commit.Title,
		"description": commit.Description,
		"status":      commit.Status,
		"mode":        commit.Mode,
		"page":        commit.Page,
		"maxPage":     commit.MaxPage,
		"oldStart":    commit.OldStart,
		"oldEnd":      commit.OldEnd,
	}
	if parentHash != "" {
		view["parentHash"] = parentHash
	}
	return view
}

func PageView(page vcs.Page) map[string]any {
	return map[string]any{
		"number":  page.Number,
		"hash":    page.Commit.Hash,
		"mode":    page.Commit.Mode,
		"maxPage": page.Commit.MaxPage,
		"source":  page.Source,
		"lines":   page.Lines,
		"content": page.Content(),
	}
}

func EntryViews(entries []vcs.LogEntry) []map[string]any {
	views := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		view := CommitView(entry.Commit, entry.ParentHash)
		view["depth"] = entry.Depth
		views = append(views, view)
	}
	return views
}

func LifecycleView(result LifecycleResult) map[string]any {
	view := map[string]any{"command": result.Command}
	if result.Commit != nil {
		view["commit"] = CommitView(*result.Commit, "")
	}
	if result.Merge != nil {
		view["deleted"] = nonNilStrings(result.Merge.Deleted)
		view["shifted"] = result.Merge.Shifted
		view["rebased"] = result.Merge.Rebased
	}
	if result.Promote != nil {
		view["promoted"] = result.Promote.Promoted
		if result.Promote.Head != nil {
			view["head"] = CommitView(*result.Promote.Head, "")
		}
	}
	if result.Snapshot != nil {
		view["release"] = releaseViews([]gitrepo.Snapshot{*result.Snapshot})[0]
	}
	return view
}

func releaseViews(snapshots []gitrepo.Snapshot) []map[string]any {
	views := make([]map[string]any, 0, len(snapshots))
	for _, snapshot := range snapshots {
		views = append(views, map[string]any{
			"hash":    snapshot.Hash,
			"tag":     snapshot.Tag,
			"message": snapshot.Message,
			"author":  snapshot.Author,
			"date":    snapshot.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return views
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
