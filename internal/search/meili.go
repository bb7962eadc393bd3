package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"folio/api/internal/vcs"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxCommits = "folio_commits"

// Meili indexes and searches commits via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the commit index.
// The client is returned even when the first health check fails; the
// background monitor picks the server up once it becomes reachable.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxCommits,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", idxCommits, "error", err)
	}

	index := m.client.Index(idxCommits)
	filterable := []interface{}{"projectId", "authorId", "mode", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", idxCommits, "error", err)
	}
	searchable := []string{"title", "description"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", "index", idxCommits, "error", err)
	}
	sortable := []string{"createdAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.logger.Warn("update sortable attributes", "index", idxCommits, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs q against the commit index. Other authors' unshared local
// commits are filtered out server side.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errors.New("meilisearch unhealthy")
	}

	resp, err := m.client.Index(idxCommits).Search(q.Text, &meili.SearchRequest{
		Limit:                 int64(q.Limit),
		Offset:                int64(q.Offset),
		Filter:                visibilityFilter(q.ProjectID, q.Viewer.UserID),
		Sort:                  []string{"createdAt:desc"},
		AttributesToHighlight: []string{"title", "description"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func visibilityFilter(projectID, viewerID string) string {
	return fmt.Sprintf("projectId = %s AND (mode != %s OR status != %s OR authorId = %s)",
		quote(projectID), quote(string(vcs.ModeLocal)), quote(string(vcs.StatusNormal)), quote(viewerID))
}

// quote renders a filter string literal.
func quote(value string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value) + `"`
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		Hash:     decodeString(hit, "hash"),
		AuthorID: decodeString(hit, "authorId"),
		Title:    firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:  firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
		Mode:     vcs.Mode(decodeString(hit, "mode")),
		Status:   vcs.Status(decodeString(hit, "status")),
	}
	if raw, ok := hit["page"]; ok {
		_ = json.Unmarshal(raw, &r.Page)
	}
	if raw, ok := hit["createdAt"]; ok {
		var millis int64
		if err := json.Unmarshal(raw, &millis); err == nil {
			r.CreatedAt = time.UnixMilli(millis).UTC()
		}
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexCommits adds or updates commits in the index.
func (m *Meili) IndexCommits(records []CommitRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxCommits).AddDocuments(records, nil)
	return err
}

// DeleteCommit removes one commit from the index.
func (m *Meili) DeleteCommit(projectID, hash string) error {
	_, err := m.client.Index(idxCommits).DeleteDocument(DocumentID(projectID, hash), nil)
	return err
}
