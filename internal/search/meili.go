package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"brokerflow/api/internal/logger"
	meili "github.com/meilisearch/meilisearch-go"
)

const idxAssignments = "brokerflow_assignments"

// Meili implements assignment search and indexing via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     *logger.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index.
// The client starts unhealthy when the first health check fails; a background loop recovers it.
func NewMeili(url, apiKey string, log *logger.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		log.Warn("meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxAssignments, PrimaryKey: "id"}); err != nil {
		m.log.Debug("create search index (may already exist)", "index", idxAssignments, "error", err)
	}

	index := m.client.Index(idxAssignments)
	filterable := []interface{}{"tenantId", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", "index", idxAssignments, "error", err)
	}
	searchable := []string{"address", "city", "postalCode", "sellerName", "associationName"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", "index", idxAssignments, "error", err)
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
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search always filters on the tenant; the status filter is optional.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	filters := []string{fmt.Sprintf("tenantId = %q", q.TenantID)}
	if q.Status != "" {
		filters = append(filters, fmt.Sprintf("status = %q", q.Status))
	}
	resp, err := m.client.Index(idxAssignments).Search(q.Text, &meili.SearchRequest{
		Limit:                 int64(limitOrDefault(q.Limit)),
		Filter:                filters,
		AttributesToHighlight: []string{"address", "sellerName", "associationName"},
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

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:         decodeString(hit, "id"),
		Address:    decodeString(hit, "address"),
		City:       decodeString(hit, "city"),
		Status:     decodeString(hit, "status"),
		SellerName: decodeString(hit, "sellerName"),
		Snippet: firstNonBlank(
			decodeFormattedString(hit, "address"),
			decodeFormattedString(hit, "sellerName"),
			decodeFormattedString(hit, "associationName"),
		),
	}
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
	if !strings.Contains(value, "<mark>") {
		return ""
	}
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

// IndexAssignment adds or updates an assignment in the search index.
func (m *Meili) IndexAssignment(record AssignmentRecord) error {
	_, err := m.client.Index(idxAssignments).AddDocuments([]AssignmentRecord{record}, nil)
	return err
}

// IndexAssignments bulk-indexes assignments.
func (m *Meili) IndexAssignments(records []AssignmentRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxAssignments).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteAssignment(id string) error {
	_, err := m.client.Index(idxAssignments).DeleteDocument(id, nil)
	return err
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
