package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"
)

const (
	idxIdeas   = "dct_ideas"
	primaryKey = "key"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  logrus.FieldLogger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the idea index.
// An unreachable server is not an error: the client starts unhealthy and
// the health loop picks it up once it comes back.
func NewMeili(url, apiKey string, logger logrus.FieldLogger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger.WithField("component", "search"),
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		m.logger.WithError(err).Warnf("meilisearch unavailable at %s", url)
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
		Uid:        idxIdeas,
		PrimaryKey: primaryKey,
	}); err != nil {
		m.logger.WithError(err).Debugf("create index %s (may already exist)", idxIdeas)
	}

	index := m.client.Index(idxIdeas)
	// Older indexes keyed on "id"; the switch only succeeds while they are empty.
	if _, err := index.UpdateIndex(&meili.UpdateIndexRequestParams{PrimaryKey: primaryKey}); err != nil {
		m.logger.WithError(err).Debugf("set primary key of %s", idxIdeas)
	}
	filterable := []interface{}{"status", "ideaType", "slots"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.WithError(err).Warnf("update filterable attrs for %s", idxIdeas)
	}
	searchable := []string{"text", "tags", "id"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.WithError(err).Warnf("update searchable attrs for %s", idxIdeas)
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

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	sr := &meili.SearchRequest{
		IndexUID:              idxIdeas,
		Query:                 q.Text,
		Limit:                 int64(clampLimit(q.Limit)),
		AttributesToHighlight: []string{"text"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	var filters []string
	if q.FilterStatus != "" {
		filters = append(filters, fmt.Sprintf("status = %q", q.FilterStatus))
	}
	if q.FilterType != "" {
		filters = append(filters, fmt.Sprintf("ideaType = %q", q.FilterType))
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	text := decodeString(hit, "text")
	r := Result{
		IdeaID:   decodeString(hit, "id"),
		Text:     text,
		Snippet:  firstNonBlank(decodeFormattedString(hit, "text"), text),
		IdeaType: decodeString(hit, "ideaType"),
		Status:   decodeString(hit, "status"),
		Tags:     []string{},
	}
	if raw, ok := hit["tags"]; ok {
		_ = json.Unmarshal(raw, &r.Tags)
	}
	if raw, ok := hit["confidence"]; ok {
		_ = json.Unmarshal(raw, &r.Confidence)
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
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexIdeas adds or replaces ideas in the search index.
func (m *Meili) IndexIdeas(ideas []IdeaRecord) error {
	if len(ideas) == 0 {
		return nil
	}
	pk := primaryKey
	_, err := m.client.Index(idxIdeas).AddDocuments(ideas, &meili.DocumentOptions{PrimaryKey: &pk})
	return err
}
