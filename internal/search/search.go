// Package search finds projected ideas by free text.
package search

import "context"

// Source names the backend that answered a query.
type Source string

const (
	SourceMeili      Source = "meilisearch"
	SourceProjection Source = "projection"
)

// Result is a single idea hit returned to the caller.
type Result struct {
	IdeaID     string   `json:"ideaId"`
	Text       string   `json:"text"`
	Snippet    string   `json:"snippet"`
	IdeaType   string   `json:"ideaType"`
	Status     string   `json:"status"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterStatus string
	FilterType   string
	Limit        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  Source   `json:"source"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push ideas into a search index.
type Indexer interface {
	IndexIdeas(ideas []IdeaRecord) error
}

// Backend is an external search engine such as Meili.
type Backend interface {
	Searcher
	Indexer
}

// IdeaRecord is the data we index for an idea. Key is the document primary
// key; idea ids may contain characters Meilisearch rejects in ids.
type IdeaRecord struct {
	Key        string   `json:"key"`
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	IdeaType   string   `json:"ideaType"`
	Status     string   `json:"status"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
	Slots      []string `json:"slots"`
}

const defaultLimit = 20
const maxLimit = 100

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}
