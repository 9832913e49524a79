// Package search provides story full-text search. Meilisearch is preferred
// when configured and healthy; PostgreSQL full-text search is the fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Snippet  string  `json:"snippet"`
	Status   *string `json:"status"`
	Priority int     `json:"priority"`
}

// Query describes a search request. OwnerID is always required; results
// never cross owner boundaries.
type Query struct {
	Text         string
	OwnerID      string
	FilterStatus string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text story search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// StoryRecord is the data indexed per story.
type StoryRecord struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      *string `json:"status"`
	Priority    int     `json:"priority"`
	OwnerID     string  `json:"ownerId"`
}
