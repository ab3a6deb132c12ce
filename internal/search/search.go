// Package search makes public timelines findable by title and owner name.
// Meilisearch is the primary backend with a Postgres fallback, so search keeps
// working when Meilisearch is down or not configured.
package search

// Result is a single public timeline hit.
type Result struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	OwnerName string `json:"ownerName"`
}

// Query describes a search request over public timelines.
type Query struct {
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// TimelineRecord is the data indexed per public timeline. Titles are the
// plain-text projection; rich-text markup never reaches the index.
type TimelineRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	OwnerName   string   `json:"ownerName"`
	EventTitles []string `json:"eventTitles"`
	CreatedAt   int64    `json:"createdAt"`
}

// Searcher can execute a search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer pushes public timelines into (or out of) a search index.
type Indexer interface {
	IndexTimeline(rec TimelineRecord) error
	DeleteTimeline(id string) error
}
