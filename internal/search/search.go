package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProfile    ResultType = "profile"
	ResultRcmd       ResultType = "rcmd"
	ResultLink       ResultType = "link"
	ResultCollection ResultType = "collection"
)

func ParseResultType(value string) (ResultType, bool) {
	switch ResultType(value) {
	case "":
		return "", true
	case ResultProfile, ResultRcmd, ResultLink, ResultCollection:
		return ResultType(value), true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	URL     string     `json:"url,omitempty"`
	Handle  string     `json:"handle"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	Index(records []Record) error
	Delete(t ResultType, id string) error
}

// Record is what gets indexed for any searchable entity. Handle is the
// owning profile's handle so hits can link straight to the profile.
type Record struct {
	ID     string     `json:"id"`
	Type   ResultType `json:"type"`
	Handle string     `json:"handle"`
	Title  string     `json:"title"`
	Body   string     `json:"body"`
	URL    string     `json:"url"`
	Public bool       `json:"public"`
}
