// Package search finds resolutions by substring over title and description,
// scoped to a section. Meilisearch is the primary backend; when it is down or
// unconfigured the query runs against Postgres instead.
package search

import "tadbir/api/internal/perm"

// Record is the data indexed per resolution. Section is the category type of
// the resolution's parent, so queries can be scoped the way browsing is.
type Record struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Section     string `json:"section"`
	Workgroup   string `json:"workgroup"`
	Grade       string `json:"grade"`
}

// Query describes a search request.
type Query struct {
	Section perm.Section
	Text    string
	Limit   int
}
