package domain

import "time"

// SearchQueryStat tracks how often a normalized term reached the upstream catalog.
type SearchQueryStat struct {
	Query        string    `json:"query"`
	ResultCount  int       `json:"result_count"`
	SearchCount  int       `json:"search_count"`
	LastSearched time.Time `json:"last_searched"`
}

// CacheStats summarizes the contents of the book cache at a point in time.
type CacheStats struct {
	TotalBooks     int        `json:"total_books"`
	ActiveBooks    int        `json:"active_books"`
	ExpiredBooks   int        `json:"expired_books"`
	DistinctTerms  int        `json:"distinct_terms"`
	TrackedQueries int        `json:"tracked_queries"`
	OldestCached   *time.Time `json:"oldest_cached,omitempty"`
	NewestCached   *time.Time `json:"newest_cached,omitempty"`
	MaxSize        int        `json:"max_size"`
	OverCapacity   bool       `json:"over_capacity"`
}
