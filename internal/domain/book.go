// Package domain contains the core entities of the BiblioRed catalog search engine.
package domain

import (
	"time"
)

// DefaultAuthor is used when a catalog record does not name an author.
const DefaultAuthor = "Autor no especificado"

// CandidateBook is a catalog record that survived parsing and is ready to be
// scored and cached. Fields are display strings exactly as scraped.
type CandidateBook struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	Availability string `json:"availability,omitempty"`
	Library      string `json:"library,omitempty"`
	DetailURL    string `json:"detail_url,omitempty"`
	DocNumber    string `json:"doc_number,omitempty"`
}

// CachedBook is a catalog record persisted under the normalized search term
// that caused its retrieval.
//
// A CachedBook is never modified after insertion except for LastAccessed.
type CachedBook struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	Availability string    `json:"availability,omitempty"`
	Library      string    `json:"library,omitempty"`
	DetailURL    string    `json:"detail_url,omitempty"`
	DocNumber    string    `json:"doc_number,omitempty"`
	SearchTerm   string    `json:"search_term"`
	SourceURL    string    `json:"source_url,omitempty"`
	CachedAt     time.Time `json:"cached_at"`
	LastAccessed time.Time `json:"last_accessed"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewCachedBook converts a candidate into a cache row stamped at now.
// ttl must be positive so that ExpiresAt is after CachedAt.
func NewCachedBook(c CandidateBook, id, searchTerm, sourceURL string, now time.Time, ttl time.Duration) CachedBook {
	author := c.Author
	if author == "" {
		author = DefaultAuthor
	}

	return CachedBook{
		ID:           id,
		Title:        c.Title,
		Author:       author,
		Availability: c.Availability,
		Library:      c.Library,
		DetailURL:    c.DetailURL,
		DocNumber:    c.DocNumber,
		SearchTerm:   searchTerm,
		SourceURL:    sourceURL,
		CachedAt:     now,
		LastAccessed: now,
		ExpiresAt:    now.Add(ttl),
	}
}
