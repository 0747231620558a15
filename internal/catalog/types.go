package catalog

import (
	"github.com/bibliored/bibliored-server/internal/domain"
)

// RawCandidate is one result row as parsed from the catalog page.
type RawCandidate struct {
	Title            string
	Author           string
	Availability     string
	Library          string
	AvailabilityHref string
}

// DocNumber returns the 9-digit catalog identifier from the availability
// link, or "" if the row carried none.
func (r RawCandidate) DocNumber() string {
	return DocNumberFromHref(r.AvailabilityHref)
}

// DetailURL returns the catalog deep link for the row, or "" without a doc number.
func (r RawCandidate) DetailURL() string {
	return DeepLink(r.DocNumber())
}

// Candidate converts the row into the typed record used by scoring and caching.
func (r RawCandidate) Candidate() domain.CandidateBook {
	author := r.Author
	if author == "" {
		author = domain.DefaultAuthor
	}
	docNumber := r.DocNumber()

	return domain.CandidateBook{
		Title:        r.Title,
		Author:       author,
		Availability: r.Availability,
		Library:      r.Library,
		DetailURL:    DeepLink(docNumber),
		DocNumber:    docNumber,
	}
}

// Result is the outcome of a successful catalog search.
type Result struct {
	Candidates []RawCandidate
	SourceURL  string
	Attempts   int
	// Skipped counts result rows dropped for lacking a title.
	Skipped int
}

// RowsSeen is the number of result rows on the page, kept or skipped.
func (r *Result) RowsSeen() int {
	return len(r.Candidates) + r.Skipped
}
