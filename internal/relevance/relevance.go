// Package relevance scores catalog records against a search query and decides
// which records are admitted into a result set.
package relevance

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bibliored/bibliored-server/internal/normalize"
)

// Score weights.
const (
	titleContains   = 100
	authorContains  = 80
	titlePrefix     = 90
	wordInTitle     = 15
	wordInAuthor    = 10
	wordCoverage    = 20
	coverageRatio   = 0.7
	minWordRuneSize = 3
)

// Threshold is the minimum score a record needs to be admitted.
const Threshold = 10

// Score computes the relevance of a (title, author) pair for query.
// All three inputs must already be normalized.
//
// Whole-query matches always win: the word-level pass only runs when no
// whole-query rule matched and the query has more than one word.
func Score(query, title, author string) int {
	score := 0

	if strings.Contains(title, query) {
		score += titleContains
	}
	if strings.Contains(author, query) {
		score += authorContains
	}
	if strings.HasPrefix(title, query) {
		score += titlePrefix
	}

	if score > 0 || len(strings.Fields(query)) <= 1 {
		return score
	}

	words := significantWords(query)
	if len(words) == 0 {
		return 0
	}

	matched := 0
	for _, w := range words {
		inTitle := strings.Contains(title, w)
		inAuthor := strings.Contains(author, w)
		if inTitle {
			score += wordInTitle
		}
		if inAuthor {
			score += wordInAuthor
		}
		if inTitle || inAuthor {
			matched++
		}
	}

	if float64(matched)/float64(len(words)) >= coverageRatio {
		score += wordCoverage
	}

	return score
}

// Admitted reports whether score meets the admission threshold.
func Admitted(score int) bool {
	return score >= Threshold
}

// significantWords splits query on spaces and drops words shorter than three runes.
func significantWords(query string) []string {
	fields := strings.Fields(query)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minWordRuneSize {
			words = append(words, f)
		}
	}
	return words
}

// Scored pairs an item with its relevance score.
type Scored[T any] struct {
	Item  T
	Score int
}

// FieldsFunc extracts the raw (not normalized) title and author of an item.
type FieldsFunc[T any] func(T) (title, author string)

// Rank scores every item against normalizedQuery, drops items below the
// threshold, and returns the rest ordered by score descending. Items with equal
// scores keep their input order. A limit <= 0 returns every admitted item.
func Rank[T any](normalizedQuery string, items []T, fields FieldsFunc[T], limit int) []Scored[T] {
	admitted := scoreAll(normalizedQuery, items, fields)

	sort.SliceStable(admitted, func(i, j int) bool {
		return admitted[i].Score > admitted[j].Score
	})

	return truncate(admitted, limit)
}

// Filter keeps the admitted items in their input order, up to limit.
func Filter[T any](normalizedQuery string, items []T, fields FieldsFunc[T], limit int) []Scored[T] {
	return truncate(scoreAll(normalizedQuery, items, fields), limit)
}

func scoreAll[T any](query string, items []T, fields FieldsFunc[T]) []Scored[T] {
	admitted := make([]Scored[T], 0, len(items))
	for _, item := range items {
		title, author := fields(item)
		s := Score(query, normalize.Text(title), normalize.Text(author))
		if Admitted(s) {
			admitted = append(admitted, Scored[T]{Item: item, Score: s})
		}
	}
	return admitted
}

func truncate[T any](scored []Scored[T], limit int) []Scored[T] {
	if limit > 0 && len(scored) > limit {
		return scored[:limit]
	}
	return scored
}

// Items strips the scores from a scored slice.
func Items[T any](scored []Scored[T]) []T {
	items := make([]T, len(scored))
	for i, s := range scored {
		items[i] = s.Item
	}
	return items
}
