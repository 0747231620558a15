package catalog

import (
	"io"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// resultsContainerID is the id of the element wrapping the result rows.
const resultsContainerID = "short_table"

// Cell classes of a result row.
const (
	classTitle        = "title"
	classAuthor       = "author"
	classAvailability = "availability"
	classLibrary      = "library"
)

var textPolicy = bluemonday.StrictPolicy()

// parseResults extracts candidate rows from a catalog results page.
// A page without the results container has zero rows. Rows without a title
// are skipped and counted.
func parseResults(r io.Reader) (rows []RawCandidate, skipped int, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, 0, err
	}

	container := findNode(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && getAttr(n, "id") == resultsContainerID
	})
	if container == nil {
		return nil, 0, nil
	}

	findAll(container, func(n *html.Node) bool {
		if !isElement(n, "tr") || !hasCell(n) {
			return true
		}

		row := parseRow(n)
		if row.Title == "" {
			skipped++
		} else {
			rows = append(rows, row)
		}
		// Rows are not nested in each other.
		return false
	})

	return rows, skipped, nil
}

func parseRow(tr *html.Node) RawCandidate {
	return RawCandidate{
		Title:            cleanText(findText(tr, classMatcher(classTitle))),
		Author:           cleanText(findText(tr, classMatcher(classAuthor))),
		Availability:     cleanText(findText(tr, classMatcher(classAvailability))),
		Library:          cleanText(findText(tr, classMatcher(classLibrary))),
		AvailabilityHref: availabilityHref(tr),
	}
}

// availabilityHref returns the first link inside the availability cell, or
// failing that any link in the row that carries a doc number.
func availabilityHref(tr *html.Node) string {
	if cell := findNode(tr, classMatcher(classAvailability)); cell != nil {
		if href := findAttr(cell, isLink, "href"); href != "" {
			return href
		}
	}
	return findAttr(tr, func(n *html.Node) bool {
		return isLink(n) && strings.Contains(getAttr(n, "href"), docNumberParam+"=")
	}, "href")
}

// cleanText drops any markup that survived in the text, resolves entities,
// and collapses whitespace.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(textPolicy.Sanitize(s))
	return strings.TrimSpace(collapseWhitespace(s))
}

var whitespaceRegex = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return whitespaceRegex.ReplaceAllString(s, " ")
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func isLink(n *html.Node) bool {
	return isElement(n, "a") && getAttr(n, "href") != ""
}

func hasCell(tr *html.Node) bool {
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, "td") {
			return true
		}
	}
	return false
}

func classMatcher(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasClass(n, class)
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key == "class" {
			for _, c := range strings.Fields(attr.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// findNode returns the first node in document order that matches.
func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findText(n *html.Node, match func(*html.Node) bool) string {
	if found := findNode(n, match); found != nil {
		return extractTextContent(found)
	}
	return ""
}

func findAttr(n *html.Node, match func(*html.Node) bool, attr string) string {
	if found := findNode(n, match); found != nil {
		return getAttr(found, attr)
	}
	return ""
}

// findAll walks the tree in document order. visit returns false to skip a
// node's children.
func findAll(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		findAll(c, visit)
	}
}

func extractTextContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "br" {
				buf.WriteByte(' ')
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}
