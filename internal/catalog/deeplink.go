package catalog

import (
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
)

// DeepLinkFormat is the item page template of the public library catalog.
// Only the doc number varies.
const DeepLinkFormat = "http://www.bibliotecaspublicas.gob.cl/F?func=item-global&doc_library=BPU01&doc_number=%09d&sub_library=BPUBL"

const docNumberParam = "doc_number"

// DocNumberFromHref extracts the doc_number query parameter from a catalog
// link and returns it zero-padded to 9 digits. Relative and entity-escaped
// hrefs are accepted. Returns "" when the parameter is missing or not numeric.
func DocNumberFromHref(href string) string {
	href = strings.TrimSpace(html.UnescapeString(href))
	if href == "" {
		return ""
	}

	raw := ""
	if u, err := url.Parse(href); err == nil {
		raw = u.Query().Get(docNumberParam)
	} else if i := strings.Index(href, docNumberParam+"="); i >= 0 {
		// Unparseable href: scan for the parameter directly.
		raw = href[i+len(docNumberParam)+1:]
		if j := strings.IndexAny(raw, "&#"); j >= 0 {
			raw = raw[:j]
		}
	}

	return padDocNumber(strings.TrimSpace(raw))
}

// DeepLink builds the catalog item URL for a doc number. Returns "" when the
// doc number is empty or not numeric.
func DeepLink(docNumber string) string {
	n, ok := parseDocNumber(docNumber)
	if !ok {
		return ""
	}
	return fmt.Sprintf(DeepLinkFormat, n)
}

func padDocNumber(raw string) string {
	n, ok := parseDocNumber(raw)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%09d", n)
}

func parseDocNumber(raw string) (uint64, bool) {
	if raw == "" {
		return 0, false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
