package linkgraph

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// parsedEntry is one validated <a href> extracted from an index page, prior
// to being turned into a Link.
type parsedEntry struct {
	name  string // URL-unescaped, trailing slash stripped
	href  string // raw href, as written in the document
	isDir bool
}

// parseIndex walks the HTML DOM looking for <a href=...> elements, the same
// approach as _examples/rclone-rclone/backend/http/http.go's parse/parseName:
// href is authoritative over anchor text, and every candidate is run through
// isValidLinkName before being kept.
func parseIndex(r io.Reader) ([]parsedEntry, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var entries []parsedEntry
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if e, ok := toEntry(attr.Val); ok {
					entries = append(entries, e)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return entries, nil
}

// toEntry validates href per spec.md §4.2's link-name validity rule and, if
// valid, returns the decoded entry.
func toEntry(href string) (parsedEntry, bool) {
	if !isValidLinkName(href) {
		return parsedEntry{}, false
	}

	isDir := strings.HasSuffix(href, "/")
	name, err := url.QueryUnescape(trimTrailingSlash(href))
	if err != nil {
		return parsedEntry{}, false
	}
	if name == "" {
		return parsedEntry{}, false
	}
	return parsedEntry{name: name, href: href, isDir: isDir}, true
}

// isValidLinkName implements spec.md §4.2's validity rule, preserving the
// undocumented '%'-prefix allowance per DESIGN.md's Open Question decision
// #2: must begin with an alphanumeric or '%', must not be an absolute URL,
// must not contain an interior '/'.
func isValidLinkName(href string) bool {
	if href == "" {
		return false
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return false
	}
	if strings.Contains(href, "?") {
		return false
	}
	c := href[0]
	if !isAlphaNumeric(c) && c != '%' {
		return false
	}
	body := trimTrailingSlash(href)
	if strings.Contains(body, "/") {
		return false
	}
	return true
}

func isAlphaNumeric(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	default:
		return false
	}
}
