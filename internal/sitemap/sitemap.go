// Package sitemap parses XML sitemaps and sitemap indexes.
package sitemap

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// ErrorKind classifies sitemap parse failures.
type ErrorKind string

// Parse failure kinds.
const (
	InvalidFormat ErrorKind = "the sitemap does not conform to expected XML format"
	Empty         ErrorKind = "the sitemap is empty or lacks required elements"
	Unknown       ErrorKind = "an unknown error occurred during sitemap parsing"
)

// ParseError reports why a document is not a usable sitemap.
type ParseError struct {
	Kind  ErrorKind
	Cause error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Link is one <loc> entry with its optional <lastmod>.
type Link struct {
	Link         string `json:"link"`
	LastModified string `json:"lastModified,omitempty"`
}

// Document is a parsed sitemap. Exactly one of the slices is non-nil:
// NestedSitemapLinks for a <sitemapindex>, PageLinks for a <urlset>.
type Document struct {
	NestedSitemapLinks []Link
	PageLinks          []Link
}

// IsIndex reports whether the document is a sitemap index.
func (d Document) IsIndex() bool { return d.NestedSitemapLinks != nil }

// Parse reads a sitemap index or urlset. Tag names match case-insensitively.
func Parse(raw []byte) (Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Document{}, &ParseError{Kind: Empty}
	}
	doc, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return Document{}, &ParseError{Kind: InvalidFormat, Cause: err}
	}
	root := firstElement(doc)
	if root == nil {
		return Document{}, &ParseError{Kind: Empty}
	}
	switch strings.ToLower(root.Data) {
	case "sitemapindex":
		links := collect(root, "sitemap")
		if len(links) == 0 {
			return Document{}, &ParseError{Kind: Empty}
		}
		return Document{NestedSitemapLinks: links}, nil
	case "urlset":
		links := collect(root, "url")
		if len(links) == 0 {
			return Document{}, &ParseError{Kind: Empty}
		}
		return Document{PageLinks: links}, nil
	default:
		return Document{}, &ParseError{
			Kind:  InvalidFormat,
			Cause: fmt.Errorf("unexpected root element <%s>", root.Data),
		}
	}
}

func collect(root *xmlquery.Node, entryTag string) []Link {
	var links []Link
	for entry := root.FirstChild; entry != nil; entry = entry.NextSibling {
		if entry.Type != xmlquery.ElementNode || !strings.EqualFold(entry.Data, entryTag) {
			continue
		}
		var link Link
		for field := entry.FirstChild; field != nil; field = field.NextSibling {
			if field.Type != xmlquery.ElementNode {
				continue
			}
			switch strings.ToLower(field.Data) {
			case "loc":
				link.Link = strings.TrimSpace(field.InnerText())
			case "lastmod":
				link.LastModified = strings.TrimSpace(field.InnerText())
			}
		}
		if link.Link != "" {
			links = append(links, link)
		}
	}
	return links
}

func firstElement(doc *xmlquery.Node) *xmlquery.Node {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}

// Links returns the Link field of each entry.
func Links(entries []Link) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Link)
	}
	return out
}
