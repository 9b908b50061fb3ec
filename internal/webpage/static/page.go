// Package static implements webpage.Page over a fetched HTML document. CSS
// lookups go through goquery and XPath lookups through htmlquery, both reading
// one shared parse tree.
package static

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
)

// Page is a parsed, read-only document.
type Page struct {
	url    *url.URL
	status int
	body   string
	root   *html.Node
	doc    *goquery.Document

	mu     sync.Mutex
	closed bool
}

var _ webpage.Page = (*Page)(nil)

// New parses body as the document served at u with the given HTTP status.
func New(u *url.URL, status int, body []byte) (*Page, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{
		url:    u,
		status: status,
		body:   string(body),
		root:   root,
		doc:    goquery.NewDocumentFromNode(root),
	}, nil
}

// Status returns the HTTP status the document was served with.
func (p *Page) Status() int { return p.status }

// IsActive reports whether Close has not been called.
func (p *Page) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// NavigateTo is unsupported; fetch a new document instead.
func (p *Page) NavigateTo(context.Context, *url.URL, time.Duration) (int, error) {
	return 0, webpage.ErrUnsupported
}

// Close marks the page inactive.
func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// AuthenticateHTTP is unsupported.
func (p *Page) AuthenticateHTTP(context.Context, string, string) (bool, error) {
	return false, webpage.ErrUnsupported
}

// SetUserAgent is unsupported.
func (p *Page) SetUserAgent(context.Context, string) error {
	return webpage.ErrUnsupported
}

// CurrentURL returns the document URL.
func (p *Page) CurrentURL() *url.URL { return p.url }

// Title returns the trimmed <title> text.
func (p *Page) Title(context.Context) (string, error) {
	return strings.TrimSpace(p.doc.Find("title").First().Text()), nil
}

// HTML returns the source as fetched.
func (p *Page) HTML(context.Context) (string, error) {
	return p.body, nil
}

// Links returns one entry per anchor, in document order, matching what a
// browser reports for a.href: the href resolved against the document URL,
// or "" when the anchor has no href. An href that does not parse is
// returned trimmed but unresolved.
func (p *Page) Links(context.Context) ([]string, error) {
	var links []string
	p.doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			links = append(links, "")
			return
		}
		href = strings.TrimSpace(href)
		ref, err := url.Parse(href)
		if err != nil {
			links = append(links, href)
			return
		}
		if p.url != nil {
			ref = p.url.ResolveReference(ref)
		}
		links = append(links, ref.String())
	})
	return links, nil
}

// Texts returns the trimmed text of every element in document order.
func (p *Page) Texts(context.Context) ([]string, error) {
	var texts []string
	p.doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		texts = append(texts, strings.TrimSpace(s.Text()))
	})
	return texts, nil
}

// DateElement reads the first <time> element.
func (p *Page) DateElement(context.Context) (webpage.Date, error) {
	sel := p.doc.Find("time").First()
	if sel.Length() == 0 {
		return webpage.Date{}, nil
	}
	date := webpage.Date{Content: strings.TrimSpace(sel.Text())}
	if raw, ok := sel.Attr("datetime"); ok {
		if ts, ok := webpage.ParseDatetime(raw); ok {
			date.Datetime = &ts
		}
	}
	return date, nil
}

// FindElementCSS returns the value of the first match.
func (p *Page) FindElementCSS(_ context.Context, selector string) (string, bool, error) {
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false, nil
	}
	return selectionValue(sel), true, nil
}

// FindAllElementsCSS returns the non-empty values of every match.
func (p *Page) FindAllElementsCSS(_ context.Context, selector string) ([]string, error) {
	var out []string
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if v := selectionValue(s); v != "" {
			out = append(out, v)
		}
	})
	return out, nil
}

// FindElementXPath returns the value of the first node matching expr.
func (p *Page) FindElementXPath(_ context.Context, expr string) (string, bool, error) {
	node, err := htmlquery.Query(p.root, expr)
	if err != nil {
		return "", false, fmt.Errorf("xpath %q: %w", expr, err)
	}
	if node == nil {
		return "", false, nil
	}
	for _, attr := range node.Attr {
		if attr.Key == "content" {
			return strings.TrimSpace(attr.Val), true, nil
		}
	}
	return strings.TrimSpace(htmlquery.InnerText(node)), true, nil
}

// WaitForSelectorCSS succeeds immediately when the selector matches.
func (p *Page) WaitForSelectorCSS(_ context.Context, selector string, _ time.Duration) error {
	if p.doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %s", webpage.ErrElementNotFound, selector)
	}
	return nil
}

// WaitForSelectorXPath succeeds immediately when the expression matches.
func (p *Page) WaitForSelectorXPath(_ context.Context, expr string, _ time.Duration) error {
	node, err := htmlquery.Query(p.root, expr)
	if err != nil {
		return fmt.Errorf("xpath %q: %w", expr, err)
	}
	if node == nil {
		return fmt.Errorf("%w: %s", webpage.ErrElementNotFound, expr)
	}
	return nil
}

// Click is unsupported on a static document.
func (p *Page) Click(context.Context, string) error {
	return webpage.ErrUnsupported
}

func selectionValue(s *goquery.Selection) string {
	if content, ok := s.Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(s.Text())
}
