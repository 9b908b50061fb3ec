// Package webpagetest provides webpage.Page and webpage.Browser doubles for
// tests: document-serving fakes and testify mocks.
package webpagetest

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
)

// ErrNoSuchElement is returned by Click and the waits when the selector is unknown.
var ErrNoSuchElement = errors.New("no such element")

// Document is the canned content a FakePage serves for one URL.
type Document struct {
	Status   int
	Title    string
	HTML     string
	Links    []string
	Texts    []string
	Date     webpage.Date
	CSS      map[string]string
	CSSAll   map[string][]string
	XPath    map[string]string
	Clickers map[string]func(*FakePage)
}

// FakePage serves Documents keyed by URL string.
type FakePage struct {
	mu        sync.Mutex
	Documents map[string]*Document
	NavErr    error
	Auth      bool

	current *url.URL
	doc     *Document
	closed  bool
}

var _ webpage.Page = (*FakePage)(nil)

// NewFakePage returns a page serving docs.
func NewFakePage(docs map[string]*Document) *FakePage {
	if docs == nil {
		docs = map[string]*Document{}
	}
	return &FakePage{Documents: docs}
}

// Load points the page at u without navigating.
func (p *FakePage) Load(u *url.URL) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = u
	p.doc = p.Documents[u.String()]
}

func (p *FakePage) document() *Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return &Document{}
	}
	return p.doc
}

// IsActive implements webpage.Page.
func (p *FakePage) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// NavigateTo implements webpage.Page. Unknown URLs answer 404.
func (p *FakePage) NavigateTo(_ context.Context, u *url.URL, _ time.Duration) (int, error) {
	if p.NavErr != nil {
		return 0, p.NavErr
	}
	p.Load(u)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return 404, nil
	}
	if p.doc.Status == 0 {
		return 200, nil
	}
	return p.doc.Status, nil
}

// Close implements webpage.Page.
func (p *FakePage) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// AuthenticateHTTP implements webpage.Page.
func (p *FakePage) AuthenticateHTTP(context.Context, string, string) (bool, error) {
	return p.Auth, nil
}

// SetUserAgent implements webpage.Page.
func (p *FakePage) SetUserAgent(context.Context, string) error {
	return nil
}

// CurrentURL implements webpage.Page.
func (p *FakePage) CurrentURL() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Title implements webpage.Page.
func (p *FakePage) Title(context.Context) (string, error) {
	return p.document().Title, nil
}

// HTML implements webpage.Page.
func (p *FakePage) HTML(context.Context) (string, error) {
	return p.document().HTML, nil
}

// Links implements webpage.Page.
func (p *FakePage) Links(context.Context) ([]string, error) {
	return p.document().Links, nil
}

// Texts implements webpage.Page.
func (p *FakePage) Texts(context.Context) ([]string, error) {
	return p.document().Texts, nil
}

// DateElement implements webpage.Page.
func (p *FakePage) DateElement(context.Context) (webpage.Date, error) {
	return p.document().Date, nil
}

// FindElementCSS implements webpage.Page.
func (p *FakePage) FindElementCSS(_ context.Context, selector string) (string, bool, error) {
	text, ok := p.document().CSS[selector]
	return text, ok, nil
}

// FindAllElementsCSS implements webpage.Page.
func (p *FakePage) FindAllElementsCSS(_ context.Context, selector string) ([]string, error) {
	return p.document().CSSAll[selector], nil
}

// FindElementXPath implements webpage.Page.
func (p *FakePage) FindElementXPath(_ context.Context, selector string) (string, bool, error) {
	text, ok := p.document().XPath[selector]
	return text, ok, nil
}

// WaitForSelectorCSS implements webpage.Page.
func (p *FakePage) WaitForSelectorCSS(_ context.Context, selector string, _ time.Duration) error {
	if _, ok := p.document().CSS[selector]; !ok {
		return ErrNoSuchElement
	}
	return nil
}

// WaitForSelectorXPath implements webpage.Page.
func (p *FakePage) WaitForSelectorXPath(_ context.Context, selector string, _ time.Duration) error {
	if _, ok := p.document().XPath[selector]; !ok {
		return ErrNoSuchElement
	}
	return nil
}

// Click implements webpage.Page. A registered clicker may mutate the page.
func (p *FakePage) Click(_ context.Context, selector string) error {
	click, ok := p.document().Clickers[selector]
	if !ok {
		return ErrNoSuchElement
	}
	click(p)
	return nil
}

// FakeBrowser hands out FakePages sharing one document set.
type FakeBrowser struct {
	mu        sync.Mutex
	Documents map[string]*Document
	InitErr   error
	PageErr   error
	active    bool
	pages     []*FakePage
}

var _ webpage.Browser = (*FakeBrowser)(nil)

// NewFakeBrowser returns a browser serving docs.
func NewFakeBrowser(docs map[string]*Document) *FakeBrowser {
	return &FakeBrowser{Documents: docs}
}

// Init implements webpage.Browser.
func (b *FakeBrowser) Init(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.InitErr != nil {
		return b.InitErr
	}
	b.active = true
	return nil
}

// NewPage implements webpage.Browser.
func (b *FakeBrowser) NewPage(context.Context) (webpage.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return nil, errors.New("browser not initialized")
	}
	if b.PageErr != nil {
		return nil, b.PageErr
	}
	page := NewFakePage(b.Documents)
	b.pages = append(b.pages, page)
	return page, nil
}

// Close implements webpage.Browser.
func (b *FakeBrowser) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	return nil
}

// IsActive implements webpage.Browser.
func (b *FakeBrowser) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Pages returns every page handed out so far.
func (b *FakeBrowser) Pages() []*FakePage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*FakePage(nil), b.pages...)
}
