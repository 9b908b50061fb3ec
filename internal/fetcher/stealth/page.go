package stealth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
	"github.com/JakeFAU/webcrawl-engine/internal/webpage/script"
)

// Page is one rod tab.
type Page struct {
	page       *rod.Page
	browser    *rod.Browser
	navTimeout time.Duration

	mu      sync.Mutex
	closed  bool
	current *url.URL
}

var _ webpage.Page = (*Page)(nil)

func newPage(page *rod.Page, browser *rod.Browser, navTimeout time.Duration) *Page {
	return &Page{page: page, browser: browser, navTimeout: navTimeout}
}

// bound returns the tab scoped to ctx and timeout.
func (p *Page) bound(ctx context.Context, timeout time.Duration) (*rod.Page, context.CancelFunc, error) {
	if !p.IsActive() {
		return nil, nil, errors.New("page is closed")
	}
	if timeout <= 0 {
		timeout = p.navTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	return p.page.Context(runCtx), cancel, nil
}

func (p *Page) eval(ctx context.Context, fn string, out any) error {
	page, cancel, err := p.bound(ctx, 0)
	if err != nil {
		return err
	}
	defer cancel()
	res, err := page.Eval(fn)
	if err != nil {
		return fmt.Errorf("rod eval: %w", err)
	}
	if err := res.Value.Unmarshal(out); err != nil {
		return fmt.Errorf("decode eval result: %w", err)
	}
	return nil
}

// IsActive reports whether the tab is open.
func (p *Page) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// NavigateTo loads u and returns the document response status.
func (p *Page) NavigateTo(ctx context.Context, u *url.URL, timeout time.Duration) (int, error) {
	page, cancel, err := p.bound(ctx, timeout)
	if err != nil {
		return 0, err
	}
	defer cancel()

	status := 0
	wait := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return false
		}
		status = e.Response.Status
		return true
	})
	if err := page.Navigate(u.String()); err != nil {
		return 0, fmt.Errorf("rod navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return 0, fmt.Errorf("rod wait load: %w", err)
	}
	wait()
	if status == 0 {
		return 0, fmt.Errorf("no document response for %s: %w", u, context.DeadlineExceeded)
	}
	p.refreshCurrent(page, u)
	return status, nil
}

func (p *Page) refreshCurrent(page *rod.Page, fallback *url.URL) {
	current := fallback
	if info, err := page.Info(); err == nil {
		if parsed, err := url.Parse(info.URL); err == nil && parsed.Host != "" {
			current = parsed
		}
	}
	p.mu.Lock()
	p.current = current
	p.mu.Unlock()
}

// Close closes the tab.
func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	if err := p.page.Close(); err != nil {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

// AuthenticateHTTP answers the next basic auth challenge. rod scopes auth
// handling to the browser, so concurrent tabs share it.
func (p *Page) AuthenticateHTTP(_ context.Context, username, password string) (bool, error) {
	if !p.IsActive() {
		return false, errors.New("page is closed")
	}
	wait := p.browser.HandleAuth(username, password)
	go func() { _ = wait() }() //nolint:errcheck // resolved by the next navigation
	return true, nil
}

// SetUserAgent overrides the tab's user agent.
func (p *Page) SetUserAgent(ctx context.Context, userAgent string) error {
	page, cancel, err := p.bound(ctx, 0)
	if err != nil {
		return err
	}
	defer cancel()
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		return fmt.Errorf("set user-agent: %w", err)
	}
	return nil
}

// CurrentURL returns the URL of the last navigation.
func (p *Page) CurrentURL() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Title returns document.title.
func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	err := p.eval(ctx, `() => document.title`, &title)
	return title, err
}

// HTML returns the rendered outer HTML.
func (p *Page) HTML(ctx context.Context) (string, error) {
	page, cancel, err := p.bound(ctx, 0)
	if err != nil {
		return "", err
	}
	defer cancel()
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("rod html: %w", err)
	}
	return html, nil
}

// Links returns every anchor's resolved href.
func (p *Page) Links(ctx context.Context) ([]string, error) {
	var links []string
	err := p.eval(ctx, script.Links, &links)
	return links, err
}

// Texts returns the trimmed text of every element.
func (p *Page) Texts(ctx context.Context) ([]string, error) {
	var texts []string
	err := p.eval(ctx, script.Texts, &texts)
	return texts, err
}

// DateElement reads the first <time> element.
func (p *Page) DateElement(ctx context.Context) (webpage.Date, error) {
	var date script.Date
	if err := p.eval(ctx, script.DateElement, &date); err != nil {
		return webpage.Date{}, err
	}
	return date.ToDate(), nil
}

// FindElementCSS returns the value of the first match.
func (p *Page) FindElementCSS(ctx context.Context, selector string) (string, bool, error) {
	var el script.Element
	if err := p.eval(ctx, script.FindCSS(selector), &el); err != nil {
		return "", false, err
	}
	return el.Text, el.Found, nil
}

// FindAllElementsCSS returns the non-empty values of every match.
func (p *Page) FindAllElementsCSS(ctx context.Context, selector string) ([]string, error) {
	var out []string
	err := p.eval(ctx, script.FindAllCSS(selector), &out)
	return out, err
}

// FindElementXPath returns the value of the first node matching expr.
func (p *Page) FindElementXPath(ctx context.Context, expr string) (string, bool, error) {
	var el script.Element
	if err := p.eval(ctx, script.FindXPath(expr), &el); err != nil {
		return "", false, err
	}
	return el.Text, el.Found, nil
}

// WaitForSelectorCSS waits until selector matches.
func (p *Page) WaitForSelectorCSS(ctx context.Context, selector string, timeout time.Duration) error {
	page, cancel, err := p.bound(ctx, timeout)
	if err != nil {
		return err
	}
	defer cancel()
	if _, err := page.Element(selector); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// WaitForSelectorXPath waits until expr matches.
func (p *Page) WaitForSelectorXPath(ctx context.Context, expr string, timeout time.Duration) error {
	page, cancel, err := p.bound(ctx, timeout)
	if err != nil {
		return err
	}
	defer cancel()
	if _, err := page.ElementX(expr); err != nil {
		return fmt.Errorf("wait for %q: %w", expr, err)
	}
	return nil
}

// Click clicks the first element matching selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	page, cancel, err := p.bound(ctx, 0)
	if err != nil {
		return err
	}
	defer cancel()
	el, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("find %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	p.mu.Lock()
	fallback := p.current
	p.mu.Unlock()
	p.refreshCurrent(page, fallback)
	return nil
}
