package headless

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
	"github.com/JakeFAU/webcrawl-engine/internal/webpage/script"
)

// Page is one Chrome tab.
type Page struct {
	tabCtx     context.Context
	cancel     context.CancelFunc
	release    func()
	navTimeout time.Duration
	meta       *responseMeta

	mu      sync.Mutex
	closed  bool
	current *url.URL
	creds   *credentials
}

type credentials struct {
	username string
	password string
}

var _ webpage.Page = (*Page)(nil)

func newPage(tabCtx context.Context, cancel context.CancelFunc, release func(), navTimeout time.Duration) *Page {
	return &Page{
		tabCtx:     tabCtx,
		cancel:     cancel,
		release:    release,
		navTimeout: navTimeout,
		meta:       newResponseMeta(),
	}
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if !p.IsActive() {
		return errors.New("page is closed")
	}
	if timeout <= 0 {
		timeout = p.navTimeout
	}
	runCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chromedp run: %w", ctxErr)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (p *Page) eval(ctx context.Context, fn string, out any) error {
	return p.run(ctx, 0, chromedp.Evaluate(script.Call(fn), out))
}

func (p *Page) handleEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		p.meta.capture(e)
	case *fetch.EventAuthRequired:
		p.mu.Lock()
		creds := p.creds
		p.mu.Unlock()
		resp := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseCancelAuth}
		if creds != nil {
			resp = &fetch.AuthChallengeResponse{
				Response: fetch.AuthChallengeResponseResponseProvideCredentials,
				Username: creds.username,
				Password: creds.password,
			}
		}
		go p.execute(fetch.ContinueWithAuth(e.RequestID, resp))
	case *fetch.EventRequestPaused:
		go p.execute(fetch.ContinueRequest(e.RequestID))
	}
}

// execute runs a CDP command from inside an event listener.
func (p *Page) execute(action chromedp.Action) {
	c := chromedp.FromContext(p.tabCtx)
	if c == nil || c.Target == nil {
		return
	}
	_ = action.Do(cdp.WithExecutor(p.tabCtx, c.Target)) //nolint:errcheck // tab may already be gone
}

// IsActive reports whether the tab is open.
func (p *Page) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// NavigateTo loads u and returns the document response status.
func (p *Page) NavigateTo(ctx context.Context, u *url.URL, timeout time.Duration) (int, error) {
	p.meta.reset()
	var finalURL string
	if err := p.run(ctx, timeout, chromedp.Navigate(u.String()), chromedp.Location(&finalURL)); err != nil {
		return 0, err
	}
	status, _, responseURL := p.meta.snapshotWithFallbacks(u.String(), finalURL)
	p.setCurrent(responseURL, u)
	return status, nil
}

func (p *Page) setCurrent(raw string, fallback *url.URL) {
	current := fallback
	if parsed, err := url.Parse(raw); err == nil && parsed.Host != "" {
		current = parsed
	}
	p.mu.Lock()
	p.current = current
	p.mu.Unlock()
}

// Close closes the tab and frees its slot.
func (p *Page) Close(context.Context) error {
	p.close()
	return nil
}

func (p *Page) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.release()
}

// AuthenticateHTTP answers basic/digest challenges with the given credentials
// for every later navigation.
func (p *Page) AuthenticateHTTP(ctx context.Context, username, password string) (bool, error) {
	p.mu.Lock()
	p.creds = &credentials{username: username, password: password}
	p.mu.Unlock()
	if err := p.run(ctx, 0, fetch.Enable().WithHandleAuthRequests(true)); err != nil {
		return false, err
	}
	return true, nil
}

// SetUserAgent overrides the tab's user agent.
func (p *Page) SetUserAgent(ctx context.Context, userAgent string) error {
	return p.run(ctx, 0, setUserAgent(userAgent))
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
	err := p.run(ctx, 0, chromedp.Title(&title))
	return title, err
}

// HTML returns the rendered outer HTML.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
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

// WaitForSelectorCSS waits until selector is present in the DOM.
func (p *Page) WaitForSelectorCSS(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
}

// WaitForSelectorXPath waits until expr matches a node.
func (p *Page) WaitForSelectorXPath(ctx context.Context, expr string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitReady(expr, chromedp.BySearch))
}

// Click clicks the first visible element matching selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	var location string
	if err := p.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible), chromedp.Location(&location)); err != nil {
		return err
	}
	p.mu.Lock()
	fallback := p.current
	p.mu.Unlock()
	p.setCurrent(location, fallback)
	return nil
}
