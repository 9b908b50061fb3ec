// Package robots parses robots.txt files for one site.
package robots

import (
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
)

// DefaultAgent is the group consulted when no user agent is configured.
const DefaultAgent = "*"

// Rules answers robots.txt questions for a single home link.
type Rules struct {
	home  *url.URL
	data  *robotstxt.RobotsData
	group *robotstxt.Group
	err   error
}

// Option configures Parse.
type Option func(*options)

type options struct {
	agent string
}

// WithUserAgent selects the robots group for agent instead of "*".
func WithUserAgent(agent string) Option {
	return func(o *options) {
		if agent != "" {
			o.agent = agent
		}
	}
}

// Parse builds Rules for homeLink from robots.txt text. Unparseable input
// yields permissive rules; Err reports what went wrong.
func Parse(homeLink, text string, opts ...Option) *Rules {
	o := options{agent: DefaultAgent}
	for _, opt := range opts {
		opt(&o)
	}
	rules := &Rules{}
	if home, err := url.Parse(homeLink); err == nil {
		rules.home = home
	}
	data, err := robotstxt.FromString(text)
	if err != nil {
		rules.err = err
		data, _ = robotstxt.FromStatusAndString(404, "") //nolint:errcheck // 4xx never fails
	}
	rules.data = data
	rules.group = data.FindGroup(o.agent)
	return rules
}

// Err returns the parse error, if any.
func (r *Rules) Err() error { return r.err }

// IsAllowed reports whether u may be visited. URLs outside the home link's
// origin are not governed by these rules and report true.
func (r *Rules) IsAllowed(u *url.URL) bool {
	if r == nil || u == nil || r.group == nil {
		return true
	}
	if r.home != nil && (!strings.EqualFold(u.Host, r.home.Host) || u.Scheme != r.home.Scheme) {
		return true
	}
	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return r.group.Test(target)
}

// CrawlDelay returns the Crawl-delay for the matched group, if one was set.
func (r *Rules) CrawlDelay() (time.Duration, bool) {
	if r == nil || r.group == nil || r.group.CrawlDelay <= 0 {
		return 0, false
	}
	return r.group.CrawlDelay, true
}

// Sitemaps returns every Sitemap directive in file order.
func (r *Rules) Sitemaps() []string {
	if r == nil || r.data == nil {
		return nil
	}
	return append([]string(nil), r.data.Sitemaps...)
}

// URL returns the robots.txt location for homeLink.
func URL(home *url.URL) *url.URL {
	return home.ResolveReference(&url.URL{Path: "/robots.txt"})
}
