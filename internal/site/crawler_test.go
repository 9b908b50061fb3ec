package site

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webcrawl-engine/internal/clock/manual"
	"github.com/JakeFAU/webcrawl-engine/internal/crawl"
	collyfetcher "github.com/JakeFAU/webcrawl-engine/internal/fetcher/colly"
	"github.com/JakeFAU/webcrawl-engine/internal/routine"
	"github.com/JakeFAU/webcrawl-engine/internal/scraper"
	"github.com/JakeFAU/webcrawl-engine/internal/scraper/scrapertest"
	"github.com/JakeFAU/webcrawl-engine/internal/sitemap"
)

const home = "https://s.example/"

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func quietSettings() scraper.Settings {
	s := scraper.DefaultSettings()
	s.MinInterval = 0
	s.IntervalNoiseMax = 0
	s.ActionNoiseMax = 0
	return s
}

func newCrawler(t *testing.T, cfg Config, ignore []string, fetcher scraper.Fetcher, clk *manual.Clock) *Crawler {
	t.Helper()
	c, err := NewCrawler(cfg, ignore, Deps{
		Fetcher:  fetcher,
		Clock:    clk,
		Rand:     func(int64) int64 { return 0 },
		Settings: quietSettings(),
	})
	require.NoError(t, err)
	return c
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func links(results []ScrapeResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.PageLink)
	}
	return out
}

func sitemapResponse(t *testing.T, link, body string) collyfetcher.SitemapResponse {
	t.Helper()
	doc, err := sitemap.Parse([]byte(body))
	require.NoError(t, err)
	return collyfetcher.SitemapResponse{Response: scrapertest.OK(link, body), Document: doc}
}

func durationPtr(d time.Duration) *time.Duration { return &d }

func headlineRoutine() routine.Routine {
	return routine.Routine{{Data: []routine.DataInstruction{{
		Label: "headline", Category: routine.CategoryTitle, Type: routine.DataElement,
		Element: &routine.Selector{Type: routine.SelectorCSS, Text: "h1"},
	}}}}
}

func TestNewCrawlerValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewCrawler(Config{HomeLink: "not a url"}, nil, Deps{Fetcher: scrapertest.New()})
	require.Error(t, err)
	_, err = NewCrawler(DefaultConfig(home), nil, Deps{})
	require.Error(t, err)
	_, err = NewCrawler(Config{HomeLink: home, Paths: []Path{{Label: "x", Pattern: "("}}}, nil, Deps{Fetcher: scrapertest.New()})
	require.Error(t, err)
}

func TestURLIsOK(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig(home)
	cfg.Rules.RobotsText = "User-agent: *\nDisallow: /private\n"
	c := newCrawler(t, cfg, []string{"/seen"}, scrapertest.New(), manual.New(epoch))

	require.True(t, c.URLIsOK(mustURL(t, "https://s.example/news")))
	require.False(t, c.URLIsOK(mustURL(t, "https://other.example/news")))
	require.False(t, c.URLIsOK(mustURL(t, "https://s.example/private/page")))
	require.False(t, c.URLIsOK(mustURL(t, "https://s.example/seen")))
}

func TestURLIsOKWithoutRobotsAllows(t *testing.T) {
	t.Parallel()

	c := newCrawler(t, DefaultConfig(home), nil, scrapertest.New(), manual.New(epoch))
	require.True(t, c.URLIsOK(mustURL(t, "https://s.example/private")))
}

func TestCrawlSiteURLsRobotsDisallow(t *testing.T) {
	t.Parallel()

	fetcher := new(scrapertest.MockFetcher)
	fetcher.On("FetchPage", mock.Anything, scrapertest.RequestFor("https://s.example/a")).
		Return(scrapertest.OK("https://s.example/a", `<html><body><a href="/private/x">x</a><a href="/b">b</a></body></html>`), nil).Once()
	fetcher.On("FetchPage", mock.Anything, scrapertest.RequestFor("https://s.example/b")).
		Return(scrapertest.OK("https://s.example/b", `<html><body>b</body></html>`), nil).Once()
	cfg := DefaultConfig(home)
	cfg.Rules.RobotsText = "User-agent: *\nDisallow: /private\n"
	c := newCrawler(t, cfg, nil, fetcher, manual.New(epoch))

	params := crawl.DefaultParams()
	params.MaxVisits = 10
	res := c.CrawlSiteURLs(context.Background(),
		[]*url.URL{mustURL(t, "https://s.example/private"), mustURL(t, "https://s.example/a")}, params, nil)

	require.True(t, res.Completed)
	require.Empty(t, res.Errors)
	require.Equal(t, []string{"https://s.example/a", "https://s.example/b"}, links(res.PageResults))
	require.Equal(t, []string{"https://s.example/private", "https://s.example/private/x"}, res.SkippedLinks)
	fetcher.AssertExpectations(t)
	fetcher.AssertNotCalled(t, "FetchPage", mock.Anything, scrapertest.RequestFor("https://s.example/private"))
	fetcher.AssertNotCalled(t, "FetchRobots", mock.Anything, mock.Anything, mock.Anything)
	require.Equal(t, "s.example", res.SiteHostname)
	require.NotNil(t, res.SiteMetadata)
	require.Contains(t, res.SiteMetadata.RobotsText, "Disallow: /private")
}

func TestCrawlSiteURLsUsesPathRoutines(t *testing.T) {
	t.Parallel()

	fetcher := scrapertest.New()
	fetcher.Pages["https://s.example/"] = `<html><body><a href="/news/1">one</a><a href="/about">about</a></body></html>`
	fetcher.Pages["https://s.example/news/1"] = `<html><body><h1>Story</h1></body></html>`
	fetcher.Pages["https://s.example/about"] = `<html><body>about</body></html>`
	cfg := DefaultConfig(home)
	cfg.Paths = []Path{{Label: "article", Pattern: `^/news/`, Routine: headlineRoutine()}}
	c := newCrawler(t, cfg, nil, fetcher, manual.New(epoch))

	params := crawl.DefaultParams()
	params.MaxVisits = 10
	res := c.CrawlSiteURLs(context.Background(), []*url.URL{mustURL(t, home)}, params, nil)
	require.Equal(t, []string{"https://s.example/", "https://s.example/news/1", "https://s.example/about"}, links(res.PageResults))
	require.Equal(t, "", res.PageResults[0].PathLabel)
	require.Equal(t, "article", res.PageResults[1].PathLabel)
	require.Equal(t, []string{"Story"}, res.PageResults[1].ValuesIn(routine.CategoryTitle))

	params.RequireRoutines = true
	strict := newCrawler(t, cfg, nil, fetcher, manual.New(epoch))
	res = strict.CrawlSiteURLs(context.Background(),
		[]*url.URL{mustURL(t, home), mustURL(t, "https://s.example/news/1")}, params, nil)
	require.Equal(t, []string{"https://s.example/news/1"}, links(res.PageResults))
	require.Equal(t, []string{"https://s.example/"}, res.SkippedLinks)
}

func TestCrawlSiteURLsSerializesErrors(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig(home)
	cfg.Paths = []Path{{Label: "article", Pattern: `^/news/`, Routine: headlineRoutine()}}
	c := newCrawler(t, cfg, nil, scrapertest.New(), manual.New(epoch))

	params := crawl.DefaultParams()
	params.ErrorLimit = 1
	res := c.CrawlSiteURLs(context.Background(), []*url.URL{mustURL(t, "https://s.example/news/404")}, params, nil)
	require.False(t, res.Completed)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "https://s.example/news/404", res.Errors[0].Link)
	require.Equal(t, "article", res.Errors[0].PathLabel)
	require.Contains(t, res.Errors[0].ErrorMsg, "status 404")
	require.Empty(t, res.PageResults)
}

func TestCrawlDelay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		robots     string
		configured *time.Duration
		want       time.Duration
	}{
		{"robots larger", "User-agent: *\nCrawl-delay: 10\n", durationPtr(2 * time.Second), 10 * time.Second},
		{"rules larger", "User-agent: *\nCrawl-delay: 1\n", durationPtr(3 * time.Second), 3 * time.Second},
		{"robots only", "User-agent: *\nCrawl-delay: 4\n", nil, 4 * time.Second},
		{"rules only", "User-agent: *\nDisallow:\n", durationPtr(7 * time.Second), 7 * time.Second},
		{"neither", "User-agent: *\nDisallow:\n", nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig(home)
			cfg.Rules.RobotsText = tc.robots
			cfg.Rules.MinInterval = tc.configured
			c := newCrawler(t, cfg, nil, scrapertest.New(), manual.New(epoch))
			require.Equal(t, tc.want, c.CrawlDelay(context.Background()))
		})
	}
}

func TestRobotsRulesFetchedLazily(t *testing.T) {
	t.Parallel()

	fetcher := new(scrapertest.MockFetcher)
	fetcher.On("FetchRobots", mock.Anything, scrapertest.URLFor(home), mock.Anything).
		Return(scrapertest.OK("https://s.example/robots.txt",
			"User-agent: *\nDisallow: /private\nSitemap: https://s.example/sitemap.xml\n"), nil).Once()
	c := newCrawler(t, DefaultConfig(home), []string{"/old.xml"}, fetcher, manual.New(epoch))

	require.True(t, c.URLIsOK(mustURL(t, "https://s.example/private")))
	rules, err := c.RobotsRules(context.Background())
	require.NoError(t, err)
	require.False(t, rules.IsAllowed(mustURL(t, "https://s.example/private")))
	require.False(t, c.URLIsOK(mustURL(t, "https://s.example/private")))

	robotsResult, err := c.ScrapeRobots(context.Background())
	require.NoError(t, err)
	require.Equal(t, LabelRobots, robotsResult.PathLabel)

	sitemaps, err := c.SitemapURLs(context.Background())
	require.NoError(t, err)
	require.Len(t, sitemaps, 1)
	require.Equal(t, "https://s.example/sitemap.xml", sitemaps[0].String())
	fetcher.AssertExpectations(t)
	fetcher.AssertNumberOfCalls(t, "FetchRobots", 1)
}

func TestUnreachableRobotsAllowsAll(t *testing.T) {
	t.Parallel()

	fetcher := new(scrapertest.MockFetcher)
	fetcher.On("FetchRobots", mock.Anything, scrapertest.URLFor(home), mock.Anything).
		Return(collyfetcher.Response{
			Link:             "https://s.example/robots.txt",
			Permissive:       true,
			PermissiveReason: "i/o timeout",
		}, nil).Once()
	c := newCrawler(t, DefaultConfig(home), nil, fetcher, manual.New(epoch))

	res := c.CrawlSitemapIndexes(context.Background(), crawl.DefaultParams())
	require.Empty(t, res.Errors)
	require.Empty(t, res.PageResults)
	require.NotNil(t, res.SiteMetadata)
	require.True(t, res.SiteMetadata.RobotsUnreachable)
	require.Empty(t, res.SiteMetadata.RobotsText)

	rules, err := c.RobotsRules(context.Background())
	require.NoError(t, err)
	require.True(t, rules.IsAllowed(mustURL(t, "https://s.example/private")))
	require.True(t, c.URLIsOK(mustURL(t, "https://s.example/private")))

	robotsResult, err := c.ScrapeRobots(context.Background())
	require.NoError(t, err)
	require.True(t, robotsResult.RobotsPermissive)
	require.Nil(t, robotsResult.RobotsText)

	fetcher.AssertExpectations(t)
	fetcher.AssertNotCalled(t, "FetchSitemap", mock.Anything, mock.Anything, mock.Anything)
}

const sitemapIndex = `<?xml version="1.0"?>
<sitemapindex>
  <sitemap><loc>https://s.example/s1.xml</loc></sitemap>
  <sitemap><loc>https://s.example/s2.xml</loc></sitemap>
</sitemapindex>`

const sitemapList = `<?xml version="1.0"?>
<urlset><url><loc>https://s.example/a</loc></url><url><loc>https://s.example/b</loc></url></urlset>`

func TestCrawlSitemapURLsFailsClosed(t *testing.T) {
	t.Parallel()

	fetcher := new(scrapertest.MockFetcher)
	fetcher.On("FetchRobots", mock.Anything, scrapertest.URLFor(home), mock.Anything).
		Return(scrapertest.OK("https://s.example/robots.txt", "User-agent: *\nSitemap: https://s.example/sitemap.xml\n"), nil)
	fetcher.On("FetchSitemap", mock.Anything, scrapertest.URLFor("https://s.example/sitemap.xml"), mock.Anything).
		Return(sitemapResponse(t, "https://s.example/sitemap.xml", sitemapIndex), nil)
	fetcher.On("FetchSitemap", mock.Anything, scrapertest.URLFor("https://s.example/s1.xml"), mock.Anything).
		Return(sitemapResponse(t, "https://s.example/s1.xml", sitemapList), nil)
	fetcher.On("FetchSitemap", mock.Anything, scrapertest.URLFor("https://s.example/s2.xml"), mock.Anything).
		Return(collyfetcher.SitemapResponse{}, &collyfetcher.FetchError{
			Kind:   collyfetcher.FetchBadResponse,
			URL:    "https://s.example/s2.xml",
			Status: http.StatusNotFound,
		})
	c := newCrawler(t, DefaultConfig(home), nil, fetcher, manual.New(epoch))

	params := crawl.DefaultParams()
	params.MaxVisits = 10
	index, main := c.CrawlSitemapURLs(context.Background(), params, nil, time.Minute)

	require.Nil(t, main)
	require.Len(t, index.Errors, 1)
	require.Equal(t, "https://s.example/s2.xml", index.Errors[0].Link)
	fetcher.AssertExpectations(t)
	fetcher.AssertNotCalled(t, "FetchPage", mock.Anything, mock.Anything)
}

func TestCrawlSitemapURLsCrawlsListedPages(t *testing.T) {
	t.Parallel()

	fetcher := scrapertest.New()
	fetcher.Robots["s.example"] = "User-agent: *\nSitemap: https://s.example/sitemap.xml\n"
	fetcher.Sitemaps["https://s.example/sitemap.xml"] = sitemapIndex
	fetcher.Sitemaps["https://s.example/s1.xml"] = sitemapList
	fetcher.Sitemaps["https://s.example/s2.xml"] = `<?xml version="1.0"?><urlset><url><loc>https://s.example/c</loc></url></urlset>`
	fetcher.Pages["https://s.example/a"] = "<html></html>"
	fetcher.Pages["https://s.example/b"] = "<html></html>"
	fetcher.Pages["https://s.example/c"] = "<html></html>"
	clk := manual.New(epoch)
	c := newCrawler(t, DefaultConfig(home), nil, fetcher, clk)

	params := crawl.DefaultParams()
	params.MaxVisits = 10
	params.FollowLinks = true
	index, main := c.CrawlSitemapURLs(context.Background(), params, nil, time.Minute)

	require.Empty(t, index.Errors)
	require.Equal(t, []string{LabelSitemapIndex, LabelSitemapList, LabelSitemapList},
		[]string{index.PageResults[0].PathLabel, index.PageResults[1].PathLabel, index.PageResults[2].PathLabel})
	require.Equal(t, []string{"https://s.example/a", "https://s.example/b", "https://s.example/c"}, index.ListedLinks())
	require.NotNil(t, main)
	require.Equal(t, []string{"https://s.example/a", "https://s.example/b", "https://s.example/c"}, links(main.PageResults))
	require.Contains(t, clk.Sleeps(), time.Minute)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig(home)
	cfg.Paths = []Path{{Label: LabelRobots, Pattern: ".*", Routine: headlineRoutine()}}
	require.ErrorContains(t, cfg.Validate(), "reserved")

	cfg.Paths = []Path{{Label: "article", Pattern: ".*", Routine: headlineRoutine()}}
	require.NoError(t, cfg.Validate())
	require.Equal(t, "s.example", cfg.Hostname())
	require.Equal(t, "", Config{HomeLink: "::"}.Hostname())
}
