package robots

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleRobots = `User-agent: *
Disallow: /private
Crawl-delay: 3

User-agent: pricebot
Disallow: /

Sitemap: https://example.com/sitemap_index.xml
Sitemap: https://example.com/news-sitemap.xml
`

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRules_IsAllowed(t *testing.T) {
	t.Parallel()

	rules := Parse("https://example.com/", sampleRobots)
	require.NoError(t, rules.Err())

	tests := []struct {
		name string
		link string
		want bool
	}{
		{name: "root", link: "https://example.com/", want: true},
		{name: "article", link: "https://example.com/news/1", want: true},
		{name: "private", link: "https://example.com/private", want: false},
		{name: "private subpath", link: "https://example.com/private/data?x=1", want: false},
		{name: "other origin", link: "https://other.org/private", want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, rules.IsAllowed(mustURL(t, tc.link)))
		})
	}
}

func TestRules_UserAgentGroup(t *testing.T) {
	t.Parallel()

	rules := Parse("https://example.com/", sampleRobots, WithUserAgent("pricebot"))
	require.False(t, rules.IsAllowed(mustURL(t, "https://example.com/news/1")))
	_, ok := rules.CrawlDelay()
	require.False(t, ok)
}

func TestRules_CrawlDelayAndSitemaps(t *testing.T) {
	t.Parallel()

	rules := Parse("https://example.com/", sampleRobots)
	delay, ok := rules.CrawlDelay()
	require.True(t, ok)
	require.Equal(t, 3*time.Second, delay)
	require.Equal(t, []string{
		"https://example.com/sitemap_index.xml",
		"https://example.com/news-sitemap.xml",
	}, rules.Sitemaps())
}

func TestRules_EmptyAllowsEverything(t *testing.T) {
	t.Parallel()

	rules := Parse("https://example.com/", "")
	require.True(t, rules.IsAllowed(mustURL(t, "https://example.com/private")))
	require.Empty(t, rules.Sitemaps())
	_, ok := rules.CrawlDelay()
	require.False(t, ok)
}

func TestURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.com/robots.txt", URL(mustURL(t, "https://example.com/news/today?x=1")).String())
}
