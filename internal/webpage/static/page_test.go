package static

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
)

const sampleHTML = `<!doctype html>
<html>
<head>
  <title>  Sample Story </title>
  <meta property="og:title" content=" OG Story ">
  <meta name="author" content="Jane Doe">
</head>
<body>
  <h1>Headline</h1>
  <time datetime="2024-03-01T12:00:00Z"> March 1 </time>
  <a href="/news/one">One</a>
  <a href="https://other.example.org/x">Other</a>
  <a name="anchor">No href</a>
  <ul><li>first</li><li></li><li>third</li></ul>
  <div id="body"><p>para 1</p><p> para 2 </p></div>
</body>
</html>`

func newSamplePage(t *testing.T) *Page {
	t.Helper()
	u, err := url.Parse("https://example.com/news/story")
	require.NoError(t, err)
	page, err := New(u, 200, []byte(sampleHTML))
	require.NoError(t, err)
	return page
}

func TestPage_DocumentLevel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	page := newSamplePage(t)

	title, err := page.Title(ctx)
	require.NoError(t, err)
	require.Equal(t, "Sample Story", title)

	links, err := page.Links(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/news/one", "https://other.example.org/x", ""}, links)

	texts, err := page.Texts(ctx)
	require.NoError(t, err)
	require.Contains(t, texts, "Headline")

	htmlSrc, err := page.HTML(ctx)
	require.NoError(t, err)
	require.Equal(t, sampleHTML, htmlSrc)
	require.Equal(t, 200, page.Status())
}

func TestPage_LinksKeepsAnchorsWithoutHref(t *testing.T) {
	t.Parallel()
	u, err := url.Parse("https://site.example")
	require.NoError(t, err)
	page, err := New(u, 200, []byte(`<a name="top">Top</a><a href="/a">A</a>`))
	require.NoError(t, err)

	links, err := page.Links(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"", "https://site.example/a"}, links)
}

func TestPage_DateElement(t *testing.T) {
	t.Parallel()

	date, err := newSamplePage(t).DateElement(context.Background())
	require.NoError(t, err)
	require.NotNil(t, date.Datetime)
	require.True(t, date.Datetime.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	require.Equal(t, "March 1", date.Content)
}

func TestPage_Finders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	page := newSamplePage(t)

	text, ok, err := page.FindElementCSS(ctx, `meta[property="og:title"]`)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "OG Story", text)

	_, ok, err = page.FindElementCSS(ctx, "article")
	require.NoError(t, err)
	require.False(t, ok)

	all, err := page.FindAllElementsCSS(ctx, "li")
	require.NoError(t, err)
	require.Equal(t, []string{"first", "third"}, all)

	text, ok, err = page.FindElementXPath(ctx, "/html/body/div/p[2]")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "para 2", text)

	text, ok, err = page.FindElementXPath(ctx, `//meta[@name="author"]`)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Jane Doe", text)

	_, _, err = page.FindElementXPath(ctx, "//[")
	require.Error(t, err)
}

func TestPage_Interaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	page := newSamplePage(t)

	require.NoError(t, page.WaitForSelectorCSS(ctx, "h1", time.Second))
	require.ErrorIs(t, page.WaitForSelectorCSS(ctx, "article", time.Second), webpage.ErrElementNotFound)
	require.NoError(t, page.WaitForSelectorXPath(ctx, "//h1", time.Second))
	require.ErrorIs(t, page.Click(ctx, "h1"), webpage.ErrUnsupported)

	_, err := page.NavigateTo(ctx, page.CurrentURL(), time.Second)
	require.ErrorIs(t, err, webpage.ErrUnsupported)

	require.True(t, page.IsActive())
	require.NoError(t, page.Close(ctx))
	require.False(t, page.IsActive())
}
