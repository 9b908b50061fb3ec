package scan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webcrawl-engine/internal/engine"
	"github.com/JakeFAU/webcrawl-engine/internal/routine"
	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	"github.com/JakeFAU/webcrawl-engine/internal/scraper"
	"github.com/JakeFAU/webcrawl-engine/internal/site"
)

func scrapedPage(link, label string, values ...scraper.ScrapedValue) site.ScrapeResult {
	return site.ScrapeResult{
		Result: scraper.Result{
			Method:      scraper.MethodBrowser,
			Status:      200,
			PageLink:    link,
			PageTitle:   "title of " + link,
			ScrapedData: &scraper.ScrapedData{Values: values, BadLabels: []string{"missing"}},
		},
		PathLabel: label,
	}
}

func TestBuildRecordsFlattensPages(t *testing.T) {
	t.Parallel()

	res := engine.Result{SiteResults: []engine.SiteResult{{
		CrawlResult: site.CrawlResult{
			SiteHostname: "a.example",
			Completed:    true,
			PageResults: []site.ScrapeResult{
				scrapedPage("https://a.example/news/1", "ARTICLE",
					scraper.ScrapedValue{Label: "h", Category: routine.CategoryTitle, Data: "Headline"},
					scraper.ScrapedValue{Label: "h2", Category: routine.CategoryTitle, Data: "Second"},
					scraper.ScrapedValue{Label: "tags", Category: routine.CategoryTag, Data: "a"},
					scraper.ScrapedValue{Label: "tags", Category: routine.CategoryTag, Data: "b"},
					scraper.ScrapedValue{Label: "links", Category: routine.CategoryLinks, Data: "https://a.example/x"},
					scraper.ScrapedValue{Label: "links", Category: routine.CategoryLinks, Data: "https://a.example/y"},
				),
			},
		},
	}}}

	records := scan.BuildRecords("scan-1", scan.TaskLinks, res)
	require.Len(t, records.Pages, 1)
	page := records.Pages[0]
	require.Equal(t, "scan-1", page.ScanID)
	require.Equal(t, "/news/1", page.Pathname)
	require.Equal(t, "ARTICLE", page.PathLabel)
	require.Equal(t, "browser", page.Method)
	require.Equal(t, "Headline", page.Title)
	require.Equal(t, `["a","b"]`, page.Tags)
	require.Equal(t, `[]`, page.Comments)
	require.Equal(t, 2, page.NumLinks)
	require.Equal(t, []string{"missing"}, page.BadLabels)
	require.Empty(t, records.Errors)
}

func TestBuildRecordsDedupesLinks(t *testing.T) {
	t.Parallel()

	listed := scrapedPage("https://a.example/sitemap.xml", "")
	listed.SitemapListedLinks = []string{"https://a.example/p1", "https://b.example/off-site"}
	res := engine.Result{SiteResults: []engine.SiteResult{{
		CrawlResult: site.CrawlResult{
			SiteHostname: "a.example",
			PageResults: []site.ScrapeResult{
				listed,
				scrapedPage("https://a.example/p1", "ARTICLE"),
			},
			UnvisitedLinks: []string{"https://a.example/p2", "https://a.example/p1?page=2"},
		},
	}}}

	records := scan.BuildRecords("scan-1", scan.TaskSitemaps, res)
	require.Equal(t, []scan.LinkRecord{
		{ScanID: "scan-1", Site: "a.example", Pathname: "/sitemap.xml", Visited: true},
		{ScanID: "scan-1", Site: "a.example", Pathname: "/p1", Label: "ARTICLE", Visited: true},
		{ScanID: "scan-1", Site: "a.example", Pathname: "/p2"},
	}, records.Links)
}

func TestBuildRecordsLabelsIndexErrors(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	res := engine.Result{SiteResults: []engine.SiteResult{{
		CrawlResult: site.CrawlResult{
			SiteHostname: "a.example",
			Errors: []site.CrawlError{
				{Link: "https://a.example/sitemap-1.xml", ErrorMsg: "bad xml", VisitStartTime: start},
				{Link: "https://a.example/robots.txt", PathLabel: site.LabelRobots, ErrorMsg: "down"},
			},
		},
	}}}

	indexRecords := scan.BuildRecords("scan-1", scan.TaskIndexes, res)
	require.Len(t, indexRecords.Errors, 2)
	require.Equal(t, site.LabelSitemapMisc, indexRecords.Errors[0].PathLabel)
	require.Equal(t, "/sitemap-1.xml", indexRecords.Errors[0].Pathname)
	require.Equal(t, start, indexRecords.Errors[0].VisitStartTime)
	require.Equal(t, site.LabelRobots, indexRecords.Errors[1].PathLabel)

	linkRecords := scan.BuildRecords("scan-1", scan.TaskLinks, res)
	require.Empty(t, linkRecords.Errors[0].PathLabel)
}

func TestSummarizeCountsOutcomes(t *testing.T) {
	t.Parallel()

	res := engine.Result{
		SiteResults: []engine.SiteResult{
			{CrawlResult: site.CrawlResult{SiteHostname: "a.example", Completed: true,
				PageResults: []site.ScrapeResult{scrapedPage("https://a.example/", "")}}},
			{CrawlResult: site.CrawlResult{SiteHostname: "b.example"}},
		},
		BatchErrors: []engine.BatchError{{SiteCrawlIDs: []int{3}, Message: "no page"}},
	}
	records := scan.BuildRecords("scan-1", scan.TaskFrontpages, res)

	stats := scan.Summarize(res, records)
	require.Equal(t, scan.Stats{
		Sites:          2,
		CompletedSites: 1,
		Pages:          1,
		Links:          1,
		BatchErrors:    1,
	}, stats)
}
