package scan

import (
	"encoding/json"
	"net/url"

	"github.com/JakeFAU/webcrawl-engine/internal/engine"
	"github.com/JakeFAU/webcrawl-engine/internal/routine"
	"github.com/JakeFAU/webcrawl-engine/internal/scraper"
	"github.com/JakeFAU/webcrawl-engine/internal/site"
)

// BuildRecords flattens an engine result into storage records. Link records
// are deduplicated per site and pathname, with visited entries winning, and
// only kept for links on the crawled site. Unlabelled errors of an index
// scan are labelled as sitemaps.
func BuildRecords(scanID string, task Task, res engine.Result) Records {
	out := Records{Pages: []PageRecord{}, Links: []LinkRecord{}, Errors: []ErrorRecord{}}
	for _, sr := range res.SiteResults {
		links := newLinkSet(scanID, sr.SiteHostname)
		for _, pr := range sr.PageResults {
			out.Pages = append(out.Pages, pageRecord(scanID, sr.SiteHostname, pr))
			links.add(pr.PageLink, pr.PathLabel, true)
			for _, listed := range pr.SitemapListedLinks {
				links.add(listed, "", false)
			}
		}
		for _, link := range sr.UnvisitedLinks {
			links.add(link, "", false)
		}
		for _, ce := range sr.Errors {
			if task == TaskIndexes && ce.PathLabel == "" {
				ce.PathLabel = site.LabelSitemapMisc
			}
			out.Errors = append(out.Errors, ErrorRecord{
				ScanID:         scanID,
				Site:           sr.SiteHostname,
				Link:           ce.Link,
				Pathname:       pathnameOf(ce.Link),
				PathLabel:      ce.PathLabel,
				Message:        ce.ErrorMsg,
				VisitStartTime: ce.VisitStartTime,
				VisitEndTime:   ce.VisitEndTime,
			})
		}
		out.Links = append(out.Links, links.records...)
	}
	return out
}

// Summarize counts records and site outcomes.
func Summarize(res engine.Result, records Records) Stats {
	stats := Stats{
		Sites:       len(res.SiteResults),
		Pages:       len(records.Pages),
		Links:       len(records.Links),
		Errors:      len(records.Errors),
		BatchErrors: len(res.BatchErrors),
	}
	for _, sr := range res.SiteResults {
		if sr.Completed {
			stats.CompletedSites++
		}
	}
	return stats
}

func pageRecord(scanID, host string, pr site.ScrapeResult) PageRecord {
	rec := PageRecord{
		ScanID:    scanID,
		Site:      host,
		Link:      pr.PageLink,
		Pathname:  pathnameOf(pr.PageLink),
		PathLabel: pr.PathLabel,
		Method:    string(pr.Method),
		Status:    pr.Status,
		PageTitle: pr.PageTitle,
		BadLabels: []string{},
	}
	rec.StartTime, rec.EndTime = pr.StartTime, pr.EndTime
	if pr.ScrapedData == nil {
		return rec
	}
	data := pr.ScrapedData
	rec.Title = first(data, routine.CategoryTitle)
	rec.Author = first(data, routine.CategoryAuthor)
	rec.DatePub = first(data, routine.CategoryDatePub)
	rec.TextBody = jsonList(data, routine.CategoryTextBody)
	rec.Tags = jsonList(data, routine.CategoryTag)
	rec.Descriptions = jsonList(data, routine.CategoryDescription)
	rec.Comments = jsonList(data, routine.CategoryComment)
	rec.Media = jsonList(data, routine.CategoryMedia)
	rec.Captions = jsonList(data, routine.CategoryCaption)
	rec.NumLinks = len(values(data, routine.CategoryLinks))
	if data.BadLabels != nil {
		rec.BadLabels = append(rec.BadLabels, data.BadLabels...)
	}
	return rec
}

func values(data *scraper.ScrapedData, category routine.Category) []string {
	var out []string
	for _, v := range data.Values {
		if v.Category == category {
			out = append(out, v.Data)
		}
	}
	return out
}

func first(data *scraper.ScrapedData, category routine.Category) string {
	if vs := values(data, category); len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func jsonList(data *scraper.ScrapedData, category routine.Category) string {
	vs := values(data, category)
	if vs == nil {
		vs = []string{}
	}
	b, err := json.Marshal(vs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// pathnameOf returns the escaped path of link, "/" for an empty path, or ""
// when link does not parse.
func pathnameOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if p := u.EscapedPath(); p != "" {
		return p
	}
	return "/"
}

type linkSet struct {
	scanID  string
	host    string
	index   map[string]int
	records []LinkRecord
}

func newLinkSet(scanID, host string) *linkSet {
	return &linkSet{scanID: scanID, host: host, index: map[string]int{}}
}

func (s *linkSet) add(link, label string, visited bool) {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() != s.host {
		return
	}
	pathname := pathnameOf(link)
	if i, ok := s.index[pathname]; ok {
		if visited && !s.records[i].Visited {
			s.records[i].Visited = true
			s.records[i].Label = label
		}
		return
	}
	s.index[pathname] = len(s.records)
	s.records = append(s.records, LinkRecord{
		ScanID:   s.scanID,
		Site:     s.host,
		Pathname: pathname,
		Label:    label,
		Visited:  visited,
	})
}
