package scraper

import (
	"strconv"
	"time"

	"github.com/JakeFAU/webcrawl-engine/internal/routine"
)

// Method records which backend served a scrape.
type Method string

// Scrape methods.
const (
	MethodFetch   Method = "fetch"
	MethodBrowser Method = "browser"
)

// ScrapedValue is one non-empty extracted datum.
type ScrapedValue struct {
	Label    string           `json:"dataLabel"`
	Category routine.Category `json:"category,omitempty"`
	Data     string           `json:"data"`
}

// ScrapedData partitions routine output into usable values and the labels
// that produced nothing.
type ScrapedData struct {
	Values    []ScrapedValue `json:"values"`
	BadLabels []string       `json:"badLabels"`
}

// Result is the outcome of one scrape. Only the field matching the call is
// populated: ScrapedData for pages, RobotsText for robots.txt, and one of the
// sitemap slices for sitemaps.
type Result struct {
	Method              Method       `json:"reqMethod"`
	Status              int          `json:"status"`
	PageLink            string       `json:"pageLink"`
	PageTitle           string       `json:"pageTitle,omitempty"`
	StartTime           time.Time    `json:"startTime"`
	EndTime             time.Time    `json:"endTime"`
	ScrapedData         *ScrapedData `json:"scrapedData,omitempty"`
	RobotsText          *string      `json:"robotsText,omitempty"`
	RobotsPermissive    bool         `json:"robotsPermissive,omitempty"`
	SitemapIndexedLinks []string     `json:"sitemapIndexedLinks,omitempty"`
	SitemapListedLinks  []string     `json:"sitemapListedLinks,omitempty"`
}

// ValuesIn returns the data of every scraped value in category.
func (r Result) ValuesIn(category routine.Category) []string {
	if r.ScrapedData == nil {
		return nil
	}
	var out []string
	for _, v := range r.ScrapedData.Values {
		if v.Category == category {
			out = append(out, v.Data)
		}
	}
	return out
}

// ProcessValues flattens routine values. Group members are labelled
// "<label>-<index>". Empty members, empty groups and empty scalars go to
// BadLabels.
func ProcessValues(values []routine.Value) ScrapedData {
	data := ScrapedData{Values: []ScrapedValue{}, BadLabels: []string{}}
	for _, v := range values {
		if v.Group {
			if len(v.Items) == 0 {
				data.BadLabels = append(data.BadLabels, v.Label)
				continue
			}
			for idx, item := range v.Items {
				label := v.Label + "-" + strconv.Itoa(idx)
				if item.Found && item.Text != "" {
					data.Values = append(data.Values, ScrapedValue{Label: label, Category: v.Category, Data: item.Text})
				} else {
					data.BadLabels = append(data.BadLabels, label)
				}
			}
			continue
		}
		if len(v.Items) > 0 && v.Items[0].Found && v.Items[0].Text != "" {
			data.Values = append(data.Values, ScrapedValue{Label: v.Label, Category: v.Category, Data: v.Items[0].Text})
			continue
		}
		data.BadLabels = append(data.BadLabels, v.Label)
	}
	return data
}
