package site

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/JakeFAU/webcrawl-engine/internal/routine"
)

// Reserved path labels for results that do not come from a configured path.
const (
	LabelHomepage     = "HOMEPAGE"
	LabelRobots       = "ROBOTS.TXT"
	LabelSitemapIndex = "SITEMAP-INDEX"
	LabelSitemapList  = "SITEMAP-LIST"
	LabelSitemapMisc  = "SITEMAP-MISC"
)

// SitemapLabels lists the labels IsSitemapLabel accepts.
func SitemapLabels() []string {
	return []string{LabelSitemapIndex, LabelSitemapList, LabelSitemapMisc}
}

// IsSitemapLabel reports whether label marks a sitemap scrape.
func IsSitemapLabel(label string) bool {
	switch label {
	case LabelSitemapIndex, LabelSitemapList, LabelSitemapMisc:
		return true
	default:
		return false
	}
}

// IsReservedLabel reports whether label is one of the reserved labels.
func IsReservedLabel(label string) bool {
	switch label {
	case LabelHomepage, LabelRobots, LabelSitemapIndex, LabelSitemapList, LabelSitemapMisc:
		return true
	}
	return false
}

// Path binds a pathname pattern to the routine that scrapes it.
type Path struct {
	Label   string          `json:"label" yaml:"label"`
	Pattern string          `json:"pattern" yaml:"pattern"`
	Routine routine.Routine `json:"routine" yaml:"routine"`
}

// CompiledPath is a Path with its pattern compiled.
type CompiledPath struct {
	Label   string
	Pattern *regexp.Regexp
	Routine routine.Routine
}

// CompilePaths compiles every pattern once, keeping the configured order.
func CompilePaths(paths []Path) ([]CompiledPath, error) {
	compiled := make([]CompiledPath, 0, len(paths))
	for _, p := range paths {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile path %q: %w", p.Label, err)
		}
		compiled = append(compiled, CompiledPath{Label: p.Label, Pattern: re, Routine: p.Routine})
	}
	return compiled, nil
}

// MatchPath returns the first path whose pattern matches u's pathname.
func MatchPath(u *url.URL, paths []CompiledPath) (CompiledPath, bool) {
	pathname := u.EscapedPath()
	if pathname == "" {
		pathname = "/"
	}
	for _, p := range paths {
		if p.Pattern.MatchString(pathname) {
			return p, true
		}
	}
	return CompiledPath{}, false
}
