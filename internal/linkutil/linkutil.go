// Package linkutil turns raw link strings into absolute URLs and groups them by host.
package linkutil

import (
	"net/url"
	"strings"
)

// HostGroup holds the URLs that share a hostname, in first-seen order.
type HostGroup struct {
	Hostname string
	URLs     []*url.URL
}

// Sanitize parses each link as an absolute http(s) URL. Links that fail to
// parse, are relative, or carry another scheme are returned in invalid.
func Sanitize(links []string) (valid []*url.URL, invalid []string) {
	for _, link := range links {
		u, ok := Parse(link)
		if !ok {
			invalid = append(invalid, link)
			continue
		}
		valid = append(valid, u)
	}
	return valid, invalid
}

// Parse parses one absolute link.
func Parse(link string) (*url.URL, bool) {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return nil, false
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, false
	}
	return u, true
}

// Strings renders URLs back to their string form.
func Strings(urls []*url.URL) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		out = append(out, u.String())
	}
	return out
}

// GroupByHostname buckets URLs by hostname keeping the order in which each
// hostname was first seen.
func GroupByHostname(urls []*url.URL) []HostGroup {
	index := make(map[string]int)
	var groups []HostGroup
	for _, u := range urls {
		host := u.Hostname()
		i, ok := index[host]
		if !ok {
			i = len(groups)
			index[host] = i
			groups = append(groups, HostGroup{Hostname: host})
		}
		groups[i].URLs = append(groups[i].URLs, u)
	}
	return groups
}

// GroupLinksByHostname sanitizes links and groups the valid ones.
func GroupLinksByHostname(links []string) []HostGroup {
	valid, _ := Sanitize(links)
	return GroupByHostname(valid)
}
