// Package site crawls a single website according to its configuration:
// admissibility checks, path-to-routine matching, robots.txt and sitemaps.
package site

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/JakeFAU/webcrawl-engine/internal/scraper"
)

// Rules are per-site politeness settings layered over the scraper defaults.
// Nil fields keep the default.
type Rules struct {
	RobotsText       string         `json:"robotsText,omitempty" yaml:"robotsText,omitempty"`
	UseStealth       *bool          `json:"useStealth,omitempty" yaml:"useStealth,omitempty"`
	Timeout          *time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MinInterval      *time.Duration `json:"minInterval,omitempty" yaml:"minInterval,omitempty"`
	IntervalNoiseMax *time.Duration `json:"intervalNoiseMax,omitempty" yaml:"intervalNoiseMax,omitempty"`
	ActionNoiseMax   *time.Duration `json:"actionNoiseMax,omitempty" yaml:"actionNoiseMax,omitempty"`
}

// Overrides converts the rules into scraper overrides.
func (r Rules) Overrides() scraper.Overrides {
	return scraper.Overrides{
		UseStealth:       r.UseStealth,
		Timeout:          r.Timeout,
		MinInterval:      r.MinInterval,
		IntervalNoiseMax: r.IntervalNoiseMax,
		ActionNoiseMax:   r.ActionNoiseMax,
	}
}

// Config describes one site.
type Config struct {
	HomeLink string        `json:"homeLink" yaml:"homeLink"`
	Rules    Rules         `json:"rules" yaml:"rules"`
	Auth     *scraper.Auth `json:"auth,omitempty" yaml:"auth,omitempty"`
	Paths    []Path        `json:"paths,omitempty" yaml:"paths,omitempty"`
}

// DefaultConfig returns a config for homeLink with no paths, no auth and
// default rules.
func DefaultConfig(homeLink string) Config {
	return Config{
		HomeLink: homeLink,
		Auth:     &scraper.Auth{Method: scraper.AuthNone},
	}
}

// HomeURL parses HomeLink.
func (c Config) HomeURL() (*url.URL, error) {
	u, err := url.Parse(c.HomeLink)
	if err != nil {
		return nil, fmt.Errorf("parse home link: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("home link %q has no hostname", c.HomeLink)
	}
	return u, nil
}

// Hostname returns the home link's hostname, or "" when it does not parse.
func (c Config) Hostname() string {
	u, err := c.HomeURL()
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Validate checks the home link, the path patterns and every routine.
func (c Config) Validate() error {
	if _, err := c.HomeURL(); err != nil {
		return err
	}
	if _, err := CompilePaths(c.Paths); err != nil {
		return err
	}
	var errs []error
	for _, p := range c.Paths {
		if IsReservedLabel(p.Label) {
			errs = append(errs, fmt.Errorf("path label %q is reserved", p.Label))
		}
		if err := p.Routine.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("path %q: %w", p.Label, err))
		}
	}
	return errors.Join(errs...)
}
