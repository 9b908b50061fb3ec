package scraper

import "time"

// Settings tune one Scraper.
type Settings struct {
	UseStealth bool `mapstructure:"use_stealth"`
	// Timeout bounds each fetch, navigation and wait.
	Timeout time.Duration `mapstructure:"timeout"`
	// MinInterval is the minimum gap between two visits by the same scraper.
	MinInterval time.Duration `mapstructure:"min_interval"`
	// IntervalNoiseMax adds a random [0, IntervalNoiseMax) to MinInterval.
	IntervalNoiseMax time.Duration `mapstructure:"interval_noise_max"`
	// ActionNoiseMax is the random pause before each page action.
	ActionNoiseMax time.Duration `mapstructure:"action_noise_max"`
}

// DefaultSettings returns the stock scraper settings.
func DefaultSettings() Settings {
	return Settings{
		UseStealth:       true,
		Timeout:          10 * time.Second,
		MinInterval:      5 * time.Second,
		IntervalNoiseMax: 3 * time.Second,
		ActionNoiseMax:   100 * time.Millisecond,
	}
}

// Overrides carries optional replacements for Settings fields. Nil fields and
// negative durations keep the base value.
type Overrides struct {
	UseStealth       *bool
	Timeout          *time.Duration
	MinInterval      *time.Duration
	IntervalNoiseMax *time.Duration
	ActionNoiseMax   *time.Duration
}

// Merge applies o on top of s.
func (s Settings) Merge(o Overrides) Settings {
	if o.UseStealth != nil {
		s.UseStealth = *o.UseStealth
	}
	s.Timeout = pickDuration(s.Timeout, o.Timeout)
	s.MinInterval = pickDuration(s.MinInterval, o.MinInterval)
	s.IntervalNoiseMax = pickDuration(s.IntervalNoiseMax, o.IntervalNoiseMax)
	s.ActionNoiseMax = pickDuration(s.ActionNoiseMax, o.ActionNoiseMax)
	return s
}

func pickDuration(base time.Duration, override *time.Duration) time.Duration {
	if override == nil || *override < 0 {
		return base
	}
	return *override
}

// DefaultUserAgent is sent whenever agent rotation is off.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// RotatingUserAgents is the stealth rotation pool.
var RotatingUserAgents = []string{
	DefaultUserAgent,
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}
