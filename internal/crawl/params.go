package crawl

import "github.com/JakeFAU/webcrawl-engine/internal/routine"

// Params bound one crawl.
type Params struct {
	MaxVisits   int  `mapstructure:"max_visits" json:"maxVisits"`
	FollowLinks bool `mapstructure:"follow_links" json:"followLinks"`
	// RequireRoutines skips pages that match no configured path instead of
	// scraping them with the default routine.
	RequireRoutines bool `mapstructure:"require_routines" json:"requireRoutines"`
	QueueLimit      int  `mapstructure:"queue_limit" json:"queueLimit"`
	ErrorLimit      int  `mapstructure:"error_limit" json:"errorLimit"`
	SkipLimit       int  `mapstructure:"skip_limit" json:"skipLimit"`
}

// DefaultParams returns the stock crawl bounds.
func DefaultParams() Params {
	return Params{
		MaxVisits:       5,
		FollowLinks:     true,
		RequireRoutines: false,
		QueueLimit:      20000,
		ErrorLimit:      5,
		SkipLimit:       20000,
	}
}

// Overrides carries optional replacements for Params fields.
type Overrides struct {
	MaxVisits       *int  `json:"maxVisits,omitempty"`
	FollowLinks     *bool `json:"followLinks,omitempty"`
	RequireRoutines *bool `json:"requireRoutines,omitempty"`
	QueueLimit      *int  `json:"queueLimit,omitempty"`
	ErrorLimit      *int  `json:"errorLimit,omitempty"`
	SkipLimit       *int  `json:"skipLimit,omitempty"`
}

// Merge returns p with every set override applied. Values are taken as
// given; validating them is the caller's job.
func (p Params) Merge(o Overrides) Params {
	if o.MaxVisits != nil {
		p.MaxVisits = *o.MaxVisits
	}
	if o.FollowLinks != nil {
		p.FollowLinks = *o.FollowLinks
	}
	if o.RequireRoutines != nil {
		p.RequireRoutines = *o.RequireRoutines
	}
	if o.QueueLimit != nil {
		p.QueueLimit = *o.QueueLimit
	}
	if o.ErrorLimit != nil {
		p.ErrorLimit = *o.ErrorLimit
	}
	if o.SkipLimit != nil {
		p.SkipLimit = *o.SkipLimit
	}
	return p
}

// DefaultRoutine collects every link on a page so the crawl can follow it.
func DefaultRoutine() routine.Routine {
	return routine.Routine{{
		Data: []routine.DataInstruction{{
			Label:    "links",
			Category: routine.CategoryLinks,
			Type:     routine.DataMeta,
			Meta:     &routine.MetaLocator{Level: routine.MetaDoc, DocElement: routine.DocLinks},
		}},
	}}
}
