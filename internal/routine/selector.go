package routine

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	cssSelectorPattern   = regexp.MustCompile(`^(\s*(#[\w-]+|\.[\w-]+|\w+)+\s*(>|$))`)
	xpathSelectorPattern = regexp.MustCompile(`^/(?:\w+/)*\w+(?:\[\d+\])?(?:/\w+(?:\[\d+\])?)*$`)
)

// ErrInvalidSelector is returned when a selector is neither CSS nor XPath.
var ErrInvalidSelector = errors.New("invalid selector")

// ClassifySelector guesses whether raw is a simple CSS selector or an absolute XPath.
func ClassifySelector(raw string) (Selector, error) {
	switch {
	case cssSelectorPattern.MatchString(raw):
		return Selector{Type: SelectorCSS, Text: raw}, nil
	case xpathSelectorPattern.MatchString(raw):
		return Selector{Type: SelectorXPath, Text: raw}, nil
	default:
		return Selector{}, fmt.Errorf("%w: could not parse %q as CSS or XPath", ErrInvalidSelector, raw)
	}
}
