// Package routine models page routines and interprets them against a webpage.Page.
//
// A routine is an ordered list of steps. Each step runs its action
// instructions first, then extracts its data instructions from the resulting
// page state.
package routine

import (
	"errors"
	"fmt"
)

// Category buckets scraped values for downstream processing.
type Category string

// Supported data categories.
const (
	CategoryLinks       Category = "links"
	CategoryTextBody    Category = "textbody"
	CategoryTitle       Category = "title"
	CategoryAuthor      Category = "author"
	CategoryDatePub     Category = "datepub"
	CategoryTag         Category = "tag"
	CategoryDescription Category = "description"
	CategoryComment     Category = "comment"
	CategoryEngagement  Category = "engagement"
	CategoryMedia       Category = "media"
	CategoryCaption     Category = "caption"
)

// DataType selects the locator family of a data instruction.
type DataType string

// Supported data instruction types.
const (
	DataMeta         DataType = "meta"
	DataElement      DataType = "element"
	DataElementGroup DataType = "elementGroup"
	DataFromLink     DataType = "fromLink"
)

// MetaLevel selects which document-level datum a meta locator reads.
type MetaLevel string

// Supported meta levels.
const (
	MetaDoc      MetaLevel = "doc"
	MetaProperty MetaLevel = "property"
	MetaName     MetaLevel = "name"
	MetaTime     MetaLevel = "time"
)

// DocElement names a whole-document extraction.
type DocElement string

// Supported document elements.
const (
	DocLinks DocElement = "links"
	DocTexts DocElement = "texts"
	DocHTML  DocElement = "html"
)

// SelectorType distinguishes CSS from XPath selectors.
type SelectorType string

// Supported selector types.
const (
	SelectorCSS   SelectorType = "css"
	SelectorXPath SelectorType = "xpath"
)

// GroupKind selects how an element group is located.
type GroupKind string

// Supported group kinds.
const (
	GroupAll    GroupKind = "all"
	GroupStatic GroupKind = "static"
	GroupRange  GroupKind = "range"
)

// ActionType names a page action.
type ActionType string

// Supported actions.
const (
	ActionClick   ActionType = "click"
	ActionWaitFor ActionType = "waitFor"
)

// Selector is a CSS or XPath expression.
type Selector struct {
	Type SelectorType `json:"selType" yaml:"selType"`
	Text string       `json:"selText" yaml:"selText"`
}

// MetaLocator targets document-level data or a <meta> tag.
type MetaLocator struct {
	Level      MetaLevel  `json:"level" yaml:"level"`
	DocElement DocElement `json:"docElement,omitempty" yaml:"docElement,omitempty"`
	Text       string     `json:"text,omitempty" yaml:"text,omitempty"`
}

// GroupLocator targets several elements at once.
//
// GroupAll runs one CSS query-all with Text. GroupStatic looks up each entry of
// TextList. GroupRange substitutes Lower..Upper (inclusive) for Wildcard in Text.
type GroupLocator struct {
	Kind     GroupKind    `json:"locType" yaml:"locType"`
	Type     SelectorType `json:"selType" yaml:"selType"`
	Text     string       `json:"selText,omitempty" yaml:"selText,omitempty"`
	TextList []string     `json:"selTextList,omitempty" yaml:"selTextList,omitempty"`
	Wildcard string       `json:"selWildcard,omitempty" yaml:"selWildcard,omitempty"`
	Lower    int          `json:"lower,omitempty" yaml:"lower,omitempty"`
	Upper    int          `json:"upper,omitempty" yaml:"upper,omitempty"`
}

// LinkLocator captures the first regex group from the current page URL.
type LinkLocator struct {
	Pattern string `json:"pattern" yaml:"pattern"`
}

// DataInstruction extracts one labelled datum. Exactly one locator matching
// Type must be set.
type DataInstruction struct {
	Label    string        `json:"dataLabel" yaml:"dataLabel"`
	Category Category      `json:"category,omitempty" yaml:"category,omitempty"`
	Required bool          `json:"required,omitempty" yaml:"required,omitempty"`
	Type     DataType      `json:"dataType" yaml:"dataType"`
	Meta     *MetaLocator  `json:"meta,omitempty" yaml:"meta,omitempty"`
	Element  *Selector     `json:"element,omitempty" yaml:"element,omitempty"`
	Group    *GroupLocator `json:"elementGroup,omitempty" yaml:"elementGroup,omitempty"`
	Link     *LinkLocator  `json:"fromLink,omitempty" yaml:"fromLink,omitempty"`
}

// ActionInstruction mutates page state before extraction.
type ActionInstruction struct {
	Type     ActionType `json:"actionType" yaml:"actionType"`
	Selector Selector   `json:"selector" yaml:"selector"`
}

// Step pairs the actions that produce a page state with the data read from it.
type Step struct {
	Data    []DataInstruction   `json:"dataInsns" yaml:"dataInsns"`
	Actions []ActionInstruction `json:"actionInsns,omitempty" yaml:"actionInsns,omitempty"`
}

// Routine is an ordered program of steps.
type Routine []Step

// Item is one extracted string. Found is false when the locator matched nothing.
type Item struct {
	Text  string
	Found bool
}

// Value is the raw output of one data instruction. Scalar results carry a
// single item; group results carry one item per member.
type Value struct {
	Label    string
	Category Category
	Type     DataType
	Group    bool
	Items    []Item
}

// HasData reports whether any item carries non-empty content.
func (v Value) HasData() bool {
	for _, item := range v.Items {
		if item.Found && item.Text != "" {
			return true
		}
	}
	return false
}

// Result holds every value extracted by a routine, in instruction order.
type Result struct {
	Values []Value
}

// IsStatic reports whether the routine can be answered from static HTML: a
// single step without actions.
func (r Routine) IsStatic() bool {
	return len(r) == 1 && len(r[0].Actions) == 0
}

// ErrInvalidInstruction marks a malformed instruction.
var ErrInvalidInstruction = errors.New("invalid instruction")

// Validate checks that every instruction carries the locator its type needs.
func (r Routine) Validate() error {
	for i, step := range r {
		for _, insn := range step.Data {
			if err := insn.Validate(); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		for _, action := range step.Actions {
			if err := action.Validate(); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
	}
	return nil
}

// Validate checks the data instruction's locator against its type.
func (d DataInstruction) Validate() error {
	if d.Label == "" {
		return fmt.Errorf("%w: data label is required", ErrInvalidInstruction)
	}
	switch d.Type {
	case DataMeta:
		if d.Meta == nil {
			return fmt.Errorf("%w: %q: meta locator missing", ErrInvalidInstruction, d.Label)
		}
	case DataElement:
		if d.Element == nil {
			return fmt.Errorf("%w: %q: element selector missing", ErrInvalidInstruction, d.Label)
		}
	case DataElementGroup:
		if d.Group == nil {
			return fmt.Errorf("%w: %q: element group locator missing", ErrInvalidInstruction, d.Label)
		}
		if d.Group.Kind == GroupAll && d.Group.Type != SelectorCSS {
			return fmt.Errorf("%w: %q: query-all groups are CSS only", ErrInvalidInstruction, d.Label)
		}
	case DataFromLink:
		if d.Link == nil {
			return fmt.Errorf("%w: %q: link pattern missing", ErrInvalidInstruction, d.Label)
		}
	default:
		return fmt.Errorf("%w: %q: unknown data type %q", ErrInvalidInstruction, d.Label, d.Type)
	}
	return nil
}

// Validate checks the action type.
func (a ActionInstruction) Validate() error {
	switch a.Type {
	case ActionClick, ActionWaitFor:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidInstruction, a.Type)
	}
	if a.Selector.Text == "" {
		return fmt.Errorf("%w: %s: selector is required", ErrInvalidInstruction, a.Type)
	}
	return nil
}
