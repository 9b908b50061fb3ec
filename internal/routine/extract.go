package routine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
)

// Extract runs one data instruction's locator against the page.
func Extract(ctx context.Context, page webpage.Page, insn DataInstruction) (Value, error) {
	value := Value{Label: insn.Label, Category: insn.Category, Type: insn.Type}
	var err error
	switch insn.Type {
	case DataMeta:
		if insn.Meta == nil {
			return value, fmt.Errorf("%w: meta locator missing", ErrInvalidInstruction)
		}
		value.Group, value.Items, err = extractMeta(ctx, page, *insn.Meta)
	case DataElement:
		if insn.Element == nil {
			return value, fmt.Errorf("%w: element selector missing", ErrInvalidInstruction)
		}
		var item Item
		item, err = extractElement(ctx, page, *insn.Element)
		value.Items = []Item{item}
	case DataElementGroup:
		if insn.Group == nil {
			return value, fmt.Errorf("%w: element group locator missing", ErrInvalidInstruction)
		}
		value.Group = true
		value.Items, err = extractGroup(ctx, page, *insn.Group)
	case DataFromLink:
		if insn.Link == nil {
			return value, fmt.Errorf("%w: link pattern missing", ErrInvalidInstruction)
		}
		var item Item
		item, err = extractFromLink(page, *insn.Link)
		value.Items = []Item{item}
	default:
		return value, fmt.Errorf("%w: unknown data type %q", ErrInvalidInstruction, insn.Type)
	}
	return value, err
}

func extractMeta(ctx context.Context, page webpage.Page, loc MetaLocator) (bool, []Item, error) {
	switch loc.Level {
	case MetaDoc:
		return extractDoc(ctx, page, loc.DocElement)
	case MetaProperty, MetaName:
		text, ok, err := page.FindElementCSS(ctx, fmt.Sprintf(`meta[%s=%q]`, loc.Level, loc.Text))
		if err != nil {
			return false, nil, fmt.Errorf("find meta %s %q: %w", loc.Level, loc.Text, err)
		}
		return false, []Item{{Text: text, Found: ok}}, nil
	case MetaTime:
		date, err := page.DateElement(ctx)
		if err != nil {
			return false, nil, fmt.Errorf("find date element: %w", err)
		}
		if date.Datetime == nil && date.Content == "" {
			return false, []Item{{}}, nil
		}
		return false, []Item{{Text: encodeDate(date), Found: true}}, nil
	default:
		return false, nil, fmt.Errorf("%w: unknown meta level %q", ErrInvalidInstruction, loc.Level)
	}
}

func extractDoc(ctx context.Context, page webpage.Page, element DocElement) (bool, []Item, error) {
	switch element {
	case DocLinks:
		links, err := page.Links(ctx)
		if err != nil {
			return true, nil, fmt.Errorf("collect links: %w", err)
		}
		return true, foundItems(links), nil
	case DocTexts:
		texts, err := page.Texts(ctx)
		if err != nil {
			return true, nil, fmt.Errorf("collect texts: %w", err)
		}
		return true, foundItems(texts), nil
	case DocHTML:
		html, err := page.HTML(ctx)
		if err != nil {
			return false, nil, fmt.Errorf("read html: %w", err)
		}
		return false, []Item{{Text: html, Found: true}}, nil
	default:
		return false, nil, fmt.Errorf("%w: unknown document element %q", ErrInvalidInstruction, element)
	}
}

func extractElement(ctx context.Context, page webpage.Page, sel Selector) (Item, error) {
	var (
		text string
		ok   bool
		err  error
	)
	switch sel.Type {
	case SelectorCSS:
		text, ok, err = page.FindElementCSS(ctx, sel.Text)
	case SelectorXPath:
		text, ok, err = page.FindElementXPath(ctx, sel.Text)
	default:
		return Item{}, fmt.Errorf("%w: unknown selector type %q", ErrInvalidInstruction, sel.Type)
	}
	if err != nil {
		return Item{}, fmt.Errorf("find %s %q: %w", sel.Type, sel.Text, err)
	}
	return Item{Text: text, Found: ok}, nil
}

func extractGroup(ctx context.Context, page webpage.Page, loc GroupLocator) ([]Item, error) {
	switch loc.Kind {
	case GroupAll:
		texts, err := page.FindAllElementsCSS(ctx, loc.Text)
		if err != nil {
			return nil, fmt.Errorf("find all %q: %w", loc.Text, err)
		}
		return foundItems(texts), nil
	case GroupStatic:
		return extractStatic(ctx, page, loc.Type, loc.TextList)
	case GroupRange:
		selectors, err := ExpandRange(loc)
		if err != nil {
			return nil, err
		}
		return extractStatic(ctx, page, loc.Type, selectors)
	default:
		return nil, fmt.Errorf("%w: unknown element group kind %q", ErrInvalidInstruction, loc.Kind)
	}
}

func extractStatic(ctx context.Context, page webpage.Page, selType SelectorType, selectors []string) ([]Item, error) {
	items := make([]Item, 0, len(selectors))
	for _, text := range selectors {
		item, err := extractElement(ctx, page, Selector{Type: selType, Text: text})
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// ExpandRange renders the selectors of a range group, substituting each index
// from Lower to Upper for the wildcard.
func ExpandRange(loc GroupLocator) ([]string, error) {
	if loc.Wildcard == "" {
		return nil, fmt.Errorf("%w: range group needs a wildcard", ErrInvalidInstruction)
	}
	before, after, found := strings.Cut(loc.Text, loc.Wildcard)
	if !found {
		return nil, fmt.Errorf("%w: wildcard %q not in selector %q", ErrInvalidInstruction, loc.Wildcard, loc.Text)
	}
	var out []string
	for i := loc.Lower; i <= loc.Upper; i++ {
		out = append(out, before+strconv.Itoa(i)+after)
	}
	return out, nil
}

func extractFromLink(page webpage.Page, loc LinkLocator) (Item, error) {
	re, err := regexp.Compile(loc.Pattern)
	if err != nil {
		return Item{}, fmt.Errorf("compile link pattern %q: %w", loc.Pattern, err)
	}
	current := page.CurrentURL()
	if current == nil {
		return Item{}, nil
	}
	match := re.FindStringSubmatch(current.String())
	if len(match) < 2 {
		return Item{}, nil
	}
	return Item{Text: match[1], Found: true}, nil
}

func foundItems(texts []string) []Item {
	items := make([]Item, 0, len(texts))
	for _, text := range texts {
		items = append(items, Item{Text: text, Found: true})
	}
	return items
}

func encodeDate(date webpage.Date) string {
	datetime := "null"
	if date.Datetime != nil {
		datetime = date.Datetime.UTC().Format(time.RFC3339Nano)
	}
	content := "null"
	if date.Content != "" {
		content = date.Content
	}
	// Marshalling a two-string slice cannot fail.
	raw, _ := json.Marshal([]string{datetime, content}) //nolint:errcheck
	return string(raw)
}
