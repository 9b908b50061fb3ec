// Package script holds the in-page JavaScript shared by the browser-backed
// webpage.Page implementations. Each script is an arrow function with its
// arguments inlined as JSON literals; Call turns one into an expression.
package script

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
)

const elementValue = `const value = (el) => {
		if (el.nodeType === 1 && el.getAttribute("content") !== null) return el.getAttribute("content").trim();
		return (el.textContent || "").trim();
	};`

// Links maps every anchor to its resolved, trimmed href.
const Links = `() => Array.from(document.querySelectorAll("a")).map((a) => (a.href || "").trim())`

// Texts maps every element to its trimmed textContent.
const Texts = `() => Array.from(document.querySelectorAll("*")).map((el) => (el.textContent || "").trim())`

// DateElement reads the first <time> element.
const DateElement = `() => {
	const t = document.querySelector("time");
	if (!t) return { found: false, datetime: "", content: "" };
	return { found: true, datetime: t.getAttribute("datetime") || "", content: (t.textContent || "").trim() };
}`

// Element is the decoded result of a single-element lookup.
type Element struct {
	Found bool   `json:"found"`
	Text  string `json:"text"`
}

// Date is the decoded result of DateElement.
type Date struct {
	Found    bool   `json:"found"`
	Datetime string `json:"datetime"`
	Content  string `json:"content"`
}

// ToDate converts the script result into a webpage.Date.
func (d Date) ToDate() webpage.Date {
	if !d.Found {
		return webpage.Date{}
	}
	out := webpage.Date{Content: strings.TrimSpace(d.Content)}
	if ts, ok := webpage.ParseDatetime(d.Datetime); ok {
		out.Datetime = &ts
	}
	return out
}

// FindCSS returns the value of the first element matching selector.
func FindCSS(selector string) string {
	return fmt.Sprintf(`() => {
	%s
	const el = document.querySelector(%s);
	if (!el) return { found: false, text: "" };
	return { found: true, text: value(el) };
}`, elementValue, literal(selector))
}

// FindAllCSS returns the non-empty values of every element matching selector.
func FindAllCSS(selector string) string {
	return fmt.Sprintf(`() => {
	%s
	return Array.from(document.querySelectorAll(%s)).map(value).filter((text) => text);
}`, elementValue, literal(selector))
}

// FindXPath returns the value of the first node matching expr.
func FindXPath(expr string) string {
	return fmt.Sprintf(`() => {
	%s
	const el = document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return { found: false, text: "" };
	return { found: true, text: value(el) };
}`, elementValue, literal(expr))
}

// Call wraps an arrow function into an immediately invoked expression.
func Call(fn string) string {
	return "(" + fn + ")()"
}

func literal(s string) string {
	// Marshalling a string cannot fail.
	raw, _ := json.Marshal(s) //nolint:errcheck
	return string(raw)
}
