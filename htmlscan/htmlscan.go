// Package htmlscan locates likely map containers in a page snapshot.
//
// The in-page probe is the authority on what is actually a live map; this
// pre-scan only ranks where to look first. It parses server-rendered HTML
// and scores elements by map-likeness: vendor library classes, map-ish
// names, canvas children, and low text content (a map widget holds tiles,
// not prose). The winning selectors are handed to the probe as hints.
//
// The pipeline: raw HTML → parse → strategy passes → score → dedupe →
// ranked candidate selectors.
package htmlscan

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Candidate is a scored map-container hint.
type Candidate struct {
	Selector string  `json:"selector"`
	Tag      string  `json:"tag"`
	Source   string  `json:"source"`
	Score    float64 `json:"score"`
}

// Candidate sources, in strategy order.
const (
	SourceSiteSelector = "site-selector"
	SourceVendorClass  = "vendor-class"
	SourceNamePattern  = "name-pattern"
	SourceCanvasParent = "canvas-ancestor"
)

// Options controls the scan.
type Options struct {
	Selectors []string // site-profile selectors, tried first
	Limit     int      // max candidates returned (default: 8)
}

func (o *Options) defaults() {
	if o.Limit <= 0 {
		o.Limit = 8
	}
}

// Scan parses raw HTML and returns ranked container candidates.
func Scan(rawHTML []byte, opts Options) ([]Candidate, error) {
	opts.defaults()

	doc, err := html.Parse(bytes.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	found := map[*html.Node]*Candidate{}

	record := func(n *html.Node, source string) {
		if n == nil || n.Type != html.ElementNode || !eligible(n) {
			return
		}
		score := scoreNode(n, source)
		if prev, ok := found[n]; ok {
			if score > prev.Score {
				prev.Score = score
				prev.Source = source
			}
			return
		}
		found[n] = &Candidate{
			Selector: buildSelector(n),
			Tag:      n.Data,
			Source:   source,
			Score:    score,
		}
	}

	for _, sel := range opts.Selectors {
		for _, n := range querySelectorAll(doc, sel) {
			record(n, SourceSiteSelector)
		}
	}
	for _, n := range matchVendorClasses(doc) {
		record(n, SourceVendorClass)
	}
	for _, n := range matchNamePatterns(doc) {
		record(n, SourceNamePattern)
	}
	for _, n := range canvasAncestors(doc) {
		record(n, SourceCanvasParent)
	}

	out := make([]Candidate, 0, len(found))
	for _, c := range found {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Selector < out[j].Selector
	})
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Selectors flattens candidates to the hint list sent to the probe.
func Selectors(cands []Candidate) []string {
	sels := make([]string, 0, len(cands))
	for _, c := range cands {
		sels = append(sels, c.Selector)
	}
	return sels
}

// eligible rejects elements that cannot be a map container regardless of
// how they matched: document chrome and icon-sized widgets.
func eligible(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head,
		atom.Title, atom.Meta, atom.Link, atom.Nav, atom.Footer:
		return false
	}
	name := strings.ToLower(attrValue(n, "id") + " " + attrValue(n, "class"))
	for _, p := range []string{"icon", "logo", "btn", "button", "tooltip"} {
		if strings.Contains(name, p) {
			return false
		}
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.DataAtom == atom.Head || p.DataAtom == atom.Svg {
			return false
		}
	}
	return true
}

// buildSelector reconstructs a short CSS path for the element: an id
// wins outright, otherwise tag plus its most map-ish class, prefixed by
// the nearest identifiable ancestor.
func buildSelector(n *html.Node) string {
	if id := attrValue(n, "id"); id != "" && !strings.ContainsAny(id, " \t") {
		return "#" + id
	}

	self := segment(n)
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode || p.DataAtom == atom.Body || p.DataAtom == atom.Html {
			break
		}
		if id := attrValue(p, "id"); id != "" && !strings.ContainsAny(id, " \t") {
			return "#" + id + " " + self
		}
	}
	return self
}

func segment(n *html.Node) string {
	tag := n.Data
	cls := pickClass(n)
	if cls != "" {
		return tag + "." + cls
	}
	if v := attrValue(n, "data-testid"); v != "" {
		return tag + `[data-testid="` + v + `"]`
	}
	return tag
}

// pickClass prefers a class naming the map over the first one listed.
func pickClass(n *html.Node) string {
	classes := strings.Fields(attrValue(n, "class"))
	for _, c := range classes {
		if strings.Contains(strings.ToLower(c), "map") {
			return c
		}
	}
	if len(classes) > 0 {
		return classes[0]
	}
	return ""
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttrKey(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func walkElements(root *html.Node, visit func(*html.Node)) {
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			visit(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(root)
}
