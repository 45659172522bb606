package htmlscan

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// vendorClasses are classes the map libraries themselves stamp on their
// containers. Finding one is close to a confirmed hit.
var vendorClasses = []string{
	"gm-style",
	"mapboxgl-map",
	"mapboxgl-canvas-container",
	"maplibregl-map",
	"leaflet-container",
}

// namePatternExcludes are "map" substrings that are not maps.
var namePatternExcludes = []string{"sitemap", "heatmap", "roadmap", "mapping"}

var sourceBase = map[string]float64{
	SourceSiteSelector: 40,
	SourceVendorClass:  30,
	SourceCanvasParent: 20,
	SourceNamePattern:  15,
}

// scoreNode rates how map-like an element is. Map widgets are the
// opposite of articles: markup-heavy, text-poor, usually holding a
// canvas. The extraction heuristics run inverted here.
func scoreNode(n *html.Node, source string) float64 {
	score := sourceBase[source]

	if hasVendorClass(n) {
		score += 25
	}
	if mapishName(n) {
		score += 10
	}
	if hasCanvasDescendant(n) {
		score += 15
	}

	switch tl := boundedTextLen(n, 600); {
	case tl < 50:
		score += 10
	case tl > 500:
		score -= 15
	}

	style := strings.ToLower(attrValue(n, "style"))
	if strings.Contains(style, "100%") ||
		strings.Contains(style, "position:absolute") || strings.Contains(style, "position: absolute") ||
		strings.Contains(style, "position:fixed") || strings.Contains(style, "position: fixed") {
		score += 5
	}

	score -= 0.5 * float64(nodeDepth(n))
	return score
}

func hasVendorClass(n *html.Node) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		for _, v := range vendorClasses {
			if c == v {
				return true
			}
		}
	}
	return false
}

// mapishName reports whether an identifying attribute names a map,
// filtering the usual false friends.
func mapishName(n *html.Node) bool {
	name := strings.ToLower(strings.Join([]string{
		attrValue(n, "id"),
		attrValue(n, "class"),
		attrValue(n, "data-testid"),
		attrValue(n, "data-rf-test-id"),
	}, " "))
	if !strings.Contains(name, "map") {
		return false
	}
	stripped := name
	for _, ex := range namePatternExcludes {
		stripped = strings.ReplaceAll(stripped, ex, "")
	}
	return strings.Contains(stripped, "map")
}

func hasCanvasDescendant(n *html.Node) bool {
	found := false
	walkElements(n, func(c *html.Node) {
		if c.DataAtom == atom.Canvas {
			found = true
		}
	})
	return found
}

// boundedTextLen counts visible text up to a limit; enough to tell
// "empty tile container" from "article that mentions maps".
func boundedTextLen(n *html.Node, limit int) int {
	total := 0
	var f func(*html.Node)
	f = func(n *html.Node) {
		if total > limit {
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			total += len(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return total
}

func nodeDepth(n *html.Node) int {
	d := 0
	for p := n.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

func matchVendorClasses(doc *html.Node) []*html.Node {
	var out []*html.Node
	walkElements(doc, func(n *html.Node) {
		if hasVendorClass(n) {
			out = append(out, n)
		}
	})
	return out
}

func matchNamePatterns(doc *html.Node) []*html.Node {
	var out []*html.Node
	walkElements(doc, func(n *html.Node) {
		if mapishName(n) {
			out = append(out, n)
		}
	})
	return out
}

// canvasAncestors finds, for each canvas, the nearest identifiable
// ancestor within five levels. Tile canvases sit a few anonymous divs
// below the element the page names.
func canvasAncestors(doc *html.Node) []*html.Node {
	var out []*html.Node
	walkElements(doc, func(n *html.Node) {
		if n.DataAtom != atom.Canvas {
			return
		}
		p := n.Parent
		for hops := 0; p != nil && hops < 5; hops++ {
			if p.Type == html.ElementNode &&
				(attrValue(p, "id") != "" || attrValue(p, "class") != "") {
				out = append(out, p)
				return
			}
			p = p.Parent
		}
	})
	return out
}
