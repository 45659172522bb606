package htmlscan

import (
	"strings"

	"golang.org/x/net/html"
)

// querySelectorAll returns all nodes matching a simple CSS selector.
// Supported subset:
//   - tag: "div", "main"
//   - .class: ".search-map-container"
//   - #id: "#search-page-map"
//   - tag.class, tag#id
//   - [attr], [attr=val], [attr*=val] (substring), quoted values allowed
//   - parts separated by space (descendant combinator)
func querySelectorAll(doc *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}

	matches := matchSimple(doc, parts[0])
	for i := 1; i < len(parts); i++ {
		var next []*html.Node
		for _, parent := range matches {
			for _, d := range matchSimple(parent, parts[i]) {
				// Descendant combinator: strictly below the parent.
				if d != parent {
					next = append(next, d)
				}
			}
		}
		matches = next
	}
	return matches
}

func matchSimple(root *html.Node, sel string) []*html.Node {
	m := parseSimpleSelector(sel)
	var results []*html.Node
	walkElements(root, func(n *html.Node) {
		if matchesSelector(n, m) {
			results = append(results, n)
		}
	})
	return results
}

type simpleSelector struct {
	tag       string
	id        string
	class     string
	attrKey   string
	attrVal   string
	substring bool // attr value matched by contains, not equality
}

// parseSimpleSelector parses "tag.class", "#id", "tag[attr*=val]", etc.
func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector

	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		if starIdx := strings.Index(attrPart, "*="); starIdx >= 0 {
			s.attrKey = attrPart[:starIdx]
			s.attrVal = strings.Trim(attrPart[starIdx+2:], `"'`)
			s.substring = true
		} else if eqIdx := strings.IndexByte(attrPart, '='); eqIdx >= 0 {
			s.attrKey = attrPart[:eqIdx]
			s.attrVal = strings.Trim(attrPart[eqIdx+1:], `"'`)
		} else {
			s.attrKey = attrPart
		}
	}

	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		s.id = sel[idx+1:]
		sel = sel[:idx]
	}

	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		s.class = sel[idx+1:]
		sel = sel[:idx]
	}

	s.tag = sel
	return s
}

func matchesSelector(n *html.Node, s simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attrValue(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(attrValue(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.attrKey != "" {
		if !hasAttrKey(n, s.attrKey) {
			return false
		}
		if s.attrVal != "" {
			val := attrValue(n, s.attrKey)
			if s.substring {
				if !strings.Contains(val, s.attrVal) {
					return false
				}
			} else if val != s.attrVal {
				return false
			}
		}
	}
	return true
}
