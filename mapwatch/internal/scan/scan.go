// Package scan paces the in-page discovery probe and prepares the
// selector hints that ride along with each pass.
package scan

import (
	"strings"

	"github.com/arpentry/poiportal/htmlscan"
)

// DefaultEvery is the idle-throttle period: with instances already
// captured, one pass in ten does full discovery work.
const DefaultEvery = 10

// Mode is how much work one probe pass performs.
type Mode int

const (
	// ModeFull runs every discovery strategy.
	ModeFull Mode = iota
	// ModeCheap only refreshes liveness of known instances.
	ModeCheap
)

func (m Mode) String() string {
	if m == ModeCheap {
		return "cheap"
	}
	return "full"
}

// Cadence implements the idle throttle. While at least one instance is
// captured, only every Nth pass gets ModeFull. With nothing captured
// every pass is full and the cycle restarts, so a page that loses its
// map gets immediate attention again.
type Cadence struct {
	every int
	calls int
}

// NewCadence creates a throttle with the given period. Zero or negative
// means DefaultEvery.
func NewCadence(every int) *Cadence {
	if every <= 0 {
		every = DefaultEvery
	}
	return &Cadence{every: every}
}

// Next reports the mode for the upcoming pass given how many instances
// are currently active.
func (c *Cadence) Next(active int) Mode {
	if active == 0 {
		c.calls = 0
		return ModeFull
	}
	c.calls++
	if c.calls%c.every == 0 {
		return ModeFull
	}
	return ModeCheap
}

// Options is the argument object handed to the in-page probe.
type Options struct {
	Full      bool     `json:"full"`
	Selectors []string `json:"selectors,omitempty"`
}

// DefaultHintLimit caps how many selectors ride along with a pass; the
// probe walks five ancestor levels per hit, so a long tail of weak
// candidates costs real page time.
const DefaultHintLimit = 12

// Hints merges curated site selectors with ranked candidates from a
// static pre-scan of the page HTML. Site selectors keep their order and
// come first; discovered candidates follow by score.
func Hints(siteSelectors []string, pageHTML []byte, limit int) []string {
	if limit <= 0 {
		limit = DefaultHintLimit
	}
	out := make([]string, 0, limit)
	seen := make(map[string]bool)
	for _, s := range siteSelectors {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) >= limit {
			return out
		}
	}
	if len(pageHTML) == 0 {
		return out
	}
	cands, err := htmlscan.Scan(pageHTML, htmlscan.Options{Selectors: siteSelectors})
	if err != nil {
		return out
	}
	for _, c := range cands {
		if c.Selector == "" || seen[c.Selector] {
			continue
		}
		seen[c.Selector] = true
		out = append(out, c.Selector)
		if len(out) >= limit {
			break
		}
	}
	return out
}
