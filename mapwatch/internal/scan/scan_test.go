package scan

import (
	"strings"
	"testing"
)

func TestCadenceFullWhileNothingCaptured(t *testing.T) {
	c := NewCadence(10)
	for i := 0; i < 25; i++ {
		if got := c.Next(0); got != ModeFull {
			t.Fatalf("pass %d: got %v, want full", i, got)
		}
	}
}

func TestCadenceThrottlesWithActiveInstance(t *testing.T) {
	c := NewCadence(10)

	full := 0
	for i := 0; i < 30; i++ {
		if c.Next(1) == ModeFull {
			full++
		}
	}
	if full != 3 {
		t.Errorf("full passes in 30: got %d, want 3", full)
	}
}

func TestCadenceResetsWhenInstancesVanish(t *testing.T) {
	c := NewCadence(10)

	// Burn through part of a throttled cycle.
	for i := 0; i < 7; i++ {
		c.Next(2)
	}

	// Instance gone: full again immediately, and the cycle restarts.
	if got := c.Next(0); got != ModeFull {
		t.Fatalf("after vanish: got %v, want full", got)
	}
	for i := 0; i < 9; i++ {
		if got := c.Next(1); got != ModeCheap {
			t.Fatalf("restarted cycle pass %d: got %v, want cheap", i, got)
		}
	}
	if got := c.Next(1); got != ModeFull {
		t.Fatalf("restarted cycle 10th pass: got %v, want full", got)
	}
}

func TestCadenceDefaultPeriod(t *testing.T) {
	c := NewCadence(0)
	cheap := 0
	for i := 0; i < DefaultEvery; i++ {
		if c.Next(1) == ModeCheap {
			cheap++
		}
	}
	if cheap != DefaultEvery-1 {
		t.Errorf("cheap passes: got %d, want %d", cheap, DefaultEvery-1)
	}
}

func TestHintsSiteSelectorsFirst(t *testing.T) {
	html := []byte(`<html><body>
		<div id="search-map"><canvas width="800" height="600"></canvas></div>
	</body></html>`)

	hints := Hints([]string{"#custom-map", " #search-map "}, html, 0)
	if len(hints) < 2 {
		t.Fatalf("hints: got %v", hints)
	}
	if hints[0] != "#custom-map" || hints[1] != "#search-map" {
		t.Errorf("site selectors must lead: got %v", hints[:2])
	}
	for i, h := range hints {
		for j := i + 1; j < len(hints); j++ {
			if h == hints[j] {
				t.Errorf("duplicate hint %q", h)
			}
		}
	}
}

func TestHintsDiscoversFromHTML(t *testing.T) {
	html := []byte(`<html><body>
		<div class="listings">plain text</div>
		<div class="map-container"><div class="gm-style"></div></div>
	</body></html>`)

	hints := Hints(nil, html, 0)
	found := false
	for _, h := range hints {
		if strings.Contains(h, "map") || strings.Contains(h, "gm-style") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a map-ish candidate, got %v", hints)
	}
}

func TestHintsLimit(t *testing.T) {
	site := []string{"#a", "#b", "#c", "#d"}
	hints := Hints(site, nil, 2)
	if len(hints) != 2 {
		t.Fatalf("limit: got %d hints", len(hints))
	}
}

func TestHintsEmptyInput(t *testing.T) {
	if got := Hints(nil, nil, 0); len(got) != 0 {
		t.Errorf("got %v, want none", got)
	}
}
