package netsniff

import (
	"net/url"
	"strings"
	"testing"

	"github.com/arpentry/poiportal/bounds"
)

func TestFromURLSearchQueryState(t *testing.T) {
	state := `{"pagination":{},"mapBounds":{"west":-122.465,"east":-122.224,"south":47.491,"north":47.734},"isMapVisible":true}`
	raw := "https://www.zillow.com/search/GetSearchPageState.htm?searchQueryState=" + url.QueryEscape(state) + "&wants=%7B%7D"

	hit, ok := FromURL(raw)
	if !ok {
		t.Fatal("expected a hit")
	}
	if hit.Method != bounds.ProvNetworkURL {
		t.Errorf("method: got %q", hit.Method)
	}
	if hit.Rect.North != 47.734 || hit.Rect.West != -122.465 {
		t.Errorf("rect: got %+v", hit.Rect)
	}
}

func TestFromURLEdgeParams(t *testing.T) {
	hit, ok := FromURL("https://api.example.com/search?north=47.7&south=47.5&east=-122.2&west=-122.4&zoom=11")
	if !ok {
		t.Fatal("expected a hit")
	}
	want := bounds.Rect{North: 47.7, South: 47.5, East: -122.2, West: -122.4}
	if hit.Rect != want {
		t.Errorf("rect: got %+v, want %+v", hit.Rect, want)
	}
}

func TestFromURLCornerParams(t *testing.T) {
	hit, ok := FromURL("https://www.homes.com/routes/res/property?neLat=47.7&neLng=-122.2&swLat=47.5&swLng=-122.4")
	if !ok {
		t.Fatal("expected a hit")
	}
	if hit.Rect.North != 47.7 || hit.Rect.South != 47.5 || hit.Rect.East != -122.2 || hit.Rect.West != -122.4 {
		t.Errorf("rect: got %+v", hit.Rect)
	}
}

func TestFromURLBBox(t *testing.T) {
	hit, ok := FromURL("https://tiles.example.com/v4/search?bbox=-122.4,47.5,-122.2,47.7")
	if !ok {
		t.Fatal("expected a hit")
	}
	if hit.Rect.West != -122.4 || hit.Rect.South != 47.5 || hit.Rect.East != -122.2 || hit.Rect.North != 47.7 {
		t.Errorf("rect: got %+v", hit.Rect)
	}
}

func TestFromURLRejects(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"no params", "https://www.zillow.com/seattle-wa/"},
		{"reversed latitudes", "https://x.test/?north=47.5&south=47.7&east=-122.2&west=-122.4"},
		{"latitude out of range", "https://x.test/?north=97&south=47&east=-122.2&west=-122.4"},
		{"zero width", "https://x.test/?north=47.7&south=47.5&east=-122.2&west=-122.2"},
		{"incomplete group", "https://x.test/?north=47.7&south=47.5&east=-122.2"},
		{"non-numeric", "https://x.test/?north=a&south=b&east=c&west=d"},
	}
	for _, tc := range cases {
		if _, ok := FromURL(tc.url); ok {
			t.Errorf("%s: expected no hit", tc.name)
		}
	}
}

func TestFromBodyRedfinAPI(t *testing.T) {
	body := []byte(`{}&&{"version":453,"errorMessage":"Success","payload":{"boundingBox":{"north":47.734,"south":47.491,"east":-122.224,"west":-122.465},"homes":[{"mlsId":1}]}}`)

	hit, ok := FromBody("https://www.redfin.com/stingray/api/gis?al=1&market=seattle", body)
	if !ok {
		t.Fatal("expected a hit")
	}
	if hit.Method != bounds.ProvSiteAPI {
		t.Errorf("method: got %q, want %q", hit.Method, bounds.ProvSiteAPI)
	}
	if hit.Rect.North != 47.734 {
		t.Errorf("rect: got %+v", hit.Rect)
	}
}

func TestFromBodyGenericHost(t *testing.T) {
	body := []byte(`{"results":[],"viewport":{"north":40.8,"south":40.7,"east":-73.9,"west":-74.1}}`)

	hit, ok := FromBody("https://api.example.com/map-search", body)
	if !ok {
		t.Fatal("expected a hit")
	}
	if hit.Method != bounds.ProvNetworkBody {
		t.Errorf("method: got %q, want %q", hit.Method, bounds.ProvNetworkBody)
	}
}

func TestFromBodyPrefersViewportKeys(t *testing.T) {
	// "aaa" sorts before "viewport"; the preferred-key pass must still
	// pick the viewport rectangle.
	body := []byte(`{
		"aaa": {"north": 1, "south": 0, "east": 1, "west": 0},
		"viewport": {"north": 47.7, "south": 47.5, "east": -122.2, "west": -122.4}
	}`)

	hit, ok := FromBody("https://api.example.com/x", body)
	if !ok {
		t.Fatal("expected a hit")
	}
	if hit.Rect.North != 47.7 {
		t.Errorf("rect: got %+v, want the viewport one", hit.Rect)
	}
}

func TestFromBodyDepthLimit(t *testing.T) {
	body := []byte(`{"a":{"b":{"c":{"d":{"e":{"f":{"g":{"north":47.7,"south":47.5,"east":-122.2,"west":-122.4}}}}}}}}`)
	if _, ok := FromBody("https://x.test/", body); ok {
		t.Fatal("rect beyond the walk depth must not be found")
	}
}

func TestFromBodyArrayHeadOnly(t *testing.T) {
	early := []byte(`[{"viewport":{"north":47.7,"south":47.5,"east":-122.2,"west":-122.4}}]`)
	if _, ok := FromBody("https://x.test/", early); !ok {
		t.Fatal("rect in the first array element should be found")
	}

	late := []byte(`[{"a":1},{"b":2},{"viewport":{"north":47.7,"south":47.5,"east":-122.2,"west":-122.4}}]`)
	if _, ok := FromBody("https://x.test/", late); ok {
		t.Fatal("deep array elements must not be walked")
	}
}

func TestFromBodyOversized(t *testing.T) {
	big := []byte(`{"pad":"` + strings.Repeat("x", 1<<20) + `"}`)
	if _, ok := FromBody("https://x.test/", big); ok {
		t.Fatal("oversized body must be skipped")
	}
}

func TestFromBodyNonJSON(t *testing.T) {
	if _, ok := FromBody("https://x.test/", []byte("<html><body>hi</body></html>")); ok {
		t.Fatal("expected no hit")
	}
	if _, ok := FromBody("https://x.test/", nil); ok {
		t.Fatal("expected no hit")
	}
}

func TestInflightTakeAndDrop(t *testing.T) {
	f := NewInflight(4)

	if !f.Park("req-1", "https://x.test/map-search") {
		t.Fatal("park into an empty tracker must succeed")
	}
	rawURL, ok := f.Take("req-1")
	if !ok || rawURL != "https://x.test/map-search" {
		t.Fatalf("take = %q, %v", rawURL, ok)
	}
	if _, ok := f.Take("req-1"); ok {
		t.Fatal("taken entry must be gone")
	}

	f.Park("req-2", "https://x.test/a")
	f.Drop("req-2")
	if f.Len() != 0 {
		t.Fatalf("len after drop = %d", f.Len())
	}
	if _, ok := f.Take("req-2"); ok {
		t.Fatal("dropped entry must be gone")
	}
}

func TestInflightBoundedAndDrainable(t *testing.T) {
	f := NewInflight(2)

	f.Park("req-1", "https://x.test/a")
	f.Park("req-2", "https://x.test/b")
	if f.Park("req-3", "https://x.test/c") {
		t.Fatal("park past the limit must be rejected")
	}

	// A failed load frees its slot; sniffing keeps working afterwards.
	f.Drop("req-1")
	if !f.Park("req-3", "https://x.test/c") {
		t.Fatal("park after a drop must succeed")
	}
	if _, ok := f.Take("req-3"); !ok {
		t.Fatal("freed slot must hold the new entry")
	}
}

func TestInteresting(t *testing.T) {
	yes := []string{
		"https://www.redfin.com/stingray/api/gis?al=1",
		"https://www.redfin.com/stingray/do/location-autocomplete",
		"https://www.zillow.com/search/GetSearchPageState.htm?searchQueryState=%7B%7D",
		"https://www.trulia.com/web/maps/geosearch?q=seattle",
	}
	for _, u := range yes {
		if !Interesting(u) {
			t.Errorf("%s: expected interesting", u)
		}
	}

	no := []string{
		"https://maps.googleapis.com/maps/vt?pb=!1m5",
		"https://www.zillow.com/seattle-wa/",
		"https://cdn.example.com/app.js",
	}
	for _, u := range no {
		if Interesting(u) {
			t.Errorf("%s: expected not interesting", u)
		}
	}
}
