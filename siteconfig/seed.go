package siteconfig

// Builtin returns the profiles shipped with the agent. Open seeds them
// with INSERT ... DO NOTHING, so operator edits survive restarts.
//
// Selector lists are ranked: the scanner tries them in order and walks
// ancestors from the first match. They are reverse-engineered from the
// live sites and will rot; the capture-report path exists to re-derive
// them when they do.
func Builtin() []Site {
	return []Site{
		{
			Domain:  "zillow.com",
			MapType: MapGoogle,
			Selectors: []string{
				"#search-page-map",
				"[data-testid=\"search-page-map\"]",
				".search-page-map",
			},
			Style:    Style{MarkerColor: "#1277e1", MarkerScale: 1.0},
			Features: Features{NetworkSniff: true, NativeMarkers: true},
			Enabled:  true,
		},
		{
			Domain:  "redfin.com",
			MapType: MapGoogle,
			Selectors: []string{
				".GoogleMapView",
				"[data-rf-test-id=\"map\"]",
				"#MapView",
			},
			Style: Style{MarkerColor: "#a02021", MarkerScale: 1.0},
			Features: Features{
				ReduxSignals:  true,
				APISignals:    true,
				GlobalSignals: true,
				NetworkSniff:  true,
				NativeMarkers: true,
			},
			Enabled: true,
		},
		{
			Domain:  "realtor.com",
			MapType: MapMapbox,
			Selectors: []string{
				"[data-testid=\"map-container\"]",
				"#mapContainer",
				".mapboxgl-map",
			},
			Style:    Style{MarkerColor: "#d92228", MarkerScale: 1.0},
			Features: Features{NetworkSniff: true},
			Enabled:  true,
		},
		{
			Domain:  "homes.com",
			MapType: MapGoogle,
			Selectors: []string{
				".search-map-container",
				"#searchMap",
			},
			Style:    Style{MarkerColor: "#00575d", MarkerScale: 1.0},
			Features: Features{NetworkSniff: true, NativeMarkers: true},
			Enabled:  true,
		},
		{
			Domain:  "trulia.com",
			MapType: MapAuto,
			Selectors: []string{
				"[data-testid=\"search-map-container\"]",
				".Map__MapContainer",
			},
			Style:    Style{MarkerColor: "#01788a", MarkerScale: 1.0},
			Features: Features{NetworkSniff: true},
			Enabled:  true,
		},
		{
			// Fallback for domains with no profile. Disabled so the
			// agent does not instrument every open tab; operators who
			// want that flip this row.
			Domain:  DefaultDomain,
			MapType: MapAuto,
			Selectors: []string{
				"#map",
				".map-container",
				".gm-style",
				".mapboxgl-map",
				"[class*=\"map-container\"]",
			},
			Style:    Style{MarkerColor: "#e8710a", MarkerScale: 1.0},
			Features: Features{NativeMarkers: true},
			Enabled:  false,
		},
	}
}
