package signal

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeBoundsFrame(t *testing.T) {
	payload := `{
		"type": "POI_BOUNDS_UPDATE",
		"bounds": {"north": 47.689, "south": 47.601, "east": -122.22, "west": -122.41},
		"method": "instance-event",
		"url": "https://www.zillow.com/seattle-wa/",
		"isIframe": false,
		"timestamp": 1774000000000
	}`

	f, err := DecodeFrame([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != KindBoundsUpdate {
		t.Fatalf("Type: got %q, want %q", f.Type, KindBoundsUpdate)
	}
	if f.Bounds == nil {
		t.Fatal("Bounds: got nil")
	}
	if f.Bounds.North != 47.689 || f.Bounds.West != -122.41 {
		t.Errorf("Bounds: got %+v", *f.Bounds)
	}
	if string(f.Method) != "instance-event" {
		t.Errorf("Method: got %q", f.Method)
	}
	if f.IsIframe {
		t.Error("IsIframe: got true, want false")
	}
	if f.Timestamp != 1774000000000 {
		t.Errorf("Timestamp: got %d", f.Timestamp)
	}
}

func TestDecodeInstanceFrame(t *testing.T) {
	payload := `{
		"type": "POI_INSTANCE",
		"instanceId": "map_3",
		"kind": "mapbox",
		"domain": "redfin.com",
		"url": "https://www.redfin.com/city/16163/WA/Seattle",
		"selector": "#map-container"
	}`

	f, err := DecodeFrame([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != KindInstance {
		t.Fatalf("Type: got %q", f.Type)
	}
	if f.InstanceID != "map_3" || f.MapKind != "mapbox" {
		t.Errorf("instance: got %q/%q", f.InstanceID, f.MapKind)
	}
	if f.Domain != "redfin.com" {
		t.Errorf("Domain: got %q", f.Domain)
	}
}

func TestDecodeMarkerFrame(t *testing.T) {
	payload := `{"type":"POI_MARKER_CLICK","id":"poi_9","lat":47.61,"lng":-122.33}`

	f, err := DecodeFrame([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != KindMarkerClick {
		t.Fatalf("Type: got %q", f.Type)
	}
	if f.ID != "poi_9" || f.Lat != 47.61 || f.Lng != -122.33 {
		t.Errorf("marker: got %q %v %v", f.ID, f.Lat, f.Lng)
	}
}

func TestDecodeFrameWithoutType(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"bounds":{"north":1}}`)); err == nil {
		t.Fatal("expected error for frame without type")
	}
}

func TestDecodeFrameBadJSON(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestDecodeFrameUnknownType(t *testing.T) {
	// New sensor messages must decode, not error: the watcher decides
	// what to do with kinds it does not recognise.
	f, err := DecodeFrame([]byte(`{"type":"POI_FUTURE_THING","message":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != Kind("POI_FUTURE_THING") {
		t.Errorf("Type: got %q", f.Type)
	}
}

func TestMarshalDataUpdateShape(t *testing.T) {
	d := &DataUpdate{
		Revision: 7,
		POIs: []Marker{
			{ID: "poi_1", Lat: 47.6, Lng: -122.3, Label: "Office", Color: "#cc0044", ZIndex: 2, Group: "work"},
			{ID: "poi_2", Lat: 47.7, Lng: -122.4, Label: "Gym"},
		},
	}

	data, err := MarshalDataUpdate(d)
	if err != nil {
		t.Fatal(err)
	}

	// The overlay reads these exact keys; losing one silently breaks
	// rendering on deployed pages.
	for _, key := range []string{`"pois"`, `"revision"`, `"lat"`, `"lng"`, `"label"`, `"zIndex"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("payload missing %s: %s", key, data)
		}
	}

	var back DataUpdate
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if len(back.POIs) != 2 || back.Revision != 7 {
		t.Errorf("roundtrip: got %d pois revision %d", len(back.POIs), back.Revision)
	}
	if back.POIs[1].Color != "" || back.POIs[1].ZIndex != 0 {
		t.Errorf("optional fields should stay zero: %+v", back.POIs[1])
	}
}
