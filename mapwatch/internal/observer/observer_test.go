package observer

import (
	"testing"

	"github.com/arpentry/poiportal/mapwatch/signal"
)

func TestDispatch_DecodesAndForwards(t *testing.T) {
	var got []*signal.Frame
	o := New(Config{Handler: func(f *signal.Frame) { got = append(got, f) }})

	o.dispatch([]byte(`{"type":"POI_BOUNDS_UPDATE","bounds":{"north":47.7,"south":47.5,"east":-122.2,"west":-122.4},"method":"instance-event","url":"https://www.redfin.com/x","timestamp":1700000000000}`))

	if len(got) != 1 {
		t.Fatalf("frames forwarded = %d", len(got))
	}
	f := got[0]
	if f.Type != signal.KindBoundsUpdate {
		t.Fatalf("type = %q", f.Type)
	}
	if f.Bounds == nil || f.Bounds.North != 47.7 {
		t.Fatalf("bounds = %+v", f.Bounds)
	}
	if string(f.Method) != "instance-event" {
		t.Fatalf("method = %q", f.Method)
	}
}

func TestDispatch_DropsUndecodable(t *testing.T) {
	var got []*signal.Frame
	o := New(Config{Handler: func(f *signal.Frame) { got = append(got, f) }})

	o.dispatch([]byte(`not json`))
	o.dispatch([]byte(`{"bounds":{}}`)) // no type

	if len(got) != 0 {
		t.Fatalf("undecodable frames forwarded: %d", len(got))
	}
}

func TestDispatch_ForwardsUnknownKinds(t *testing.T) {
	var got []*signal.Frame
	o := New(Config{Handler: func(f *signal.Frame) { got = append(got, f) }})

	o.dispatch([]byte(`{"type":"POI_FUTURE_THING","message":"hi"}`))

	if len(got) != 1 {
		t.Fatal("unknown kinds should still reach the handler")
	}
	if got[0].Type != "POI_FUTURE_THING" {
		t.Fatalf("type = %q", got[0].Type)
	}
}

func TestDispatch_NilHandler(t *testing.T) {
	o := New(Config{})
	// Must not panic.
	o.dispatch([]byte(`{"type":"POI_BRIDGE_READY"}`))
}
