package poistore

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/arpentry/poiportal/bounds"
	"github.com/arpentry/poiportal/dbopen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewStore(db)
}

func seedGroup(t *testing.T, s *Store, name string) *Group {
	t.Helper()
	g := &Group{Name: name, Active: true}
	if err := s.InsertGroup(context.Background(), g); err != nil {
		t.Fatalf("insert group %q: %v", name, err)
	}
	return g
}

func TestGroupCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	g := &Group{Name: "Schools", Color: "#1277e1", ZIndex: 5, Active: true}
	if err := s.InsertGroup(ctx, g); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !strings.HasPrefix(g.ID, "grp_") {
		t.Errorf("generated ID %q lacks grp_ prefix", g.ID)
	}

	got, err := s.GetGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("get: got nil")
	}
	if got.Name != "Schools" || got.Color != "#1277e1" || got.ZIndex != 5 {
		t.Errorf("got %+v", got)
	}
	if !got.Active {
		t.Error("Active: got false, want true")
	}

	got.Name = "Grade Schools"
	if err := s.UpdateGroup(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got2, _ := s.GetGroup(ctx, g.ID)
	if got2.Name != "Grade Schools" {
		t.Errorf("Name after update: got %q", got2.Name)
	}

	if err := s.SetGroupActive(ctx, g.ID, false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	got3, _ := s.GetGroup(ctx, g.ID)
	if got3.Active {
		t.Error("Active after SetGroupActive(false): got true")
	}

	groups, err := s.ListGroups(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("list: got %d groups, want 1", len(groups))
	}

	if err := s.DeleteGroup(ctx, g.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got4, _ := s.GetGroup(ctx, g.ID)
	if got4 != nil {
		t.Error("get after delete: expected nil")
	}
}

func TestPOICRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := seedGroup(t, s, "Homes")

	p := &POI{
		GroupID: g.ID,
		Label:   "Craftsman on 5th",
		Lat:     47.606209,
		Lng:     -122.332069,
		Address: "500 5th Ave, Seattle, WA",
		URL:     "https://example.com/listing/123",
	}
	if err := s.InsertPOI(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !strings.HasPrefix(p.ID, "poi_") {
		t.Errorf("generated ID %q lacks poi_ prefix", p.ID)
	}

	got, err := s.GetPOI(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("get: got nil")
	}
	if got.Label != "Craftsman on 5th" {
		t.Errorf("Label: got %q", got.Label)
	}
	if got.Lat != 47.606209 || got.Lng != -122.332069 {
		t.Errorf("coords: got %v,%v", got.Lat, got.Lng)
	}

	got.Note = "open house sunday"
	if err := s.UpdatePOI(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got2, _ := s.GetPOI(ctx, p.ID)
	if got2.Note != "open house sunday" {
		t.Errorf("Note after update: got %q", got2.Note)
	}

	pois, err := s.ListPOIs(ctx, g.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pois) != 1 {
		t.Fatalf("list: got %d, want 1", len(pois))
	}

	if err := s.DeletePOI(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got3, _ := s.GetPOI(ctx, p.ID)
	if got3 != nil {
		t.Error("get after delete: expected nil")
	}
}

func TestPOIValidation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := seedGroup(t, s, "g")

	cases := []struct {
		name string
		poi  POI
	}{
		{"empty label", POI{GroupID: g.ID, Lat: 1, Lng: 1}},
		{"missing group", POI{Label: "x", Lat: 1, Lng: 1}},
		{"lat high", POI{GroupID: g.ID, Label: "x", Lat: 90.1, Lng: 0}},
		{"lat nan", POI{GroupID: g.ID, Label: "x", Lat: math.NaN(), Lng: 0}},
		{"lng low", POI{GroupID: g.ID, Label: "x", Lat: 0, Lng: -180.5}},
		{"lng inf", POI{GroupID: g.ID, Label: "x", Lat: 0, Lng: math.Inf(1)}},
	}
	for _, tc := range cases {
		p := tc.poi
		if err := s.InsertPOI(ctx, &p); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v, want ErrInvalid", tc.name, err)
		}
	}
}

func TestPOISanitizesMarkup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := seedGroup(t, s, "g")

	p := &POI{
		GroupID: g.ID,
		Label:   `<b>Corner</b> lot<script>alert(1)</script>`,
		Note:    `<img src=x onerror=alert(1)>quiet street`,
		Lat:     40.0,
		Lng:     -105.0,
	}
	if err := s.InsertPOI(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, _ := s.GetPOI(ctx, p.ID)
	if got.Label != "Corner lot" {
		t.Errorf("Label: got %q, want markup stripped", got.Label)
	}
	if got.Note != "quiet street" {
		t.Errorf("Note: got %q, want markup stripped", got.Note)
	}
}

func TestDeleteGroupCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := seedGroup(t, s, "g")

	p := &POI{GroupID: g.ID, Label: "x", Lat: 1, Lng: 2}
	if err := s.InsertPOI(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteGroup(ctx, g.ID); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	got, err := s.GetPOI(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("poi survived group delete")
	}
}

func TestInWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	active := seedGroup(t, s, "active")
	inactive := &Group{Name: "inactive", Active: false}
	if err := s.InsertGroup(ctx, inactive); err != nil {
		t.Fatal(err)
	}

	seed := []POI{
		{GroupID: active.ID, Label: "inside", Lat: 47.5, Lng: -122.3},
		{GroupID: active.ID, Label: "north of window", Lat: 48.5, Lng: -122.3},
		{GroupID: active.ID, Label: "east of window", Lat: 47.5, Lng: -121.0},
		{GroupID: inactive.ID, Label: "inactive group", Lat: 47.5, Lng: -122.3},
	}
	for i := range seed {
		if err := s.InsertPOI(ctx, &seed[i]); err != nil {
			t.Fatal(err)
		}
	}

	rect := &bounds.Rect{North: 48.0, South: 47.0, East: -122.0, West: -123.0}
	markers, err := s.InWindow(ctx, WindowOptions{Bounds: rect})
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(markers) != 1 {
		t.Fatalf("got %d markers, want 1", len(markers))
	}
	if markers[0].Label != "inside" {
		t.Errorf("marker: got %q", markers[0].Label)
	}
	if markers[0].GroupName != "active" {
		t.Errorf("group name: got %q", markers[0].GroupName)
	}
}

func TestInWindowAntimeridian(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := seedGroup(t, s, "g")

	seed := []POI{
		{GroupID: g.ID, Label: "west side of seam", Lat: 0, Lng: 175.0},
		{GroupID: g.ID, Label: "east side of seam", Lat: 0, Lng: -175.0},
		{GroupID: g.ID, Label: "far away", Lat: 0, Lng: 0},
	}
	for i := range seed {
		if err := s.InsertPOI(ctx, &seed[i]); err != nil {
			t.Fatal(err)
		}
	}

	// East < west: the window straddles the antimeridian.
	rect := &bounds.Rect{North: 10, South: -10, East: -170.0, West: 170.0}
	markers, err := s.InWindow(ctx, WindowOptions{Bounds: rect})
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(markers) != 2 {
		t.Fatalf("got %d markers, want 2", len(markers))
	}
	for _, m := range markers {
		if m.Label == "far away" {
			t.Error("lng 0 matched a seam-straddling window")
		}
	}
}

func TestInWindowLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	g := seedGroup(t, s, "g")

	for i := 0; i < 5; i++ {
		p := POI{GroupID: g.ID, Label: "p", Lat: float64(i), Lng: 0}
		if err := s.InsertPOI(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}
	markers, err := s.InWindow(ctx, WindowOptions{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(markers) != 3 {
		t.Fatalf("got %d markers, want 3", len(markers))
	}
}

func TestMutationsBumpRevision(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	r0, err := s.Revision(ctx)
	if err != nil {
		t.Fatal(err)
	}
	g := seedGroup(t, s, "g")
	r1, _ := s.Revision(ctx)
	if r1 != r0+1 {
		t.Errorf("revision after group insert: %d -> %d", r0, r1)
	}

	p := &POI{GroupID: g.ID, Label: "x", Lat: 1, Lng: 2}
	if err := s.InsertPOI(ctx, p); err != nil {
		t.Fatal(err)
	}
	r2, _ := s.Revision(ctx)
	if r2 != r1+1 {
		t.Errorf("revision after poi insert: %d -> %d", r1, r2)
	}

	if err := s.DeletePOI(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	r3, _ := s.Revision(ctx)
	if r3 != r2+1 {
		t.Errorf("revision after poi delete: %d -> %d", r2, r3)
	}
}

func TestExportImportRoundtrip(t *testing.T) {
	src := testStore(t)
	ctx := context.Background()
	g := seedGroup(t, src, "Parks")
	p := &POI{GroupID: g.ID, Label: "Discovery Park", Lat: 47.6573, Lng: -122.4057}
	if err := src.InsertPOI(ctx, p); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := src.Export(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := testStore(t)
	res, err := dst.Import(ctx, &buf, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Groups != 1 || res.POIs != 1 {
		t.Fatalf("import counts: %+v", res)
	}

	got, err := dst.GetPOI(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Label != "Discovery Park" || got.GroupID != g.ID {
		t.Errorf("imported poi: %+v", got)
	}
}

func TestImportReplaceClears(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	old := seedGroup(t, s, "old")
	if err := s.InsertPOI(ctx, &POI{GroupID: old.ID, Label: "stale", Lat: 1, Lng: 1}); err != nil {
		t.Fatal(err)
	}

	doc := `{"groups":[{"id":"grp_new","name":"new","active":true}],
		"pois":[{"id":"poi_new","group_id":"grp_new","label":"fresh","lat":2,"lng":3}]}`
	res, err := s.Import(ctx, strings.NewReader(doc), true)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Groups != 1 || res.POIs != 1 {
		t.Fatalf("import counts: %+v", res)
	}

	n, err := s.CountPOIs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("poi count after replace: got %d, want 1", n)
	}
	if g, _ := s.GetGroup(ctx, old.ID); g != nil {
		t.Error("old group survived replace import")
	}
}

func TestImportRejectsInvalid(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	doc := `{"groups":[{"id":"grp_a","name":"a","active":true}],
		"pois":[{"group_id":"grp_a","label":"bad","lat":95,"lng":0}]}`
	if _, err := s.Import(ctx, strings.NewReader(doc), false); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	// Validation happens before the transaction, so nothing landed.
	groups, err := s.ListGroups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 0 {
		t.Errorf("groups after failed import: %d, want 0", len(groups))
	}
}
