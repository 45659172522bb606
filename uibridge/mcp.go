package uibridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/arpentry/poiportal/kit"
	"github.com/arpentry/poiportal/poistore"
)

// RegisterMCP registers the portal tools on an MCP server. The tool set
// mirrors the HTTP API: POI and group CRUD, session status, site
// toggles and diagnostics.
func (b *Bridge) RegisterMCP(srv *mcp.Server) {
	b.registerPOIAddTool(srv)
	b.registerPOIListTool(srv)
	b.registerPOIDeleteTool(srv)
	b.registerGroupAddTool(srv)
	b.registerGroupListTool(srv)
	b.registerGroupSetActiveTool(srv)
	b.registerOverlayStatusTool(srv)
	b.registerBoundsCurrentTool(srv)
	b.registerSiteListTool(srv)
	b.registerSiteToggleTool(srv)
	b.registerSiteReportTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- poi_add ---

type poiAddRequest struct {
	GroupID string  `json:"group_id"`
	Label   string  `json:"label"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
	URL     string  `json:"url,omitempty"`
	Note    string  `json:"note,omitempty"`
}

func (b *Bridge) registerPOIAddTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "poi_add",
		Description: "Add a point of interest. It appears on every attached map page within a second.",
		InputSchema: inputSchema(map[string]any{
			"group_id": map[string]any{"type": "string", "description": "Group the POI belongs to"},
			"label":    map[string]any{"type": "string", "description": "Marker label"},
			"lat":      map[string]any{"type": "number", "description": "Latitude (-90..90)"},
			"lng":      map[string]any{"type": "number", "description": "Longitude (-180..180)"},
			"address":  map[string]any{"type": "string", "description": "Street address"},
			"url":      map[string]any{"type": "string", "description": "Link opened from the marker"},
			"note":     map[string]any{"type": "string", "description": "Tooltip note"},
		}, []string{"group_id", "label", "lat", "lng"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*poiAddRequest)
		p := &poistore.POI{
			GroupID: r.GroupID,
			Label:   r.Label,
			Lat:     r.Lat,
			Lng:     r.Lng,
			Address: r.Address,
			URL:     r.URL,
			Note:    r.Note,
		}
		if err := b.pois.InsertPOI(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r poiAddRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- poi_list ---

func (b *Bridge) registerPOIListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "poi_list",
		Description: "List points of interest, optionally filtered by group.",
		InputSchema: inputSchema(map[string]any{
			"group_id": map[string]any{"type": "string", "description": "Restrict to one group"},
		}, nil),
	}

	type listReq struct {
		GroupID string `json:"group_id"`
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*listReq)
		return b.pois.ListPOIs(ctx, r.GroupID)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r listReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- poi_delete ---

func (b *Bridge) registerPOIDeleteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "poi_delete",
		Description: "Delete a point of interest.",
		InputSchema: inputSchema(map[string]any{
			"poi_id": map[string]any{"type": "string", "description": "POI ID to delete"},
		}, []string{"poi_id"}),
	}

	type delReq struct {
		POIID string `json:"poi_id"`
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*delReq)
		if err := b.pois.DeletePOI(ctx, r.POIID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "deleted", "poi_id": r.POIID}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r delReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- group_add ---

func (b *Bridge) registerGroupAddTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "group_add",
		Description: "Create a POI group. Groups carry marker styling and can be toggled on and off.",
		InputSchema: inputSchema(map[string]any{
			"name":    map[string]any{"type": "string", "description": "Group name"},
			"color":   map[string]any{"type": "string", "description": "Marker color (CSS value)"},
			"z_index": map[string]any{"type": "integer", "description": "Stacking order for this group's markers"},
		}, []string{"name"}),
	}

	type groupReq struct {
		Name   string `json:"name"`
		Color  string `json:"color"`
		ZIndex int    `json:"z_index"`
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*groupReq)
		g := &poistore.Group{
			Name:   r.Name,
			Color:  r.Color,
			ZIndex: r.ZIndex,
			Active: true,
		}
		if err := b.pois.InsertGroup(ctx, g); err != nil {
			return nil, err
		}
		return g, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r groupReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- group_list ---

func (b *Bridge) registerGroupListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "group_list",
		Description: "List POI groups.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return b.pois.ListGroups(ctx)
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- group_set_active ---

func (b *Bridge) registerGroupSetActiveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "group_set_active",
		Description: "Show or hide a POI group on every attached page.",
		InputSchema: inputSchema(map[string]any{
			"group_id": map[string]any{"type": "string", "description": "Group ID"},
			"active":   map[string]any{"type": "boolean", "description": "true to show, false to hide"},
		}, []string{"group_id", "active"}),
	}

	type activeReq struct {
		GroupID string `json:"group_id"`
		Active  bool   `json:"active"`
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*activeReq)
		if err := b.pois.SetGroupActive(ctx, r.GroupID, r.Active); err != nil {
			return nil, err
		}
		return map[string]any{"group_id": r.GroupID, "active": r.Active}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r activeReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- overlay_status ---

func (b *Bridge) registerOverlayStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "overlay_status",
		Description: "Report every session: captured map instances, last published viewport, marker state.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		if b.watcher == nil {
			return nil, fmt.Errorf("watcher not running")
		}
		return b.watcher.Status(), nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- bounds_current ---

func (b *Bridge) registerBoundsCurrentTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "bounds_current",
		Description: "Get the current arbitrated viewport of one session.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session (page) ID"},
		}, []string{"session_id"}),
	}

	type boundsReq struct {
		SessionID string `json:"session_id"`
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*boundsReq)
		if b.watcher == nil {
			return nil, fmt.Errorf("watcher not running")
		}
		sess, ok := b.watcher.Session(r.SessionID)
		if !ok {
			return nil, fmt.Errorf("unknown session %q", r.SessionID)
		}
		return sess.Arbiter().State(), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r boundsReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- site_list ---

func (b *Bridge) registerSiteListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "site_list",
		Description: "List site profiles and their enablement.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		sites, err := b.sites.List(ctx)
		if err != nil {
			return nil, err
		}
		return toSiteDTOs(sites), nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- site_toggle ---

func (b *Bridge) registerSiteToggleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "site_toggle",
		Description: "Enable or disable the portal on one site.",
		InputSchema: inputSchema(map[string]any{
			"domain":  map[string]any{"type": "string", "description": "Site domain (e.g. redfin.com)"},
			"enabled": map[string]any{"type": "boolean", "description": "true to enable"},
		}, []string{"domain", "enabled"}),
	}

	type toggleReq struct {
		Domain  string `json:"domain"`
		Enabled bool   `json:"enabled"`
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*toggleReq)
		if err := b.sites.SetEnabled(ctx, r.Domain, r.Enabled); err != nil {
			return nil, err
		}
		return map[string]any{"domain": r.Domain, "enabled": r.Enabled}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r toggleReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- site_report ---

func (b *Bridge) registerSiteReportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "site_report",
		Description: "Capture a diagnostic report of one session's page: container candidates and readable content, for authoring selectors when no map was found.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session (page) ID"},
		}, []string{"session_id"}),
	}

	type reportReq struct {
		SessionID string `json:"session_id"`
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*reportReq)
		if b.watcher == nil {
			return nil, fmt.Errorf("watcher not running")
		}
		return b.watcher.SiteReport(ctx, r.SessionID)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r reportReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
