package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// applyResourceBlocking sets up request interception to drop the
// configured resource classes. Scripts are never blocked: the map
// libraries themselves arrive as scripts.
func applyResourceBlocking(page *rod.Page, types []string) error {
	blockSet := make(map[string]bool, len(types))
	for _, t := range types {
		blockSet[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()

	router.MustAdd("*", func(ctx *rod.Hijack) {
		resType := string(ctx.Request.Type())
		reqURL := ctx.Request.URL().String()

		if shouldBlock(blockSet, resType, reqURL) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	go router.Run()

	return nil
}

func shouldBlock(blockSet map[string]bool, resType, reqURL string) bool {
	if blockSet["tiles"] && isTileURL(reqURL) {
		return true
	}

	switch strings.ToLower(resType) {
	case "script":
		return false
	case "image":
		return blockSet["images"]
	case "font":
		return blockSet["fonts"]
	case "media":
		return blockSet["media"]
	case "stylesheet":
		return blockSet["stylesheets"]
	}

	return blockSet[strings.ToLower(resType)]
}

// tileFragments match the tile endpoints of the map stacks the agent
// meets in practice. Viewport events fire with or without tile pixels,
// so dropping these saves most of a map page's bandwidth.
var tileFragments = []string{
	"maps.googleapis.com/maps/vt",
	"khms0.googleapis.com",
	"khms1.googleapis.com",
	"api.mapbox.com/v4/",
	"tiles.mapbox.com",
	"api.mapbox.com/raster/",
	"basemaps.cartocdn.com",
	"tile.openstreetmap.org",
}

func isTileURL(raw string) bool {
	lower := strings.ToLower(raw)
	for _, frag := range tileFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
