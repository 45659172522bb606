package uibridge

import (
	"time"

	"github.com/samber/lo"

	"github.com/arpentry/poiportal/bounds"
	"github.com/arpentry/poiportal/overlay"
	"github.com/arpentry/poiportal/siteconfig"
)

// EntryDTO is the API shape of a registered overlay instance.
type EntryDTO struct {
	ID         string       `json:"id"`
	InstanceID string       `json:"instance_id"`
	Kind       string       `json:"kind"`
	Domain     string       `json:"domain"`
	Bounds     *bounds.Rect `json:"bounds,omitempty"`
	Active     bool         `json:"active"`
	AgeMS      int64        `json:"age_ms"`
}

func toEntryDTOs(entries []overlay.Entry, now time.Time) []EntryDTO {
	return lo.Map(entries, func(e overlay.Entry, _ int) EntryDTO {
		return EntryDTO{
			ID:         e.ID,
			InstanceID: e.Handle.InstanceID,
			Kind:       e.Handle.Kind,
			Domain:     e.Domain,
			Bounds:     e.Bounds,
			Active:     e.Active,
			AgeMS:      now.Sub(e.LastUpdate).Milliseconds(),
		}
	})
}

// SiteDTO is the API shape of a site profile, flattened for listings.
type SiteDTO struct {
	Domain  string `json:"domain"`
	MapType string `json:"map_type"`
	Enabled bool   `json:"enabled"`
	Default bool   `json:"default"`
}

func toSiteDTOs(sites []siteconfig.Site) []SiteDTO {
	return lo.Map(sites, func(s siteconfig.Site, _ int) SiteDTO {
		return SiteDTO{
			Domain:  s.Domain,
			MapType: string(s.MapType),
			Enabled: s.Enabled,
			Default: s.IsDefault(),
		}
	})
}
