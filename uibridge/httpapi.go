package uibridge

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arpentry/poiportal/bounds"
	"github.com/arpentry/poiportal/mapwatch/signal"
	"github.com/arpentry/poiportal/overlay"
	"github.com/arpentry/poiportal/poistore"
	"github.com/arpentry/poiportal/shield"
	"github.com/arpentry/poiportal/siteconfig"
)

// sessionView is what the handlers need from a mapwatch session.
type sessionView interface {
	Status() signal.Status
	Arbiter() *bounds.Arbiter
	Registry() *overlay.Registry
}

// Router builds the control API. POI and site mutations go straight to
// the stores; the watcher picks them up through the data_version watch,
// so no handler talks to the sessions directly.
func (b *Bridge) Router() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(b.limiter) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(b.requireToken)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", b.handleStatus)
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/bounds", b.handleSessionBounds)
				r.Get("/entries", b.handleSessionEntries)
				r.Get("/report", b.handleSessionReport)
			})

			r.Route("/groups", func(r chi.Router) {
				r.Get("/", b.handleGroupList)
				r.Post("/", b.handleGroupAdd)
				r.Patch("/{id}", b.handleGroupPatch)
				r.Delete("/{id}", b.handleGroupDelete)
			})
			r.Route("/pois", func(r chi.Router) {
				r.Get("/", b.handlePOIList)
				r.Post("/", b.handlePOIAdd)
				r.Put("/{id}", b.handlePOIUpdate)
				r.Delete("/{id}", b.handlePOIDelete)
			})
			r.Get("/export", b.handleExport)
			r.Post("/import", b.handleImport)

			r.Route("/sites", func(r chi.Router) {
				r.Get("/", b.handleSiteList)
				r.Put("/{domain}", b.handleSiteUpsert)
				r.Post("/{domain}/enabled", b.handleSiteEnabled)
				r.Delete("/{domain}", b.handleSiteDelete)
			})

			r.Get("/events", b.hub.ServeHTTP)
		})
	})

	return r
}

func (b *Bridge) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.authorize(r) {
			writeJSON(w, 401, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- sessions ---

func (b *Bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	if b.watcher == nil {
		writeJSON(w, 200, []any{})
		return
	}
	writeJSON(w, 200, b.watcher.Status())
}

func (b *Bridge) handleSessionBounds(w http.ResponseWriter, r *http.Request) {
	sess, ok := b.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, 200, sess.Arbiter().State())
}

func (b *Bridge) handleSessionEntries(w http.ResponseWriter, r *http.Request) {
	sess, ok := b.session(w, r)
	if !ok {
		return
	}
	st := sess.Status()
	entries := toEntryDTOs(sess.Registry().Entries(), timestampTime(st.Timestamp))
	writeJSON(w, 200, entries)
}

func (b *Bridge) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	if b.watcher == nil {
		writeJSON(w, 503, map[string]string{"error": "watcher not running"})
		return
	}
	rep, err := b.watcher.SiteReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, 404, err)
		return
	}
	writeJSON(w, 200, rep)
}

func (b *Bridge) session(w http.ResponseWriter, r *http.Request) (sess sessionView, ok bool) {
	if b.watcher == nil {
		writeJSON(w, 503, map[string]string{"error": "watcher not running"})
		return nil, false
	}
	s, found := b.watcher.Session(chi.URLParam(r, "id"))
	if !found {
		writeJSON(w, 404, map[string]string{"error": "unknown session"})
		return nil, false
	}
	return s, true
}

// --- groups ---

func (b *Bridge) handleGroupList(w http.ResponseWriter, r *http.Request) {
	groups, err := b.pois.ListGroups(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, groups)
}

func (b *Bridge) handleGroupAdd(w http.ResponseWriter, r *http.Request) {
	var g poistore.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := b.pois.InsertGroup(r.Context(), &g); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, 201, g)
}

func (b *Bridge) handleGroupPatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if req.Active == nil {
		writeJSON(w, 400, map[string]string{"error": "active is required"})
		return
	}
	id := chi.URLParam(r, "id")
	if err := b.pois.SetGroupActive(r.Context(), id, *req.Active); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"id": id, "active": *req.Active})
}

func (b *Bridge) handleGroupDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := b.pois.DeleteGroup(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted", "id": id})
}

// --- pois ---

func (b *Bridge) handlePOIList(w http.ResponseWriter, r *http.Request) {
	pois, err := b.pois.ListPOIs(r.Context(), r.URL.Query().Get("group"))
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, pois)
}

func (b *Bridge) handlePOIAdd(w http.ResponseWriter, r *http.Request) {
	var p poistore.POI
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := b.pois.InsertPOI(r.Context(), &p); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, 201, p)
}

func (b *Bridge) handlePOIUpdate(w http.ResponseWriter, r *http.Request) {
	var p poistore.POI
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, 400, err)
		return
	}
	p.ID = chi.URLParam(r, "id")
	if err := b.pois.UpdatePOI(r.Context(), &p); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, 200, p)
}

func (b *Bridge) handlePOIDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := b.pois.DeletePOI(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted", "id": id})
}

func (b *Bridge) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="pois.json"`)
	if err := b.pois.Export(r.Context(), w); err != nil {
		b.logger.Error("uibridge: export failed", "error", err)
	}
}

func (b *Bridge) handleImport(w http.ResponseWriter, r *http.Request) {
	replace, _ := strconv.ParseBool(r.URL.Query().Get("replace"))
	res, err := b.pois.Import(r.Context(), r.Body, replace)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	writeJSON(w, 200, res)
}

// --- sites ---

func (b *Bridge) handleSiteList(w http.ResponseWriter, r *http.Request) {
	sites, err := b.sites.List(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, toSiteDTOs(sites))
}

func (b *Bridge) handleSiteUpsert(w http.ResponseWriter, r *http.Request) {
	var site siteconfig.Site
	if err := json.NewDecoder(r.Body).Decode(&site); err != nil {
		writeError(w, 400, err)
		return
	}
	site.Domain = siteconfig.Normalize(chi.URLParam(r, "domain"))
	if err := b.sites.Upsert(r.Context(), site); err != nil {
		writeError(w, 400, err)
		return
	}
	writeJSON(w, 200, site)
}

func (b *Bridge) handleSiteEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	domain := siteconfig.Normalize(chi.URLParam(r, "domain"))
	if err := b.sites.SetEnabled(r.Context(), domain, req.Enabled); err != nil {
		writeError(w, 404, err)
		return
	}
	writeJSON(w, 200, map[string]any{"domain": domain, "enabled": req.Enabled})
}

func (b *Bridge) handleSiteDelete(w http.ResponseWriter, r *http.Request) {
	domain := siteconfig.Normalize(chi.URLParam(r, "domain"))
	if err := b.sites.Delete(r.Context(), domain); err != nil {
		writeError(w, 400, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted", "domain": domain})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeStoreError maps store errors to status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, poistore.ErrInvalid):
		writeError(w, 400, err)
	case strings.Contains(err.Error(), "not found"):
		writeError(w, 404, err)
	default:
		writeError(w, 500, err)
	}
}

func timestampTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
