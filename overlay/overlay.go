// Package overlay tracks captured map instances for one page session.
//
// The page-side probe owns the JavaScript objects; Go holds only the
// in-page instance IDs, so a registry entry never keeps a map alive
// after the page lets go of it. Each entry freezes its domain at
// registration, carries the last viewport reported for that instance,
// and owns the teardown of its in-page marker layer.
package overlay

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arpentry/poiportal/bounds"
	"github.com/arpentry/poiportal/idgen"
	"github.com/arpentry/poiportal/siteconfig"
)

// DefaultMaxAge is how long an entry may go without a bounds update
// before Cleanup evicts it.
const DefaultMaxAge = 5 * time.Minute

// Handle identifies a captured in-page map instance.
type Handle struct {
	InstanceID string `json:"instance_id"` // assigned in-page at capture
	Kind       string `json:"kind"`        // "google", "mapbox", or "unknown"
	FrameID    string `json:"frame_id"`    // CDP frame owning the instance
}

// Renderer controls one entry's in-page marker layer.
type Renderer interface {
	// Update replaces the rendered marker set with the serialized
	// payload.
	Update(ctx context.Context, data []byte) error
	// Teardown removes the marker layer from the page. Called once on
	// eviction.
	Teardown(ctx context.Context) error
}

// Entry is a snapshot of one registered instance.
type Entry struct {
	ID         string       `json:"id"`
	Handle     Handle       `json:"handle"`
	Domain     string       `json:"domain"`
	Bounds     *bounds.Rect `json:"bounds,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	LastUpdate time.Time    `json:"last_update"`
	Active     bool         `json:"active"`
}

type entry struct {
	id         string
	handle     Handle
	domain     string
	renderer   Renderer
	bounds     *bounds.Rect
	createdAt  time.Time
	lastUpdate time.Time
	active     bool
}

func (e *entry) snapshot() Entry {
	var b *bounds.Rect
	if e.bounds != nil {
		r := *e.bounds
		b = &r
	}
	return Entry{
		ID:         e.id,
		Handle:     e.handle,
		Domain:     e.domain,
		Bounds:     b,
		CreatedAt:  e.createdAt,
		LastUpdate: e.lastUpdate,
		Active:     e.active,
	}
}

// Registry is the per-session table of captured instances.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry // keyed by Handle.InstanceID

	resolve  func(Handle) string
	liveness func(context.Context, Handle) bool
	now      func() time.Time
	ids      idgen.Generator
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDomainResolver installs the fallback used when registration
// reports an empty domain; typically backed by the CDP frame tree. It
// runs at registration only.
func WithDomainResolver(fn func(Handle) string) RegistryOption {
	return func(r *Registry) { r.resolve = fn }
}

// WithLivenessProbe installs the per-entry container check used by
// Cleanup. Entries whose probe reports false are evicted regardless of
// age. Without a probe, eviction is purely age-based.
func WithLivenessProbe(fn func(context.Context, Handle) bool) RegistryOption {
	return func(r *Registry) { r.liveness = fn }
}

// WithRegistryClock overrides the time source for tests.
func WithRegistryClock(fn func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = fn }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: map[string]*entry{},
		now:     time.Now,
		ids:     idgen.Entry,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records a captured instance. Registration is idempotent per
// instance identity: a known InstanceID only refreshes LastUpdate and
// keeps everything else, including the frozen domain and the renderer.
// For a new instance, an empty reported domain is filled once from the
// fallback resolver; afterwards the domain never changes. Returns the
// entry snapshot and whether it was newly created.
func (r *Registry) Register(h Handle, domain string, ren Renderer) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[h.InstanceID]; ok {
		e.lastUpdate = r.now()
		return e.snapshot(), false
	}

	if domain == "" && r.resolve != nil {
		domain = r.resolve(h)
	}
	domain = siteconfig.Normalize(domain)

	now := r.now()
	e := &entry{
		id:         r.ids(),
		handle:     h,
		domain:     domain,
		renderer:   ren,
		createdAt:  now,
		lastUpdate: now,
		active:     true,
	}
	r.entries[h.InstanceID] = e
	r.logger.Info("overlay: instance registered",
		"entry", e.id, "instance", h.InstanceID, "kind", h.Kind, "domain", domain)
	return e.snapshot(), true
}

// UpdateBounds records a viewport for an instance and refreshes
// LastUpdate. The domain and renderer are untouched. Returns false for
// an unknown instance.
func (r *Registry) UpdateBounds(instanceID string, rect bounds.Rect) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[instanceID]
	if !ok {
		return false
	}
	rc := rect
	e.bounds = &rc
	e.lastUpdate = r.now()
	return true
}

// SetActive flips an entry's active flag. Inactive entries keep
// tracking bounds but drop out of ActiveEntries; used when a page's
// native marker path takes over rendering. Returns false for an
// unknown instance.
func (r *Registry) SetActive(instanceID string, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[instanceID]
	if !ok {
		return false
	}
	e.active = active
	return true
}

// Renderer returns the renderer registered for an instance, or nil.
func (r *Registry) Renderer(instanceID string) Renderer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[instanceID]; ok {
		return e.renderer
	}
	return nil
}

// Cleanup evicts entries whose container is gone or whose last update
// is older than maxAge (DefaultMaxAge when zero). Each eviction tears
// down the entry's marker layer first. Returns snapshots of the
// evicted entries.
func (r *Registry) Cleanup(ctx context.Context, maxAge time.Duration) []Entry {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	type evictee struct {
		snap Entry
		ren  Renderer
	}

	r.mu.Lock()
	now := r.now()
	var evicted []evictee
	for key, e := range r.entries {
		stale := now.Sub(e.lastUpdate) > maxAge
		dead := false
		if r.liveness != nil && !r.liveness(ctx, e.handle) {
			dead = true
		}
		if !stale && !dead {
			continue
		}
		delete(r.entries, key)
		evicted = append(evicted, evictee{snap: e.snapshot(), ren: e.renderer})
		r.logger.Info("overlay: entry evicted",
			"entry", e.id, "instance", key, "stale", stale, "detached", dead)
	}
	r.mu.Unlock()

	// Teardown happens outside the lock; a slow page eval must not
	// block registrations.
	out := make([]Entry, 0, len(evicted))
	for _, ev := range evicted {
		if ev.ren != nil {
			if err := ev.ren.Teardown(ctx); err != nil {
				r.logger.Warn("overlay: renderer teardown failed",
					"entry", ev.snap.ID, "error", err)
			}
		}
		out = append(out, ev.snap)
	}
	return out
}

// ActiveEntries returns snapshots of entries still rendering, ordered
// by creation time.
func (r *Registry) ActiveEntries() []Entry {
	return r.collect(func(e *entry) bool { return e.active })
}

// Entries returns snapshots of all entries, ordered by creation time.
func (r *Registry) Entries() []Entry {
	return r.collect(func(*entry) bool { return true })
}

// ByDomain returns entries whose frozen domain equals the query or is a
// subdomain of it, after normalization on both sides.
func (r *Registry) ByDomain(domain string) []Entry {
	q := siteconfig.Normalize(domain)
	if q == "" {
		return nil
	}
	return r.collect(func(e *entry) bool {
		return e.domain == q || strings.HasSuffix(e.domain, "."+q)
	})
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) collect(keep func(*entry) bool) []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, e.snapshot())
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
