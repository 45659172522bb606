package bounds

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// LockPriority is the rank at or above which a source locks out
	// lower-ranked sources until it goes silent.
	LockPriority = 80

	// ThrashCeiling is the rank at or below which a source is treated
	// as a straggler: it may not overwrite a higher-trust value that
	// just landed.
	ThrashCeiling = 50

	// DefaultSilenceTimeout is how long a locking source may stay
	// silent before lower-ranked sources are allowed back in.
	DefaultSilenceTimeout = 5000 * time.Millisecond

	// DefaultThrashWindow is how long a fresh high-trust value is
	// shielded from straggler overwrites.
	DefaultThrashWindow = 500 * time.Millisecond
)

// Outcome classifies what the arbiter did with a candidate.
type Outcome int

const (
	Accepted        Outcome = iota // stored and emitted
	Unchanged                      // same viewport already published, nothing emitted
	RejectedInvalid                // north edge not finite
	RejectedLocked                 // a high-trust source still holds the lock
	RejectedThrash                 // straggler inside the thrash window
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Unchanged:
		return "unchanged"
	case RejectedInvalid:
		return "rejected-invalid"
	case RejectedLocked:
		return "rejected-locked"
	case RejectedThrash:
		return "rejected-thrash"
	default:
		return "unknown"
	}
}

// Source carries per-candidate metadata that rides along into the
// emitted update but plays no part in arbitration.
type Source struct {
	URL      string // page URL the signal was observed on
	IsIframe bool   // signal originated in a non-top frame
}

// Update is what listeners receive when a candidate wins. Field names
// match the bounds-update wire message.
type Update struct {
	Bounds    Rect       `json:"bounds"`
	Method    Provenance `json:"method"`
	URL       string     `json:"url,omitempty"`
	IsIframe  bool       `json:"isIframe"`
	Timestamp int64      `json:"timestamp"` // epoch millis
}

// Snapshot is the arbiter's externally visible state.
type Snapshot struct {
	Bounds    *Rect      `json:"bounds,omitempty"`
	Method    Provenance `json:"method,omitempty"`
	Priority  int        `json:"priority"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Arbiter is the single authority on the current viewport for one page.
// Sources push candidates tagged with a Provenance; the arbiter applies
// the priority, lock and thrash rules in a fixed order and notifies
// listeners only on real changes. Thread-safe: sources fire from CDP
// event goroutines and from the orchestration tick concurrently.
type Arbiter struct {
	mu           sync.Mutex
	last         *Rect
	lastMethod   Provenance
	lastPriority int
	lastUpdate   time.Time

	silence   time.Duration
	thrashWin time.Duration
	overrides map[Provenance]int

	now       func() time.Time // injectable clock for testing
	logger    *slog.Logger
	listeners []func(Update)
}

// ArbiterOption configures an Arbiter.
type ArbiterOption func(*Arbiter)

// WithSilenceTimeout overrides the lock silence timeout.
func WithSilenceTimeout(d time.Duration) ArbiterOption {
	return func(a *Arbiter) { a.silence = d }
}

// WithThrashWindow overrides the straggler protection window.
func WithThrashWindow(d time.Duration) ArbiterOption {
	return func(a *Arbiter) { a.thrashWin = d }
}

// WithPriority registers a custom rank for a provenance tag. Site
// adapter plugins use this to slot their signals between the built-in
// ranks without editing the table.
func WithPriority(p Provenance, rank int) ArbiterOption {
	return func(a *Arbiter) {
		if a.overrides == nil {
			a.overrides = make(map[Provenance]int)
		}
		a.overrides[p] = rank
	}
}

// WithArbiterClock sets a custom clock function (for testing).
func WithArbiterClock(fn func() time.Time) ArbiterOption {
	return func(a *Arbiter) { a.now = fn }
}

// WithArbiterLogger sets a custom logger.
func WithArbiterLogger(l *slog.Logger) ArbiterOption {
	return func(a *Arbiter) { a.logger = l }
}

// NewArbiter creates an arbiter with the canonical rule constants:
// lock at rank 80, 5s silence timeout, 500ms thrash window.
func NewArbiter(opts ...ArbiterOption) *Arbiter {
	a := &Arbiter{
		silence:   DefaultSilenceTimeout,
		thrashWin: DefaultThrashWindow,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// OnUpdate registers a listener invoked for every accepted candidate.
// Listeners run outside the arbiter lock, in registration order.
func (a *Arbiter) OnUpdate(fn func(Update)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Update runs one candidate through the arbitration rules and reports
// the outcome. Accepted candidates are stored and emitted to listeners.
func (a *Arbiter) Update(r Rect, prov Provenance, src Source) Outcome {
	out, upd, listeners := a.decide(r, prov, src)
	if out == Accepted {
		for _, fn := range listeners {
			fn(upd)
		}
	}
	return out
}

func (a *Arbiter) decide(r Rect, prov Provenance, src Source) (Outcome, Update, []func(Update)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()

	if !r.Valid() {
		a.logger.Debug("bounds: candidate rejected, north not finite", "method", prov)
		return RejectedInvalid, Update{}, nil
	}

	prio := a.priority(prov)

	// Lock rule: a high-trust source holds the viewport until it has
	// been silent for the full timeout. Once the timeout passes, the
	// stale rank is forgotten entirely so it no longer outranks anyone.
	if a.lastPriority >= LockPriority && prio < LockPriority {
		if now.Sub(a.lastUpdate) < a.silence {
			a.logger.Debug("bounds: candidate rejected, lock held",
				"method", prov, "priority", prio, "holder", a.lastPriority)
			return RejectedLocked, Update{}, nil
		}
		a.lastPriority = 0
	}

	// Thrash rule: stragglers may not overwrite a higher-trust value
	// that landed inside the window.
	if prio <= ThrashCeiling && a.lastPriority > ThrashCeiling && now.Sub(a.lastUpdate) < a.thrashWin {
		a.logger.Debug("bounds: candidate rejected, thrash window",
			"method", prov, "priority", prio, "holder", a.lastPriority)
		return RejectedThrash, Update{}, nil
	}

	r = r.Round()

	// An equal-or-higher ranked source refreshes the lock timestamp
	// even when the rectangle turns out unchanged: a live source must
	// keep its lock fresh.
	if prio >= a.lastPriority {
		a.lastPriority = prio
		a.lastUpdate = now
	}

	if a.last != nil && r.Key() == a.last.Key() {
		return Unchanged, Update{}, nil
	}

	a.last = &r
	a.lastMethod = prov

	upd := Update{
		Bounds:    r,
		Method:    prov,
		URL:       src.URL,
		IsIframe:  src.IsIframe,
		Timestamp: now.UnixMilli(),
	}
	listeners := make([]func(Update), len(a.listeners))
	copy(listeners, a.listeners)
	return Accepted, upd, listeners
}

func (a *Arbiter) priority(p Provenance) int {
	if v, ok := a.overrides[p]; ok {
		return v
	}
	return p.Priority()
}

// Current returns the published rectangle, or false when nothing has
// been accepted yet.
func (a *Arbiter) Current() (Rect, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return Rect{}, false
	}
	return *a.last, true
}

// State returns a snapshot of the arbiter for status surfaces.
func (a *Arbiter) State() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{
		Method:    a.lastMethod,
		Priority:  a.lastPriority,
		UpdatedAt: a.lastUpdate,
	}
	if a.last != nil {
		b := *a.last
		s.Bounds = &b
	}
	return s
}

// Reset clears all arbitration state. Called on hard navigations, when
// the page the state described no longer exists.
func (a *Arbiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = nil
	a.lastMethod = ""
	a.lastPriority = 0
	a.lastUpdate = time.Time{}
}
