package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab wraps a rod page with mapwatch-specific setup: stealth, resource
// blocking, and frame inspection helpers.
type Tab struct {
	Page    *rod.Page
	PageURL string
	TabID   string
	Stealth StealthLevel
	manager *Manager
}

// OpenTab creates a new tab and navigates to the URL with stealth
// applied. Navigation is bounded by the manager's NavTimeout; a load
// that never settles is tolerated because map pages routinely keep
// long-polling connections open past the load event.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, tabID string, level StealthLevel) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error

	if level >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavTimeout)
	defer cancel()

	err = page.Context(navCtx).Navigate(pageURL)
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}

	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Tab{
		Page:    page,
		PageURL: pageURL,
		TabID:   tabID,
		Stealth: level,
		manager: mgr,
	}, nil
}

// AttachTab wraps an already-open page (for example one the operator
// navigated by hand in a remote Chrome). No navigation is performed.
func AttachTab(mgr *Manager, page *rod.Page, pageURL, tabID string) *Tab {
	return &Tab{
		Page:    page,
		PageURL: pageURL,
		TabID:   tabID,
		Stealth: mgr.cfg.Stealth,
		manager: mgr,
	}
}

// HTML serialises the current DOM as outer HTML, for the container
// pre-scan.
func (t *Tab) HTML(ctx context.Context) ([]byte, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// FrameURLs returns the URLs of every frame in the tab, root first.
// Used as the last-resort domain source when the in-page resolver
// reports nothing.
func (t *Tab) FrameURLs(ctx context.Context) ([]string, error) {
	res, err := proto.PageGetFrameTree{}.Call(t.Page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: frame tree: %w", err)
	}
	var urls []string
	var walk func(ft *proto.PageFrameTree)
	walk = func(ft *proto.PageFrameTree) {
		if ft == nil || ft.Frame == nil {
			return
		}
		if ft.Frame.URL != "" {
			urls = append(urls, ft.Frame.URL)
		}
		for _, child := range ft.ChildFrames {
			walk(child)
		}
	}
	walk(res.FrameTree)
	return urls, nil
}

// WaitSettle waits briefly for the page to quiet down after a soft
// navigation. Best effort; errors are ignored.
func (t *Tab) WaitSettle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
