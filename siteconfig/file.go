package siteconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File is the YAML shape for a profile seed file:
//
//	sites:
//	  - domain: zillow.com
//	    map_type: google
//	    selectors: ["#search-page-map"]
//	    style: {marker_color: "#1277e1"}
//	    features: {network_sniff: true}
//	    enabled: true
type File struct {
	Sites []Site `yaml:"sites"`
}

// LoadFile parses a YAML profile file.
func LoadFile(path string) ([]Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("siteconfig: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("siteconfig: parse %s: %w", path, err)
	}
	for i, site := range f.Sites {
		if Normalize(site.Domain) == "" {
			return nil, fmt.Errorf("siteconfig: %s: entry %d has no domain", path, i)
		}
	}
	return f.Sites, nil
}

// ImportFile upserts every profile from a YAML file into the store.
func (s *Store) ImportFile(ctx context.Context, path string) (int, error) {
	sites, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	for _, site := range sites {
		if err := s.Upsert(ctx, site); err != nil {
			return 0, err
		}
	}
	return len(sites), nil
}

// WatchFile re-imports the YAML file whenever it changes on disk, until
// ctx is cancelled. Editors replace files rather than writing in place,
// so both Write and Create events count; events are settled for 500ms
// before importing.
func (s *Store) WatchFile(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("siteconfig: fsnotify: %w", err)
	}
	defer w.Close()

	// Watch the directory: the file itself disappears during atomic
	// replaces and the watch would die with it.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("siteconfig: watch %s: %w", dir, err)
	}

	s.logger.Info("siteconfig: watching profile file", "path", path)

	var settle *time.Timer
	var settleC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if settle != nil {
				settle.Stop()
			}
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.NewTimer(500 * time.Millisecond)
			settleC = settle.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("siteconfig: watch error", "error", err)

		case <-settleC:
			settleC = nil
			n, err := s.ImportFile(ctx, path)
			if err != nil {
				s.logger.Error("siteconfig: reimport failed", "path", path, "error", err)
				continue
			}
			s.logger.Info("siteconfig: profiles reimported", "path", path, "count", n)
		}
	}
}
