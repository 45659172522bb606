// Package idgen provides pluggable ID generation for poiportal.
//
// Stores and event emitters accept a Generator, making the ID strategy a
// startup-time decision rather than a compile-time one. Entity IDs carry
// a type prefix ("poi_", "grp_", "ent_", "evt_") so a bare ID in a log
// line is self-describing.
package idgen

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
// This is the lightweight strategy: short, URL-safe, fast. Used for
// things that live minutes, like event-stream connection IDs.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		b := make([]byte, length)
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range b {
			b[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(b)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, globally unique. The default for stored entities.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Timestamped returns a Generator that produces IDs in the format
// "20060102T150405Z_<suffix>" where suffix comes from the inner
// generator. Used for on-disk artifacts like site capture reports.
func Timestamped(gen Generator) Generator {
	return func() string {
		return time.Now().UTC().Format("20060102T150405Z") + "_" + gen()
	}
}

// Default is the project default: UUIDv7 (RFC 9562).
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// POI generates a prefixed POI identifier.
var POI Generator = Prefixed("poi_", Default)

// Group generates a prefixed POI-group identifier.
var Group Generator = Prefixed("grp_", Default)

// Entry generates a prefixed overlay-entry identifier.
var Entry Generator = Prefixed("ent_", Default)

// Event generates a prefixed telemetry-event identifier.
var Event Generator = Prefixed("evt_", Default)

// Parse validates a UUID string and returns it or an error.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	return u.String(), nil
}
