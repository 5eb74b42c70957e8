// Package entityid provides the 16-byte GUID type shared by the
// durable-client coordinator and the ddscored entry point: participant id,
// entity id, and the inverse-set
// allocator all contribute to how these bytes are assigned, but the wire
// shape itself is just an opaque, comparable, hashable array.
package entityid

import (
	"encoding/hex"
	"fmt"
)

// GUID is a 16-byte globally unique entity identifier: 12 bytes of
// participant/prefix followed by a 4-byte entity id.
type GUID [16]byte

// New builds a GUID from a 12-byte prefix and a 4-byte entity id.
func New(prefix [12]byte, entity [4]byte) GUID {
	var g GUID
	copy(g[:12], prefix[:])
	copy(g[12:], entity[:])
	return g
}

// Prefix returns the leading 12 bytes (participant identity).
func (g GUID) Prefix() [12]byte {
	var p [12]byte
	copy(p[:], g[:12])
	return p
}

// EntityID returns the trailing 4 bytes.
func (g GUID) EntityID() [4]byte {
	var e [4]byte
	copy(e[:], g[12:])
	return e
}

// IsZero reports whether g is the all-zero GUID (never assigned to a real
// entity).
func (g GUID) IsZero() bool { return g == GUID{} }

// String renders g as lowercase hex, matching the wire debug logs use.
func (g GUID) String() string { return hex.EncodeToString(g[:]) }

// Parse decodes a 32-character hex string into a GUID.
func Parse(s string) (GUID, error) {
	var g GUID
	b, err := hex.DecodeString(s)
	if err != nil {
		return g, fmt.Errorf("entityid: parse %q: %w", s, err)
	}
	if len(b) != 16 {
		return g, fmt.Errorf("entityid: parse %q: want 16 bytes, got %d", s, len(b))
	}
	copy(g[:], b)
	return g, nil
}
