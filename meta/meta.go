// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package meta is the metadata codec for the two record kinds readcache
// embeds in session entries: the per-read result record (ReadMeta) and the
// explicit invalidation record (Invalidation).
//
// The codec is fail-open: extraction from untyped records returns ok=false
// for anything malformed, and the replay engine treats such entries as
// absent. No error ever escapes this layer.
//
// Thread Safety: all functions are pure and safe for concurrent use.
package meta

import (
	"math"

	"github.com/Gurpartap/pi-readcache/scope"
)

// Version is the record schema version. Records with any other version
// are ignored during replay.
const Version = 1

// Namespace is the reserved custom-entry namespace for readcache records.
const Namespace = "readcache"

// DetailsKey is the key under which a ReadMeta record is stored in a
// tool-result entry's details area.
const DetailsKey = "readcache"

// Mode identifies how a read decision was served.
type Mode string

const (
	// ModeFull means the full baseline content was emitted because no
	// prior base was known or the request asked to bypass the cache.
	// Anchors trust.
	ModeFull Mode = "full"

	// ModeUnchanged means the file is byte-identical to the base and a
	// compact marker was emitted in place of the body.
	ModeUnchanged Mode = "unchanged"

	// ModeUnchangedRange means the requested line range is identical to
	// the base's, though the file may differ elsewhere.
	ModeUnchangedRange Mode = "unchanged_range"

	// ModeDiff means a unified diff against the base was emitted in place
	// of the body.
	ModeDiff Mode = "diff"

	// ModeBaselineFallback means a base existed but could not be used, so
	// the baseline content was emitted. Anchors trust.
	ModeBaselineFallback Mode = "baseline_fallback"
)

// Valid reports whether m is one of the five enumerated modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeFull, ModeUnchanged, ModeUnchangedRange, ModeDiff, ModeBaselineFallback:
		return true
	}
	return false
}

// Anchor reports whether m may bootstrap trust without any prior trust
// for the slot.
func (m Mode) Anchor() bool {
	return m == ModeFull || m == ModeBaselineFallback
}

// ReadMeta is the persisted per-read result record.
type ReadMeta struct {
	Version    int    `json:"v"`
	PathKey    string `json:"pathKey"`
	ScopeKey   string `json:"scopeKey"`
	ServedHash string `json:"servedHash"`
	BaseHash   string `json:"baseHash,omitempty"`
	Mode       Mode   `json:"mode"`
	TotalLines int    `json:"totalLines"`
	RangeStart int    `json:"rangeStart"`
	RangeEnd   int    `json:"rangeEnd"`
	Bytes      int64  `json:"bytes"`
}

// Validate reports whether the record satisfies every rule of the schema.
// Derived modes require a baseHash; range bounds must be positive with
// rangeEnd >= rangeStart.
func (m *ReadMeta) Validate() bool {
	if m == nil || m.Version != Version {
		return false
	}
	if m.PathKey == "" || m.ServedHash == "" {
		return false
	}
	if !scope.Valid(m.ScopeKey) {
		return false
	}
	if !m.Mode.Valid() {
		return false
	}
	switch m.Mode {
	case ModeUnchanged, ModeUnchangedRange, ModeDiff:
		if m.BaseHash == "" {
			return false
		}
	}
	if m.TotalLines < 1 || m.RangeStart < 1 || m.RangeEnd < m.RangeStart {
		return false
	}
	if m.Bytes < 0 {
		return false
	}
	return true
}

// Record builds the untyped form stored in a session entry's details area.
func (m *ReadMeta) Record() map[string]any {
	rec := map[string]any{
		"v":          m.Version,
		"pathKey":    m.PathKey,
		"scopeKey":   m.ScopeKey,
		"servedHash": m.ServedHash,
		"mode":       string(m.Mode),
		"totalLines": m.TotalLines,
		"rangeStart": m.RangeStart,
		"rangeEnd":   m.RangeEnd,
		"bytes":      m.Bytes,
	}
	if m.BaseHash != "" {
		rec["baseHash"] = m.BaseHash
	}
	return rec
}

// ReadMetaFromRecord extracts and validates a ReadMeta from an untyped
// record. Returns ok=false for anything malformed.
func ReadMetaFromRecord(rec map[string]any) (*ReadMeta, bool) {
	if rec == nil {
		return nil, false
	}
	m := &ReadMeta{}
	var ok bool
	if m.Version, ok = intField(rec, "v"); !ok {
		return nil, false
	}
	if m.PathKey, ok = stringField(rec, "pathKey"); !ok {
		return nil, false
	}
	if m.ScopeKey, ok = stringField(rec, "scopeKey"); !ok {
		return nil, false
	}
	if m.ServedHash, ok = stringField(rec, "servedHash"); !ok {
		return nil, false
	}
	if base, present := rec["baseHash"]; present {
		s, isStr := base.(string)
		if !isStr || s == "" {
			return nil, false
		}
		m.BaseHash = s
	}
	modeStr, ok := stringField(rec, "mode")
	if !ok {
		return nil, false
	}
	m.Mode = Mode(modeStr)
	if m.TotalLines, ok = intField(rec, "totalLines"); !ok {
		return nil, false
	}
	if m.RangeStart, ok = intField(rec, "rangeStart"); !ok {
		return nil, false
	}
	if m.RangeEnd, ok = intField(rec, "rangeEnd"); !ok {
		return nil, false
	}
	b, ok := int64Field(rec, "bytes")
	if !ok {
		return nil, false
	}
	m.Bytes = b
	if !m.Validate() {
		return nil, false
	}
	return m, true
}

// Invalidation is the persisted explicit refresh record, appended to the
// session as a custom entry under the reserved namespace.
type Invalidation struct {
	Version  int    `json:"v"`
	Kind     string `json:"kind"`
	PathKey  string `json:"pathKey"`
	ScopeKey string `json:"scopeKey"`
	At       int64  `json:"at"`
}

// InvalidationKind is the kind discriminator on invalidation records.
const InvalidationKind = "invalidate"

// Validate reports whether the invalidation record is well-formed.
func (inv *Invalidation) Validate() bool {
	if inv == nil || inv.Version != Version || inv.Kind != InvalidationKind {
		return false
	}
	if inv.PathKey == "" || !scope.Valid(inv.ScopeKey) {
		return false
	}
	return true
}

// Record builds the untyped form stored in a custom session entry.
func (inv *Invalidation) Record() map[string]any {
	return map[string]any{
		"v":        inv.Version,
		"kind":     inv.Kind,
		"pathKey":  inv.PathKey,
		"scopeKey": inv.ScopeKey,
		"at":       inv.At,
	}
}

// InvalidationFromRecord extracts and validates an Invalidation from an
// untyped record. Returns ok=false for anything malformed.
func InvalidationFromRecord(rec map[string]any) (*Invalidation, bool) {
	if rec == nil {
		return nil, false
	}
	inv := &Invalidation{}
	var ok bool
	if inv.Version, ok = intField(rec, "v"); !ok {
		return nil, false
	}
	if inv.Kind, ok = stringField(rec, "kind"); !ok {
		return nil, false
	}
	if inv.PathKey, ok = stringField(rec, "pathKey"); !ok {
		return nil, false
	}
	if inv.ScopeKey, ok = stringField(rec, "scopeKey"); !ok {
		return nil, false
	}
	if at, present := rec["at"]; present {
		v, isNum := int64FromAny(at)
		if !isNum {
			return nil, false
		}
		inv.At = v
	}
	if !inv.Validate() {
		return nil, false
	}
	return inv, true
}

// stringField extracts a non-empty string value.
func stringField(rec map[string]any, key string) (string, bool) {
	v, present := rec[key]
	if !present {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// intField extracts an integer value. JSON round-trips deliver float64;
// fractional values are rejected.
func intField(rec map[string]any, key string) (int, bool) {
	v, ok := int64Field(rec, key)
	if !ok || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, false
	}
	return int(v), true
}

// int64Field extracts an int64 value from a record.
func int64Field(rec map[string]any, key string) (int64, bool) {
	v, present := rec[key]
	if !present {
		return 0, false
	}
	return int64FromAny(v)
}

// int64FromAny converts the numeric representations JSON decoding and
// in-process construction produce.
func int64FromAny(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case float32:
		f := float64(n)
		if f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}
