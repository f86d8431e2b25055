// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package replay reconstructs per-scope trust for a session's active
// branch from its persisted entries.
//
// Replay starts at the context-safe boundary — immediately after the
// latest compaction entry on the branch path — and walks forward applying
// the trust state machine. Anchor modes (full, baseline_fallback) may
// bootstrap trust; derived modes (unchanged, diff, unchanged_range) only
// advance trust when their base chain validates against what replay has
// already established. Malformed records are skipped, never fatal.
//
// The consequence the rest of the system relies on: a replay window with
// no anchor for a slot yields no trust for that slot, so the first
// post-compaction read of any scope is always served from baseline.
//
// Thread Safety: Replay and SelectBase are pure over their inputs.
package replay

import (
	"github.com/Gurpartap/pi-readcache/meta"
	"github.com/Gurpartap/pi-readcache/scope"
	"github.com/Gurpartap/pi-readcache/session"
)

// ReadToolName is the intercepted tool whose results carry ReadMeta.
const ReadToolName = "read"

// BoundaryRoot is the boundary key when no compaction exists on the
// active branch path.
const BoundaryRoot = "root"

// Result is the outcome of replaying one branch window.
type Result struct {
	// Knowledge holds the most recently established trust per slot.
	Knowledge KnowledgeMap

	// BlockedRanges marks range scopes whose candidates are unavailable:
	// a range-scope invalidation was observed and no range-scope anchor
	// for that exact range has landed since. Keyed pathKey → scopeKey.
	BlockedRanges map[string]map[string]bool

	// BoundaryKey identifies the replay boundary: "compaction:<id>" or
	// "root". Part of the memoization key.
	BoundaryKey string

	// Entries is the number of entries in the replay window.
	Entries int

	// LastSeq is the final value of the replay sequence counter.
	LastSeq int64

	// ModeCounts tallies valid ReadMeta records by mode, for status
	// reporting.
	ModeCounts map[meta.Mode]int
}

// Clone deep-copies the result so callers cannot mutate memoized state.
func (r *Result) Clone() *Result {
	clone := &Result{
		Knowledge:     r.Knowledge.Clone(),
		BlockedRanges: make(map[string]map[string]bool, len(r.BlockedRanges)),
		BoundaryKey:   r.BoundaryKey,
		Entries:       r.Entries,
		LastSeq:       r.LastSeq,
		ModeCounts:    make(map[meta.Mode]int, len(r.ModeCounts)),
	}
	for pathKey, scopes := range r.BlockedRanges {
		inner := make(map[string]bool, len(scopes))
		for scopeKey, blocked := range scopes {
			inner[scopeKey] = blocked
		}
		clone.BlockedRanges[pathKey] = inner
	}
	for mode, n := range r.ModeCounts {
		clone.ModeCounts[mode] = n
	}
	return clone
}

// BoundaryKey computes the replay boundary for a branch path without
// running a full replay: "compaction:<id>" of the latest compaction
// entry, or "root".
func BoundaryKey(entries []session.Entry) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind == session.KindCompaction {
			return "compaction:" + entries[i].ID
		}
	}
	return BoundaryRoot
}

// Replay walks the ordered root-to-leaf branch path and produces the
// trust state for its post-boundary window.
func Replay(entries []session.Entry) *Result {
	result := &Result{
		Knowledge:     make(KnowledgeMap),
		BlockedRanges: make(map[string]map[string]bool),
		BoundaryKey:   BoundaryRoot,
		ModeCounts:    make(map[meta.Mode]int),
	}

	// Strict compaction barrier: replay starts right after the latest
	// compaction entry. firstKeptEntryId is deliberately ignored.
	start := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind == session.KindCompaction {
			start = i + 1
			result.BoundaryKey = "compaction:" + entries[i].ID
			break
		}
	}

	window := entries[start:]
	result.Entries = len(window)

	for _, e := range window {
		switch e.Kind {
		case session.KindToolResult:
			if e.ToolName != ReadToolName {
				continue
			}
			rec, _ := e.Details[meta.DetailsKey].(map[string]any)
			m, ok := meta.ReadMetaFromRecord(rec)
			if !ok {
				continue
			}
			result.ModeCounts[m.Mode]++
			result.LastSeq++
			result.apply(m, result.LastSeq)

		case session.KindCustom:
			if e.Namespace != meta.Namespace {
				continue
			}
			inv, ok := meta.InvalidationFromRecord(e.Payload)
			if !ok {
				continue
			}
			result.invalidate(inv)
		}
	}
	return result
}

// apply runs one trust transition. Anchor modes write unconditionally;
// derived modes require their guard against existing trust.
func (r *Result) apply(m *meta.ReadMeta, seq int64) {
	if m.Mode.Anchor() {
		r.Knowledge.Set(m.PathKey, m.ScopeKey, ScopeTrust{Hash: m.ServedHash, Seq: seq})
		if scope.IsRange(m.ScopeKey) {
			r.unblock(m.PathKey, m.ScopeKey)
		}
		return
	}

	switch m.Mode {
	case meta.ModeUnchanged:
		if m.ScopeKey != scope.Full {
			return
		}
		full, ok := r.Knowledge.Get(m.PathKey, scope.Full)
		if !ok || m.BaseHash == "" || full.Hash != m.BaseHash || m.ServedHash != m.BaseHash {
			return
		}
		r.Knowledge.Set(m.PathKey, scope.Full, ScopeTrust{Hash: m.ServedHash, Seq: seq})

	case meta.ModeDiff:
		if m.ScopeKey != scope.Full {
			return
		}
		full, ok := r.Knowledge.Get(m.PathKey, scope.Full)
		if !ok || m.BaseHash == "" || full.Hash != m.BaseHash {
			return
		}
		r.Knowledge.Set(m.PathKey, scope.Full, ScopeTrust{Hash: m.ServedHash, Seq: seq})

	case meta.ModeUnchangedRange:
		if !scope.IsRange(m.ScopeKey) || m.BaseHash == "" {
			return
		}
		exact, exactOK := r.Knowledge.Get(m.PathKey, m.ScopeKey)
		full, fullOK := r.Knowledge.Get(m.PathKey, scope.Full)
		if (exactOK && exact.Hash == m.BaseHash) || (fullOK && full.Hash == m.BaseHash) {
			r.Knowledge.Set(m.PathKey, m.ScopeKey, ScopeTrust{Hash: m.ServedHash, Seq: seq})
		}
	}
}

// invalidate erases trust. Invalidations never consume a sequence number
// because they never create trust.
func (r *Result) invalidate(inv *meta.Invalidation) {
	if inv.ScopeKey == scope.Full {
		r.Knowledge.DeletePath(inv.PathKey)
		return
	}
	r.Knowledge.Delete(inv.PathKey, inv.ScopeKey)
	r.block(inv.PathKey, inv.ScopeKey)
}

// block marks a range scope's candidates unavailable until a matching
// range anchor lands. This prevents a later full-scope anchor from
// silently re-enabling range trust.
func (r *Result) block(pathKey, scopeKey string) {
	scopes, ok := r.BlockedRanges[pathKey]
	if !ok {
		scopes = make(map[string]bool)
		r.BlockedRanges[pathKey] = scopes
	}
	scopes[scopeKey] = true
}

// unblock clears a range block after a matching range anchor.
func (r *Result) unblock(pathKey, scopeKey string) {
	scopes, ok := r.BlockedRanges[pathKey]
	if !ok {
		return
	}
	delete(scopes, scopeKey)
	if len(scopes) == 0 {
		delete(r.BlockedRanges, pathKey)
	}
}

// Blocked reports whether range candidates for the slot are unavailable.
func (r *Result) Blocked(pathKey, scopeKey string) bool {
	scopes, ok := r.BlockedRanges[pathKey]
	return ok && scopes[scopeKey]
}

// SelectBase picks the base candidate for a request scope.
//
// Full requests take the full slot. Range requests compare the exact
// range slot and the full slot, preferring the greater sequence and, on
// a tie, the exact slot. A blocked range scope yields no candidate at
// all: a post-invalidation full anchor must not stand in for a fresh
// range anchor.
func (r *Result) SelectBase(pathKey, scopeKey string) (ScopeTrust, bool) {
	if scopeKey == scope.Full {
		return r.Knowledge.Get(pathKey, scope.Full)
	}
	if r.Blocked(pathKey, scopeKey) {
		return ScopeTrust{}, false
	}

	exact, exactOK := r.Knowledge.Get(pathKey, scopeKey)
	full, fullOK := r.Knowledge.Get(pathKey, scope.Full)
	switch {
	case !exactOK && !fullOK:
		return ScopeTrust{}, false
	case exactOK && !fullOK:
		return exact, true
	case !exactOK && fullOK:
		return full, true
	case full.Seq > exact.Seq:
		return full, true
	default:
		return exact, true
	}
}
