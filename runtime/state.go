// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runtime holds the per-process mutable state the cache keeps
// outside the session stream: the memoized replay results, the per-leaf
// overlay of same-turn reads, and the lifecycle hooks that discard both.
//
// The overlay uses sequence numbers from a reserved high band so a live
// decision always out-ranks replay-derived trust for the same leaf; the
// two counters never coordinate and never race.
//
// Thread Safety: State is safe for concurrent use. Map accesses are
// guarded by a mutex; replay builds for the same (session, leaf,
// boundary) are deduplicated via singleflight.
package runtime

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Gurpartap/pi-readcache/objectstore"
	"github.com/Gurpartap/pi-readcache/pkg/logging"
	"github.com/Gurpartap/pi-readcache/replay"
	"github.com/Gurpartap/pi-readcache/scope"
	"github.com/Gurpartap/pi-readcache/session"
)

// OverlaySeqBase is the start of the reserved overlay sequence band.
// Replay sequences count up from 1 and can never reach it.
const OverlaySeqBase int64 = 1_000_000_000

// Event is a host lifecycle notification. Every event discards memoized
// replay results and overlays wholesale; none mutates canonical state.
type Event string

const (
	EventCompact  Event = "session_compact"
	EventTree     Event = "session_tree"
	EventFork     Event = "session_fork"
	EventSwitch   Event = "session_switch"
	EventShutdown Event = "session_shutdown"
)

// overlay captures trust established by live decisions in the current
// turn, before their results are persisted into the session stream.
type overlay struct {
	leafID  string
	know    replay.KnowledgeMap
	nextSeq int64
}

// State is the runtime-state container.
type State struct {
	mu       sync.Mutex
	memo     map[string]*replay.Result
	overlays map[string]*overlay // sessionID → overlay for its active leaf
	group    singleflight.Group
	logger   *logging.Logger
}

// New creates an empty runtime state.
func New(logger *logging.Logger) *State {
	if logger == nil {
		logger = logging.Default()
	}
	return &State{
		memo:     make(map[string]*replay.Result),
		overlays: make(map[string]*overlay),
		logger:   logger,
	}
}

// Snapshot returns the merged trust view for the session's active leaf:
// the memoized branch replay with the leaf's overlay layered on top. The
// returned result is a deep clone; callers may not mutate shared state
// and get a read-only view by convention.
func (s *State) Snapshot(mgr session.Manager) *replay.Result {
	entries := mgr.BranchEntries()
	boundary := replay.BoundaryKey(entries)
	key := fmt.Sprintf("%s|%s|%s", mgr.SessionID(), mgr.LeafID(), boundary)

	s.mu.Lock()
	cached, ok := s.memo[key]
	s.mu.Unlock()

	if !ok {
		built, _, _ := s.group.Do(key, func() (any, error) {
			r := replay.Replay(entries)
			s.mu.Lock()
			s.memo[key] = r
			s.mu.Unlock()
			return r, nil
		})
		cached = built.(*replay.Result)
	}

	result := cached.Clone()

	s.mu.Lock()
	ov := s.currentOverlayLocked(mgr.SessionID(), mgr.LeafID())
	if ov != nil {
		for pathKey, scopes := range ov.know {
			for scopeKey, trust := range scopes {
				result.Knowledge.Set(pathKey, scopeKey, trust)
				// An overlay write for a blocked range can only have come
				// from an anchor decision, which clears the block.
				if scope.IsRange(scopeKey) {
					if blocked, ok := result.BlockedRanges[pathKey]; ok {
						delete(blocked, scopeKey)
						if len(blocked) == 0 {
							delete(result.BlockedRanges, pathKey)
						}
					}
				}
			}
		}
	}
	s.mu.Unlock()

	return result
}

// OverlayWrite records trust established by a live decision and returns
// the overlay sequence assigned to it. Sequences are totally ordered
// within a (session, leaf) and always exceed every replay sequence.
func (s *State) OverlayWrite(sessionID, leafID, pathKey, scopeKey, hash string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ov := s.currentOverlayLocked(sessionID, leafID)
	if ov == nil {
		ov = &overlay{
			leafID:  leafID,
			know:    make(replay.KnowledgeMap),
			nextSeq: OverlaySeqBase,
		}
		s.overlays[sessionID] = ov
	}
	seq := ov.nextSeq
	ov.nextSeq++
	ov.know.Set(pathKey, scopeKey, replay.ScopeTrust{Hash: hash, Seq: seq})
	return seq
}

// currentOverlayLocked returns the session's overlay when its recorded
// leaf is still the active one, discarding it otherwise (leaf changed or
// sprouted children).
func (s *State) currentOverlayLocked(sessionID, leafID string) *overlay {
	ov, ok := s.overlays[sessionID]
	if !ok {
		return nil
	}
	if ov.leafID != leafID {
		delete(s.overlays, sessionID)
		return nil
	}
	return ov
}

// ClearAll discards every memoized replay result and every overlay. The
// host wires its lifecycle events here; refresh operations call it too.
func (s *State) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memo = make(map[string]*replay.Result)
	s.overlays = make(map[string]*overlay)
}

// HandleEvent reacts to a host lifecycle notification.
func (s *State) HandleEvent(ev Event) {
	s.logger.Debug("lifecycle event", "event", string(ev))
	s.ClearAll()
}

// Counts reports memo and overlay sizes for status output.
func (s *State) Counts() (memoEntries, overlayScopes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ov := range s.overlays {
		overlayScopes += ov.know.Scopes()
	}
	return len(s.memo), overlayScopes
}

// StartSession runs session-start maintenance: a best-effort background
// age sweep of the object store. Sweep failures never block startup.
func (s *State) StartSession(store *objectstore.Store, retention time.Duration) {
	if store == nil || retention <= 0 {
		return
	}
	go func() {
		result := store.PruneOlderThan(retention, time.Now())
		if result.Deleted > 0 {
			s.logger.Info("object sweep",
				"scanned", result.Scanned,
				"deleted", result.Deleted,
			)
		}
	}()
}
