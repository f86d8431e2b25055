// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Gurpartap/pi-readcache/engine"
	"github.com/Gurpartap/pi-readcache/meta"
	"github.com/Gurpartap/pi-readcache/objectstore"
	"github.com/Gurpartap/pi-readcache/runtime"
	"github.com/Gurpartap/pi-readcache/session"
)

// Commands implements the readcache-status and readcache-refresh slash
// commands.
type Commands struct {
	sess      session.Manager
	state     *runtime.State
	store     *objectstore.Store
	refresher *Refresher
}

// NewCommands wires the slash commands to the host context.
func NewCommands(sess session.Manager, state *runtime.State, store *objectstore.Store, refresher *Refresher) *Commands {
	return &Commands{sess: sess, state: state, store: store, refresher: refresher}
}

// Status renders the readcache-status report: tracked scopes, replay
// window size, mode breakdown, an estimated tokens-saved figure, and
// best-effort store stats.
func (c *Commands) Status() string {
	var sb strings.Builder

	snapshot := c.state.Snapshot(c.sess)
	paths := len(snapshot.Knowledge)
	scopes := snapshot.Knowledge.Scopes()

	fmt.Fprintf(&sb, "readcache status\n")
	fmt.Fprintf(&sb, "  tracked: %d scopes across %d files\n", scopes, paths)
	fmt.Fprintf(&sb, "  replay window: %d entries since %s\n", snapshot.Entries, snapshot.BoundaryKey)

	if len(snapshot.ModeCounts) > 0 {
		modes := make([]string, 0, len(snapshot.ModeCounts))
		for mode := range snapshot.ModeCounts {
			modes = append(modes, string(mode))
		}
		sort.Strings(modes)
		fmt.Fprintf(&sb, "  modes:")
		for _, mode := range modes {
			fmt.Fprintf(&sb, " %s=%d", mode, snapshot.ModeCounts[meta.Mode(mode)])
		}
		fmt.Fprintf(&sb, "\n")
	}

	fmt.Fprintf(&sb, "  est. tokens saved: %d\n", c.tokensSaved())

	memoEntries, overlayScopes := c.state.Counts()
	fmt.Fprintf(&sb, "  runtime: %d memoized replays, %d overlay scopes\n", memoEntries, overlayScopes)

	stats := c.store.Stats()
	fmt.Fprintf(&sb, "  object store: %d objects, %d bytes", stats.Objects, stats.Bytes)
	return sb.String()
}

// tokensSaved estimates the tokens avoided on the active branch: for
// every marker or diff served, the gap between the full body and the
// emitted payload. Best-effort — served bodies missing from the store
// are skipped.
func (c *Commands) tokensSaved() int {
	var savedBytes int64
	for _, e := range c.sess.BranchEntries() {
		if e.Kind != session.KindToolResult || e.ToolName != ReadToolName {
			continue
		}
		rec, _ := e.Details[meta.DetailsKey].(map[string]any)
		m, ok := meta.ReadMetaFromRecord(rec)
		if !ok {
			continue
		}
		switch m.Mode {
		case meta.ModeUnchanged, meta.ModeUnchangedRange, meta.ModeDiff:
			body, found, err := c.store.Load(m.ServedHash)
			if err != nil || !found {
				continue
			}
			if gap := int64(len(body)) - m.Bytes; gap > 0 {
				savedBytes += gap
			}
		}
	}
	return int(savedBytes / 4)
}

// RefreshArgs invalidates "<path> [start-end]" and reports the outcome.
// A trailing "n" or "n-m" argument selects a line range; the path itself
// may also carry the ":n-m" shorthand when the literal path does not
// exist.
func (c *Commands) RefreshArgs(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: usage: readcache-refresh <path> [start-end]", engine.ErrValidation)
	}
	req := engine.Request{Path: fields[0]}
	if len(fields) > 1 {
		start, end, ok := parseSpan(fields[1])
		if !ok {
			return "", fmt.Errorf("%w: malformed range %q", engine.ErrValidation, fields[1])
		}
		req.Offset = start
		req.HasOffset = true
		req.Limit = end - start + 1
		req.HasLimit = true
	}

	pathKey, scopeKey, err := c.refresher.Refresh(req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("readcache: invalidated %s (%s)", pathKey, scopeKey), nil
}

// parseSpan accepts "n" or "n-m" with positive integers and m >= n.
func parseSpan(s string) (start, end int, ok bool) {
	first, rest, found := strings.Cut(s, "-")
	start, err := strconv.Atoi(first)
	if err != nil || start < 1 {
		return 0, 0, false
	}
	if !found {
		return start, start, true
	}
	end, err = strconv.Atoi(rest)
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}
