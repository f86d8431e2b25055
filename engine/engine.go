// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine is the decision core behind the intercepted read tool.
//
// For each request it normalizes the target, delegates to the host's
// baseline read, hashes the current content, consults the replayed trust
// for the active leaf, and chooses what to serve: the full body, a
// compact unchanged marker, a unified diff, or a baseline fallback. The
// guiding rule is that a "you've seen this" claim is only ever made when
// it is provable from the active branch's history; on any uncertainty the
// engine degrades to baseline content.
//
// Failure policy: only validation, missing-context, and cancellation
// errors surface. Read failures, decode failures, store failures, diff
// failures, and size-gate breaches all fail open to the baseline result,
// which is never less informative than the uncached read.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/Gurpartap/pi-readcache/config"
	"github.com/Gurpartap/pi-readcache/meta"
	"github.com/Gurpartap/pi-readcache/objectstore"
	"github.com/Gurpartap/pi-readcache/pkg/logging"
	"github.com/Gurpartap/pi-readcache/runtime"
	"github.com/Gurpartap/pi-readcache/scope"
	"github.com/Gurpartap/pi-readcache/session"
)

// Output literal strings. Bit-exact for host compatibility.
const (
	markerUnchangedFull    = "[readcache: unchanged, %d lines]"
	markerUnchangedRange   = "[readcache: unchanged in lines %d-%d of %d]"
	markerUnchangedOutside = "[readcache: unchanged in lines %d-%d; changes exist outside this range]"
	markerDiffPrefix       = "[readcache: %d lines changed of %d]"
)

// Request is a raw read invocation.
type Request struct {
	// Path is the raw path argument, possibly carrying a ":n" or ":n-m"
	// range shorthand.
	Path string

	// Offset and Limit are the explicit line window, valid when the
	// corresponding Has flag is set.
	Offset    int
	Limit     int
	HasOffset bool
	HasLimit  bool

	// Bypass forces baseline content while still anchoring trust.
	Bypass bool
}

// Response is a completed read decision.
type Response struct {
	// Blocks is the served content.
	Blocks []ContentBlock

	// Truncation is the host's truncation record, when present.
	Truncation *Truncation

	// Meta is the readcache record to persist with the tool result. Nil
	// for image results and sensitive-path bypasses.
	Meta *meta.ReadMeta
}

// Host supplies the collaborators the engine needs per context.
type Host struct {
	// Cwd anchors relative paths.
	Cwd string

	// Session is the host's session facade.
	Session session.Manager

	// Runtime holds the memoized replay cache and overlay.
	Runtime *runtime.State

	// Store is the shared content-addressed object store.
	Store *objectstore.Store

	// Baseline is the unmodified read implementation.
	Baseline Baseline

	// Config carries the size gates and sensitive pattern extensions.
	Config *config.Config

	// Logger receives diagnostics.
	Logger *logging.Logger
}

// Engine decides how each intercepted read is served.
//
// Thread Safety: safe for concurrent use; all mutable state lives in the
// runtime.State and objectstore.Store collaborators.
type Engine struct {
	host Host
}

// New creates an engine. Missing optional collaborators get defaults;
// Session, Runtime, Store and Baseline are required at call time.
func New(host Host) *Engine {
	if host.Config == nil {
		host.Config = config.Defaults()
	}
	if host.Logger == nil {
		host.Logger = logging.Default()
	}
	return &Engine{host: host}
}

// Read runs the decision pipeline for one request.
func (e *Engine) Read(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()
	defer func() {
		decisionLatency.Observe(time.Since(started).Seconds())
	}()

	if e.host.Session == nil || e.host.Runtime == nil || e.host.Store == nil || e.host.Baseline == nil {
		return nil, ErrMissingContext
	}

	// Step 1: resolve the target and any range shorthand.
	t, err := resolveTarget(e.host.Cwd, req)
	if err != nil {
		return nil, err
	}

	// Step 2: delegate to the baseline.
	if err := aborted(ctx); err != nil {
		return nil, err
	}
	base, err := e.host.Baseline.Read(ctx, t.path, t.offset, t.limit)
	if err != nil {
		return nil, err
	}
	if base.HasImage() {
		return &Response{Blocks: base.Blocks, Truncation: base.Truncation}, nil
	}

	// Step 3: sensitive paths get baseline output with no cache metadata.
	if isSensitivePath(t.path, e.host.Config.SensitivePatterns) {
		return &Response{Blocks: base.Blocks, Truncation: base.Truncation}, nil
	}

	// Step 4: load the current content. Unreadable or non-UTF-8 files
	// fall open to the baseline result untouched.
	if err := aborted(ctx); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(t.path)
	if err != nil || !utf8.Valid(data) {
		return &Response{Blocks: base.Blocks, Truncation: base.Truncation}, nil
	}
	text := string(data)

	// Step 5: normalize the range against the current line count.
	lines := splitLines(text)
	totalLines := len(lines)
	start, end, scopeKey, err := normalizeRange(t, totalLines)
	if err != nil {
		return nil, err
	}
	pathKey := scope.PathKey(e.host.Cwd, t.path)
	currentHash := objectstore.Hash(data)

	d := decision{
		pathKey:     pathKey,
		displayPath: displayPath(e.host.Cwd, t.path),
		scopeKey:    scopeKey,
		currentHash: currentHash,
		currentText: text,
		totalLines:  totalLines,
		start:       start,
		end:         end,
	}

	// Step 6: explicit bypass anchors trust and serves baseline.
	if req.Bypass {
		return e.emit(ctx, d, meta.ModeFull, "", base.Blocks, base.Truncation)
	}

	// Step 7: consult the replayed trust for the active leaf.
	snapshot := e.host.Runtime.Snapshot(e.host.Session)
	candidate, found := snapshot.SelectBase(pathKey, scopeKey)

	// Step 8: no provable prior observation — serve the full baseline.
	if !found {
		return e.emit(ctx, d, meta.ModeFull, "", base.Blocks, base.Truncation)
	}

	// Step 9: identical content — serve the compact marker.
	if candidate.Hash == currentHash {
		if scopeKey == scope.Full {
			marker := fmt.Sprintf(markerUnchangedFull, totalLines)
			return e.emit(ctx, d, meta.ModeUnchanged, candidate.Hash, []ContentBlock{TextBlock(marker)}, nil)
		}
		marker := fmt.Sprintf(markerUnchangedRange, start, end, totalLines)
		return e.emit(ctx, d, meta.ModeUnchangedRange, candidate.Hash, []ContentBlock{TextBlock(marker)}, nil)
	}

	// Step 10: load the base body; a missing blob degrades to baseline.
	if err := aborted(ctx); err != nil {
		return nil, err
	}
	baseText, ok, err := e.host.Store.Load(candidate.Hash)
	if err != nil || !ok {
		if err != nil {
			e.host.Logger.Warn("base object load failed", "hash", candidate.Hash, "error", err)
		}
		return e.emit(ctx, d, meta.ModeBaselineFallback, candidate.Hash, base.Blocks, base.Truncation)
	}

	// Step 11: range scope with a changed file — serve the marker only
	// when the exact slice is untouched; never a range-level diff.
	if scopeKey != scope.Full {
		if sliceEqual(splitLines(baseText), lines, start, end) {
			marker := fmt.Sprintf(markerUnchangedOutside, start, end)
			return e.emit(ctx, d, meta.ModeUnchangedRange, candidate.Hash, []ContentBlock{TextBlock(marker)}, nil)
		}
		return e.emit(ctx, d, meta.ModeBaselineFallback, candidate.Hash, base.Blocks, base.Truncation)
	}

	// Step 12: full scope with a changed file — the diff pipeline.
	blocks, mode, err := e.diffOrFallback(ctx, d, baseText)
	if err != nil {
		return nil, err
	}
	if mode == meta.ModeDiff {
		return e.emit(ctx, d, meta.ModeDiff, candidate.Hash, blocks, nil)
	}
	return e.emit(ctx, d, meta.ModeBaselineFallback, candidate.Hash, base.Blocks, base.Truncation)
}

// decision carries the normalized request through emission.
type decision struct {
	pathKey     string
	displayPath string
	scopeKey    string
	currentHash string
	currentText string
	totalLines  int
	start, end  int
}

// diffOrFallback runs the gated diff pipeline. Returns ModeDiff with the
// payload blocks when every gate passes, ModeBaselineFallback otherwise.
func (e *Engine) diffOrFallback(ctx context.Context, d decision, baseText string) ([]ContentBlock, meta.Mode, error) {
	cfg := e.host.Config

	baseBytes := int64(len(baseText))
	currentBytes := int64(len(d.currentText))
	if maxInt64(baseBytes, currentBytes) > cfg.MaxDiffBytes {
		return nil, meta.ModeBaselineFallback, nil
	}
	baseLines := len(splitLines(baseText))
	if maxInt(baseLines, d.totalLines) > cfg.MaxDiffLines {
		return nil, meta.ModeBaselineFallback, nil
	}

	if err := aborted(ctx); err != nil {
		return nil, meta.ModeBaselineFallback, err
	}
	ud, err := computeDiff(d.displayPath, baseText, d.currentText, cfg.DiffContextLines)
	if err != nil {
		e.host.Logger.Warn("diff computation failed", "path", d.pathKey, "error", err)
		return nil, meta.ModeBaselineFallback, nil
	}
	if ud == nil {
		// Hashes differ but lines do not (e.g. trailing-newline change);
		// nothing useful to show.
		return nil, meta.ModeBaselineFallback, nil
	}

	// Usefulness gate: the diff must be smaller than the file and touch
	// no more lines than the requested selection holds.
	if int64(len(ud.text)) >= currentBytes || ud.changedLines > d.totalLines {
		return nil, meta.ModeBaselineFallback, nil
	}

	payload := fmt.Sprintf(markerDiffPrefix, ud.changedLines, d.totalLines) + "\n" + ud.text
	if lineCount(payload) > cfg.MaxReadLines || int64(len(payload)) > cfg.MaxOutputBytes {
		return nil, meta.ModeBaselineFallback, nil
	}
	return []ContentBlock{TextBlock(payload)}, meta.ModeDiff, nil
}

// emit finishes every successful decision path: build the metadata
// record, persist the current blob, write the overlay, count metrics.
func (e *Engine) emit(ctx context.Context, d decision, mode meta.Mode, baseHash string, blocks []ContentBlock, trunc *Truncation) (*Response, error) {
	if err := aborted(ctx); err != nil {
		return nil, err
	}

	payloadBytes := int64(0)
	for _, b := range blocks {
		payloadBytes += int64(len(b.Text))
	}

	m := &meta.ReadMeta{
		Version:    meta.Version,
		PathKey:    d.pathKey,
		ScopeKey:   d.scopeKey,
		ServedHash: d.currentHash,
		Mode:       mode,
		TotalLines: d.totalLines,
		RangeStart: d.start,
		RangeEnd:   d.end,
		Bytes:      payloadBytes,
	}
	switch mode {
	case meta.ModeUnchanged, meta.ModeUnchangedRange, meta.ModeDiff:
		m.BaseHash = baseHash
	}

	// Persist the served content so later diffs and range comparisons
	// survive restart. Idempotent; failures degrade silently.
	if _, err := e.host.Store.PutIfAbsent(d.currentHash, d.currentText); err != nil {
		e.host.Logger.Warn("object persist failed", "hash", d.currentHash, "error", err)
	}

	e.host.Runtime.OverlayWrite(
		e.host.Session.SessionID(),
		e.host.Session.LeafID(),
		d.pathKey, d.scopeKey, d.currentHash,
	)

	decisionsTotal.WithLabelValues(string(mode)).Inc()
	if saved := int64(len(d.currentText)) - payloadBytes; saved > 0 && mode != meta.ModeFull && mode != meta.ModeBaselineFallback {
		bytesSavedTotal.Add(float64(saved))
	}

	e.host.Logger.Debug("read decision",
		"path", d.pathKey,
		"scope", d.scopeKey,
		"mode", string(mode),
		"bytes", payloadBytes,
	)

	return &Response{Blocks: blocks, Truncation: trunc, Meta: m}, nil
}

// sliceEqual compares the [start..end] line windows of base and current.
// A base too short to contain the window is unequal.
func sliceEqual(baseLines, currentLines []string, start, end int) bool {
	if end > len(baseLines) || end > len(currentLines) {
		return false
	}
	for i := start - 1; i < end; i++ {
		if baseLines[i] != currentLines[i] {
			return false
		}
	}
	return true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
