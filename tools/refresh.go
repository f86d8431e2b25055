// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gurpartap/pi-readcache/engine"
	"github.com/Gurpartap/pi-readcache/meta"
	"github.com/Gurpartap/pi-readcache/pkg/logging"
	"github.com/Gurpartap/pi-readcache/runtime"
	"github.com/Gurpartap/pi-readcache/session"
)

// RefreshToolName is the explicit invalidation tool.
const RefreshToolName = "readcache_refresh"

// Refresher appends invalidation records and clears runtime caches. It
// backs both the refresh tool and the readcache-refresh slash command.
//
// Thread Safety: safe for concurrent use.
type Refresher struct {
	cwd    string
	sess   session.Manager
	state  *runtime.State
	logger *logging.Logger
}

// NewRefresher wires a refresher to the host context.
func NewRefresher(cwd string, sess session.Manager, state *runtime.State, logger *logging.Logger) *Refresher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Refresher{cwd: cwd, sess: sess, state: state, logger: logger}
}

// Refresh normalizes the request, appends an Invalidation under the
// reserved namespace, and clears the replay memo and overlay. Returns
// the normalized identity.
func (r *Refresher) Refresh(req engine.Request) (pathKey, scopeKey string, err error) {
	if r.sess == nil || r.state == nil {
		return "", "", engine.ErrMissingContext
	}
	pathKey, scopeKey, err = engine.ResolveScope(r.cwd, req)
	if err != nil {
		return "", "", err
	}

	inv := &meta.Invalidation{
		Version:  meta.Version,
		Kind:     meta.InvalidationKind,
		PathKey:  pathKey,
		ScopeKey: scopeKey,
		At:       time.Now().UnixMilli(),
	}
	if _, err := r.sess.Append(session.Entry{
		Kind:      session.KindCustom,
		Namespace: meta.Namespace,
		Payload:   inv.Record(),
	}); err != nil {
		return "", "", fmt.Errorf("appending invalidation: %w", err)
	}

	r.state.ClearAll()
	r.logger.Info("scope invalidated", "path", pathKey, "scope", scopeKey)
	return pathKey, scopeKey, nil
}

// RefreshTool exposes Refresher as a host tool.
type RefreshTool struct {
	refresher *Refresher
}

// NewRefreshTool creates the refresh tool.
func NewRefreshTool(refresher *Refresher) *RefreshTool {
	return &RefreshTool{refresher: refresher}
}

// Name returns the tool name.
func (t *RefreshTool) Name() string {
	return RefreshToolName
}

// Definition returns the tool's parameter schema.
func (t *RefreshTool) Definition() ToolDefinition {
	one := float64(1)
	return ToolDefinition{
		Name:        RefreshToolName,
		Description: "Force the next read of a file (or line range) to return full content by invalidating its cached trust.",
		Parameters: map[string]ParamDef{
			"path": {
				Type:        ParamTypeString,
				Description: "Path to the file. A trailing :n or :n-m selects a line range when the literal path does not exist.",
				Required:    true,
			},
			"offset": {
				Type:        ParamTypeInt,
				Description: "First line of the range to invalidate (1-indexed).",
				Required:    false,
				Minimum:     &one,
			},
			"limit": {
				Type:        ParamTypeInt,
				Description: "Number of lines in the range to invalidate.",
				Required:    false,
				Minimum:     &one,
			},
		},
	}
}

// Execute appends the invalidation.
func (t *RefreshTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrAborted, err)
	}

	req := engine.Request{}
	if path, ok := getStringParam(params, "path"); ok {
		req.Path = path
	}
	if offset, ok := getIntParam(params, "offset"); ok {
		req.Offset = offset
		req.HasOffset = true
	}
	if limit, ok := getIntParam(params, "limit"); ok {
		req.Limit = limit
		req.HasLimit = true
	}

	pathKey, scopeKey, err := t.refresher.Refresh(req)
	if err != nil {
		if errors.Is(err, engine.ErrMissingContext) {
			return nil, err
		}
		return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
	}

	return &Result{
		Success:    true,
		OutputText: fmt.Sprintf("readcache: invalidated %s (%s); next read returns full content", pathKey, scopeKey),
		Duration:   time.Since(start),
	}, nil
}
