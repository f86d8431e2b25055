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
	"time"

	"github.com/Gurpartap/pi-readcache/engine"
	"github.com/Gurpartap/pi-readcache/meta"
)

// ReadToolName matches the host's built-in read tool; the override must
// keep the surface stable.
const ReadToolName = "read"

// ReadTool is the read override. It delegates to the decision engine and
// attaches the readcache metadata record to the result details.
//
// Thread Safety: safe for concurrent use.
type ReadTool struct {
	engine *engine.Engine
}

// NewReadTool creates the read override around a decision engine.
func NewReadTool(eng *engine.Engine) *ReadTool {
	return &ReadTool{engine: eng}
}

// Name returns the tool name.
func (t *ReadTool) Name() string {
	return ReadToolName
}

// Definition returns the tool's parameter schema, mirroring the host's
// built-in read.
func (t *ReadTool) Definition() ToolDefinition {
	one := float64(1)
	return ToolDefinition{
		Name:        ReadToolName,
		Description: "Read file contents. Previously seen, unchanged content is returned as a compact marker or diff instead of the full bytes.",
		Parameters: map[string]ParamDef{
			"path": {
				Type:        ParamTypeString,
				Description: "Path to the file. A trailing :n or :n-m selects a line range when the literal path does not exist.",
				Required:    true,
			},
			"offset": {
				Type:        ParamTypeInt,
				Description: "Line number to start reading from (1-indexed).",
				Required:    false,
				Minimum:     &one,
			},
			"limit": {
				Type:        ParamTypeInt,
				Description: "Maximum lines to read.",
				Required:    false,
				Minimum:     &one,
			},
			"bypass": {
				Type:        ParamTypeBool,
				Description: "Serve the full content even when a cached marker would apply.",
				Required:    false,
				Default:     false,
			},
		},
	}
}

// Execute runs the read decision.
func (t *ReadTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	start := time.Now()

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
	if bypass, ok := getBoolParam(params, "bypass"); ok {
		req.Bypass = bypass
	}

	resp, err := t.engine.Read(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrValidation):
			return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
		case errors.Is(err, engine.ErrMissingContext), errors.Is(err, engine.ErrAborted):
			return nil, err
		default:
			return &Result{Success: false, Error: err.Error(), Duration: time.Since(start)}, nil
		}
	}

	outputText := blocksText(resp.Blocks)
	result := &Result{
		Success:    true,
		OutputText: outputText,
		Output:     resp.Blocks,
		Duration:   time.Since(start),
		TokensUsed: estimateTokens(outputText),
	}
	details := make(map[string]any)
	if resp.Meta != nil {
		details[meta.DetailsKey] = resp.Meta.Record()
	}
	if resp.Truncation != nil {
		details["truncation"] = resp.Truncation
	}
	if len(details) > 0 {
		result.Details = details
	}
	return result, nil
}

// blocksText concatenates the text blocks of a response.
func blocksText(blocks []engine.ContentBlock) string {
	var out string
	for _, b := range blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}
