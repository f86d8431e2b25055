// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ContentBlock is one element of a read result: text or image.
type ContentBlock struct {
	// Type is "text" or "image".
	Type string `json:"type"`

	// Text is the block body for text blocks.
	Text string `json:"text,omitempty"`

	// Data carries raw image bytes for image blocks.
	Data []byte `json:"data,omitempty"`

	// MediaType is the image MIME type.
	MediaType string `json:"media_type,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// Truncation is the host's truncation record attached when a read was
// cut short by line limits.
type Truncation struct {
	Truncated  bool `json:"truncated"`
	TotalLines int  `json:"total_lines"`
	ShownStart int  `json:"shown_start,omitempty"`
	ShownEnd   int  `json:"shown_end,omitempty"`
}

// BaselineResult is the envelope the baseline read produces.
type BaselineResult struct {
	Blocks     []ContentBlock
	Truncation *Truncation
}

// HasImage reports whether any block is an image. Image results bypass
// the cache untouched.
func (r *BaselineResult) HasImage() bool {
	for _, b := range r.Blocks {
		if b.Type == "image" {
			return true
		}
	}
	return false
}

// Text concatenates the text blocks.
func (r *BaselineResult) Text() string {
	var sb strings.Builder
	for _, b := range r.Blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Baseline is the host's unmodified read implementation. The decision
// engine degrades to its output whenever cache correctness cannot be
// guaranteed. offset and limit are 1-based and 0 when unset.
type Baseline interface {
	Read(ctx context.Context, path string, offset, limit int) (*BaselineResult, error)
}

// imageExtensions are served as image blocks by the default baseline.
var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

// FileBaseline is a self-contained Baseline reading straight from the
// filesystem, used by tests and the standalone CLI. Hosts substitute
// their own implementation.
type FileBaseline struct {
	// MaxLines is the default line limit when the request has none.
	MaxLines int
}

// Read implements Baseline.
func (b *FileBaseline) Read(ctx context.Context, path string, offset, limit int) (*BaselineResult, error) {
	if err := aborted(ctx); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, validationErrorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if mediaType, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return &BaselineResult{
			Blocks: []ContentBlock{{Type: "image", Data: data, MediaType: mediaType}},
		}, nil
	}

	lines := splitLines(string(data))
	totalLines := len(lines)

	start := 1
	if offset > 0 {
		start = offset
	}
	if start > totalLines {
		return nil, validationErrorf("offset %d beyond end of file (%d lines)", start, totalLines)
	}

	maxLines := b.MaxLines
	if maxLines <= 0 {
		maxLines = 2000
	}
	window := maxLines
	if limit > 0 {
		window = limit
	}
	end := start + window - 1
	if end > totalLines {
		end = totalLines
	}
	truncated := end < totalLines

	text := strings.Join(lines[start-1:end], "\n")
	result := &BaselineResult{Blocks: []ContentBlock{TextBlock(text)}}
	if truncated || start > 1 {
		result.Truncation = &Truncation{
			Truncated:  truncated,
			TotalLines: totalLines,
			ShownStart: start,
			ShownEnd:   end,
		}
	}
	return result, nil
}

// splitLines splits text into lines without terminators. A file ending
// in a newline does not gain a trailing empty line; the empty file is a
// single empty line.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
