// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/Gurpartap/pi-readcache/scope"
)

// target is the resolved read request: a concrete path plus an optional
// explicit line window.
type target struct {
	path      string
	offset    int
	limit     int
	hasOffset bool
	hasLimit  bool
}

// resolveTarget applies the range-shorthand rules. Explicit offset/limit
// win and keep the raw path. Otherwise an existing path is taken as-is;
// a non-existing path is split on the rightmost colon, and when the
// prefix exists the suffix must parse as "n" or "n-m" — a malformed
// suffix on an existing prefix is a validation error, while a
// non-resolving prefix keeps the raw path unparsed for the baseline to
// reject.
func resolveTarget(cwd string, req Request) (target, error) {
	raw := strings.TrimSpace(req.Path)
	if raw == "" {
		return target{}, validationErrorf("path is required")
	}
	abs := absAgainst(cwd, raw)

	if req.HasOffset || req.HasLimit {
		if req.HasOffset && req.Offset < 1 {
			return target{}, validationErrorf("offset must be a positive integer")
		}
		if req.HasLimit && req.Limit < 1 {
			return target{}, validationErrorf("limit must be a positive integer")
		}
		return target{
			path:      abs,
			offset:    req.Offset,
			limit:     req.Limit,
			hasOffset: req.HasOffset,
			hasLimit:  req.HasLimit,
		}, nil
	}

	if fileExists(abs) {
		return target{path: abs}, nil
	}

	idx := strings.LastIndex(raw, ":")
	if idx <= 0 {
		return target{path: abs}, nil
	}
	prefix := absAgainst(cwd, raw[:idx])
	if !fileExists(prefix) {
		return target{path: abs}, nil
	}
	start, end, ok := parseRangeSuffix(raw[idx+1:])
	if !ok {
		return target{}, validationErrorf("malformed range suffix %q in %q", raw[idx+1:], raw)
	}
	return target{
		path:      prefix,
		offset:    start,
		limit:     end - start + 1,
		hasOffset: true,
		hasLimit:  true,
	}, nil
}

// parseRangeSuffix accepts "n" or "n-m" with positive integers, m >= n.
func parseRangeSuffix(s string) (start, end int, ok bool) {
	first, rest, found := strings.Cut(s, "-")
	start, err := parsePositive(first)
	if err != nil {
		return 0, 0, false
	}
	if !found {
		return start, start, true
	}
	end, err = parsePositive(rest)
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}

// parsePositive parses a strictly positive bare decimal integer.
func parsePositive(s string) (int, error) {
	if s == "" {
		return 0, validationErrorf("empty number")
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, validationErrorf("not a number: %q", s)
		}
		n = n*10 + int(c-'0')
		if n > 1<<30 {
			return 0, validationErrorf("number too large: %q", s)
		}
	}
	if n < 1 {
		return 0, validationErrorf("not positive: %q", s)
	}
	return n, nil
}

func absAgainst(cwd, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(cwd, path)
}

// displayPath renders the path for diff headers: repo-relative when the
// file is under cwd, root-trimmed otherwise.
func displayPath(cwd, path string) string {
	if rel, err := filepath.Rel(cwd, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return strings.TrimPrefix(path, string(os.PathSeparator))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// sensitivePatterns is the built-in set of file name patterns that never
// receive cache metadata. Matched case-insensitively against the base
// name.
var sensitivePatterns = []string{
	".env*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*.crt",
	"*.cer",
	"*.der",
	"*.pk8",
	"id_rsa",
	"id_ed25519",
	".npmrc",
	".netrc",
}

// isSensitivePath reports whether the file matches the built-in or
// configured sensitive patterns.
func isSensitivePath(path string, extra []string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, pattern := range sensitivePatterns {
		if matched, err := filepath.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	for _, pattern := range extra {
		if matched, err := filepath.Match(strings.ToLower(pattern), base); err == nil && matched {
			return true
		}
	}
	return false
}

// normalizeRange derives the 1-based inclusive window from the resolved
// target against the file's line count, then canonicalizes the scope.
func normalizeRange(t target, totalLines int) (start, end int, scopeKey string, err error) {
	start = 1
	if t.hasOffset {
		start = t.offset
	}
	if start > totalLines {
		return 0, 0, "", validationErrorf("offset %d beyond end of file (%d lines)", start, totalLines)
	}
	end = totalLines
	if t.hasLimit {
		end = start + t.limit - 1
	}
	if end > totalLines {
		end = totalLines
	}
	return start, end, scope.ForRange(start, end, totalLines), nil
}

// ResolveScope normalizes a raw request into its (pathKey, scopeKey)
// identity without consulting trust or producing content. The refresh
// tool and slash commands share this with the read pipeline.
func ResolveScope(cwd string, req Request) (pathKey, scopeKey string, err error) {
	t, err := resolveTarget(cwd, req)
	if err != nil {
		return "", "", err
	}
	pathKey = scope.PathKey(cwd, t.path)

	if !t.hasOffset && !t.hasLimit {
		return pathKey, scope.Full, nil
	}

	totalLines := 0
	if data, rerr := os.ReadFile(t.path); rerr == nil && utf8.Valid(data) {
		totalLines = len(splitLines(string(data)))
	}

	start := 1
	if t.hasOffset {
		start = t.offset
	}
	if totalLines > 0 {
		_, _, key, nerr := normalizeRange(t, totalLines)
		if nerr != nil {
			return "", "", nerr
		}
		return pathKey, key, nil
	}

	// The file is unreadable here; keep the requested window verbatim.
	end := start
	if t.hasLimit {
		end = start + t.limit - 1
	}
	return pathKey, fmt.Sprintf("r:%d:%d", start, end), nil
}
