// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scope defines the two identity keys the cache tracks trust under:
// the pathKey (canonical absolute file path) and the scopeKey (the "full"
// sentinel or an inclusive 1-based line range "r:<start>:<end>").
//
// Full and each range are independent trust slots. A range covering the
// whole file canonicalizes to the full sentinel.
//
// Thread Safety: all functions are pure and safe for concurrent use.
package scope

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Full is the sentinel scopeKey meaning the request covers every line of
// the file as it stands.
const Full = "full"

const rangePrefix = "r:"

// PathKey canonicalizes a raw path into the cache's file identity:
// absolute (resolved against cwd when relative), cleaned, with symlinks
// resolved where possible. A path that does not exist yet still yields a
// stable key from the cleaned absolute form.
func PathKey(cwd, raw string) string {
	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(cwd, p)
	}
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return p
}

// ForRange canonicalizes a 1-based inclusive line range into a scopeKey.
// A range spanning exactly [1..totalLines] is the full scope.
func ForRange(start, end, totalLines int) string {
	if start == 1 && end == totalLines {
		return Full
	}
	return fmt.Sprintf("r:%d:%d", start, end)
}

// IsRange reports whether key is a range scopeKey.
func IsRange(key string) bool {
	_, _, ok := ParseRange(key)
	return ok
}

// ParseRange extracts the line bounds from a range scopeKey. Returns
// ok=false for the full sentinel and for anything malformed.
func ParseRange(key string) (start, end int, ok bool) {
	if !strings.HasPrefix(key, rangePrefix) {
		return 0, 0, false
	}
	parts := strings.Split(key[len(rangePrefix):], ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err := parsePositiveInt(parts[0])
	if err != nil {
		return 0, 0, false
	}
	end, err = parsePositiveInt(parts[1])
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}

// Valid reports whether key is the full sentinel or a well-formed range.
func Valid(key string) bool {
	return key == Full || IsRange(key)
}

// parsePositiveInt parses a strictly positive decimal integer with no
// sign, whitespace, or leading garbage.
func parsePositiveInt(s string) (int, error) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, fmt.Errorf("not a positive integer: %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("not a positive integer: %d", n)
	}
	return n, nil
}
