// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// unifiedDiff is a computed base→current diff with the counts the
// usefulness gate needs.
type unifiedDiff struct {
	// text is the unified diff with filename headers.
	text string

	// hunks is the number of hunks.
	hunks int

	// changedLines is the number of affected lines: the larger of the
	// added and removed counts across all hunks.
	changedLines int
}

// computeDiff generates a unified diff between base and current with
// "--- a/<path>" / "+++ b/<path>" headers. A nil result means the texts
// have no line-level differences.
func computeDiff(basePath string, baseText, currentText string, contextLines int) (*unifiedDiff, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(baseText),
		B:        difflib.SplitLines(currentText),
		FromFile: "a/" + basePath,
		ToFile:   "b/" + basePath,
		Context:  contextLines,
	})
	if err != nil {
		return nil, fmt.Errorf("diff generation: %w", err)
	}
	if text == "" {
		return nil, nil
	}

	fileDiff, err := diff.ParseFileDiff([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("diff parse: %w", err)
	}
	if len(fileDiff.Hunks) == 0 {
		return nil, nil
	}

	var added, removed int
	for _, hunk := range fileDiff.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if len(line) == 0 {
				continue
			}
			switch line[0] {
			case '+':
				added++
			case '-':
				removed++
			}
		}
	}
	changed := added
	if removed > changed {
		changed = removed
	}

	return &unifiedDiff{
		text:         strings.TrimSuffix(text, "\n"),
		hunks:        len(fileDiff.Hunks),
		changedLines: changed,
	}, nil
}

// lineCount counts the lines in a rendered payload.
func lineCount(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}
