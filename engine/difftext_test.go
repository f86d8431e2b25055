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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedLines(n int, format string) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, format+"\n", i)
	}
	return sb.String()
}

func TestComputeDiff_SingleLineChange(t *testing.T) {
	base := numberedLines(300, "line %d :: original text payload")
	current := strings.Replace(base,
		"line 200 :: original text payload",
		"line 200 :: changed text payload", 1)

	ud, err := computeDiff("b.txt", base, current, 3)
	require.NoError(t, err)
	require.NotNil(t, ud)

	assert.Equal(t, 1, ud.hunks)
	assert.Equal(t, 1, ud.changedLines)
	assert.True(t, strings.HasPrefix(ud.text, "--- a/b.txt"), "header: %q", firstLine(ud.text))
	assert.Contains(t, ud.text, "+++ b/b.txt")
	assert.Contains(t, ud.text, "-line 200 :: original text payload")
	assert.Contains(t, ud.text, "+line 200 :: changed text payload")
}

func TestComputeDiff_Identical(t *testing.T) {
	body := "same\nbody\n"
	ud, err := computeDiff("x.txt", body, body, 3)
	require.NoError(t, err)
	assert.Nil(t, ud, "identical texts yield no diff")
}

func TestComputeDiff_PureInsertion(t *testing.T) {
	base := "one\ntwo\nthree\n"
	current := "one\ntwo\ninserted\nthree\n"
	ud, err := computeDiff("x.txt", base, current, 3)
	require.NoError(t, err)
	require.NotNil(t, ud)
	assert.Equal(t, 1, ud.changedLines)
	assert.Contains(t, ud.text, "+inserted")
}

func TestComputeDiff_MultipleHunks(t *testing.T) {
	base := numberedLines(100, "line %d")
	lines := strings.Split(strings.TrimSuffix(base, "\n"), "\n")
	lines[4] = "line 5 changed"
	lines[89] = "line 90 changed"
	current := strings.Join(lines, "\n") + "\n"

	ud, err := computeDiff("x.txt", base, current, 3)
	require.NoError(t, err)
	require.NotNil(t, ud)
	assert.Equal(t, 2, ud.hunks)
	assert.Equal(t, 2, ud.changedLines)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func TestLineCount(t *testing.T) {
	assert.Equal(t, 0, lineCount(""))
	assert.Equal(t, 1, lineCount("x"))
	assert.Equal(t, 2, lineCount("x\ny"))
}
