// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gurpartap/pi-readcache/engine"
	"github.com/Gurpartap/pi-readcache/meta"
	"github.com/Gurpartap/pi-readcache/pkg/logging"
	"github.com/Gurpartap/pi-readcache/session"
)

func wireTest(t *testing.T) (*Extension, *session.TreeSession, string) {
	t.Helper()
	dir := t.TempDir()
	sess := session.NewTreeSession("tool-test")
	ext, err := Wire(ExtensionOptions{
		RepoRoot: dir,
		Session:  sess,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	return ext, sess, dir
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execRead runs the read tool and persists the metadata record the way
// the host would.
func execRead(t *testing.T, ext *Extension, sess *session.TreeSession, params map[string]any) *Result {
	t.Helper()
	tool, ok := ext.Registry.Get(ReadToolName)
	require.True(t, ok)

	result, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)

	if result.Success {
		if rec, ok := result.Details[meta.DetailsKey]; ok {
			_, err := sess.Append(session.Entry{
				Kind:     session.KindToolResult,
				ToolName: ReadToolName,
				Details:  map[string]any{meta.DetailsKey: rec},
			})
			require.NoError(t, err)
		}
	}
	return result
}

func TestWire_RegistersBothTools(t *testing.T) {
	ext, _, _ := wireTest(t)

	tools := ext.Registry.List()
	require.Len(t, tools, 2)
	assert.Equal(t, ReadToolName, tools[0].Name())
	assert.Equal(t, RefreshToolName, tools[1].Name())

	def := tools[0].Definition()
	for _, param := range []string{"path", "offset", "limit", "bypass"} {
		assert.Contains(t, def.Parameters, param)
	}
}

func TestReadTool_FullThenUnchanged(t *testing.T) {
	ext, sess, dir := wireTest(t)
	writeTestFile(t, dir, "a.txt", "alpha\nbeta\ngamma")

	first := execRead(t, ext, sess, map[string]any{"path": "a.txt"})
	require.True(t, first.Success)
	assert.Equal(t, "alpha\nbeta\ngamma", first.OutputText)

	rec, ok := first.Details[meta.DetailsKey].(map[string]any)
	require.True(t, ok)
	m, ok := meta.ReadMetaFromRecord(rec)
	require.True(t, ok)
	assert.Equal(t, meta.ModeFull, m.Mode)

	second := execRead(t, ext, sess, map[string]any{"path": "a.txt"})
	require.True(t, second.Success)
	assert.Equal(t, "[readcache: unchanged, 3 lines]", second.OutputText)
	assert.Greater(t, first.TokensUsed, second.TokensUsed)
}

func TestReadTool_JSONNumericParams(t *testing.T) {
	// Hosts decode tool arguments from JSON; integers arrive as float64.
	ext, sess, dir := wireTest(t)
	writeTestFile(t, dir, "a.txt", "one\ntwo\nthree\nfour")

	result := execRead(t, ext, sess, map[string]any{
		"path":   "a.txt",
		"offset": float64(2),
		"limit":  float64(2),
	})
	require.True(t, result.Success)
	assert.Equal(t, "two\nthree", result.OutputText)
}

func TestReadTool_ValidationErrorInResult(t *testing.T) {
	ext, _, dir := wireTest(t)
	writeTestFile(t, dir, "a.txt", "one")

	tool, _ := ext.Registry.Get(ReadToolName)
	result, err := tool.Execute(context.Background(), map[string]any{"path": "a.txt:9-3"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "range")
}

func TestReadTool_MissingContextSurfaces(t *testing.T) {
	tool := NewReadTool(engine.New(engine.Host{Logger: logging.Discard()}))
	_, err := tool.Execute(context.Background(), map[string]any{"path": "x"})
	assert.ErrorIs(t, err, engine.ErrMissingContext)
}

func TestRefreshTool_ForcesFullRead(t *testing.T) {
	ext, sess, dir := wireTest(t)
	writeTestFile(t, dir, "f.txt", "one\ntwo")

	execRead(t, ext, sess, map[string]any{"path": "f.txt"})
	second := execRead(t, ext, sess, map[string]any{"path": "f.txt"})
	assert.Contains(t, second.OutputText, "unchanged")

	refresh, ok := ext.Registry.Get(RefreshToolName)
	require.True(t, ok)
	result, err := refresh.Execute(context.Background(), map[string]any{"path": "f.txt"})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Contains(t, result.OutputText, "invalidated")

	third := execRead(t, ext, sess, map[string]any{"path": "f.txt"})
	assert.Equal(t, "one\ntwo", third.OutputText)
}

func TestRefresher_RangeScope(t *testing.T) {
	ext, _, dir := wireTest(t)
	writeTestFile(t, dir, "f.txt", strings.Repeat("line\n", 30))

	pathKey, scopeKey, err := ext.Refresher.Refresh(engine.Request{
		Path: "f.txt", Offset: 5, Limit: 6, HasOffset: true, HasLimit: true,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(pathKey, "f.txt"))
	assert.Equal(t, "r:5:10", scopeKey)
}

func TestCommands_Status(t *testing.T) {
	ext, sess, dir := wireTest(t)
	writeTestFile(t, dir, "a.txt", "alpha\nbeta\ngamma")

	execRead(t, ext, sess, map[string]any{"path": "a.txt"})
	execRead(t, ext, sess, map[string]any{"path": "a.txt"})

	out := ext.Commands.Status()
	assert.Contains(t, out, "tracked: 1 scopes across 1 files")
	assert.Contains(t, out, "replay window: 2 entries since root")
	assert.Contains(t, out, "full=1")
	assert.Contains(t, out, "unchanged=1")
	assert.Contains(t, out, "object store: 1 objects")
	assert.Contains(t, out, "est. tokens saved:")
}

func TestCommands_RefreshArgs(t *testing.T) {
	ext, sess, dir := wireTest(t)
	writeTestFile(t, dir, "a.txt", strings.Repeat("line\n", 20))

	execRead(t, ext, sess, map[string]any{"path": "a.txt"})

	out, err := ext.Commands.RefreshArgs("a.txt 3-7")
	require.NoError(t, err)
	assert.Contains(t, out, "r:3:7")

	_, err = ext.Commands.RefreshArgs("")
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = ext.Commands.RefreshArgs("a.txt 9-3")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestCommands_TokensSavedGrowsWithMarkers(t *testing.T) {
	ext, sess, dir := wireTest(t)
	body := strings.Repeat("a fairly long line of file content\n", 100)
	writeTestFile(t, dir, "big.txt", body)

	execRead(t, ext, sess, map[string]any{"path": "big.txt"})
	before := ext.Commands.tokensSaved()
	execRead(t, ext, sess, map[string]any{"path": "big.txt"})
	after := ext.Commands.tokensSaved()
	assert.Greater(t, after, before)
}
