// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "readcache",
		Quiet:   true,
	})

	logger.Info("replay complete", "entries", 3)
	logger.Debug("filtered out")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	name := "readcache_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "replay complete") {
		t.Errorf("info entry missing from file: %s", content)
	}
	if !strings.Contains(content, `"service":"readcache"`) {
		t.Errorf("service attribute missing: %s", content)
	}
	if strings.Contains(content, "filtered out") {
		t.Error("debug entry should be filtered at Info level")
	}
}

func TestWith_ChildAttributes(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "readcache", Quiet: true})

	child := logger.With("session_id", "s-123")
	child.Info("decision made")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	name := "readcache_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "s-123") {
		t.Errorf("child attribute missing: %s", data)
	}
}

func TestDiscard_ProducesNothing(t *testing.T) {
	logger := Discard()
	// Must not panic or write anywhere.
	logger.Error("dropped")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
}
