// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Gurpartap/pi-readcache/pkg/logging"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.RetentionDays != 30 {
		t.Errorf("retention = %d, want 30", cfg.RetentionDays)
	}
	if cfg.MaxDiffBytes != 2*1024*1024 {
		t.Errorf("max diff bytes = %d, want 2MiB", cfg.MaxDiffBytes)
	}
	if cfg.MaxDiffLines != 12000 {
		t.Errorf("max diff lines = %d, want 12000", cfg.MaxDiffLines)
	}
	if !cfg.valid() {
		t.Error("defaults must be valid")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg := Load(t.TempDir(), logging.Discard())
	if cfg.RetentionDays != 30 {
		t.Errorf("retention = %d, want 30", cfg.RetentionDays)
	}
}

func TestLoad_Override(t *testing.T) {
	dir := t.TempDir()
	content := "retention_days: 7\nsensitive_patterns: [\"*.secret\"]\n"
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := Load(dir, logging.Discard())
	if cfg.RetentionDays != 7 {
		t.Errorf("retention = %d, want 7", cfg.RetentionDays)
	}
	// Unspecified keys keep their defaults.
	if cfg.MaxDiffLines != 12000 {
		t.Errorf("max diff lines = %d, want 12000", cfg.MaxDiffLines)
	}
	if len(cfg.SensitivePatterns) != 1 || cfg.SensitivePatterns[0] != "*.secret" {
		t.Errorf("sensitive patterns = %v", cfg.SensitivePatterns)
	}
}

func TestLoad_MalformedUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("retention_days: [\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg := Load(dir, logging.Discard())
	if cfg.RetentionDays != 30 {
		t.Errorf("retention = %d, want 30", cfg.RetentionDays)
	}
}

func TestLoad_OutOfRangeUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("max_diff_bytes: 0\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg := Load(dir, logging.Discard())
	if cfg.MaxDiffBytes != 2*1024*1024 {
		t.Errorf("max diff bytes = %d, want default", cfg.MaxDiffBytes)
	}
}
