// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads readcache configuration: size gates for the diff
// pipeline, object retention, baseline read limits, and extra sensitive
// patterns. Defaults are embedded; a repository-local
// .pi/readcache/config.yaml overrides them. Loading is fail-open — a
// missing, oversized, or malformed file yields the defaults.
package config

import (
	_ "embed"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Gurpartap/pi-readcache/pkg/logging"
)

// MaxYAMLFileSize caps config file reads at 1MB.
const MaxYAMLFileSize = 1024 * 1024

// FileName is the config file name under the readcache root.
const FileName = "config.yaml"

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds every tunable the decision engine and runtime consume.
type Config struct {
	// RetentionDays is the object store sweep age.
	RetentionDays int `yaml:"retention_days"`

	// MaxDiffBytes bounds the larger of base and current file size for
	// the diff pipeline.
	MaxDiffBytes int64 `yaml:"max_diff_bytes"`

	// MaxDiffLines bounds the larger of base and current line count for
	// the diff pipeline.
	MaxDiffLines int `yaml:"max_diff_lines"`

	// MaxReadLines is the baseline read's default line limit; the diff
	// payload is truncated under the same limit.
	MaxReadLines int `yaml:"max_read_lines"`

	// MaxOutputBytes caps emitted payload size; a diff over the cap
	// falls back to baseline content.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// DiffContextLines is the unified diff context width.
	DiffContextLines int `yaml:"diff_context_lines"`

	// SensitivePatterns are additional bypass patterns merged with the
	// built-in set.
	SensitivePatterns []string `yaml:"sensitive_patterns"`
}

// Defaults returns the embedded default configuration.
func Defaults() *Config {
	cfg := &Config{}
	// The embedded defaults are compiled in and always parse.
	_ = yaml.Unmarshal(defaultsYAML, cfg)
	return cfg
}

// Load reads <root>/config.yaml over the defaults. Any failure falls
// back to the defaults.
func Load(root string, logger *logging.Logger) *Config {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := Defaults()
	if root == "" {
		return cfg
	}
	path := filepath.Join(root, FileName)
	info, err := os.Stat(path)
	if err != nil {
		return cfg
	}
	if info.Size() > MaxYAMLFileSize {
		logger.Warn("config file too large, using defaults", "path", path, "size", info.Size())
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("config read failed, using defaults", "path", path, "error", err)
		return cfg
	}
	overridden := Defaults()
	if err := yaml.Unmarshal(data, overridden); err != nil {
		logger.Warn("config parse failed, using defaults", "path", path, "error", err)
		return cfg
	}
	if !overridden.valid() {
		logger.Warn("config values out of range, using defaults", "path", path)
		return cfg
	}
	return overridden
}

// valid rejects overrides that would disable the safety gates entirely.
func (c *Config) valid() bool {
	return c.RetentionDays > 0 &&
		c.MaxDiffBytes > 0 &&
		c.MaxDiffLines > 0 &&
		c.MaxReadLines > 0 &&
		c.MaxOutputBytes > 0 &&
		c.DiffContextLines > 0
}
