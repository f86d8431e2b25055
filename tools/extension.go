// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Gurpartap/pi-readcache/config"
	"github.com/Gurpartap/pi-readcache/engine"
	"github.com/Gurpartap/pi-readcache/objectstore"
	"github.com/Gurpartap/pi-readcache/pkg/logging"
	"github.com/Gurpartap/pi-readcache/runtime"
	"github.com/Gurpartap/pi-readcache/session"
)

// StoreDir is the repository-scoped readcache root, relative to the
// repo root.
var StoreDir = filepath.Join(".pi", "readcache")

// ExtensionOptions configures Wire.
type ExtensionOptions struct {
	// RepoRoot scopes the object store and config file.
	RepoRoot string

	// Cwd anchors relative request paths. Defaults to RepoRoot.
	Cwd string

	// Session is the host's session facade.
	Session session.Manager

	// Baseline is the host's unmodified read. Defaults to a direct
	// filesystem baseline.
	Baseline engine.Baseline

	// Logger receives diagnostics.
	Logger *logging.Logger
}

// Extension is the assembled readcache: tools registered for the host,
// slash commands, and the lifecycle hooks the host wires to its events.
type Extension struct {
	Config    *config.Config
	Store     *objectstore.Store
	State     *runtime.State
	Engine    *engine.Engine
	Registry  *Registry
	Refresher *Refresher
	Commands  *Commands

	logger *logging.Logger
}

// Wire assembles the extension for one repository.
func Wire(opts ExtensionOptions) (*Extension, error) {
	if opts.RepoRoot == "" {
		return nil, fmt.Errorf("readcache: repo root is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd = opts.RepoRoot
	}
	baseline := opts.Baseline
	if baseline == nil {
		baseline = &engine.FileBaseline{}
	}

	root := filepath.Join(opts.RepoRoot, StoreDir)
	cfg := config.Load(root, logger)
	if fb, ok := baseline.(*engine.FileBaseline); ok && fb.MaxLines == 0 {
		fb.MaxLines = cfg.MaxReadLines
	}

	store, err := objectstore.New(root, &objectstore.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	state := runtime.New(logger)

	eng := engine.New(engine.Host{
		Cwd:      cwd,
		Session:  opts.Session,
		Runtime:  state,
		Store:    store,
		Baseline: baseline,
		Config:   cfg,
		Logger:   logger,
	})

	refresher := NewRefresher(cwd, opts.Session, state, logger)

	registry := NewRegistry()
	registry.Register(NewReadTool(eng))
	registry.Register(NewRefreshTool(refresher))

	return &Extension{
		Config:    cfg,
		Store:     store,
		State:     state,
		Engine:    eng,
		Registry:  registry,
		Refresher: refresher,
		Commands:  NewCommands(opts.Session, state, store, refresher),
		logger:    logger,
	}, nil
}

// OnSessionStart runs session-start maintenance: the best-effort object
// sweep at the configured retention.
func (e *Extension) OnSessionStart() {
	retention := time.Duration(e.Config.RetentionDays) * 24 * time.Hour
	e.State.StartSession(e.Store, retention)
}

// OnEvent discards runtime caches on a host lifecycle notification.
func (e *Extension) OnEvent(ev runtime.Event) {
	e.State.HandleEvent(ev)
}
