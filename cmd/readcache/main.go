// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command readcache operates the read-cache outside a live host: inspect
// status, invalidate scopes, and sweep the object store against a
// persisted session file.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Gurpartap/pi-readcache/pkg/logging"
	"github.com/Gurpartap/pi-readcache/session"
	"github.com/Gurpartap/pi-readcache/tools"
)

var (
	flagRepo    string
	flagSession string
	flagVerbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "readcache:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "readcache",
	Short: "Operate the agent read-cache for a repository",
	Long: `readcache inspects and maintains the read-cache a coding agent uses to
avoid re-reading unchanged files. State lives under <repo>/.pi/readcache;
session history is read from a persisted session file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", ".", "repository root")
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", "", "persisted session file (JSONL)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(statsCmd)
}

// newLogger builds the CLI logger honoring --verbose.
func newLogger() *logging.Logger {
	level := logging.LevelWarn
	if flagVerbose {
		level = logging.LevelDebug
	}
	return logging.New(logging.Config{Level: level, Service: "readcache"})
}

// wire assembles the extension against the persisted session. Commands
// that need session history require --session; sweep and stats do not.
func wire(requireSession bool) (*tools.Extension, *session.TreeSession, error) {
	logger := newLogger()

	var sess *session.TreeSession
	if flagSession != "" {
		loaded, err := session.Load(flagSession)
		if err != nil {
			return nil, nil, err
		}
		sess = loaded
	} else if requireSession {
		return nil, nil, fmt.Errorf("--session is required for this command")
	} else {
		sess = session.NewTreeSession("")
	}

	repo, err := filepath.Abs(flagRepo)
	if err != nil {
		return nil, nil, err
	}
	ext, err := tools.Wire(tools.ExtensionOptions{
		RepoRoot: repo,
		Session:  sess,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return ext, sess, nil
}

// heading prints a decorated section header on terminals, plain text
// otherwise.
func heading(text string) string {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return "\x1b[1m" + text + "\x1b[0m"
	}
	return text
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print tracked scopes, replay window, and store stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		ext, _, err := wire(true)
		if err != nil {
			return err
		}
		fmt.Println(heading(fmt.Sprintf("repository %s", flagRepo)))
		fmt.Println(ext.Commands.Status())
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <path> [start-end]",
	Short: "Invalidate cached trust for a file or line range",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ext, sess, err := wire(true)
		if err != nil {
			return err
		}
		joined := args[0]
		if len(args) == 2 {
			joined += " " + args[1]
		}
		out, err := ext.Commands.RefreshArgs(joined)
		if err != nil {
			return err
		}
		if err := sess.Save(flagSession); err != nil {
			return fmt.Errorf("persisting session: %w", err)
		}
		fmt.Println(out)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete stored objects older than the configured retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		ext, _, err := wire(false)
		if err != nil {
			return err
		}
		retention := time.Duration(ext.Config.RetentionDays) * 24 * time.Hour
		result := ext.Store.PruneOlderThan(retention, time.Now())
		fmt.Printf("swept %d objects, deleted %d (retention %dd)\n",
			result.Scanned, result.Deleted, ext.Config.RetentionDays)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print object store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ext, _, err := wire(false)
		if err != nil {
			return err
		}
		stats := ext.Store.Stats()
		fmt.Println(heading("object store"))
		fmt.Printf("  objects: %d\n", stats.Objects)
		fmt.Printf("  bytes:   %d\n", stats.Bytes)
		fmt.Printf("  root:    %s\n", ext.Store.Root())
		return nil
	},
}
