// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

// Command hlrepl is the HL interactive eval-loop CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/hlrepl/hlrepl/internal/hlconfig"
	"github.com/hlrepl/hlrepl/pkg/hlrepl"
)

var version = "dev"

func main() {
	paths, pathsErr := hlconfig.Resolve()
	var projectCfg hlconfig.ProjectConfig
	if pathsErr == nil {
		if cfg, err := hlconfig.LoadProjectConfig(paths.ProjectToml); err == nil {
			projectCfg = cfg
		}
	}

	var (
		evalStr     = flag.String("e", "", "evaluate one HL fragment and exit")
		file        = flag.String("f", "", "evaluate an HL source file and exit")
		workDir     = flag.String("workdir", "", "working directory for the generated crate (defaults to a per-user tmp dir)")
		toolchainF  = flag.String("toolchain", projectCfg.Toolchain, "named toolchain to build with")
		linker      = flag.String("linker", projectCfg.Linker, "linker to pass to the build driver")
		offline     = flag.Bool("offline", projectCfg.Offline, "disable network access during dependency resolution")
		optLevel    = flag.Int("opt-level", projectCfg.OptLevel, "optimization level")
		cachePath   = flag.String("cache", "", "path to the SQLite build-artifact cache (disabled if empty)")
		cacheMB     = flag.Int64("cache-mb", maxInt64(projectCfg.CacheMB, 512), "maximum build-artifact cache size in MB")
		preserveVar = flag.Bool("preserve-vars-on-panic", true, "keep bound variables after a child panic")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	dir := *workDir
	if dir == "" {
		dir = hlconfig.TmpDir()
	}

	opts := []hlrepl.Option{
		hlrepl.WithWorkDir(dir),
		hlrepl.WithToolchain(*toolchainF),
		hlrepl.WithLinker(*linker),
		hlrepl.WithOffline(*offline),
		hlrepl.WithOptLevel(*optLevel),
		hlrepl.WithPreserveVarsOnPanic(*preserveVar),
		hlrepl.WithVersion(version),
	}
	if *cachePath != "" {
		opts = append(opts, hlrepl.WithSQLiteCache(*cachePath), hlrepl.WithCacheBudgetMB(*cacheMB))
	}

	rt := hlrepl.New(opts...)
	defer rt.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sigCh {
			rt.Cancel()
		}
	}()

	ctx := context.Background()

	for name, ver := range projectCfg.Dependencies {
		if _, err := rt.Eval(ctx, fmt.Sprintf(":dep %s = %s", name, ver)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not apply project.toml dependency %s: %v\n", name, err)
		}
	}

	switch {
	case *evalStr != "":
		runOnce(ctx, rt, *evalStr)
	case *file != "":
		src, err := hlconfig.ReadFragmentFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading %s: %v\n", *file, err)
			os.Exit(1)
		}
		runOnce(ctx, rt, src)
	case !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()):
		input, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading stdin: %v\n", err)
			os.Exit(1)
		}
		runOnce(ctx, rt, string(input))
	default:
		runREPL(ctx, rt, paths)
	}
}

// runOnce evaluates a single fragment non-interactively, printing its
// output or diagnostics, and sets the process exit code on failure.
func runOnce(ctx context.Context, rt *hlrepl.Runtime, fragment string) {
	outcome, err := rt.Eval(ctx, fragment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	printOutcome(outcome)
	if outcome.Kind != hlrepl.OutcomeOK && outcome.Kind != hlrepl.OutcomeDirectiveResult {
		os.Exit(1)
	}
}

func maxInt64(a, b int64) int64 {
	if a > 0 {
		return a
	}
	return b
}
