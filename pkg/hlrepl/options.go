// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package hlrepl

import (
	"time"

	"github.com/hlrepl/hlrepl/internal/cache"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithWorkDir sets the directory the toolchain driver uses for the
// generated crate, build artifacts, and lockfile carry-forward.
func WithWorkDir(path string) Option {
	return func(r *Runtime) {
		r.workDir = path
	}
}

// WithToolchain selects a named toolchain (e.g. a specific compiler
// channel), passed through to the build driver unmodified.
func WithToolchain(name string) Option {
	return func(r *Runtime) {
		r.toolchain = name
	}
}

// WithLinker selects a non-default linker for the build driver.
func WithLinker(name string) Option {
	return func(r *Runtime) {
		r.linker = name
	}
}

// WithOffline disables network access during dependency resolution.
func WithOffline(offline bool) Option {
	return func(r *Runtime) {
		r.offline = offline
	}
}

// WithOptLevel sets the optimization level passed to the toolchain.
func WithOptLevel(level int) Option {
	return func(r *Runtime) {
		r.optLevel = level
	}
}

// WithPreserveVarsOnPanic keeps every tracked variable after a child
// panic when true (the default); when false, only variables of known
// Copy types are kept. The ":preserve_vars_on_panic" directive sets the
// same option.
func WithPreserveVarsOnPanic(preserve bool) Option {
	return func(r *Runtime) {
		r.preserveVarsOnPanic = preserve
	}
}

// WithSQLiteCache configures an on-disk, LRU-evicted build artifact
// cache backed by SQLite at the given path.
func WithSQLiteCache(path string) Option {
	return func(r *Runtime) {
		idx, err := cache.NewSQLite(path)
		if err == nil {
			r.cacheIndex = idx
		}
	}
}

// WithMemoryCache configures an in-memory build artifact cache (for
// testing, or for a runtime that never outlives one process).
func WithMemoryCache() Option {
	return func(r *Runtime) {
		r.cacheIndex = cache.NewMemory()
	}
}

// WithCacheBudgetMB sets the maximum disk space the build artifact
// cache may use before older entries are evicted.
func WithCacheBudgetMB(mb int64) Option {
	return func(r *Runtime) {
		r.cacheMaxMB = mb
	}
}

// WithStreamCallback sets the callback invoked with each Event
// produced while a fragment is being built and run.
func WithStreamCallback(cb func(Event)) Option {
	return func(r *Runtime) {
		r.streamCb = cb
	}
}

// WithChildWaitTimeout bounds how long Close waits for the child
// process to exit gracefully before forcing a kill.
func WithChildWaitTimeout(timeout time.Duration) Option {
	return func(r *Runtime) {
		r.childWaitTimeout = timeout
	}
}

// WithVersion sets the version string reported by the ":version"
// directive.
func WithVersion(version string) Option {
	return func(r *Runtime) {
		r.version = version
	}
}
