// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package toolchain

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// manifest is the per-eval package descriptor regenerated before every
// build, the HL-build-tool analogue of evcxr's per-module Cargo.toml
// writer in module.rs.
type manifest struct {
	Package      manifestPackage            `toml:"package"`
	Dependencies map[string]manifestDepSpec `toml:"dependencies"`
	Profile      manifestProfile            `toml:"profile"`
}

type manifestPackage struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"` // "dylib"
}

type manifestDepSpec struct {
	Version string `toml:"version"`
}

type manifestProfile struct {
	OptLevel        int  `toml:"opt_level"`
	DebugAssertions bool `toml:"debug_assertions"`
}

// writeManifest regenerates manifest.toml in projectDir, matching the
// current Options. Dependencies are supplied separately by
// internal/orch via WriteManifestDependencies before each build;
// Build alone only refreshes the profile section so
// unrelated option changes (e.g. ":opt") don't require re-specifying
// every dependency.
func writeManifest(projectDir string, opts Options) error {
	existing, err := readManifest(projectDir)
	if err != nil {
		existing = &manifest{
			Package:      manifestPackage{Name: "hlrepl_eval", Kind: "dylib"},
			Dependencies: map[string]manifestDepSpec{},
		}
	}
	existing.Profile = manifestProfile{
		OptLevel:        opts.OptLevel,
		DebugAssertions: opts.OptLevel == 0,
	}
	return writeManifestFile(projectDir, existing)
}

// WriteManifestDependencies regenerates manifest.toml with an explicit
// dependency set, called by internal/orch before every build with the
// composer state's Dependencies map (":dep" accepted or removed).
func WriteManifestDependencies(projectDir string, deps map[string]string, opts Options) error {
	m := &manifest{
		Package:      manifestPackage{Name: "hlrepl_eval", Kind: "dylib"},
		Dependencies: make(map[string]manifestDepSpec, len(deps)),
		Profile: manifestProfile{
			OptLevel:        opts.OptLevel,
			DebugAssertions: opts.OptLevel == 0,
		},
	}
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.Dependencies[name] = manifestDepSpec{Version: deps[name]}
	}
	return writeManifestFile(projectDir, m)
}

func readManifest(projectDir string) (*manifest, error) {
	path := filepath.Join(projectDir, "manifest.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, errors.Wrap(err, "decode existing manifest.toml")
	}
	return &m, nil
}

func writeManifestFile(projectDir string, m *manifest) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return errors.Wrap(err, "encode manifest.toml")
	}
	path := filepath.Join(projectDir, "manifest.toml")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "write manifest.toml")
	}
	return nil
}

// carryForwardLockfile copies the previous module's lockfile into the
// new module directory before invoking the build tool, so dependency
// resolution isn't repeated every eval. Grounded on evcxr's
// Module::new, which copies Cargo.lock from the prior module for the
// same reason.
func carryForwardLockfile(projectDir string) error {
	lockPath := filepath.Join(projectDir, "manifest.lock")
	if _, err := os.Stat(lockPath); err == nil {
		return nil // already present, nothing to carry forward
	}
	parent := filepath.Dir(projectDir)
	prevLock := filepath.Join(parent, ".last_manifest.lock")
	data, err := os.ReadFile(prevLock)
	if err != nil {
		return err
	}
	return os.WriteFile(lockPath, data, 0o644)
}

// SaveLockfileForNextModule copies this module's resolved lockfile to
// the shared location the next module's carryForwardLockfile will read
// from. internal/orch calls this after a successful build.
func SaveLockfileForNextModule(projectDir string) error {
	lockPath := filepath.Join(projectDir, "manifest.lock")
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil // toolchain may not emit a lockfile; not fatal
	}
	parent := filepath.Dir(projectDir)
	return os.WriteFile(filepath.Join(parent, ".last_manifest.lock"), data, 0o644)
}
