// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

// Package hlconfig locates and parses the per-user configuration files
// an eval context consults at startup: init.hl (directives/fragments
// run before the first prompt), prelude.hl (items available in every
// eval without an explicit use), and project.toml (persistent
// dependency/toolchain settings for one working directory).
package hlconfig

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/pkg/errors"
)

const appName = "hlrepl"

// Env variable names overriding the default config/cache locations.
const (
	EnvTmpDir         = "HLREPL_TMPDIR"
	EnvConfigDir      = "HLREPL_CONFIG_DIR"
	EnvCompletionType = "HLREPL_COMPLETION_TYPE"
)

// Paths resolves the files an EvalContext should read at startup.
type Paths struct {
	ConfigDir   string
	InitFile    string
	PreludeFile string
	ProjectToml string
}

// Resolve computes Paths, honoring HLREPL_CONFIG_DIR when set and
// falling back to the XDG config directory otherwise (the nearest Go
// ecosystem equivalent of the Rust `dirs` crate's config_dir()).
func Resolve() (Paths, error) {
	dir := os.Getenv(EnvConfigDir)
	if dir == "" {
		d, err := xdg.ConfigFile(filepath.Join(appName, "init.hl"))
		if err != nil {
			return Paths{}, errors.Wrap(err, "resolve xdg config directory")
		}
		dir = filepath.Dir(d)
	}
	return Paths{
		ConfigDir:   dir,
		InitFile:    filepath.Join(dir, "init.hl"),
		PreludeFile: filepath.Join(dir, "prelude.hl"),
		ProjectToml: filepath.Join(dir, "project.toml"),
	}, nil
}

// TmpDir resolves the working-directory root for generated projects,
// honoring HLREPL_TMPDIR and otherwise using the OS temp directory.
func TmpDir() string {
	if d := os.Getenv(EnvTmpDir); d != "" {
		return d
	}
	return os.TempDir()
}

// CompletionType reads HLREPL_COMPLETION_TYPE, defaulting to "" (no
// completion) if unset.
func CompletionType() string {
	return os.Getenv(EnvCompletionType)
}

// ProjectConfig is the parsed shape of project.toml.
type ProjectConfig struct {
	Toolchain    string            `toml:"toolchain"`
	Linker       string            `toml:"linker"`
	Offline      bool              `toml:"offline"`
	OptLevel     int               `toml:"opt_level"`
	CacheMB      int64             `toml:"cache_mb"`
	Dependencies map[string]string `toml:"dependencies"`
}

// LoadProjectConfig reads and parses path. A missing file is not an
// error; it returns a zero-value ProjectConfig so callers can always
// apply the returned settings as overrides on top of built-in
// defaults.
func LoadProjectConfig(path string) (ProjectConfig, error) {
	var cfg ProjectConfig
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, errors.Wrap(err, "read project.toml")
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, errors.Wrap(err, "decode project.toml")
	}
	return cfg, nil
}

// ReadFragmentFile reads a fragment file (init.hl or prelude.hl),
// returning "" if it doesn't exist.
func ReadFragmentFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read %s", path)
	}
	return string(data), nil
}
