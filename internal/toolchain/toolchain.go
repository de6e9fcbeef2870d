// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

// Package toolchain drives the external HL build tool: it writes the
// per-eval package manifest, invokes the compiler, streams progress
// events, parses JSON diagnostics, and locates the artifact the Child
// Supervisor should load. It never interprets HL semantics itself.
package toolchain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hlrepl/hlrepl/internal/cache"
)

// Options configures one Build invocation. Fields map directly onto
// the directives spec.md names (:toolchain, :linker, :offline, :opt,
// :build_env).
type Options struct {
	Toolchain  string // compiler binary name, default "hlc"
	Linker     string // empty means toolchain default
	Offline    bool
	OptLevel   int // 0..3
	ExtraEnv   map[string]string
	ExtraFlags string // shell-quoted, split with go-shellquote
	CacheIndex cache.Index
	CacheMaxMB int64 // 0 means no size limit is enforced after a build
	Logger     *logrus.Logger
	// TimePasses requests per-pass compiler timing on stderr; it never
	// changes the produced artifact, so it's deliberately excluded from
	// cacheKey.
	TimePasses bool
}

// Artifact is the result of a successful build: the shared object the
// Child Supervisor should load and the entry function to call inside
// it.
type Artifact struct {
	SharedObjectPath string
	EntryFunc        string
	Dir              string
	CacheKey         string
}

func (o Options) logger() *logrus.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}

// Build writes source into projectDir/src/lib.hl, (re)generates the
// manifest, invokes the toolchain, and returns either the built
// artifact or the diagnostics explaining why the build failed.
// Progress lines ("Compiling...", "Linking...") are sent to progress
// as they're read, independent of the final result, mirroring the
// teacher's async/streaming goroutine pattern rather than blocking the
// caller until the whole build finishes.
func Build(ctx context.Context, projectDir, source, entryFunc string, opts Options, progress chan<- string) (*Artifact, []Diagnostic, error) {
	log := opts.logger()

	if err := os.MkdirAll(filepath.Join(projectDir, "src"), 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "create project src directory")
	}
	if err := os.WriteFile(filepath.Join(projectDir, "src", "lib.hl"), []byte(source), 0o644); err != nil {
		return nil, nil, errors.Wrap(err, "write generated source")
	}
	if err := writeManifest(projectDir, opts); err != nil {
		return nil, nil, err
	}
	if err := carryForwardLockfile(projectDir); err != nil {
		log.WithError(err).Debug("no prior lockfile to carry forward")
	}

	key := cacheKey(source, opts)
	if opts.CacheIndex != nil {
		if entry, ok, err := opts.CacheIndex.Lookup(key); err == nil && ok {
			log.WithField("cache_key", key).Info("build cache hit")
			return &Artifact{
				SharedObjectPath: filepath.Join(entry.ArtifactDir, artifactFileName(entryFunc)),
				EntryFunc:        entryFunc,
				Dir:              entry.ArtifactDir,
				CacheKey:         key,
			}, nil, nil
		}
	}

	args, err := buildArgs(opts)
	if err != nil {
		return nil, nil, err
	}

	cmd := exec.CommandContext(ctx, toolchainBinary(opts), args...)
	cmd.Dir = projectDir
	cmd.Env = buildEnv(opts)

	var stderr bytes.Buffer
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "open build stdout pipe")
	}
	cmd.Stderr = &stderr

	log.WithFields(logrus.Fields{"dir": projectDir, "toolchain": toolchainBinary(opts)}).Info("build starting")
	if err := cmd.Start(); err != nil {
		return nil, nil, errors.Wrap(err, "start toolchain process")
	}

	done := make(chan struct{})
	go streamProgress(stdoutPipe, progress, done)

	runErr := cmd.Wait()
	<-done

	diags, parseErr := ParseDiagnostics(bytes.NewReader(stderr.Bytes()))
	if parseErr != nil {
		log.WithError(parseErr).Warn("failed to parse some diagnostics")
	}

	if runErr != nil {
		if HasErrors(diags) {
			return nil, diags, nil
		}
		return nil, diags, errors.Wrap(runErr, "toolchain invocation failed")
	}

	artifactDir := filepath.Join(projectDir, "target")
	artifact := &Artifact{
		SharedObjectPath: filepath.Join(artifactDir, artifactFileName(entryFunc)),
		EntryFunc:        entryFunc,
		Dir:              artifactDir,
		CacheKey:         key,
	}

	if opts.CacheIndex != nil {
		size := artifactSize(artifactDir)
		if err := opts.CacheIndex.Record(cache.Entry{
			Key:         key,
			SizeBytes:   size,
			ArtifactDir: artifactDir,
		}); err != nil {
			log.WithError(err).Warn("failed to record cache entry")
		}
		if opts.CacheMaxMB > 0 {
			if _, _, err := opts.CacheIndex.Evict(opts.CacheMaxMB * 1024 * 1024); err != nil {
				log.WithError(err).Warn("cache eviction failed")
			}
		}
	}

	return artifact, diags, nil
}

func streamProgress(r interface{ Read([]byte) (int, error) }, progress chan<- string, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 4096)
	var leftover strings.Builder
	for {
		n, err := r.Read(buf)
		if n > 0 {
			leftover.Write(buf[:n])
			for {
				s := leftover.String()
				idx := strings.IndexByte(s, '\n')
				if idx < 0 {
					break
				}
				line := s[:idx]
				leftover.Reset()
				leftover.WriteString(s[idx+1:])
				if progress != nil && line != "" {
					select {
					case progress <- line:
					default:
					}
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func toolchainBinary(opts Options) string {
	if opts.Toolchain != "" {
		return opts.Toolchain
	}
	return "hlc"
}

func buildArgs(opts Options) ([]string, error) {
	args := []string{"build", "--error-format", "json"}
	if opts.Linker != "" {
		args = append(args, "--linker", opts.Linker)
	}
	if opts.Offline {
		args = append(args, "--offline")
	}
	args = append(args, fmt.Sprintf("--opt-level=%d", opts.OptLevel))
	if opts.TimePasses {
		args = append(args, "--time-passes")
	}
	if opts.ExtraFlags != "" {
		extra, err := shellquote.Split(opts.ExtraFlags)
		if err != nil {
			return nil, errors.Wrap(err, "split extra toolchain flags")
		}
		args = append(args, extra...)
	}
	return args, nil
}

func buildEnv(opts Options) []string {
	env := os.Environ()
	keys := make([]string, 0, len(opts.ExtraEnv))
	for k := range opts.ExtraEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+opts.ExtraEnv[k])
	}
	return env
}

func artifactFileName(entryFunc string) string {
	return "lib" + entryFunc + ".so"
}

func artifactSize(dir string) int64 {
	var total int64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total
}

// cacheKey hashes the generated source plus the options that affect
// codegen, so identical fragments under identical build settings reuse
// a prior artifact. Grounded on evcxr's access_cache key derivation
// from the full rustc argument list; here the generated source stands
// in for "the thing that changed" since the argument list is mostly
// static per EvalContext.
func cacheKey(source string, opts Options) string {
	h := sha256.New()
	h.Write([]byte(source))
	fmt.Fprintf(h, "|%s|%s|%v|%d|%s", opts.Toolchain, opts.Linker, opts.Offline, opts.OptLevel, opts.ExtraFlags)
	return hex.EncodeToString(h.Sum(nil))
}
