// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package directive

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/mod/semver"
)

func init() {
	register("dep", handleDep)
	register("vars", handleVars)
	register("clear", handleClear)
	register("opt", optionHandler("opt_level"))
	register("fmt", optionHandler("fmt"))
	register("efmt", optionHandler("efmt"))
	register("linker", optionHandler("linker"))
	register("toolchain", optionHandler("toolchain"))
	register("offline", boolOptionHandler("offline"))
	register("preserve_vars_on_panic", boolOptionHandler("preserve_vars_on_panic"))
	register("cache", handleCache)
	register("timing", boolOptionHandler("timing"))
	register("types", boolOptionHandler("types"))
	register("type", handleType)
	register("env", envHandler("env:"))
	register("build_env", envHandler("build_env:"))
	register("explain", handleExplain)
	register("last_compile_dir", handleLastCompileDir)
	register("last_error_json", handleLastErrorJSON)
	register("quit", handleQuit)
	register("help", handleHelp)
	register("version", handleVersion)
	register("prewarm", boolOptionHandler("prewarm"))
	register("time_passes", boolOptionHandler("time_passes"))
}

// handleDep implements ":dep NAME = VERSION" and ":dep NAME" (remove).
func handleDep(h Host, args string) (Result, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return Result{}, fmt.Errorf(":dep requires a dependency name")
	}
	parts := strings.SplitN(args, "=", 2)
	name := strings.TrimSpace(parts[0])
	if len(parts) == 1 {
		if err := h.RemoveDependency(name); err != nil {
			return Result{}, err
		}
		return Result{Output: fmt.Sprintf("removed dependency %s", name)}, nil
	}
	version := strings.Trim(strings.TrimSpace(parts[1]), `"`)
	if version != "" && version != "*" && !semver.IsValid(normalizeSemver(version)) {
		return Result{}, fmt.Errorf(":dep version %q is not a valid semantic version constraint", version)
	}
	if err := h.AddDependency(name, version); err != nil {
		return Result{}, err
	}
	return Result{Output: fmt.Sprintf("added dependency %s = %q", name, version)}, nil
}

// normalizeSemver prefixes a bare "1.2.3" with "v" since
// golang.org/x/mod/semver requires the leading 'v' Go modules use, even
// though HL's own dependency specs don't.
func normalizeSemver(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

func handleVars(h Host, _ string) (Result, error) {
	vars := h.Variables()
	if len(vars) == 0 {
		return Result{Output: "(no variables)"}, nil
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	var b strings.Builder
	for _, v := range vars {
		fmt.Fprintf(&b, "%s: %s\n", v.Name, v.TypeName)
	}
	return Result{Output: strings.TrimRight(b.String(), "\n")}, nil
}

func handleClear(h Host, _ string) (Result, error) {
	h.ClearVariables()
	return Result{Output: "variables cleared"}, nil
}

func optionHandler(name string) Handler {
	return func(h Host, args string) (Result, error) {
		args = strings.TrimSpace(args)
		if err := h.SetOption(name, args); err != nil {
			return Result{}, err
		}
		return Result{Output: fmt.Sprintf("%s = %s", name, args)}, nil
	}
}

func boolOptionHandler(name string) Handler {
	return func(h Host, args string) (Result, error) {
		args = strings.TrimSpace(args)
		if args == "" {
			args = "1"
		}
		if err := h.SetOption(name, args); err != nil {
			return Result{}, err
		}
		return Result{Output: fmt.Sprintf("%s = %s", name, args)}, nil
	}
}

func handleCache(h Host, args string) (Result, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		stats, err := h.CacheStats()
		if err != nil {
			return Result{}, err
		}
		return Result{Output: fmt.Sprintf(
			"%d entries, %s on disk, %d hits",
			stats.Entries,
			humanize.Bytes(uint64(stats.DiskUsedBytes)),
			stats.TotalHits,
		)}, nil
	}
	mb, err := strconv.ParseInt(strings.TrimSuffix(args, "MB"), 10, 64)
	if err != nil {
		return Result{}, fmt.Errorf(":cache expects an integer MB budget, got %q", args)
	}
	if err := h.SetCacheBudgetMB(mb); err != nil {
		return Result{}, err
	}
	return Result{Output: fmt.Sprintf("cache budget set to %d MB", mb)}, nil
}

func handleType(h Host, args string) (Result, error) {
	if strings.TrimSpace(args) == "" {
		return Result{}, fmt.Errorf(":type requires an expression")
	}
	t, err := h.TypeOf(args)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: t}, nil
}

// envHandler builds the handler for ":env" and ":build_env", which
// share syntax but target different environments (the child process at
// run time versus the build tool invocation): prefix picks which one by
// matching the SetOption name EvalContext.SetOption dispatches on.
func envHandler(prefix string) Handler {
	return func(h Host, args string) (Result, error) {
		parts := strings.SplitN(args, "=", 2)
		if len(parts) != 2 {
			return Result{}, fmt.Errorf(":env expects KEY=VALUE, got %q", args)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := h.SetOption(prefix+key, value); err != nil {
			return Result{}, err
		}
		return Result{Output: fmt.Sprintf("%s=%s", key, value)}, nil
	}
}

func handleExplain(h Host, _ string) (Result, error) {
	explanation, err := h.Explain()
	if err != nil {
		return Result{}, err
	}
	return Result{Output: explanation}, nil
}

func handleLastCompileDir(h Host, _ string) (Result, error) {
	return Result{Output: h.LastCompileDir()}, nil
}

func handleLastErrorJSON(h Host, _ string) (Result, error) {
	return Result{Output: h.LastErrorJSON()}, nil
}

func handleQuit(_ Host, _ string) (Result, error) {
	return Result{Output: "goodbye", Quit: true}, nil
}

func handleHelp(_ Host, _ string) (Result, error) {
	names := Names()
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, ":%s\n", n)
	}
	return Result{Output: strings.TrimRight(b.String(), "\n")}, nil
}

func handleVersion(h Host, _ string) (Result, error) {
	return Result{Output: h.Version()}, nil
}
