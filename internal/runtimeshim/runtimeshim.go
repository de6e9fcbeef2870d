// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

// Package runtimeshim owns the small, fixed host program that the
// Child Supervisor actually spawns. Unlike the per-eval generated
// source in internal/compose, this program is compiled once per
// EvalContext and then persists across evals: each LOAD command asks
// it to dynamically load the freshly built artifact and call its entry
// function, the way a REPL host process dlopens successive compiled
// modules instead of re-execing a whole new binary every eval.
//
// Source is a fixed HL program, not Go, so it is kept as an embedded
// asset here and compiled through internal/toolchain like any other
// build, rather than hand-translated into Go.
package runtimeshim

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/hlrepl/hlrepl/internal/toolchain"
)

// CrateName is the fixed package name for the host binary, distinct
// from the per-eval dylib names internal/compose mints.
const CrateName = "hlrepl_host"

// Source is the HL program that implements the variable store (a
// process-wide, type-erased map keyed by binding name), the dynamic
// artifact loader, and the framed stdin/stdout command loop
// (LOAD/VARS/EXIT) the Child Supervisor speaks. Grounded directly on
// the original runtime support crate's own two halves: the type-erased
// store (evcxr_internal_runtime, here hlrepl_runtime) and the
// dlopen-and-call command loop (runtime.rs's Runtime::run_loop /
// load_and_run, here hlrepl_host::command_loop / handle_load), with the
// begin/end-eval and panic markers renamed to this module's own prefix
// (see DESIGN.md's note on wire-protocol sentinel names) and an
// explicit "ok"/"panic" response line appended after
// HLREPL_EXECUTION_COMPLETE so internal/varstore.ParseResponse has
// something to parse.
const Source = `
// generated host: do not edit directly, regenerated by the eval loop core
mod hlrepl_runtime {
    use std::any::Any;
    use std::collections::HashMap;
    use std::sync::Mutex;

    // Each entry also carries the type name std::any::type_name::<T>()
    // reported at put time, so VARS can answer "name: Type" without a
    // second, separately-threaded type registry.
    static STORE: Mutex<HashMap<String, (Box<dyn Any + Send>, &'static str)>> =
        Mutex::new(HashMap::new());

    pub fn put<T: Send + 'static>(name: &str, value: T) {
        let type_name = std::any::type_name::<T>();
        STORE
            .lock()
            .unwrap()
            .insert(name.to_string(), (Box::new(value), type_name));
    }

    pub fn take<T: Send + 'static>(name: &str) -> T {
        let (boxed, _) = STORE.lock().unwrap().remove(name).expect("missing stored variable");
        *boxed.downcast::<T>().expect("stored variable type mismatch")
    }

    pub fn display<T: std::fmt::Debug>(value: &T) {
        println!("{:?}", value);
    }

    pub fn display_typed<T: std::fmt::Debug>(value: &T) {
        println!("{}: {:?}", std::any::type_name::<T>(), value);
    }

    pub fn notify_panic() {
        println!("HLREPL_PANIC_NOTIFICATION");
    }

    pub fn clear() {
        STORE.lock().unwrap().clear();
    }

    pub fn var_entries() -> Vec<(String, String)> {
        let store = STORE.lock().unwrap();
        let mut entries: Vec<(String, String)> = store
            .iter()
            .map(|(name, (_, type_name))| (name.clone(), (*type_name).to_string()))
            .collect();
        entries.sort();
        entries
    }
}

mod hlrepl_host {
    use super::hlrepl_runtime;
    use libloading::{Library, Symbol};
    use std::io::{self, BufRead, Write};
    use std::panic;

    // Shared objects are never unloaded once dlopen'd: dropping one
    // whose TLS destructors are still registered can segfault at
    // process exit. Mirrors runtime.rs's Runtime::drop, which forgets
    // every loaded library rather than letting it drop.
    struct Loaded {
        libs: Vec<Library>,
    }

    pub fn command_loop() {
        let mut loaded = Loaded { libs: Vec::new() };
        let stdin = io::stdin();
        for line in stdin.lock().lines() {
            let line = match line {
                Ok(l) => l,
                Err(_) => break,
            };
            let mut parts = line.splitn(3, ' ');
            match parts.next() {
                Some("LOAD") => {
                    let path = parts.next().unwrap_or("");
                    let symbol = parts.next().unwrap_or("");
                    handle_load(&mut loaded, path, symbol);
                }
                Some("VARS") => handle_vars(),
                Some("EXIT") => break,
                _ => eprintln!("hlrepl_host: unrecognised command {:?}", line),
            }
        }
        std::process::exit(0);
    }

    fn handle_load(loaded: &mut Loaded, so_path: &str, entry_symbol: &str) {
        println!("HLREPL_BEGIN_EVAL");
        io::stdout().flush().ok();

        let outcome = panic::catch_unwind(|| unsafe {
            let lib = Library::new(so_path).expect("failed to dlopen artifact");
            let entry: Symbol<unsafe extern "C" fn()> = lib
                .get(entry_symbol.as_bytes())
                .expect("entry symbol not found in artifact");
            entry();
            lib
        });

        println!("HLREPL_EXECUTION_COMPLETE");
        io::stdout().flush().ok();

        match outcome {
            Ok(lib) => {
                loaded.libs.push(lib);
                println!("ok");
            }
            Err(_) => {
                println!("panic");
            }
        }
        io::stdout().flush().ok();
    }

    fn handle_vars() {
        let entries = hlrepl_runtime::var_entries();
        let rendered: Vec<String> = entries
            .into_iter()
            .map(|(name, type_name)| format!("{}:{}", name, type_name))
            .collect();
        println!("{}", rendered.join(","));
        io::stdout().flush().ok();
    }
}

fn main() {
    hlrepl_host::command_loop();
}
`

// Build compiles the host program once into workDir and returns the
// path to the resulting executable. Callers (internal/orch) should
// call this exactly once per EvalContext and reuse the path across
// every Restart of the Child Supervisor; only a newly created
// EvalContext needs a fresh compile.
func Build(ctx context.Context, workDir string, opts toolchain.Options) (string, error) {
	projectDir := filepath.Join(workDir, CrateName)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create host project directory")
	}

	artifact, diags, err := toolchain.Build(ctx, projectDir, Source, "main", opts, nil)
	if err != nil {
		return "", errors.Wrap(err, "compile host program")
	}
	if artifact == nil {
		return "", errors.Errorf("host program failed to compile: %d diagnostics", len(diags))
	}
	return hostExecutablePath(projectDir), nil
}

func hostExecutablePath(projectDir string) string {
	return filepath.Join(projectDir, "target", CrateName)
}
