// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2026 HL REPL Contributors

package orch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hlrepl/hlrepl/internal/analyzer"
	"github.com/hlrepl/hlrepl/internal/cache"
	"github.com/hlrepl/hlrepl/internal/child"
	"github.com/hlrepl/hlrepl/internal/compose"
	"github.com/hlrepl/hlrepl/internal/directive"
	"github.com/hlrepl/hlrepl/internal/runtimeshim"
	"github.com/hlrepl/hlrepl/internal/toolchain"
	"github.com/hlrepl/hlrepl/internal/varstore"
)

// Options configures one EvalContext.
type Options struct {
	WorkDir             string
	Toolchain           string
	Linker              string
	Offline             bool
	OptLevel            int
	PreserveVarsOnPanic bool
	CacheIndex          cache.Index
	CacheMaxMB          int64
	StreamCallback      func(Event)
	Logger              *logrus.Logger
	ChildWaitTimeout    time.Duration
	Version             string
}

func (o Options) logger() *logrus.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}

// EvalContext is the orchestrator: it owns the composer state, a
// single Child Supervisor, and the toolchain options for one
// independent eval loop.
type EvalContext struct {
	mu sync.Mutex

	opts       Options
	state      *compose.ComposerState
	supervisor *child.Supervisor
	hostPath   string

	// liveSupervisor mirrors supervisor for Cancel, which must be able
	// to kill the child from another goroutine while Evaluate holds mu
	// blocked inside a RecvLine. cancelled records that the in-flight
	// (or next) Evaluate call should report OutcomeCancelled.
	liveSupervisor atomic.Pointer[child.Supervisor]
	cancelled      atomic.Bool

	projectDir      string
	lastCompileDir  string
	lastDiagnostics []toolchain.Diagnostic

	timing     bool
	typesOn    bool
	timePasses bool
	prewarm    bool

	runtimeEnv map[string]string // ":env", applied to the child process
	buildEnv   map[string]string // ":build_env", applied to the build tool
}

// New creates an EvalContext. The Child Supervisor is not started
// until the first Evaluate call, so constructing an EvalContext never
// invokes the toolchain.
func New(opts Options) *EvalContext {
	if opts.ChildWaitTimeout == 0 {
		opts.ChildWaitTimeout = 5 * time.Second
	}
	return &EvalContext{
		opts:       opts,
		state:      compose.New(),
		projectDir: opts.WorkDir,
	}
}

func (ec *EvalContext) toolchainOptions() toolchain.Options {
	return toolchain.Options{
		Toolchain:  ec.opts.Toolchain,
		Linker:     ec.opts.Linker,
		Offline:    ec.opts.Offline,
		OptLevel:   ec.opts.OptLevel,
		ExtraEnv:   ec.buildEnv,
		CacheIndex: ec.opts.CacheIndex,
		CacheMaxMB: ec.opts.CacheMaxMB,
		Logger:     ec.opts.logger(),
		TimePasses: ec.timePasses,
	}
}

func (ec *EvalContext) emit(e Event) {
	if ec.opts.StreamCallback != nil {
		ec.opts.StreamCallback(e)
	}
}

// Evaluate runs the full AcceptFragment -> Analyze -> Compose -> Build
// -> {run | remap} pipeline for one fragment.
func (ec *EvalContext) Evaluate(ctx context.Context, fragment string) (EvalOutcome, error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if directive.IsDirective(fragment) {
		res, err := directive.Dispatch(fragment, ec)
		if err != nil {
			return EvalOutcome{Kind: OutcomeDirectiveError, Output: err.Error()}, nil
		}
		return EvalOutcome{Kind: OutcomeDirectiveResult, Output: res.Output, Quit: res.Quit}, nil
	}

	outcome, err := ec.evalFragment(ctx, fragment)
	if err != nil {
		return EvalOutcome{}, err
	}

	// A moved-variable build failure gets exactly one retry after
	// dropping the offending binding, grounded on evcxr's own E0382
	// handling (attempt_to_fix_error in eval_context.rs): the compiler
	// diagnostic is the only place that knows a variable was moved, so
	// move-state is updated from it even though the draft that produced
	// the diagnostic is discarded either way.
	if outcome.Kind == OutcomeBuildError {
		if name, ok := movedVariableFromDiagnostics(outcome.Diagnostics, ec.state); ok {
			ec.dropMovedVariable(name)
			retried, err := ec.evalFragment(ctx, fragment)
			if err != nil {
				return EvalOutcome{}, err
			}
			return retried, nil
		}
	}

	return outcome, nil
}

// evalFragment wraps evalFragmentInner with the ":timing" directive's
// wall-clock measurement: rather than threading a new field through
// EvalOutcome and every downstream renderer, the elapsed time is
// appended directly to Output, which every outcome-printing call site
// already displays unconditionally.
func (ec *EvalContext) evalFragment(ctx context.Context, fragment string) (EvalOutcome, error) {
	start := time.Now()
	outcome, err := ec.evalFragmentInner(ctx, fragment)
	if err != nil || !ec.timing {
		return outcome, err
	}
	outcome.Output = appendTiming(outcome.Output, time.Since(start))
	return outcome, nil
}

func appendTiming(output string, d time.Duration) string {
	line := fmt.Sprintf("took %s", d.Round(time.Millisecond))
	if output == "" {
		return line
	}
	return output + "\n" + line
}

// evalFragmentInner runs one Analyze -> Compose -> Build -> {run |
// remap} pass without any move-state retry, so Evaluate can call it a
// second time after dropping a moved variable.
func (ec *EvalContext) evalFragmentInner(ctx context.Context, fragment string) (EvalOutcome, error) {
	frag, err := analyzer.Analyze(fragment)
	if err != nil {
		switch err {
		case analyzer.ErrFragmentIncomplete:
			return EvalOutcome{Kind: OutcomeFragmentIncomplete}, nil
		case analyzer.ErrParse:
			return EvalOutcome{Kind: OutcomeParseError, Output: err.Error()}, nil
		}
		return EvalOutcome{}, err
	}

	draft, err := compose.Compose(ec.state, frag)
	if err != nil {
		var uae *compose.UndeclaredAssignmentError
		if errors.As(err, &uae) {
			return EvalOutcome{Kind: OutcomeParseError, Output: err.Error()}, nil
		}
		return EvalOutcome{}, err
	}

	if err := os.MkdirAll(filepath.Join(ec.projectDir, "src"), 0o755); err != nil {
		return EvalOutcome{}, errors.Wrap(err, "create project directory")
	}
	deps := make(map[string]string, len(draft.State.Dependencies))
	for name, spec := range draft.State.Dependencies {
		deps[name] = spec.Version
	}
	if err := toolchain.WriteManifestDependencies(ec.projectDir, deps, ec.toolchainOptions()); err != nil {
		return EvalOutcome{}, err
	}

	progress := make(chan string, 16)
	go func() {
		for line := range progress {
			ec.emit(Event{Kind: EventProgress, Text: line})
		}
	}()

	artifact, diags, err := toolchain.Build(ctx, ec.projectDir, draft.Source.String(), draft.EntryFunc, ec.toolchainOptions(), progress)
	close(progress)
	ec.lastDiagnostics = diags
	ec.lastCompileDir = ec.projectDir

	for _, d := range diags {
		ec.emit(Event{Kind: EventDiagnostic, Diag: remapDiagnostic(d, draft.Source)})
	}

	if err != nil {
		return EvalOutcome{}, errors.Wrap(err, "build fragment")
	}
	if artifact == nil {
		// RemapSpans -> UpdateMoveState -> DiscardDraftAdditions -> Emit.
		// The draft is simply never committed; ec.state is untouched here,
		// Evaluate updates move-state on the live state once it inspects
		// these diagnostics.
		if hasTypeAnnotationError(diags) {
			return EvalOutcome{Kind: OutcomeTypeAnnotationRequired, Diagnostics: diags}, nil
		}
		return EvalOutcome{Kind: OutcomeBuildError, Diagnostics: diags}, nil
	}

	toolchain.SaveLockfileForNextModule(ec.projectDir)

	if err := ec.ensureChild(ctx); err != nil {
		return EvalOutcome{}, errors.Wrap(err, "ensure child process")
	}

	outcome, err := ec.runArtifact(ctx, artifact)
	if err != nil {
		return EvalOutcome{}, err
	}

	switch outcome.Kind {
	case OutcomeOK:
		ec.state = draft.State // commit
		if ec.prewarm {
			ec.spawnPrewarm(ec.state.Clone())
		}
	case OutcomeChildCrashed:
		ec.state.ClearVariables()
	case OutcomeChildPanic:
		// The entry function panicked inside the restore/run/store-back
		// closure, so the store-back half never ran: every variable this
		// eval restored is already gone from the child's store. The
		// draft is never committed either way, but the *previously
		// committed* state must reflect the panic policy recorded when
		// this build started, not whatever policy is active now.
		if !ec.opts.PreserveVarsOnPanic {
			ec.pruneNonCopyVariables()
		}
	case OutcomeCancelled:
		ec.state.ClearVariables()
	}

	return outcome, nil
}

// movedVariablePattern extracts a backtick-quoted identifier from an
// E0382 ("use of moved value") diagnostic message, e.g. "use of moved
// value: `s`".
var movedVariablePattern = regexp.MustCompile("`([A-Za-z_][A-Za-z0-9_]*)`")

// movedVariableFromDiagnostics scans diags for an E0382 diagnostic that
// names one of state's currently-tracked variables. Only diagnostics
// naming a variable the composer actually tracks are trusted, so an
// E0382 inside unrelated generated code (there isn't any today, but
// nothing prevents it in principle) can never make Evaluate drop the
// wrong binding.
func movedVariableFromDiagnostics(diags []toolchain.Diagnostic, state *compose.ComposerState) (string, bool) {
	for _, d := range diags {
		if d.Code != "E0382" {
			continue
		}
		text := d.Message
		if text == "" {
			text = d.Rendered
		}
		for _, m := range movedVariablePattern.FindAllStringSubmatch(text, -1) {
			name := m[1]
			if _, ok := state.Variable(name); ok {
				return name, true
			}
		}
	}
	return "", false
}

// dropMovedVariable records the move (matching the "variable move-state
// is still updated from the compiler's move diagnostics" contract) and
// then removes the binding: the parent process may no longer offer this
// value back to the child since the compiler has already told us the
// child-side value was consumed by a previous fragment.
func (ec *EvalContext) dropMovedVariable(name string) {
	if vs, ok := ec.state.Variable(name); ok {
		vs.MoveState = compose.MovedInLastEval
		ec.state.SetVariable(name, vs)
	}
	ec.state.RemoveVariable(name)
}

// pruneNonCopyVariables drops every tracked variable except those known
// to be Copy types, used after a child panic when preserve_vars_on_panic
// is disabled: Copy variables are restored from the store by value
// without moving the original out from under it conceptually, so they
// are the only ones a panic doesn't destructively lose.
func (ec *EvalContext) pruneNonCopyVariables() {
	for _, name := range ec.state.VariableNames() {
		if vs, ok := ec.state.Variable(name); ok && !vs.IsCopy {
			ec.state.RemoveVariable(name)
		}
	}
}

// ensureChild lazily compiles the host program and spawns the first
// Child Supervisor, or does nothing if one is already running.
func (ec *EvalContext) ensureChild(ctx context.Context) error {
	if ec.supervisor != nil && ec.supervisor.EnsureAlive() {
		return nil
	}

	if ec.hostPath == "" {
		path, err := runtimeshim.Build(ctx, ec.projectDir, ec.toolchainOptions())
		if err != nil {
			return errors.Wrap(err, "build host program")
		}
		ec.hostPath = path
	}

	spawner := func() *exec.Cmd {
		cmd := exec.Command(ec.hostPath)
		if len(ec.runtimeEnv) > 0 {
			cmd.Env = os.Environ()
			for k, v := range ec.runtimeEnv {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return cmd
	}
	ec.supervisor = child.New(spawner, ec.opts.logger())
	ec.liveSupervisor.Store(ec.supervisor)
	return ec.supervisor.Spawn(ctx)
}

// spawnPrewarm kicks off a speculative build of an empty entry function
// on the current committed state, on a background goroutine, so the
// next real eval's incremental rebuild finds the dependency graph and
// prior items already compiled. Grounded on the original evaluator's
// warm_up_next_module: the speculative build never touches ec.state or
// ec.projectDir, since a concurrent Evaluate call may already be
// mutating the live project directory by the time this goroutine runs.
func (ec *EvalContext) spawnPrewarm(state *compose.ComposerState) {
	draft, err := compose.Compose(state, analyzer.Fragment{Kind: analyzer.KindStatements})
	if err != nil {
		return
	}
	opts := ec.toolchainOptions()
	prewarmDir := filepath.Join(ec.opts.WorkDir, "hlrepl_prewarm")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		toolchain.Build(ctx, prewarmDir, draft.Source.String(), draft.EntryFunc, opts, nil)
	}()
}

// Cancel kills the child process out from under any in-flight Evaluate
// call, the way an explicit front-end interrupt does per the
// cancellation contract: this is not cooperative, there is no signal
// delivered to running user code, the child just dies. It is safe to
// call concurrently with Evaluate — unlike every other EvalContext
// method, it never takes mu, since Evaluate may be blocked holding mu
// inside a RecvLine when the interrupt arrives.
func (ec *EvalContext) Cancel() {
	ec.cancelled.Store(true)
	if sup := ec.liveSupervisor.Load(); sup != nil {
		sup.Kill()
	}
}

// runArtifact sends LOAD and drains child output until the end-of-eval
// marker, classifying every line along the way.
func (ec *EvalContext) runArtifact(ctx context.Context, artifact *toolchain.Artifact) (EvalOutcome, error) {
	loadLine := varstore.Encode(varstore.CmdLoad, artifact.SharedObjectPath, artifact.EntryFunc)
	if err := ec.supervisor.Send(loadLine); err != nil {
		return EvalOutcome{}, errors.Wrap(err, "send LOAD to child")
	}

	var collector child.ContentCollector
	var output strings.Builder

	select {
	case exitInfo := <-ec.supervisor.Exited():
		return ec.handleChildExit(ctx, exitInfo)
	default:
	}

	for {
		line, err := ec.supervisor.RecvLine(ctx)
		if err != nil {
			select {
			case exitInfo := <-ec.supervisor.Exited():
				return ec.handleChildExit(ctx, exitInfo)
			default:
			}
			return EvalOutcome{}, errors.Wrap(err, "read child output")
		}

		kind, payload := child.Classify(line)
		switch kind {
		case child.LineBeginEval:
			continue
		case child.LineBeginContent:
			collector.Begin(payload)
		case child.LineEndContent:
			da, err := collector.Finish()
			if err == nil {
				ec.emit(Event{Kind: EventDisplayArtifact, Artifact: da})
			}
		case child.LineEndEval:
			// handled after the loop: the response line follows on
			// the next read.
		case child.LineOutput:
			if collector.Active() {
				collector.AddLine(line)
				continue
			}
			output.WriteString(line)
			output.WriteByte('\n')
			ec.emit(Event{Kind: EventOutput, Text: line})
		}

		if kind == child.LineEndEval {
			break
		}
	}

	respLine, err := ec.supervisor.RecvLine(ctx)
	if err != nil {
		return EvalOutcome{}, errors.Wrap(err, "read LOAD response")
	}
	resp, err := varstore.ParseResponse(respLine)
	if err != nil {
		return EvalOutcome{}, err
	}

	switch resp.Kind {
	case varstore.RespOK:
		return EvalOutcome{Kind: OutcomeOK, Output: output.String()}, nil
	case varstore.RespPanic:
		return EvalOutcome{Kind: OutcomeChildPanic, Output: output.String()}, nil
	case varstore.RespNonZeroExit, varstore.RespSignal:
		return EvalOutcome{Kind: OutcomeChildCrashed, Output: output.String()}, nil
	}
	return EvalOutcome{}, errors.Errorf("unhandled child response kind %v", resp.Kind)
}

func (ec *EvalContext) handleChildExit(ctx context.Context, info child.ExitInfo) (EvalOutcome, error) {
	// Swap, not Load: a cancellation is consumed by the exit it caused,
	// so a later, unrelated crash doesn't get misreported as cancelled.
	wasCancelled := ec.cancelled.Swap(false)

	if err := ec.supervisor.Restart(ctx); err != nil {
		return EvalOutcome{}, errors.Wrap(err, "restart child after crash")
	}
	ec.liveSupervisor.Store(ec.supervisor)

	if wasCancelled {
		return EvalOutcome{Kind: OutcomeCancelled}, nil
	}
	return EvalOutcome{Kind: OutcomeChildCrashed, Output: "child process terminated: " + strconv.Itoa(info.Code)}, nil
}

func hasTypeAnnotationError(diags []toolchain.Diagnostic) bool {
	for _, d := range diags {
		if d.Code == "E0282" {
			return true
		}
	}
	return false
}

func remapDiagnostic(d toolchain.Diagnostic, source *compose.CodeBlock) toolchain.Diagnostic {
	for i, span := range d.Spans {
		if !span.IsPrimary {
			continue
		}
		if userOffset, ok := source.RemapToUser(span.ByteStart); ok {
			d.Spans[i].ByteStart = userOffset
		}
		break
	}
	return d
}

// Complete is a minimal completion stub: HL identifier completion
// requires the toolchain's own symbol table, which this orchestrator
// does not have access to. It reports the tracked variable names as
// the only completions it can offer without the toolchain's help,
// which still covers the common REPL case of completing a previously
// bound name. Item names are not offered.
func (ec *EvalContext) Complete(ctx context.Context, fragment string, cursorByteOffset int) ([]Completion, error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	names := ec.state.VariableNames()
	out := make([]Completion, len(names))
	for i, n := range names {
		out[i] = Completion{Text: n}
	}
	return out, nil
}

// StateSnapshot returns a read-only view of current composer state.
func (ec *EvalContext) StateSnapshot() StateSnapshot {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	items := ec.state.Items()
	return StateSnapshot{
		VariableNames: ec.state.VariableNames(),
		ItemCount:     len(items),
		UsePaths:      ec.state.UsePaths(),
	}
}

// Reset discards all composer state and restarts the child process
// with an empty variable store, for front-ends offering an explicit
// "restart" command. The ":clear" directive calls ClearVariables
// instead.
func (ec *EvalContext) Reset(ctx context.Context) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.state = compose.New()
	if ec.supervisor != nil {
		return ec.supervisor.Restart(ctx)
	}
	return nil
}

// Close shuts down the child process, waiting up to the configured
// timeout before forcing a kill.
func (ec *EvalContext) Close() error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.supervisor == nil {
		return nil
	}
	return ec.supervisor.Close(ec.opts.ChildWaitTimeout)
}
