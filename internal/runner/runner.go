// Package runner executes build commands and applies the abort/continue
// failure policy.
//
// Every shell command holds the shared side of a gate while it runs. The
// operator prompt takes the gate exclusively, so it waits for in-flight
// commands to finish and keeps new ones from starting until it is answered.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"nativedeps/internal/builderr"
	"nativedeps/internal/ui"
)

// Policy decides what happens when a step fails.
type Policy int

const (
	AskOperator Policy = iota
	AlwaysContinue
	AlwaysAbort
)

func (p Policy) String() string {
	switch p {
	case AskOperator:
		return "ask"
	case AlwaysContinue:
		return "continue"
	case AlwaysAbort:
		return "abort"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts the names printed by String.
func ParsePolicy(s string) (Policy, error) {
	for _, p := range []Policy{AskOperator, AlwaysContinue, AlwaysAbort} {
		if p.String() == s {
			return p, nil
		}
	}
	return AskOperator, fmt.Errorf("unknown failure policy %q", s)
}

const promptText = "(a)bort or (c)ontinue: "

// Failure is a step that failed and was continued past.
type Failure struct {
	Step string
	Err  error
}

// Options configures New.
type Options struct {
	Policy Policy
	// Input is read by the operator prompt. Defaults to os.Stdin.
	Input io.Reader
	// Quiet keeps command output off the console; it still reaches the log.
	Quiet bool
}

type shared struct {
	policy Policy
	in     *bufio.Reader
	quiet  bool
	gate   sync.RWMutex

	mu       sync.Mutex
	failures []Failure
}

// Runner runs shell commands and non-shell steps under a Policy. Runners
// derived with WithLog share the gate and the failure record.
type Runner struct {
	s   *shared
	log io.Writer
}

// New returns a Runner writing command output to the console only.
func New(opts Options) *Runner {
	in := opts.Input
	if in == nil {
		in = os.Stdin
	}
	return &Runner{s: &shared{
		policy: opts.Policy,
		in:     bufio.NewReader(in),
		quiet:  opts.Quiet,
	}}
}

// WithLog returns a Runner that also copies command output to w.
func (r *Runner) WithLog(w io.Writer) *Runner {
	return &Runner{s: r.s, log: w}
}

// Policy reports the configured policy.
func (r *Runner) Policy() Policy { return r.s.policy }

// Shell runs script through the host shell in dir. env entries (KEY=VALUE)
// are added to the inherited environment.
func (r *Runner) Shell(ctx context.Context, dir string, env []string, script string) error {
	err := r.run(ctx, dir, env, script)
	if err == nil {
		return nil
	}
	return r.handle(ctx, script, err)
}

// Step runs fn and applies the policy to its error. Fatal errors are
// returned untouched. Like a shell command, fn never runs while the
// operator prompt is pending.
func (r *Runner) Step(ctx context.Context, desc string, fn func() error) error {
	r.s.gate.RLock()
	err := fn()
	r.s.gate.RUnlock()
	if err == nil {
		return nil
	}
	return r.handle(ctx, desc, err)
}

// Failures lists the steps continued past so far.
func (r *Runner) Failures() []Failure {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]Failure, len(r.s.failures))
	copy(out, r.s.failures)
	return out
}

func (r *Runner) run(ctx context.Context, dir string, env []string, script string) error {
	r.s.gate.RLock()
	defer r.s.gate.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	name, args := shellCommand(script)
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var out io.Writer = os.Stdout
	var errOut io.Writer = os.Stderr
	switch {
	case r.s.quiet && r.log != nil:
		out, errOut = r.log, r.log
	case r.s.quiet:
		out, errOut = io.Discard, io.Discard
	case r.log != nil:
		out, errOut = io.MultiWriter(os.Stdout, r.log), io.MultiWriter(os.Stderr, r.log)
	}
	if r.log != nil {
		fmt.Fprintf(r.log, "$ cd %s && %s\n", dir, script)
	}
	cmd.Stdout, cmd.Stderr = out, errOut

	ui.Debugf("=> [%s] %s\n", dir, script)
	exe := &Executor{}
	if err := exe.Run(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return err
		}
		ce := &builderr.CommandError{Command: script, Dir: dir, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			ce.ExitCode = exitErr.ExitCode()
		}
		return ce
	}
	return nil
}

func shellCommand(script string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", script}
	}
	return "sh", []string{"-c", script}
}

func (r *Runner) handle(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil || builderr.IsFatal(err) {
		return err
	}
	if r.log != nil {
		fmt.Fprintf(r.log, "error: %v\n", err)
	}

	switch r.s.policy {
	case AlwaysContinue:
		ui.Println(ui.Warn, fmt.Sprintf("error: %v (continuing)", err))
		r.record(step, err)
		return nil
	case AlwaysAbort:
		return &builderr.AbortError{Step: step, Cause: err}
	}

	r.s.gate.Lock()
	defer r.s.gate.Unlock()

	ui.Println(ui.Error, fmt.Sprintf("error: %v", err))
	answer, perr := ui.Choose(r.s.in, nil, promptText, "a", "c")
	if perr != nil || answer == "a" {
		return &builderr.AbortError{Step: step, Cause: err}
	}
	r.record(step, err)
	return nil
}

func (r *Runner) record(step string, err error) {
	r.s.mu.Lock()
	r.s.failures = append(r.s.failures, Failure{Step: step, Err: err})
	r.s.mu.Unlock()
}
