// Package execx runs external tools as child processes with explicit argv
// vectors. It never constructs shell command lines. Cancellation sends the
// platform terminate signal and escalates to kill after a grace period.
package execx

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/rs/zerolog"
)

// DefaultStepTimeout bounds a single external command unless the caller
// overrides it.
const DefaultStepTimeout = 10 * time.Minute

// killGrace is how long a terminated child gets to exit before SIGKILL.
const killGrace = 5 * time.Second

// ErrToolNotFound is returned when the executable cannot be located.
var ErrToolNotFound = errors.New("tool not found")

// Command describes one external invocation.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
	Stdin   io.Reader
}

// Result captures the outcome of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// StreamSource identifies which pipe a streamed line came from.
type StreamSource string

const (
	SourceStdout StreamSource = "stdout"
	SourceStderr StreamSource = "stderr"
)

// Line is one line of child output delivered to a stream callback.
type Line struct {
	Source StreamSource
	Text   string
}

// Runner executes external commands. The concrete implementation shells
// nothing out; tests substitute a fake.
type Runner interface {
	// Run executes the command and captures its output.
	Run(ctx context.Context, cmd Command) (Result, error)
	// Stream executes the command, delivering stdout/stderr line-wise to fn
	// as they arrive. fn is called from a single goroutine.
	Stream(ctx context.Context, cmd Command, fn func(Line)) (Result, error)
	// LookPath reports whether the named tool is on PATH.
	LookPath(tool string) (string, error)
}

// OSRunner is the production Runner backed by os/exec.
type OSRunner struct {
	logger zerolog.Logger
}

// NewRunner creates an OSRunner.
func NewRunner(logger zerolog.Logger) *OSRunner {
	return &OSRunner{logger: logger.With().Str("component", "execx").Logger()}
}

// LookPath resolves a tool on PATH.
func (r *OSRunner) LookPath(tool string) (string, error) {
	path, err := exec.LookPath(tool)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, tool)
	}
	return path, nil
}

// Run executes the command and captures stdout/stderr.
func (r *OSRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	var stdout, stderr bytes.Buffer
	res, err := r.execute(ctx, cmd, &stdout, &stderr)
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	return res, err
}

// Stream executes the command while forwarding output lines to fn.
func (r *OSRunner) Stream(ctx context.Context, cmd Command, fn func(Line)) (Result, error) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	lines := make(chan Line, 64)
	go scanLines(outR, SourceStdout, lines)
	go scanLines(errR, SourceStderr, lines)

	// Deliver from a single goroutine so fn never races with itself.
	delivered := make(chan struct{})
	pending := 2
	go func() {
		defer close(delivered)
		for line := range lines {
			if line.Text == "" && line.Source == "" {
				pending--
				if pending == 0 {
					return
				}
				continue
			}
			fn(line)
		}
	}()

	res, err := r.execute(ctx, cmd, outW, errW)
	outW.Close()
	errW.Close()
	<-delivered
	return res, err
}

// scanLines pushes each line from rd onto ch, then a sentinel.
func scanLines(rd io.Reader, src StreamSource, ch chan<- Line) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ch <- Line{Source: src, Text: scanner.Text()}
	}
	ch <- Line{}
}

func (r *OSRunner) execute(ctx context.Context, cmd Command, stdout, stderr io.Writer) (Result, error) {
	if cmd.Path == "" {
		return Result{ExitCode: -1}, faults.New(faults.PreconditionFailed, "execx", "empty command path")
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	child := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	child.Dir = cmd.Dir
	child.Env = mergeEnv(cmd.Env)
	child.Stdin = cmd.Stdin
	child.Stdout = stdout
	child.Stderr = stderr
	child.Cancel = func() error {
		return child.Process.Signal(terminateSignal())
	}
	child.WaitDelay = killGrace

	r.logger.Debug().
		Str("path", cmd.Path).
		Strs("args", cmd.Args).
		Str("dir", cmd.Dir).
		Msg("executing command")

	start := time.Now()
	err := child.Run()
	res := Result{Duration: time.Since(start), ExitCode: exitCode(child, err)}

	if err == nil {
		return res, nil
	}

	switch {
	case errors.Is(err, exec.ErrNotFound):
		return res, fmt.Errorf("%w: %s", ErrToolNotFound, cmd.Path)
	case runCtx.Err() != nil && ctx.Err() == nil:
		return res, faults.Wrap(faults.Timeout, "execx",
			fmt.Errorf("%s timed out after %s", cmd.Path, timeout))
	case ctx.Err() != nil:
		return res, faults.Wrap(faults.Cancelled, "execx", ctx.Err())
	}
	return res, fmt.Errorf("%s: %w", cmd.Path, err)
}

func exitCode(child *exec.Cmd, err error) int {
	if child.ProcessState != nil {
		return child.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// mergeEnv overlays extra onto the process environment, with deterministic
// ordering so commands are reproducible in tests and logs.
func mergeEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return os.Environ()
	}
	merged := make(map[string]string, len(extra))
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}
