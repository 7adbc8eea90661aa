// Package execxtest provides a scripted fake Runner for tests that must not
// launch real processes.
package execxtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mcpilot/mcpilot/internal/execx"
)

// Call records one invocation the fake received.
type Call struct {
	Path string
	Args []string
	Dir  string
	Env  map[string]string
}

// Response is what the fake returns for a matched invocation.
type Response struct {
	Stdout   string
	Stderr   string
	Lines    []execx.Line
	ExitCode int
	Err      error
}

// Fake is a Runner whose responses are keyed by command prefix. The key is
// the path plus leading args joined by spaces; the longest matching prefix
// wins. Unmatched commands succeed with empty output.
type Fake struct {
	mu        sync.Mutex
	responses map[string]Response
	missing   map[string]bool
	calls     []Call
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		responses: make(map[string]Response),
		missing:   make(map[string]bool),
	}
}

// Respond registers a response for commands matching the given prefix,
// e.g. "docker inspect" or "git clone".
func (f *Fake) Respond(prefix string, resp Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = resp
}

// MarkMissing makes LookPath fail for the named tool.
func (f *Fake) MarkMissing(tool string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[tool] = true
}

// Calls returns a copy of every invocation received so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsMatching returns invocations whose joined command starts with prefix.
func (f *Fake) CallsMatching(prefix string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if strings.HasPrefix(joined(c.Path, c.Args), prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) lookup(path string, args []string) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Path: path, Args: args, Dir: "", Env: nil})
	full := joined(path, args)
	var best string
	for prefix := range f.responses {
		if strings.HasPrefix(full, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return Response{}
	}
	return f.responses[best]
}

// Run implements execx.Runner.
func (f *Fake) Run(ctx context.Context, cmd execx.Command) (execx.Result, error) {
	if err := ctx.Err(); err != nil {
		return execx.Result{ExitCode: -1}, err
	}
	resp := f.record(cmd)
	return execx.Result{
		Stdout:   []byte(resp.Stdout),
		Stderr:   []byte(resp.Stderr),
		ExitCode: resp.ExitCode,
	}, resp.Err
}

// Stream implements execx.Runner.
func (f *Fake) Stream(ctx context.Context, cmd execx.Command, fn func(execx.Line)) (execx.Result, error) {
	if err := ctx.Err(); err != nil {
		return execx.Result{ExitCode: -1}, err
	}
	resp := f.record(cmd)
	for _, line := range resp.Lines {
		fn(line)
	}
	for _, text := range splitNonEmpty(resp.Stdout) {
		fn(execx.Line{Source: execx.SourceStdout, Text: text})
	}
	for _, text := range splitNonEmpty(resp.Stderr) {
		fn(execx.Line{Source: execx.SourceStderr, Text: text})
	}
	return execx.Result{ExitCode: resp.ExitCode}, resp.Err
}

// LookPath implements execx.Runner.
func (f *Fake) LookPath(tool string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[tool] {
		return "", fmt.Errorf("%w: %s", execx.ErrToolNotFound, tool)
	}
	return "/usr/bin/" + tool, nil
}

func (f *Fake) record(cmd execx.Command) Response {
	resp := f.lookup(cmd.Path, cmd.Args)
	f.mu.Lock()
	if n := len(f.calls); n > 0 {
		f.calls[n-1].Dir = cmd.Dir
		f.calls[n-1].Env = cmd.Env
	}
	f.mu.Unlock()
	return resp
}

func joined(path string, args []string) string {
	if len(args) == 0 {
		return path
	}
	return path + " " + strings.Join(args, " ")
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}
