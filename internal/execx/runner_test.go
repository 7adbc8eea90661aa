//go:build !windows

package execx

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/rs/zerolog"
)

func testRunner() *OSRunner {
	return NewRunner(zerolog.Nop())
}

func TestRun_CapturesOutput(t *testing.T) {
	res, err := testRunner().Run(context.Background(), Command{
		Path: "sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.TrimSpace(string(res.Stdout)); got != "out" {
		t.Errorf("stdout = %q, want %q", got, "out")
	}
	if got := strings.TrimSpace(string(res.Stderr)); got != "err" {
		t.Errorf("stderr = %q, want %q", got, "err")
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
}

func TestRun_ExitCode(t *testing.T) {
	res, err := testRunner().Run(context.Background(), Command{
		Path: "sh",
		Args: []string{"-c", "exit 3"},
	})
	if err == nil {
		t.Fatal("Run() expected error for non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRun_ToolNotFound(t *testing.T) {
	_, err := testRunner().Run(context.Background(), Command{
		Path: "definitely-not-a-real-tool-xyz",
	})
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("error = %v, want ErrToolNotFound", err)
	}
}

func TestRun_Timeout(t *testing.T) {
	start := time.Now()
	_, err := testRunner().Run(context.Background(), Command{
		Path:    "sleep",
		Args:    []string{"30"},
		Timeout: 100 * time.Millisecond,
	})
	if faults.KindOf(err) != faults.Timeout {
		t.Fatalf("kind = %v, want Timeout (err = %v)", faults.KindOf(err), err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %s, child was not terminated promptly", elapsed)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := testRunner().Run(ctx, Command{
		Path: "sleep",
		Args: []string{"30"},
	})
	if faults.KindOf(err) != faults.Cancelled {
		t.Errorf("kind = %v, want Cancelled (err = %v)", faults.KindOf(err), err)
	}
}

func TestRun_EnvAndDir(t *testing.T) {
	dir := t.TempDir()
	res, err := testRunner().Run(context.Background(), Command{
		Path: "sh",
		Args: []string{"-c", "echo $MCPILOT_TEST_VAR; pwd"},
		Dir:  dir,
		Env:  map[string]string{"MCPILOT_TEST_VAR": "hello"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	out := string(res.Stdout)
	if !strings.Contains(out, "hello") {
		t.Errorf("output missing env var value: %q", out)
	}
	if !strings.Contains(out, dir) {
		t.Errorf("output missing working dir %q: %q", dir, out)
	}
}

func TestStream_DeliversLines(t *testing.T) {
	var stdout, stderr []string
	_, err := testRunner().Stream(context.Background(), Command{
		Path: "sh",
		Args: []string{"-c", "echo one; echo two; echo three >&2"},
	}, func(line Line) {
		switch line.Source {
		case SourceStdout:
			stdout = append(stdout, line.Text)
		case SourceStderr:
			stderr = append(stderr, line.Text)
		}
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(stdout) != 2 || stdout[0] != "one" || stdout[1] != "two" {
		t.Errorf("stdout lines = %v, want [one two]", stdout)
	}
	if len(stderr) != 1 || stderr[0] != "three" {
		t.Errorf("stderr lines = %v, want [three]", stderr)
	}
}

func TestLookPath(t *testing.T) {
	if _, err := testRunner().LookPath("sh"); err != nil {
		t.Errorf("LookPath(sh) error = %v", err)
	}
	if _, err := testRunner().LookPath("definitely-not-a-real-tool-xyz"); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("LookPath error = %v, want ErrToolNotFound", err)
	}
}
