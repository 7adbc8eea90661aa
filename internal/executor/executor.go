// Package executor runs installation plans step by step, streaming progress
// and applying bounded recovery on failure.
package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcpilot/mcpilot/internal/containerctl"
	"github.com/mcpilot/mcpilot/internal/events"
	"github.com/mcpilot/mcpilot/internal/execx"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/metrics"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/rs/zerolog"
)

// Elevator is the injected capability for requesting elevated credentials
// from the surrounding UI. Elevate returns an environment overlay applied to
// the retried step, or an error when elevation is unavailable.
type Elevator interface {
	Elevate(ctx context.Context, reason string) (map[string]string, error)
}

// Options adjust execution behavior.
type Options struct {
	// StepTimeout bounds each step. Zero means the 10 minute default.
	StepTimeout time.Duration
	// VerifyWindow bounds how long the verify step waits for a container to
	// reach running.
	VerifyWindow time.Duration
	// CollisionPolicy decides already-exists recovery. Default rename.
	CollisionPolicy CollisionPolicy
	// Metrics receives per-step durations. May be nil.
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.StepTimeout <= 0 {
		o.StepTimeout = execx.DefaultStepTimeout
	}
	if o.VerifyWindow <= 0 {
		o.VerifyWindow = 30 * time.Second
	}
	if o.CollisionPolicy == "" {
		o.CollisionPolicy = CollisionRename
	}
	return o
}

// Executor executes plans.
type Executor struct {
	runner     execx.Runner
	containers *containerctl.Client
	elevator   Elevator
	bus        *events.Bus
	opts       Options
	logger     zerolog.Logger

	// now is injectable for deterministic rename suffixes in tests.
	now func() time.Time
}

// New creates an Executor. elevator may be nil when the UI offers no
// elevation path.
func New(runner execx.Runner, containers *containerctl.Client, elevator Elevator, bus *events.Bus, opts Options, logger zerolog.Logger) *Executor {
	return &Executor{
		runner:     runner,
		containers: containers,
		elevator:   elevator,
		bus:        bus,
		opts:       opts.withDefaults(),
		logger:     logger.With().Str("component", "executor").Logger(),
		now:        time.Now,
	}
}

// Execute runs the plan's remaining steps in order, advancing
// plan.ProgressIndex as each one completes. Cancellation terminates the
// running child process and abandons further steps.
func (e *Executor) Execute(ctx context.Context, plan *models.Plan) error {
	total := len(plan.Steps)
	for plan.ProgressIndex < total {
		if err := ctx.Err(); err != nil {
			return faults.Wrap(faults.Cancelled, "executor", err)
		}

		i := plan.ProgressIndex
		step := plan.Steps[i]
		e.progress(plan, i, "start", step.Description)
		e.logger.Info().
			Int("step", i).
			Str("type", string(step.Type)).
			Str("description", step.Description).
			Msg("running step")

		started := e.now()
		err := e.runStepWithRecovery(ctx, plan, i)
		e.opts.Metrics.ObserveStep(string(step.Type), e.now().Sub(started))
		if err != nil {
			e.progress(plan, i, "error", err.Error())
			return err
		}

		plan.ProgressIndex = i + 1
		e.progress(plan, i, "done", step.Description)
	}
	return nil
}

// runStepWithRecovery runs one step, consulting the recovery classifier on
// failure. A strategy is applied at most once; the second failure is fatal.
func (e *Executor) runStepWithRecovery(ctx context.Context, plan *models.Plan, i int) error {
	err := e.runStep(ctx, plan, i, nil)
	if err == nil {
		return nil
	}
	switch kind := faults.KindOf(err); kind {
	case faults.Cancelled, faults.Timeout:
		return err
	}

	stderr := stderrOf(err)
	switch classify(err, stderr) {
	case strategyMissingTool:
		tool := missingTool(err, plan.Steps[i].Command)
		return faults.Wrap(faults.PreconditionFailed, "executor",
			fmt.Errorf("required tool %q is not installed; install it and retry: %w", tool, err))

	case strategyElevate:
		if e.elevator == nil {
			return faults.Wrap(faults.PermissionDenied, "executor", err)
		}
		overlay, eerr := e.elevator.Elevate(ctx, plan.Steps[i].Description)
		if eerr != nil {
			return faults.Wrap(faults.PermissionDenied, "executor",
				fmt.Errorf("elevation unavailable (%v): %w", eerr, err))
		}
		e.logger.Info().Int("step", i).Msg("retrying step with elevated credentials")
		if rerr := e.runStep(ctx, plan, i, overlay); rerr != nil {
			return faults.Wrap(faults.PermissionDenied, "executor", rerr)
		}
		return nil

	case strategyRename:
		if !plan.Steps[i].Recoverable {
			return faults.Wrap(faults.NameCollision, "executor", err)
		}
		if rerr := e.resolveCollision(ctx, plan, i); rerr != nil {
			return faults.Wrap(faults.NameCollision, "executor", rerr)
		}
		if rerr := e.runStep(ctx, plan, i, nil); rerr != nil {
			return faults.Wrap(faults.NameCollision, "executor", rerr)
		}
		return nil
	}

	return faults.Wrap(faults.Fatal, "executor", err)
}

// resolveCollision applies the configured collision policy to the step's
// target before the retry.
func (e *Executor) resolveCollision(ctx context.Context, plan *models.Plan, i int) error {
	step := plan.Steps[i]
	switch e.opts.CollisionPolicy {
	case CollisionReplace:
		switch step.Type {
		case models.StepFetch:
			e.logger.Warn().Str("path", plan.InstallPath).Msg("removing existing install path for replace policy")
			return os.RemoveAll(plan.InstallPath)
		case models.StepContainerRun:
			if name := argValue(step.Command, "--name"); name != "" {
				return e.containers.Remove(ctx, name)
			}
		}
		return nil

	default: // rename
		suffix := fmt.Sprintf("-%d", e.now().Unix())
		switch step.Type {
		case models.StepFetch:
			e.renameInstallPath(plan, plan.InstallPath+suffix)
		case models.StepContainerRun:
			if name := argValue(step.Command, "--name"); name != "" {
				setArgValue(plan.Steps[i].Command, "--name", name+suffix)
				plan.ServerName = strings.TrimPrefix(name+suffix, "mcp-")
			}
		}
		return nil
	}
}

// renameInstallPath rewrites the install path everywhere the plan mentions it.
func (e *Executor) renameInstallPath(plan *models.Plan, newPath string) {
	old := plan.InstallPath
	plan.InstallPath = newPath
	for i := range plan.Steps {
		if plan.Steps[i].Dir == old {
			plan.Steps[i].Dir = newPath
		}
		for j, arg := range plan.Steps[i].Command {
			if arg == old {
				plan.Steps[i].Command[j] = newPath
			}
		}
	}
	e.logger.Warn().Str("old", old).Str("new", newPath).Msg("install path renamed after collision")
}

// runStep executes one step. Verify steps probe instead of spawning.
func (e *Executor) runStep(ctx context.Context, plan *models.Plan, i int, envOverlay map[string]string) error {
	step := plan.Steps[i]

	switch step.Type {
	case models.StepVerify:
		return e.verify(ctx, plan)
	case models.StepConfigure:
		return e.configure(plan)
	}

	if len(step.Command) == 0 {
		return faults.New(faults.PreconditionFailed, "executor",
			fmt.Sprintf("step %d (%s) has no command", i, step.Type))
	}

	env := step.Env
	if len(envOverlay) > 0 {
		env = make(map[string]string, len(step.Env)+len(envOverlay))
		for k, v := range step.Env {
			env[k] = v
		}
		for k, v := range envOverlay {
			env[k] = v
		}
	}

	var tail errorTail
	_, err := e.runner.Stream(ctx, execx.Command{
		Path:    step.Command[0],
		Args:    step.Command[1:],
		Dir:     step.Dir,
		Env:     env,
		Timeout: e.opts.StepTimeout,
	}, func(line execx.Line) {
		phase := string(line.Source)
		e.progress(plan, i, phase, line.Text)
		if line.Source == execx.SourceStderr {
			tail.add(line.Text)
		}
	})
	if err != nil {
		return &stepError{step: step.Type, stderr: tail.String(), err: err}
	}
	return nil
}

// configure materializes declared config files as empty defaults so the
// server has a config/ directory to start from.
func (e *Executor) configure(plan *models.Plan) error {
	dir := plan.InstallPath
	cfgDir := dir + string(os.PathSeparator) + "config"
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return nil
}

// verify confirms the step side effects exist: install path populated, and
// for the container method that the container reaches running inside the
// polling window.
func (e *Executor) verify(ctx context.Context, plan *models.Plan) error {
	entries, err := os.ReadDir(plan.InstallPath)
	if err != nil {
		return faults.Wrap(faults.Fatal, "executor",
			fmt.Errorf("verify: install path missing: %w", err))
	}
	if len(entries) == 0 {
		return faults.New(faults.Fatal, "executor", "verify: install path is empty")
	}

	if plan.Method != models.MethodContainer {
		return nil
	}

	name := containerNameOf(plan)
	if name == "" {
		return faults.New(faults.Fatal, "executor", "verify: plan has no container-run step")
	}
	if err := e.containers.AwaitStatus(ctx, name, containerctl.StatusRunning, e.opts.VerifyWindow); err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	return nil
}

// containerNameOf extracts the container name from the plan's run step.
func containerNameOf(plan *models.Plan) string {
	for _, step := range plan.Steps {
		if step.Type == models.StepContainerRun {
			return argValue(step.Command, "--name")
		}
	}
	return ""
}

func (e *Executor) progress(plan *models.Plan, step int, phase, message string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Kind:       events.KindPlanProgress,
		ServerID:   plan.ServerID,
		StepIndex:  step,
		TotalSteps: len(plan.Steps),
		Phase:      phase,
		Message:    message,
	})
}

// stepError carries the captured stderr tail so the recovery classifier can
// inspect it.
type stepError struct {
	step   models.StepType
	stderr string
	err    error
}

func (s *stepError) Error() string {
	if s.stderr != "" {
		return fmt.Sprintf("step %s: %v: %s", s.step, s.err, s.stderr)
	}
	return fmt.Sprintf("step %s: %v", s.step, s.err)
}

func (s *stepError) Unwrap() error { return s.err }

// stderrOf pulls the stderr tail out of a step error chain.
func stderrOf(err error) string {
	for e := err; e != nil; {
		if se, ok := e.(*stepError); ok {
			return se.stderr
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		e = u.Unwrap()
	}
	return ""
}

// errorTail keeps the last few stderr lines for diagnostics.
type errorTail struct {
	lines []string
}

func (t *errorTail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > 8 {
		t.lines = t.lines[1:]
	}
}

func (t *errorTail) String() string { return strings.Join(t.lines, "\n") }

// argValue returns the value following flag in an argv vector.
func argValue(argv []string, flag string) string {
	for i, a := range argv {
		if a == flag && i+1 < len(argv) {
			return argv[i+1]
		}
	}
	return ""
}

// setArgValue replaces the value following flag in place.
func setArgValue(argv []string, flag, value string) {
	for i, a := range argv {
		if a == flag && i+1 < len(argv) {
			argv[i+1] = value
			return
		}
	}
}
