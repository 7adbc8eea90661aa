package updates

import (
	"context"
	"fmt"

	"github.com/mcpilot/mcpilot/internal/containerctl"
	"github.com/mcpilot/mcpilot/internal/events"
	"github.com/mcpilot/mcpilot/internal/executor"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/mcpilot/mcpilot/internal/planner"
	"github.com/rs/zerolog"
)

// Rollback outcomes carried by UpgradeError.
const (
	RollbackSucceeded = "succeeded"
	RollbackFailed    = "failed"
)

// UpgradeError reports a failed upgrade and whether the rollback restored
// the previous version.
type UpgradeError struct {
	Rollback string
	Err      error
}

func (e *UpgradeError) Error() string {
	return fmt.Sprintf("upgrade failed (rollback %s): %v", e.Rollback, e.Err)
}

func (e *UpgradeError) Unwrap() error { return e.Err }

// Upgrader drives in-place upgrades. Repository-backed servers re-run the
// post-fetch installation steps; image-backed servers are recreated from the
// freshly pulled image.
type Upgrader struct {
	checker    *Checker
	containers *containerctl.Client
	planner    *planner.Planner
	executor   *executor.Executor
	bus        *events.Bus
	logger     zerolog.Logger
}

// NewUpgrader creates an Upgrader sharing the Checker's probe cache.
func NewUpgrader(checker *Checker, containers *containerctl.Client, p *planner.Planner, ex *executor.Executor, bus *events.Bus, logger zerolog.Logger) *Upgrader {
	return &Upgrader{
		checker:    checker,
		containers: containers,
		planner:    p,
		executor:   ex,
		bus:        bus,
		logger:     logger.With().Str("component", "upgrade").Logger(),
	}
}

// Upgrade moves the server to the version its most recent probe reported.
// A probe older than five minutes, or one reporting no update, refuses the
// upgrade. The mutated server record reflects the new version on success;
// the caller persists it.
func (u *Upgrader) Upgrade(ctx context.Context, server *models.ServerRecord) (*Info, error) {
	info, ok := u.checker.recentProbe(server.ID)
	if !ok {
		return nil, faults.New(faults.PreconditionFailed, "upgrade",
			"no recent update check; probe first")
	}
	if !info.UpdateAvailable {
		return nil, faults.New(faults.PreconditionFailed, "upgrade",
			"probe reports no update available")
	}
	u.progress(server.ID, 10, "upgrade authorized")

	var err error
	if server.Image != "" {
		err = u.upgradeImage(ctx, server, info)
	} else {
		err = u.upgradeRepo(ctx, server, info)
	}
	if err != nil {
		return nil, err
	}

	u.progress(server.ID, 100, "upgrade complete")
	u.logger.Info().
		Str("server_id", server.ID).
		Str("version", server.Version).
		Msg("upgrade completed")
	return &info, nil
}

func (u *Upgrader) upgradeImage(ctx context.Context, server *models.ServerRecord, info Info) error {
	if u.containers == nil {
		return faults.New(faults.PreconditionFailed, "upgrade", "no container runtime configured")
	}
	prevDigest := server.Digest
	name := server.ContainerName()

	if err := u.containers.Pull(ctx, server.Image); err != nil {
		return fmt.Errorf("pull %s: %w", server.Image, err)
	}
	u.progress(server.ID, 30, "image pulled")

	if err := u.containers.Stop(ctx, name); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	u.progress(server.ID, 50, "server stopped")

	spec := runSpecFor(server, server.Image)
	if _, err := u.containers.Run(ctx, spec); err != nil {
		return u.rollbackImage(ctx, server, prevDigest, err)
	}
	u.progress(server.ID, 80, "container recreated")

	if err := u.containers.AwaitStatus(ctx, name, containerctl.StatusRunning, containerctl.DefaultAwaitTimeout); err != nil {
		return u.rollbackImage(ctx, server, prevDigest, err)
	}
	u.progress(server.ID, 90, "server running")

	server.Digest = info.Digest
	server.Version = info.LatestVersion
	return nil
}

// rollbackImage recreates the container from the digest recorded before the
// upgrade. The previous digest pins the exact bytes the server ran on.
func (u *Upgrader) rollbackImage(ctx context.Context, server *models.ServerRecord, prevDigest string, cause error) error {
	u.logger.Warn().Err(cause).Str("server_id", server.ID).Msg("upgrade failed, rolling back")
	if prevDigest == "" {
		return &UpgradeError{Rollback: RollbackFailed, Err: cause}
	}

	spec := runSpecFor(server, prevDigest)
	name := server.ContainerName()
	if _, err := u.containers.Run(ctx, spec); err != nil {
		return &UpgradeError{Rollback: RollbackFailed, Err: cause}
	}
	if err := u.containers.AwaitStatus(ctx, name, containerctl.StatusRunning, containerctl.DefaultAwaitTimeout); err != nil {
		return &UpgradeError{Rollback: RollbackFailed, Err: cause}
	}
	return &UpgradeError{Rollback: RollbackSucceeded, Err: cause}
}

func (u *Upgrader) upgradeRepo(ctx context.Context, server *models.ServerRecord, info Info) error {
	prevRevision := server.Revision

	if _, err := u.checker.git(ctx, server.InstallPath, "pull", "--ff-only"); err != nil {
		return fmt.Errorf("pull %s: %w", server.RepoURL, err)
	}
	u.progress(server.ID, 30, "source updated")

	analysis, err := u.planner.Analyze(ctx, server.InstallPath)
	if err != nil {
		return u.rollbackRepo(ctx, server, prevRevision, err)
	}
	plan, err := u.planner.Plan(analysis, planner.Options{InstallPath: server.InstallPath})
	if err != nil {
		return u.rollbackRepo(ctx, server, prevRevision, err)
	}
	// The code is already in place; skip the fetch step.
	if len(plan.Steps) > 0 && plan.Steps[0].Type == models.StepFetch {
		plan.ProgressIndex = 1
	}
	plan.ServerID = server.ID
	u.progress(server.ID, 50, "rebuilding")

	if err := u.executor.Execute(ctx, plan); err != nil {
		return u.rollbackRepo(ctx, server, prevRevision, err)
	}
	u.progress(server.ID, 80, "rebuild complete")
	u.progress(server.ID, 90, "server ready")

	server.Revision = info.Revision
	server.Version = info.LatestVersion
	return nil
}

// rollbackRepo resets the working tree to the revision recorded before the
// upgrade.
func (u *Upgrader) rollbackRepo(ctx context.Context, server *models.ServerRecord, prevRevision string, cause error) error {
	u.logger.Warn().Err(cause).Str("server_id", server.ID).Msg("upgrade failed, rolling back")
	if prevRevision == "" {
		return &UpgradeError{Rollback: RollbackFailed, Err: cause}
	}
	if _, err := u.checker.git(ctx, server.InstallPath, "reset", "--hard", prevRevision); err != nil {
		return &UpgradeError{Rollback: RollbackFailed, Err: cause}
	}
	return &UpgradeError{Rollback: RollbackSucceeded, Err: cause}
}

func runSpecFor(server *models.ServerRecord, image string) containerctl.RunSpec {
	return containerctl.RunSpec{
		Image:         image,
		Name:          server.ContainerName(),
		Env:           server.Env,
		Ports:         server.Ports,
		Volumes:       server.Volumes,
		RestartPolicy: containerctl.RestartUnlessStopped,
		Replace:       true,
	}
}

func (u *Upgrader) progress(serverID string, percent int, message string) {
	if u.bus == nil {
		return
	}
	u.bus.Publish(events.Event{
		Kind:     events.KindUpdateStatus,
		ServerID: serverID,
		Percent:  percent,
		Message:  message,
	})
}
