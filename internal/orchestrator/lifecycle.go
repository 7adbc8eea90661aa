package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcpilot/mcpilot/internal/configstore"
	"github.com/mcpilot/mcpilot/internal/containerctl"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/models"
)

// Start brings a server up. Containers are (re)started through the runtime;
// plain-process servers are re-enabled in the client config so the desktop
// assistant launches them.
func (o *Orchestrator) Start(ctx context.Context, user, serverID string) error {
	server, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return o.finish(ActionStart, serverID, "", err)
	}
	if err := o.authorize(ctx, user, ActionStart, serverID); err != nil {
		return o.finish(ActionStart, serverID, "", err)
	}

	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	if err := o.startServer(ctx, server); err != nil {
		return o.finish(ActionStart, serverID, "", err)
	}
	if err := o.setEnabled(ctx, server, true); err != nil {
		return o.finish(ActionStart, serverID, "", err)
	}
	o.state(serverID, upState(server))
	return o.finish(ActionStart, serverID, "", nil)
}

// Stop takes a server down. Stopping an already stopped server succeeds.
func (o *Orchestrator) Stop(ctx context.Context, user, serverID string) error {
	server, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return o.finish(ActionStop, serverID, "", err)
	}
	if err := o.authorize(ctx, user, ActionStop, serverID); err != nil {
		return o.finish(ActionStop, serverID, "", err)
	}

	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	if err := o.stopServer(ctx, server); err != nil {
		return o.finish(ActionStop, serverID, "", err)
	}
	if err := o.setEnabled(ctx, server, false); err != nil {
		return o.finish(ActionStop, serverID, "", err)
	}
	o.state(serverID, downState(server))
	return o.finish(ActionStop, serverID, "", nil)
}

// Restart stops then starts the server under a single mutex hold.
func (o *Orchestrator) Restart(ctx context.Context, user, serverID string) error {
	server, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return o.finish(ActionRestart, serverID, "", err)
	}
	if err := o.authorize(ctx, user, ActionRestart, serverID); err != nil {
		return o.finish(ActionRestart, serverID, "", err)
	}

	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	if err := o.stopServer(ctx, server); err != nil {
		return o.finish(ActionRestart, serverID, "", err)
	}
	if err := o.startServer(ctx, server); err != nil {
		return o.finish(ActionRestart, serverID, "", err)
	}
	if err := o.setEnabled(ctx, server, true); err != nil {
		return o.finish(ActionRestart, serverID, "", err)
	}
	o.state(serverID, upState(server))
	return o.finish(ActionRestart, serverID, "", nil)
}

// Delete removes the server's container, config entry, install tree, and
// record, in that order.
func (o *Orchestrator) Delete(ctx context.Context, user, serverID string) error {
	server, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return o.finish(ActionDelete, serverID, "", err)
	}
	if err := o.authorize(ctx, user, ActionDelete, serverID); err != nil {
		return o.finish(ActionDelete, serverID, "", err)
	}

	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	if server.Kind == models.ServerKindContainer {
		if err := o.containers.Remove(ctx, server.ContainerName()); err != nil && !errors.Is(err, containerctl.ErrNotFound) {
			return o.finish(ActionDelete, serverID, "", err)
		}
	}
	if err := o.configs.Apply(ctx, func(doc configstore.Document) (configstore.Document, error) {
		doc.RemoveServer(server.Name)
		return doc, nil
	}); err != nil {
		return o.finish(ActionDelete, serverID, "", err)
	}
	if err := os.RemoveAll(server.InstallPath); err != nil {
		return o.finish(ActionDelete, serverID, "", fmt.Errorf("remove install tree: %w", err))
	}
	if err := o.registry.Delete(ctx, serverID); err != nil {
		return o.finish(ActionDelete, serverID, "", err)
	}

	o.logger.Info().Str("server_id", serverID).Str("name", server.Name).Msg("server deleted")
	o.refreshServerGauge(ctx)
	o.state(serverID, "deleted")
	return o.finish(ActionDelete, serverID, "", nil)
}

// startServer is the lock-free lifecycle primitive shared with the restore
// controller. The caller holds the server mutex.
func (o *Orchestrator) startServer(ctx context.Context, server *models.ServerRecord) error {
	if server.Kind != models.ServerKindContainer {
		return o.configs.Apply(ctx, func(doc configstore.Document) (configstore.Document, error) {
			doc.SetServer(server.Name, configstore.ServerEntry{
				Command:     server.Command,
				Cwd:         server.InstallPath,
				Env:         server.Env,
				AutoRestart: true,
			})
			return doc, nil
		})
	}

	name := server.ContainerName()
	status, err := o.containers.StatusOf(ctx, name)
	if err != nil {
		return err
	}
	switch status {
	case containerctl.StatusRunning:
		return nil
	case containerctl.StatusMissing:
		if server.Image == "" {
			return faults.New(faults.PreconditionFailed, "start",
				fmt.Sprintf("container %s is gone and no image is recorded", name))
		}
		if _, err := o.containers.Run(ctx, containerctl.RunSpec{
			Image:         server.Image,
			Name:          name,
			Env:           server.Env,
			Ports:         server.Ports,
			Volumes:       server.Volumes,
			RestartPolicy: containerctl.RestartUnlessStopped,
		}); err != nil {
			return err
		}
	default:
		if err := o.containers.Restart(ctx, name); err != nil {
			return err
		}
	}
	return o.containers.AwaitStatus(ctx, name, containerctl.StatusRunning, containerctl.DefaultAwaitTimeout)
}

func (o *Orchestrator) stopServer(ctx context.Context, server *models.ServerRecord) error {
	if server.Kind != models.ServerKindContainer {
		return o.configs.Apply(ctx, func(doc configstore.Document) (configstore.Document, error) {
			doc.RemoveServer(server.Name)
			return doc, nil
		})
	}
	return o.containers.Stop(ctx, server.ContainerName())
}

func (o *Orchestrator) setEnabled(ctx context.Context, server *models.ServerRecord, enabled bool) error {
	if server.Enabled == enabled {
		return nil
	}
	server.Enabled = enabled
	server.UpdatedAt = time.Now().UTC()
	return o.registry.Update(ctx, server)
}

func upState(server *models.ServerRecord) string {
	if server.Kind == models.ServerKindContainer {
		return string(containerctl.StatusRunning)
	}
	return "enabled"
}

func downState(server *models.ServerRecord) string {
	if server.Kind == models.ServerKindContainer {
		return string(containerctl.StatusExited)
	}
	return "disabled"
}
