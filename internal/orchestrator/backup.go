package orchestrator

import (
	"context"
	"fmt"

	"github.com/mcpilot/mcpilot/internal/backupengine"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/models"
)

// Backup snapshots the server's on-disk state. The server mutex is held for
// the whole capture, so a concurrent stop or restore waits until the backup's
// terminal event.
func (o *Orchestrator) Backup(ctx context.Context, user, serverID string, opts backupengine.CreateOptions) (*backupengine.Record, error) {
	server, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return nil, o.finish(ActionBackup, serverID, "", err)
	}
	if err := o.authorize(ctx, user, ActionBackup, serverID); err != nil {
		return nil, o.finish(ActionBackup, serverID, "", err)
	}

	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := o.backups.Create(ctx, server, opts)
	if err != nil {
		return nil, o.finish(ActionBackup, serverID, "", err)
	}
	o.metrics.ObserveBackupSize(rec.Size)
	return rec, o.finish(ActionBackup, serverID, rec.ID, nil)
}

// Restore writes a backup's items back over the server's install tree,
// stopping and restarting the server around the copy when the options say so.
func (o *Orchestrator) Restore(ctx context.Context, user, backupID string, opts backupengine.RestoreOptions) error {
	rec, ok, err := o.backups.Get(backupID)
	if err != nil {
		return o.finish(ActionRestore, "", backupID, err)
	}
	if !ok {
		return o.finish(ActionRestore, "", backupID, faults.New(faults.PreconditionFailed, "restore",
			fmt.Sprintf("backup %s not found", backupID)))
	}
	server, err := o.registry.Get(ctx, rec.ServerID)
	if err != nil {
		return o.finish(ActionRestore, rec.ServerID, backupID, err)
	}
	if err := o.authorize(ctx, user, ActionRestore, server.ID); err != nil {
		return o.finish(ActionRestore, server.ID, backupID, err)
	}

	lock := o.lockFor(server.ID)
	lock.Lock()
	defer lock.Unlock()

	err = o.backups.Restore(ctx, backupID, server, lifecycleController{o}, opts)
	return o.finish(ActionRestore, server.ID, backupID, err)
}

// DeleteBackup removes the backup directory and its index entry.
func (o *Orchestrator) DeleteBackup(ctx context.Context, user, backupID string) error {
	rec, ok, err := o.backups.Get(backupID)
	if err != nil {
		return o.finish(ActionDeleteBackup, "", backupID, err)
	}
	serverID := ""
	if ok {
		serverID = rec.ServerID
	}
	if err := o.authorize(ctx, user, ActionDeleteBackup, serverID); err != nil {
		return o.finish(ActionDeleteBackup, serverID, backupID, err)
	}

	if serverID != "" {
		lock := o.lockFor(serverID)
		lock.Lock()
		defer lock.Unlock()
	}

	err = o.backups.Delete(backupID)
	return o.finish(ActionDeleteBackup, serverID, backupID, err)
}

// lifecycleController adapts the orchestrator's lock-free lifecycle
// primitives to the backup engine. Restore already holds the server mutex.
type lifecycleController struct {
	o *Orchestrator
}

func (c lifecycleController) StopServer(ctx context.Context, server *models.ServerRecord) error {
	return c.o.stopServer(ctx, server)
}

func (c lifecycleController) StartServer(ctx context.Context, server *models.ServerRecord) error {
	return c.o.startServer(ctx, server)
}
