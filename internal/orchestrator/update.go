package orchestrator

import (
	"context"
	"time"

	"github.com/mcpilot/mcpilot/internal/updates"
)

// CheckUpdate probes the server's upstream for a newer version. Read-only;
// never takes the server mutex.
func (o *Orchestrator) CheckUpdate(ctx context.Context, serverID string) (*updates.Info, error) {
	server, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return o.checker.Probe(ctx, server)
}

// Update upgrades the server in place to the version its most recent probe
// reported, rolling back on failure. The mutated record is persisted only
// after the upgrade succeeds.
func (o *Orchestrator) Update(ctx context.Context, user, serverID string) (*updates.Info, error) {
	server, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return nil, o.finish(ActionUpdate, serverID, "", err)
	}
	if err := o.authorize(ctx, user, ActionUpdate, serverID); err != nil {
		return nil, o.finish(ActionUpdate, serverID, "", err)
	}

	lock := o.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	info, err := o.upgrader.Upgrade(ctx, server)
	if err != nil {
		return nil, o.finish(ActionUpdate, serverID, "", err)
	}

	server.UpdatedAt = time.Now().UTC()
	if err := o.registry.Update(ctx, server); err != nil {
		return nil, o.finish(ActionUpdate, serverID, "", err)
	}
	o.state(serverID, "updated")
	return info, o.finish(ActionUpdate, serverID, "", nil)
}
