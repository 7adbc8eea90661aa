// Package orchestrator is the imperative façade over the installer and
// lifecycle components. Mutating operations are authorized through a
// PolicyOracle, serialized per server, and closed with exactly one terminal
// event on the bus.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcpilot/mcpilot/internal/backupengine"
	"github.com/mcpilot/mcpilot/internal/configstore"
	"github.com/mcpilot/mcpilot/internal/containerctl"
	"github.com/mcpilot/mcpilot/internal/events"
	"github.com/mcpilot/mcpilot/internal/executor"
	"github.com/mcpilot/mcpilot/internal/execx"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/metrics"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/mcpilot/mcpilot/internal/planner"
	"github.com/mcpilot/mcpilot/internal/registry"
	"github.com/mcpilot/mcpilot/internal/updates"
)

// Actions passed to the PolicyOracle.
const (
	ActionInstall      = "install"
	ActionStart        = "start"
	ActionStop         = "stop"
	ActionRestart      = "restart"
	ActionDelete       = "delete"
	ActionBackup       = "backup"
	ActionRestore      = "restore"
	ActionDeleteBackup = "delete_backup"
	ActionUpdate       = "update"
)

// PolicyOracle authorizes mutating operations. serverID is empty for
// operations that do not target an existing server.
type PolicyOracle interface {
	Can(ctx context.Context, user, action, serverID string) error
}

// AllowAll authorizes everything. It is the default when no oracle is wired.
type AllowAll struct{}

func (AllowAll) Can(context.Context, string, string, string) error { return nil }

// SecretStore resolves named secrets referenced from server environments as
// "secret:NAME" values. The implementation lives outside this module.
type SecretStore interface {
	Get(ctx context.Context, name string) (string, error)
}

// Deps collects the components the orchestrator drives. Policy, Secrets,
// Metrics, and Bus may be nil.
type Deps struct {
	Registry   *registry.Store
	Planner    *planner.Planner
	Executor   *executor.Executor
	Containers *containerctl.Client
	Configs    *configstore.Store
	Backups    *backupengine.Engine
	Checker    *updates.Checker
	Upgrader   *updates.Upgrader
	Runner     execx.Runner
	Bus        *events.Bus
	Policy     PolicyOracle
	Secrets    SecretStore
	Metrics    *metrics.Metrics

	InstallRoot string
	GitBinary   string
}

// Orchestrator owns the per-server mutex table and the component wiring.
type Orchestrator struct {
	registry    *registry.Store
	planner     *planner.Planner
	executor    *executor.Executor
	containers  *containerctl.Client
	configs     *configstore.Store
	backups     *backupengine.Engine
	checker     *updates.Checker
	upgrader    *updates.Upgrader
	runner      execx.Runner
	bus         *events.Bus
	policy      PolicyOracle
	secrets     SecretStore
	metrics     *metrics.Metrics
	installRoot string
	gitBinary   string
	logger      zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Orchestrator from its dependencies.
func New(deps Deps, logger zerolog.Logger) *Orchestrator {
	policy := deps.Policy
	if policy == nil {
		policy = AllowAll{}
	}
	gitBinary := deps.GitBinary
	if gitBinary == "" {
		gitBinary = "git"
	}
	return &Orchestrator{
		registry:    deps.Registry,
		planner:     deps.Planner,
		executor:    deps.Executor,
		containers:  deps.Containers,
		configs:     deps.Configs,
		backups:     deps.Backups,
		checker:     deps.Checker,
		upgrader:    deps.Upgrader,
		runner:      deps.Runner,
		bus:         deps.Bus,
		policy:      policy,
		secrets:     deps.Secrets,
		metrics:     deps.Metrics,
		installRoot: deps.InstallRoot,
		gitBinary:   gitBinary,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		locks:       make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing mutations of one server. Operations
// on the same server run in enqueue order; distinct servers never block each
// other.
func (o *Orchestrator) lockFor(serverID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[serverID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[serverID] = lock
	}
	return lock
}

func (o *Orchestrator) authorize(ctx context.Context, user, action, serverID string) error {
	if err := o.policy.Can(ctx, user, action, serverID); err != nil {
		return faults.Wrap(faults.PermissionDenied, action, err)
	}
	return nil
}

// finish closes a task with its single terminal event and returns err
// unchanged for the caller.
func (o *Orchestrator) finish(action, serverID, backupID string, err error) error {
	o.metrics.ObserveOperation(action, err)
	ev := events.Event{
		Time:     time.Now(),
		ServerID: serverID,
		BackupID: backupID,
	}
	switch {
	case err == nil:
		ev.Kind = events.KindDone
	case faults.KindOf(err) == faults.Cancelled:
		ev.Kind = events.KindCancelled
		ev.Message = err.Error()
	default:
		ev.Kind = events.KindError
		ev.Where = action
		var ue *updates.UpgradeError
		if errors.As(err, &ue) {
			ev.ErrorKind = string(faults.UpgradeFailed)
			ev.Rollback = ue.Rollback
		} else {
			ev.ErrorKind = string(faults.KindOf(err))
		}
		ev.Message = err.Error()
		o.logger.Error().Err(err).Str("action", action).Str("server_id", serverID).Msg("operation failed")
	}
	o.publish(ev)
	return err
}

func (o *Orchestrator) publish(ev events.Event) {
	if o.bus == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	o.bus.Publish(ev)
}

// refreshServerGauge recounts the registry after a membership change.
func (o *Orchestrator) refreshServerGauge(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	servers, err := o.registry.List(ctx)
	if err != nil {
		return
	}
	o.metrics.SetServersManaged(len(servers))
}

func (o *Orchestrator) state(serverID, state string) {
	o.publish(events.Event{
		Kind:     events.KindServerState,
		ServerID: serverID,
		State:    state,
	})
}

// Servers lists every registered server, ordered by name.
func (o *Orchestrator) Servers(ctx context.Context) ([]*models.ServerRecord, error) {
	return o.registry.List(ctx)
}

// Server fetches one record by id.
func (o *Orchestrator) Server(ctx context.Context, serverID string) (*models.ServerRecord, error) {
	return o.registry.Get(ctx, serverID)
}

// Status reports the live state of a server. Container servers report the
// runtime status; plain-process servers report enabled or disabled. Status
// never takes the server mutex.
func (o *Orchestrator) Status(ctx context.Context, serverID string) (string, error) {
	server, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return "", err
	}
	if server.Kind == models.ServerKindContainer {
		status, err := o.containers.StatusOf(ctx, server.ContainerName())
		if err != nil {
			return "", err
		}
		return string(status), nil
	}
	if server.Enabled {
		return "enabled", nil
	}
	return "disabled", nil
}

// Logs streams container log lines to fn. Plain-process servers have no log
// stream the orchestrator can reach.
func (o *Orchestrator) Logs(ctx context.Context, serverID string, opts containerctl.LogOptions, fn func(execx.Line)) error {
	server, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return err
	}
	if server.Kind != models.ServerKindContainer {
		return faults.New(faults.PreconditionFailed, "logs",
			fmt.Sprintf("server %s does not run in a container", server.Name))
	}
	return o.containers.Logs(ctx, server.ContainerName(), opts, fn)
}

// Backups lists every backup record, newest first.
func (o *Orchestrator) Backups() ([]backupengine.Record, error) {
	return o.backups.List()
}
