package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/mcpilot/mcpilot/internal/backupengine"
	"github.com/mcpilot/mcpilot/internal/config"
	"github.com/mcpilot/mcpilot/internal/configstore"
	"github.com/mcpilot/mcpilot/internal/containerctl"
	"github.com/mcpilot/mcpilot/internal/events"
	"github.com/mcpilot/mcpilot/internal/executor"
	"github.com/mcpilot/mcpilot/internal/execx"
	"github.com/mcpilot/mcpilot/internal/health"
	"github.com/mcpilot/mcpilot/internal/metrics"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/mcpilot/mcpilot/internal/orchestrator"
	"github.com/mcpilot/mcpilot/internal/planner"
	"github.com/mcpilot/mcpilot/internal/registry"
	"github.com/mcpilot/mcpilot/internal/updates"
)

// appOptions tune the component graph for a single invocation.
type appOptions struct {
	collision executor.CollisionPolicy

	// metrics is only set by serve; one-shot commands skip the registry.
	metrics *metrics.Metrics
}

// app is the wired component graph behind every command.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	runner  execx.Runner
	bus     *events.Bus
	reg     *registry.Store
	configs *configstore.Store
	engine  *backupengine.Engine
	orch    *orchestrator.Orchestrator
	sys     *health.Collector
}

// newApp loads the configuration and wires the components. Callers must
// Close when done so the registry database is released.
func newApp(opts appOptions) (*app, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel)

	dir, err := config.DefaultConfigDir()
	if err != nil {
		return nil, err
	}
	clientPath, err := cfg.ResolveClientConfigPath()
	if err != nil {
		return nil, err
	}
	replicator, err := backupengine.BackendFromConfig(cfg.Replication)
	if err != nil {
		return nil, fmt.Errorf("configure replication: %w", err)
	}

	runner := execx.NewRunner(logger)
	bus := events.NewBus(logger)
	if opts.metrics != nil {
		bus.OnDrop(func(events.Event) { opts.metrics.EventsDropped.Inc() })
	}
	reg, err := registry.NewStore(dir, logger)
	if err != nil {
		return nil, err
	}

	containers := containerctl.NewClient(runner, cfg.RuntimeBinary, logger)
	plnr := planner.New(runner, cfg.GitBinary, cfg.RuntimeBinary, logger)
	exec := executor.New(runner, containers, nil, bus, executor.Options{
		StepTimeout:     cfg.StepTimeout(),
		CollisionPolicy: opts.collision,
		Metrics:         opts.metrics,
	}, logger)
	configs := configstore.New(clientPath, logger)
	engine := backupengine.New(cfg.BackupRoot, bus, replicator, logger)
	checker := updates.NewChecker(runner, containers, cfg.GitBinary, bus, logger)
	upgrader := updates.NewUpgrader(checker, containers, plnr, exec, bus, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Registry:    reg,
		Planner:     plnr,
		Executor:    exec,
		Containers:  containers,
		Configs:     configs,
		Backups:     engine,
		Checker:     checker,
		Upgrader:    upgrader,
		Runner:      runner,
		Bus:         bus,
		Secrets:     envSecretStore{},
		Metrics:     opts.metrics,
		InstallRoot: cfg.InstallRoot,
		GitBinary:   cfg.GitBinary,
	}, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		runner:  runner,
		bus:     bus,
		reg:     reg,
		configs: configs,
		engine:  engine,
		orch:    orch,
		sys:     health.NewCollector(cfg.InstallRoot),
	}, nil
}

func (a *app) Close() {
	if err := a.reg.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close registry")
	}
}

// resolveServer accepts a server id or name.
func (a *app) resolveServer(ctx context.Context, ref string) (*models.ServerRecord, error) {
	server, err := a.reg.Get(ctx, ref)
	if err == nil {
		return server, nil
	}
	if !errors.Is(err, registry.ErrNotFound) {
		return nil, err
	}
	return a.reg.GetByName(ctx, ref)
}

// watchProgress subscribes to the bus and prints progress lines until the
// terminal event arrives. Returned done closes once the stream ends.
func (a *app) watchProgress() (done <-chan struct{}, cancel func()) {
	sub, cancelSub := a.bus.Subscribe(events.DefaultSubscriberBuffer)
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		for ev := range sub {
			renderEvent(ev)
			if ev.Terminal() {
				return
			}
		}
	}()
	return ch, cancelSub
}

func renderEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindPlanProgress:
		fmt.Printf("  [%d/%d] %s %s\n", ev.StepIndex+1, ev.TotalSteps, ev.Phase, ev.Message)
	case events.KindBackupProgress, events.KindRestoreProgress:
		fmt.Printf("  %3d%% %s\n", ev.Percent, ev.Message)
	case events.KindServerState:
		fmt.Printf("  state: %s\n", ev.State)
	case events.KindUpdateStatus:
		fmt.Printf("  %s\n", ev.Message)
	}
}

// envSecretStore resolves "secret:NAME" references against MCPILOT_SECRET_*
// environment variables. A keychain-backed store can replace it later
// without touching the install path.
type envSecretStore struct{}

func (envSecretStore) Get(_ context.Context, name string) (string, error) {
	value, ok := os.LookupEnv("MCPILOT_SECRET_" + name)
	if !ok {
		return "", fmt.Errorf("secret %q not set (export MCPILOT_SECRET_%s)", name, name)
	}
	return value, nil
}

// currentUser is the principal passed to the policy oracle.
func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// signalContext cancels on SIGINT or SIGTERM so an in-flight operation can
// emit its cancelled event and unwind cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
