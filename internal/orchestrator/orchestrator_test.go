package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpilot/mcpilot/internal/backupengine"
	"github.com/mcpilot/mcpilot/internal/configstore"
	"github.com/mcpilot/mcpilot/internal/containerctl"
	"github.com/mcpilot/mcpilot/internal/events"
	"github.com/mcpilot/mcpilot/internal/executor"
	"github.com/mcpilot/mcpilot/internal/execx"
	"github.com/mcpilot/mcpilot/internal/execx/execxtest"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/metrics"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/mcpilot/mcpilot/internal/planner"
	"github.com/mcpilot/mcpilot/internal/registry"
	"github.com/mcpilot/mcpilot/internal/updates"
)

const inspectRunningDemo = `{"Id":"c0ffee","Name":"/mcp-demo","Created":"2026-08-01T10:00:00.000000000Z","Image":"sha256:aaa","State":{"Status":"running","ExitCode":0,"StartedAt":"2026-08-01T10:00:01Z","FinishedAt":"0001-01-01T00:00:00Z"},"Config":{"Image":"mcp-demo:latest"}}`

// promauto registers on the default registry, so every test shares one
// instrument set.
var orchMetrics = metrics.New("mcpilot_orch_test")

type testEnv struct {
	orch    *Orchestrator
	fake    *execxtest.Fake
	bus     *events.Bus
	reg     *registry.Store
	configs *configstore.Store
	deps    Deps
	logger  zerolog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	fake := execxtest.New()
	bus := events.NewBus(logger)

	reg, err := registry.NewStore(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	containers := containerctl.NewClient(fake, "docker", logger)
	plnr := planner.New(fake, "git", "docker", logger)
	exec := executor.New(fake, containers, nil, bus, executor.Options{}, logger)
	configs := configstore.New(filepath.Join(t.TempDir(), "claude_desktop_config.json"), logger)
	engine := backupengine.New(filepath.Join(t.TempDir(), "backups"), bus, nil, logger)
	checker := updates.NewChecker(fake, containers, "git", bus, logger)
	upgrader := updates.NewUpgrader(checker, containers, plnr, exec, bus, logger)

	deps := Deps{
		Registry:    reg,
		Planner:     plnr,
		Executor:    exec,
		Containers:  containers,
		Configs:     configs,
		Backups:     engine,
		Checker:     checker,
		Upgrader:    upgrader,
		Runner:      fake,
		Bus:         bus,
		InstallRoot: t.TempDir(),
		GitBinary:   "git",
	}
	return &testEnv{
		orch:    New(deps, logger),
		fake:    fake,
		bus:     bus,
		reg:     reg,
		configs: configs,
		deps:    deps,
		logger:  logger,
	}
}

// rebuild swaps policy or secrets without rebuilding the component graph.
func (e *testEnv) rebuild(mutate func(*Deps)) {
	deps := e.deps
	mutate(&deps)
	e.orch = New(deps, e.logger)
}

// seedNodeRepo writes a minimal Node repository the planner can analyze
// without running anything.
func seedNodeRepo(t *testing.T, withDockerfile bool) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "demo")
	require.NoError(t, os.MkdirAll(dir, 0755))
	pkg := map[string]any{
		"name":    "demo",
		"main":    "index.js",
		"scripts": map[string]string{"start": "node index.js"},
	}
	data, err := json.Marshal(pkg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), data, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("// demo\n"), 0644))
	if withDockerfile {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM node:20\n"), 0644))
	}
	return dir
}

// seedInstallPath creates a populated target directory so the verify step
// sees artifacts despite the scripted git clone doing nothing.
func seedInstallPath(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "demo")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("// demo\n"), 0644))
	return dir
}

func seedRegistered(t *testing.T, e *testEnv, kind models.ServerKind) *models.ServerRecord {
	t.Helper()
	install := seedInstallPath(t)
	rec := &models.ServerRecord{
		ID:          uuid.NewString(),
		Name:        "demo",
		Kind:        kind,
		InstallPath: install,
		Command:     []string{"node", "index.js"},
		Enabled:     true,
	}
	if kind == models.ServerKindContainer {
		rec.Image = "mcp-demo:latest"
	}
	require.NoError(t, e.reg.Create(context.Background(), rec))
	return rec
}

func drainUntilTerminal(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var got []events.Event
	for {
		select {
		case ev := <-ch:
			got = append(got, ev)
			if ev.Terminal() {
				return got
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("no terminal event after %d events", len(got))
		}
	}
}

func TestInstallNodeServer(t *testing.T) {
	e := newTestEnv(t)
	repo := seedNodeRepo(t, false)
	install := seedInstallPath(t)
	e.fake.Respond("git rev-parse HEAD", execxtest.Response{Stdout: "abc123\n"})

	sub, cancel := e.bus.Subscribe(64)
	defer cancel()

	rec, err := e.orch.Install(context.Background(), "admin", InstallOptions{
		RepoRef:     repo,
		InstallPath: install,
	})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "demo", rec.Name)
	assert.Equal(t, models.ServerKindNode, rec.Kind)
	assert.Equal(t, install, rec.InstallPath)
	assert.Equal(t, []string{"npm", "run", "start"}, rec.Command)
	assert.Equal(t, "abc123", rec.Revision)
	assert.True(t, rec.Enabled)

	stored, err := e.orch.Server(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Name, stored.Name)

	doc, err := e.configs.Read()
	require.NoError(t, err)
	entry, ok := doc.Server("demo")
	require.True(t, ok)
	assert.Equal(t, []string{"npm", "run", "start"}, entry.Command)
	assert.Equal(t, install, entry.Cwd)

	require.NotEmpty(t, e.fake.CallsMatching("npm install"))

	got := drainUntilTerminal(t, sub)
	last := got[len(got)-1]
	assert.Equal(t, events.KindDone, last.Kind)
	assert.Equal(t, rec.ID, last.ServerID)

	var sawInstalled bool
	for _, ev := range got {
		if ev.Kind == events.KindServerState && ev.State == "installed" {
			sawInstalled = true
		}
	}
	assert.True(t, sawInstalled, "missing server.state installed event")
}

func TestInstallContainerServer(t *testing.T) {
	e := newTestEnv(t)
	repo := seedNodeRepo(t, true)
	install := seedInstallPath(t)
	e.fake.Respond("docker inspect", execxtest.Response{Stdout: inspectRunningDemo})
	e.fake.Respond("docker image inspect", execxtest.Response{Stdout: "mcp-demo@sha256:feed\n"})

	rec, err := e.orch.Install(context.Background(), "admin", InstallOptions{
		RepoRef:     repo,
		InstallPath: install,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ServerKindContainer, rec.Kind)
	assert.Equal(t, "mcp-demo:latest", rec.Image)
	assert.Equal(t, "mcp-demo@sha256:feed", rec.Digest)
	require.NotEmpty(t, rec.Command)
	assert.Equal(t, "docker", rec.Command[0])
	assert.Contains(t, rec.Command, "--name")
	assert.Contains(t, rec.Command, "mcp-demo")

	doc, err := e.configs.Read()
	require.NoError(t, err)
	entry, ok := doc.Server("demo")
	require.True(t, ok)
	assert.Equal(t, rec.Command, entry.Command)
}

func TestInstallFailureLeavesNoRecord(t *testing.T) {
	e := newTestEnv(t)
	repo := seedNodeRepo(t, false)
	install := seedInstallPath(t)
	e.fake.Respond("npm install", execxtest.Response{
		Stderr:   "npm ERR! network tunneling socket could not be established",
		ExitCode: 1,
		Err:      errors.New("exit status 1"),
	})

	sub, cancel := e.bus.Subscribe(64)
	defer cancel()

	_, err := e.orch.Install(context.Background(), "admin", InstallOptions{
		RepoRef:     repo,
		InstallPath: install,
	})
	require.Error(t, err)

	servers, lerr := e.orch.Servers(context.Background())
	require.NoError(t, lerr)
	assert.Empty(t, servers)

	got := drainUntilTerminal(t, sub)
	last := got[len(got)-1]
	assert.Equal(t, events.KindError, last.Kind)
	assert.Equal(t, ActionInstall, last.Where)
}

func TestInstallCancelledLeavesNoRecord(t *testing.T) {
	e := newTestEnv(t)
	repo := seedNodeRepo(t, false)
	install := seedInstallPath(t)

	ctx, cancelCtx := context.WithCancel(context.Background())
	cancelCtx()

	sub, cancel := e.bus.Subscribe(64)
	defer cancel()

	_, err := e.orch.Install(ctx, "admin", InstallOptions{
		RepoRef:     repo,
		InstallPath: install,
	})
	require.Error(t, err)
	assert.Equal(t, faults.Cancelled, faults.KindOf(err))

	servers, lerr := e.orch.Servers(context.Background())
	require.NoError(t, lerr)
	assert.Empty(t, servers)

	got := drainUntilTerminal(t, sub)
	assert.Equal(t, events.KindCancelled, got[len(got)-1].Kind)
}

func TestInstallRejectsDuplicateName(t *testing.T) {
	e := newTestEnv(t)
	seedRegistered(t, e, models.ServerKindNode)
	repo := seedNodeRepo(t, false)

	_, err := e.orch.Install(context.Background(), "admin", InstallOptions{
		RepoRef:     repo,
		InstallPath: seedInstallPath(t),
	})
	require.Error(t, err)
	assert.Equal(t, faults.NameCollision, faults.KindOf(err))
	assert.Empty(t, e.fake.Calls(), "no commands should run for a rejected install")
}

type secretMap map[string]string

func (m secretMap) Get(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return v, nil
}

func TestInstallResolvesSecretEnv(t *testing.T) {
	e := newTestEnv(t)
	e.rebuild(func(d *Deps) { d.Secrets = secretMap{"API_KEY": "hunter2"} })
	repo := seedNodeRepo(t, false)
	install := seedInstallPath(t)

	rec, err := e.orch.Install(context.Background(), "admin", InstallOptions{
		RepoRef:     repo,
		InstallPath: install,
		Env: map[string]string{
			"TOKEN": "secret:API_KEY",
			"PLAIN": "as-is",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", rec.Env["TOKEN"])
	assert.Equal(t, "as-is", rec.Env["PLAIN"])

	doc, err := e.configs.Read()
	require.NoError(t, err)
	entry, ok := doc.Server("demo")
	require.True(t, ok)
	assert.Equal(t, "hunter2", entry.Env["TOKEN"])
}

func TestInstallSecretWithoutStoreFails(t *testing.T) {
	e := newTestEnv(t)
	repo := seedNodeRepo(t, false)

	_, err := e.orch.Install(context.Background(), "admin", InstallOptions{
		RepoRef:     repo,
		InstallPath: seedInstallPath(t),
		Env:         map[string]string{"TOKEN": "secret:API_KEY"},
	})
	require.Error(t, err)
	assert.Equal(t, faults.PreconditionFailed, faults.KindOf(err))
}

type denyAll struct{}

func (denyAll) Can(_ context.Context, user, action, _ string) error {
	return fmt.Errorf("user %s may not %s", user, action)
}

func TestPolicyDenialShortCircuits(t *testing.T) {
	e := newTestEnv(t)
	e.rebuild(func(d *Deps) { d.Policy = denyAll{} })
	rec := seedRegistered(t, e, models.ServerKindNode)

	err := e.orch.Stop(context.Background(), "viewer", rec.ID)
	require.Error(t, err)
	assert.Equal(t, faults.PermissionDenied, faults.KindOf(err))
	assert.Empty(t, e.fake.Calls())
}

func TestStartStopPlainServer(t *testing.T) {
	e := newTestEnv(t)
	rec := seedRegistered(t, e, models.ServerKindNode)
	ctx := context.Background()

	sub, cancel := e.bus.Subscribe(64)
	defer cancel()

	require.NoError(t, e.orch.Stop(ctx, "admin", rec.ID))

	status, err := e.orch.Status(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "disabled", status)

	doc, err := e.configs.Read()
	require.NoError(t, err)
	_, ok := doc.Server("demo")
	assert.False(t, ok, "stop should remove the config entry")

	got := drainUntilTerminal(t, sub)
	assert.Equal(t, events.KindServerState, got[0].Kind)
	assert.Equal(t, "disabled", got[0].State)

	require.NoError(t, e.orch.Start(ctx, "admin", rec.ID))

	status, err = e.orch.Status(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "enabled", status)

	doc, err = e.configs.Read()
	require.NoError(t, err)
	entry, ok := doc.Server("demo")
	require.True(t, ok, "start should restore the config entry")
	assert.Equal(t, rec.Command, entry.Command)
}

func TestStartContainer(t *testing.T) {
	t.Run("gone without image fails fast", func(t *testing.T) {
		e := newTestEnv(t)
		rec := seedRegistered(t, e, models.ServerKindContainer)
		ctx := context.Background()
		rec.Image = ""
		require.NoError(t, e.reg.Update(ctx, rec))
		e.fake.Respond("docker inspect", execxtest.Response{
			Stderr:   "Error: No such object: mcp-demo",
			ExitCode: 1,
			Err:      errors.New("exit status 1"),
		})

		err := e.orch.Start(ctx, "admin", rec.ID)
		require.Error(t, err)
		assert.Equal(t, faults.PreconditionFailed, faults.KindOf(err))
		assert.Empty(t, e.fake.CallsMatching("docker run"))
	})

	t.Run("already running is a no-op", func(t *testing.T) {
		e := newTestEnv(t)
		rec := seedRegistered(t, e, models.ServerKindContainer)
		e.fake.Respond("docker inspect", execxtest.Response{Stdout: inspectRunningDemo})

		require.NoError(t, e.orch.Start(context.Background(), "admin", rec.ID))
		assert.Empty(t, e.fake.CallsMatching("docker run"), "running container must not be re-run")
	})
}

func TestStopContainer(t *testing.T) {
	e := newTestEnv(t)
	rec := seedRegistered(t, e, models.ServerKindContainer)
	ctx := context.Background()

	sub, cancel := e.bus.Subscribe(64)
	defer cancel()

	require.NoError(t, e.orch.Stop(ctx, "admin", rec.ID))
	require.Len(t, e.fake.CallsMatching("docker stop mcp-demo"), 1)

	got := drainUntilTerminal(t, sub)
	assert.Equal(t, events.KindServerState, got[0].Kind)
	assert.Equal(t, "exited", got[0].State)
	assert.Equal(t, events.KindDone, got[len(got)-1].Kind)
}

func TestDeleteRemovesEverything(t *testing.T) {
	e := newTestEnv(t)
	rec := seedRegistered(t, e, models.ServerKindNode)
	ctx := context.Background()

	// Give the config document an entry to clean up.
	require.NoError(t, e.configs.Apply(ctx, func(doc configstore.Document) (configstore.Document, error) {
		doc.SetServer(rec.Name, configstore.ServerEntry{Command: rec.Command})
		return doc, nil
	}))

	sub, cancel := e.bus.Subscribe(64)
	defer cancel()

	require.NoError(t, e.orch.Delete(ctx, "admin", rec.ID))

	_, err := e.orch.Server(ctx, rec.ID)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = os.Stat(rec.InstallPath)
	assert.True(t, os.IsNotExist(err), "install tree should be removed")

	doc, err := e.configs.Read()
	require.NoError(t, err)
	_, ok := doc.Server(rec.Name)
	assert.False(t, ok)

	got := drainUntilTerminal(t, sub)
	assert.Equal(t, "deleted", got[0].State)
	assert.Equal(t, events.KindDone, got[len(got)-1].Kind)
}

func TestLogsRequireContainer(t *testing.T) {
	e := newTestEnv(t)
	rec := seedRegistered(t, e, models.ServerKindNode)

	err := e.orch.Logs(context.Background(), rec.ID, containerctl.LogOptions{Tail: 10}, func(execx.Line) {})
	require.Error(t, err)
	assert.Equal(t, faults.PreconditionFailed, faults.KindOf(err))
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	rec := seedRegistered(t, e, models.ServerKindNode)
	ctx := context.Background()

	dataFile := filepath.Join(rec.InstallPath, "data", "notes.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(dataFile), 0755))
	require.NoError(t, os.WriteFile(dataFile, []byte(`{"kept":true}`), 0644))

	backup, err := e.orch.Backup(ctx, "admin", rec.ID, backupengine.CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, backupengine.StatusCompleted, backup.Status)

	require.NoError(t, os.WriteFile(dataFile, []byte("mangled"), 0644))

	require.NoError(t, e.orch.Restore(ctx, "admin", backup.ID, backupengine.DefaultRestoreOptions()))

	restored, err := os.ReadFile(dataFile)
	require.NoError(t, err)
	assert.Equal(t, `{"kept":true}`, string(restored))
}

func TestDeleteBackup(t *testing.T) {
	e := newTestEnv(t)
	rec := seedRegistered(t, e, models.ServerKindNode)
	ctx := context.Background()

	backup, err := e.orch.Backup(ctx, "admin", rec.ID, backupengine.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, e.orch.DeleteBackup(ctx, "admin", backup.ID))

	list, err := e.orch.Backups()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConcurrentBackupThenStopSerializes(t *testing.T) {
	e := newTestEnv(t)
	rec := seedRegistered(t, e, models.ServerKindNode)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(rec.InstallPath, "data"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(rec.InstallPath, "data", "x.json"), []byte(`{"n":1}`), 0644))

	sub, cancel := e.bus.Subscribe(256)
	defer cancel()

	backupErr := make(chan error, 1)
	go func() {
		_, err := e.orch.Backup(ctx, "admin", rec.ID, backupengine.CreateOptions{})
		backupErr <- err
	}()

	// Wait until the backup holds the lock, then race a stop against it.
	var got []events.Event
	for {
		select {
		case ev := <-sub:
			got = append(got, ev)
		case <-time.After(3 * time.Second):
			t.Fatal("backup never made progress")
		}
		if n := len(got); n > 0 && got[n-1].Kind == events.KindBackupProgress {
			break
		}
	}

	stopErr := make(chan error, 1)
	go func() {
		stopErr <- e.orch.Stop(ctx, "admin", rec.ID)
	}()

	terminals := 0
	for terminals < 2 {
		select {
		case ev := <-sub:
			got = append(got, ev)
			if ev.Terminal() {
				terminals++
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("expected two terminal events, saw %d", terminals)
		}
	}
	require.NoError(t, <-backupErr)
	require.NoError(t, <-stopErr)

	backupDone, stopState := -1, -1
	var percents []int
	for i, ev := range got {
		switch {
		case ev.Kind == events.KindBackupProgress:
			percents = append(percents, ev.Percent)
		case ev.Kind == events.KindDone && ev.BackupID != "":
			backupDone = i
		case ev.Kind == events.KindServerState && ev.State == "disabled":
			stopState = i
		}
	}
	require.GreaterOrEqual(t, backupDone, 0, "backup terminal event missing")
	require.GreaterOrEqual(t, stopState, 0, "stop state event missing")
	assert.Less(t, backupDone, stopState, "stop must not interleave with the backup")
	assert.Equal(t, []int{33, 66, 90, 100}, percents)
}

func TestUpdateRefusedWithoutProbe(t *testing.T) {
	e := newTestEnv(t)
	rec := seedRegistered(t, e, models.ServerKindContainer)

	sub, cancel := e.bus.Subscribe(64)
	defer cancel()

	_, err := e.orch.Update(context.Background(), "admin", rec.ID)
	require.Error(t, err)
	assert.Equal(t, faults.PreconditionFailed, faults.KindOf(err))

	got := drainUntilTerminal(t, sub)
	last := got[len(got)-1]
	assert.Equal(t, events.KindError, last.Kind)
	assert.Equal(t, ActionUpdate, last.Where)
}

func TestUpdateFailureReportsRollbackOutcome(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	rec := &models.ServerRecord{
		ID:          uuid.NewString(),
		Name:        "demo",
		Kind:        models.ServerKindContainer,
		InstallPath: seedInstallPath(t),
		Command:     []string{"node", "index.js"},
		Image:       "ghcr.io/acme/demo:latest",
		Digest:      "ghcr.io/acme/demo@sha256:old",
		Enabled:     true,
	}
	require.NoError(t, e.reg.Create(ctx, rec))

	e.fake.Respond("docker image inspect", execxtest.Response{Stdout: "ghcr.io/acme/demo@sha256:new\n"})
	e.fake.Respond("docker inspect", execxtest.Response{Stdout: inspectRunningDemo})
	// The new image refuses to start; the rollback run with the pinned
	// digest succeeds.
	e.fake.Respond("docker run -d --name mcp-demo --restart unless-stopped ghcr.io/acme/demo:latest", execxtest.Response{
		ExitCode: 125,
		Stderr:   "OCI runtime create failed",
		Err:      errors.New("exit status 125"),
	})
	e.fake.Respond("docker run -d --name mcp-demo --restart unless-stopped ghcr.io/acme/demo@sha256:old", execxtest.Response{
		Stdout: "rollback123\n",
	})

	info, err := e.orch.CheckUpdate(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, info.UpdateAvailable)

	sub, cancel := e.bus.Subscribe(64)
	defer cancel()

	_, err = e.orch.Update(ctx, "admin", rec.ID)
	require.Error(t, err)
	var ue *updates.UpgradeError
	require.ErrorAs(t, err, &ue)

	got := drainUntilTerminal(t, sub)
	last := got[len(got)-1]
	assert.Equal(t, events.KindError, last.Kind)
	assert.Equal(t, ActionUpdate, last.Where)
	assert.Equal(t, string(faults.UpgradeFailed), last.ErrorKind)
	assert.Equal(t, updates.RollbackSucceeded, last.Rollback)
}

func TestBackupObservesSizeMetric(t *testing.T) {
	e := newTestEnv(t)
	e.rebuild(func(d *Deps) { d.Metrics = orchMetrics })
	rec := seedRegistered(t, e, models.ServerKindNode)
	ctx := context.Background()

	backup, err := e.orch.Backup(ctx, "admin", rec.ID, backupengine.CreateOptions{})
	require.NoError(t, err)
	require.Greater(t, backup.Size, int64(0))

	var pb dto.Metric
	require.NoError(t, orchMetrics.BackupSizeBytes.Write(&pb))
	assert.Equal(t, uint64(1), pb.GetHistogram().GetSampleCount())
	assert.Equal(t, float64(backup.Size), pb.GetHistogram().GetSampleSum())
}

func TestDeleteRefreshesServerGauge(t *testing.T) {
	e := newTestEnv(t)
	e.rebuild(func(d *Deps) { d.Metrics = orchMetrics })
	ctx := context.Background()

	rec := seedRegistered(t, e, models.ServerKindNode)
	other := &models.ServerRecord{
		ID:          uuid.NewString(),
		Name:        "keeper",
		Kind:        models.ServerKindNode,
		InstallPath: seedInstallPath(t),
		Command:     []string{"node", "index.js"},
		Enabled:     true,
	}
	require.NoError(t, e.reg.Create(ctx, other))

	require.NoError(t, e.orch.Delete(ctx, "admin", rec.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(orchMetrics.ServersManaged))
}

func TestStatusUnknownServer(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.orch.Status(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, registry.ErrNotFound)
}
