package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpilot/mcpilot/internal/backupengine"
	"github.com/mcpilot/mcpilot/internal/events"
	"github.com/mcpilot/mcpilot/internal/health"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/mcpilot/mcpilot/internal/registry"
)

type fakeDirectory struct {
	servers []*models.ServerRecord
	backups []backupengine.Record
	status  string
}

func (f *fakeDirectory) Servers(context.Context) ([]*models.ServerRecord, error) {
	return f.servers, nil
}

func (f *fakeDirectory) Server(_ context.Context, id string) (*models.ServerRecord, error) {
	for _, s := range f.servers {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, registry.ErrNotFound
}

func (f *fakeDirectory) Status(_ context.Context, id string) (string, error) {
	if _, err := f.Server(context.Background(), id); err != nil {
		return "", err
	}
	return f.status, nil
}

func (f *fakeDirectory) Backups() ([]backupengine.Record, error) {
	return f.backups, nil
}

func newTestRouter(bus *events.Bus) (*Router, *fakeDirectory) {
	dir := &fakeDirectory{
		servers: []*models.ServerRecord{{
			ID:          "srv-1",
			Name:        "demo",
			Kind:        models.ServerKindNode,
			InstallPath: "/opt/mcp/demo",
			Command:     []string{"node", "index.js"},
			Env:         map[string]string{"TOKEN": "hunter2", "MODE": "prod"},
			Enabled:     true,
		}},
		backups: []backupengine.Record{{ID: "backup_srv-1_1_aa", ServerID: "srv-1"}},
		status:  "running",
	}
	return NewRouter(Config{Version: "1.2.3", Commit: "abc", BuildDate: "2026-08-26"}, dir, bus, nil, zerolog.Nop()), dir
}

func get(t *testing.T, r *Router, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)

	var body map[string]any
	if len(w.Body.Bytes()) > 0 && strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestListServersRedactsEnvValues(t *testing.T) {
	r, _ := newTestRouter(nil)
	w, body := get(t, r, "/api/servers")
	require.Equal(t, http.StatusOK, w.Code)

	servers := body["servers"].([]any)
	require.Len(t, servers, 1)
	first := servers[0].(map[string]any)
	assert.Equal(t, "srv-1", first["id"])
	assert.Equal(t, []any{"MODE", "TOKEN"}, first["env_keys"])
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestGetServer(t *testing.T) {
	r, _ := newTestRouter(nil)

	w, body := get(t, r, "/api/servers/srv-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "demo", body["name"])

	w, _ = get(t, r, "/api/servers/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStatus(t *testing.T) {
	r, _ := newTestRouter(nil)

	w, body := get(t, r, "/api/servers/srv-1/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", body["status"])

	w, _ = get(t, r, "/api/servers/nope/status")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListBackups(t *testing.T) {
	r, _ := newTestRouter(nil)
	w, body := get(t, r, "/api/backups")
	require.Equal(t, http.StatusOK, w.Code)
	backups := body["backups"].([]any)
	require.Len(t, backups, 1)
}

func TestVersionAndHealth(t *testing.T) {
	r, _ := newTestRouter(nil)

	w, body := get(t, r, "/version")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.2.3", body["version"])

	w, body = get(t, r, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestSystemWithoutCollector(t *testing.T) {
	r, _ := newTestRouter(nil)
	w, _ := get(t, r, "/api/system")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSystemReportsDisk(t *testing.T) {
	dir := &fakeDirectory{}
	r := NewRouter(Config{}, dir, nil, health.NewCollector(t.TempDir()), zerolog.Nop())

	w, body := get(t, r, "/api/system")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Greater(t, body["disk_total_bytes"].(float64), 0.0)
}

func TestEventsWithoutBus(t *testing.T) {
	r, _ := newTestRouter(nil)
	w, _ := get(t, r, "/api/events")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEventsStream(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	r, _ := newTestRouter(bus)

	srv := httptest.NewServer(r.Engine)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Publish once the subscription exists; the handler subscribes before
	// writing headers, so the response being readable means it is wired up.
	bus.Publish(events.Event{Kind: events.KindServerState, ServerID: "srv-1", State: "running"})

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data:") {
			dataLine = line
			break
		}
	}
	assert.Contains(t, eventLine, "server.state")
	assert.Contains(t, dataLine, "srv-1")
}
