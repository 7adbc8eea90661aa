package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleServer(name string) *models.ServerRecord {
	return &models.ServerRecord{
		ID:          uuid.NewString(),
		Name:        name,
		Kind:        models.ServerKindNode,
		InstallPath: "/srv/mcp/" + name,
		Command:     []string{"node", "dist/index.js"},
		Env:         map[string]string{"PORT": "8080"},
		Ports:       []models.PortMapping{{Host: 8080, Container: 80}},
		Volumes:     []models.VolumeMount{{HostPath: "/srv/data", ContainerPath: "/data"}},
		Version:     "v1.0.0",
		Enabled:     true,
		RepoURL:     "https://github.com/acme/" + name,
		Revision:    "abc123",
	}
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	rec := sampleServer("github")
	require.NoError(t, store.Create(context.Background(), rec))
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Command, got.Command)
	assert.Equal(t, rec.Env, got.Env)
	assert.Equal(t, rec.Ports, got.Ports)
	assert.Equal(t, rec.Volumes, got.Volumes)
	assert.Equal(t, rec.Revision, got.Revision)
	assert.True(t, got.Enabled)

	byName, err := store.GetByName(context.Background(), "github")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, byName.ID)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Create(context.Background(), sampleServer("github")))

	err := store.Create(context.Background(), sampleServer("github"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNameTaken), "got %v", err)
}

func TestCreateRejectsInvalidRecord(t *testing.T) {
	store := newTestStore(t)
	rec := sampleServer("bad")
	rec.InstallPath = ""
	err := store.Create(context.Background(), rec)
	assert.True(t, errors.Is(err, models.ErrInvalidServerRecord), "got %v", err)
}

func TestGetUnknown(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.GetByName(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListOrdersByName(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"redis", "github", "memory"} {
		require.NoError(t, store.Create(context.Background(), sampleServer(name)))
	}

	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "github", records[0].Name)
	assert.Equal(t, "memory", records[1].Name)
	assert.Equal(t, "redis", records[2].Name)
}

func TestUpdate(t *testing.T) {
	store := newTestStore(t)
	rec := sampleServer("github")
	require.NoError(t, store.Create(context.Background(), rec))

	rec.Version = "v1.1.0"
	rec.Revision = "def456"
	rec.Enabled = false
	require.NoError(t, store.Update(context.Background(), rec))

	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1.1.0", got.Version)
	assert.Equal(t, "def456", got.Revision)
	assert.False(t, got.Enabled)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt) || got.UpdatedAt.Equal(got.CreatedAt))

	unknown := sampleServer("ghost")
	err = store.Update(context.Background(), unknown)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	rec := sampleServer("github")
	require.NoError(t, store.Create(context.Background(), rec))

	require.NoError(t, store.Delete(context.Background(), rec.ID))
	_, err := store.Get(context.Background(), rec.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = store.Delete(context.Background(), rec.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zerolog.Nop())
	require.NoError(t, err)
	rec := sampleServer("github")
	require.NoError(t, store.Create(context.Background(), rec))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Name, got.Name)
}
