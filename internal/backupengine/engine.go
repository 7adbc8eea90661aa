package backupengine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mcpilot/mcpilot/internal/backupengine/backends"
	"github.com/mcpilot/mcpilot/internal/events"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// wellKnownConfigFiles are top-level files captured as config in addition to
// the config/ subtree.
var wellKnownConfigFiles = []string{"config.json", ".env", "mcp.json"}

// Engine creates, restores and deletes backups under a single backup root.
type Engine struct {
	root       string
	bus        *events.Bus
	index      *index
	replicator backends.Backend
	logger     zerolog.Logger

	mu          sync.Mutex
	serverLocks map[string]*sync.Mutex

	now      func() time.Time
	freeDisk func(path string) (uint64, error)
}

// New creates an Engine rooted at the given directory. replicator may be nil
// when offsite replication is not configured.
func New(root string, bus *events.Bus, replicator backends.Backend, logger zerolog.Logger) *Engine {
	return &Engine{
		root:        root,
		bus:         bus,
		index:       newIndex(root),
		replicator:  replicator,
		logger:      logger.With().Str("component", "backup").Logger(),
		serverLocks: make(map[string]*sync.Mutex),
		now:         time.Now,
		freeDisk: func(path string) (uint64, error) {
			usage, err := disk.Usage(path)
			if err != nil {
				return 0, err
			}
			return usage.Free, nil
		},
	}
}

func (e *Engine) lockFor(serverID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.serverLocks[serverID]
	if !ok {
		m = &sync.Mutex{}
		e.serverLocks[serverID] = m
	}
	return m
}

// Create snapshots the server's on-disk state. The returned record is the
// completed index entry. On failure the index entry is marked failed and the
// partial directory is left for inspection.
func (e *Engine) Create(ctx context.Context, server *models.ServerRecord, opts CreateOptions) (*Record, error) {
	if opts.Type == "" {
		opts.Type = TypeFull
	}

	lock := e.lockFor(server.ID)
	lock.Lock()
	defer lock.Unlock()

	now := e.now()
	rec := Record{
		ID:         NewBackupID(server.ID, now),
		ServerID:   server.ID,
		ServerName: server.Name,
		ServerKind: string(server.Kind),
		Type:       opts.Type,
		Status:     StatusInProgress,
		CreatedAt:  now,
	}

	if err := os.MkdirAll(e.root, 0700); err != nil {
		return nil, fmt.Errorf("create backup root: %w", err)
	}
	if err := e.preflight(server.InstallPath); err != nil {
		return nil, err
	}
	if err := e.index.Append(rec); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("backup_id", rec.ID).
		Str("server_id", server.ID).
		Str("type", string(opts.Type)).
		Msg("backup started")

	completed, err := e.capture(ctx, server, opts, &rec)
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		if ierr := e.index.Update(rec); ierr != nil {
			e.logger.Error().Err(ierr).Str("backup_id", rec.ID).Msg("failed to mark backup failed")
		}
		return nil, err
	}
	return completed, nil
}

func (e *Engine) capture(ctx context.Context, server *models.ServerRecord, opts CreateOptions, rec *Record) (*Record, error) {
	dir := filepath.Join(e.root, rec.ID)
	for _, sub := range []string{"config", "data"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, fmt.Errorf("create backup directory: %w", err)
		}
	}
	wantLogs := opts.Type == TypeFull && opts.IncludeLogs
	if wantLogs {
		if err := os.MkdirAll(filepath.Join(dir, "logs"), 0700); err != nil {
			return nil, fmt.Errorf("create backup directory: %w", err)
		}
	}

	var items []Item

	if opts.Type == TypeFull || opts.Type == TypeConfig {
		captured, err := e.captureConfig(ctx, server.InstallPath, dir)
		if err != nil {
			return nil, err
		}
		items = append(items, captured...)
	}
	e.progress(rec.ID, 33, "config captured")

	if opts.Type == TypeFull || opts.Type == TypeData {
		captured, err := e.captureData(ctx, server.InstallPath, dir, opts)
		if err != nil {
			return nil, err
		}
		items = append(items, captured...)
	}
	e.progress(rec.ID, 66, "data captured")

	if wantLogs {
		captured, err := e.captureTree(ctx, filepath.Join(server.InstallPath, "logs"), filepath.Join(dir, "logs"), "logs", ItemLog, nil)
		if err != nil {
			return nil, err
		}
		items = append(items, captured...)
	}
	e.progress(rec.ID, 90, "logs captured")

	manifest := Manifest{
		ID:        rec.ID,
		ServerID:  rec.ServerID,
		CreatedAt: rec.CreatedAt,
		Options:   opts,
		Items:     items,
	}
	if err := writeManifest(filepath.Join(dir, manifestFile), manifest); err != nil {
		return nil, err
	}
	e.progress(rec.ID, 100, "manifest written")

	var total int64
	for _, it := range items {
		total += it.Size
	}
	completedAt := e.now()
	rec.Status = StatusCompleted
	rec.CompletedAt = &completedAt
	rec.Size = total
	rec.Items = items

	if e.replicator != nil {
		location, err := e.replicator.Store(ctx, rec.ID, dir)
		if err != nil {
			// Replication is best-effort. The local backup stands on its own.
			e.logger.Warn().Err(err).Str("backup_id", rec.ID).Msg("offsite replication failed")
		} else {
			rec.Replica = location
		}
	}

	if err := e.index.Update(*rec); err != nil {
		return nil, err
	}
	e.logger.Info().
		Str("backup_id", rec.ID).
		Int("items", len(items)).
		Int64("size", total).
		Msg("backup completed")
	return rec, nil
}

// captureConfig copies the config/ subtree plus well-known top-level files.
func (e *Engine) captureConfig(ctx context.Context, installPath, backupDir string) ([]Item, error) {
	items, err := e.captureTree(ctx, filepath.Join(installPath, "config"), filepath.Join(backupDir, "config"), "config", ItemConfig, nil)
	if err != nil {
		return nil, err
	}
	for _, name := range wellKnownConfigFiles {
		src := filepath.Join(installPath, name)
		info, err := os.Stat(src)
		if err != nil || info.IsDir() {
			continue
		}
		rel := filepath.Join("config", name)
		if err := copyFile(src, filepath.Join(backupDir, rel)); err != nil {
			return nil, err
		}
		items = append(items, Item{Type: ItemConfig, Path: rel, OriginalPath: src, Size: info.Size()})
	}
	return items, nil
}

func (e *Engine) captureData(ctx context.Context, installPath, backupDir string, opts CreateOptions) ([]Item, error) {
	skip := func(rel string, size int64) bool {
		if opts.ExcludeLargeFiles && size > LargeFileThresholdMB*1024*1024 {
			return true
		}
		for _, pattern := range opts.ExcludePatterns {
			if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
				return true
			}
			if ok, _ := filepath.Match(pattern, rel); ok {
				return true
			}
		}
		return false
	}
	return e.captureTree(ctx, filepath.Join(installPath, "data"), filepath.Join(backupDir, "data"), "data", ItemData, skip)
}

// captureTree copies every regular file under src into dst, recording an
// item per file. A missing src is an empty category, not an error.
func (e *Engine) captureTree(ctx context.Context, src, dst, logicalPrefix string, itemType ItemType, skip func(rel string, size int64) bool) ([]Item, error) {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil, nil
	}

	var items []Item
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return faults.Wrap(faults.Cancelled, "backup", cerr)
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if skip != nil && skip(rel, info.Size()) {
			return nil
		}
		logical := filepath.Join(logicalPrefix, rel)
		if err := copyFile(path, filepath.Join(dst, rel)); err != nil {
			return err
		}
		items = append(items, Item{Type: itemType, Path: logical, OriginalPath: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Delete removes the backup directory and its index entry. It is the only
// way a backup reclaims disk space.
func (e *Engine) Delete(id string) error {
	dir := filepath.Join(e.root, id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove backup directory: %w", err)
	}
	if err := e.index.Remove(id); err != nil {
		return err
	}
	e.logger.Info().Str("backup_id", id).Msg("backup deleted")
	return nil
}

// List returns every index entry, newest first.
func (e *Engine) List() ([]Record, error) {
	return e.index.List()
}

// Get returns a single index entry.
func (e *Engine) Get(id string) (Record, bool, error) {
	return e.index.Get(id)
}

// preflight rejects a backup when the backup root volume has less free space
// than the source occupies.
func (e *Engine) preflight(installPath string) error {
	var needed uint64
	err := filepath.WalkDir(installPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped at capture time too
		}
		if !d.IsDir() && d.Type().IsRegular() {
			if info, ierr := d.Info(); ierr == nil {
				needed += uint64(info.Size())
			}
		}
		return nil
	})
	if err != nil {
		return nil
	}
	free, err := e.freeDisk(e.root)
	if err != nil {
		e.logger.Warn().Err(err).Msg("disk usage probe failed, skipping preflight")
		return nil
	}
	if free < needed {
		return faults.New(faults.PreconditionFailed, "backup",
			fmt.Sprintf("insufficient disk space: need %d bytes, %d free", needed, free))
	}
	return nil
}

func (e *Engine) progress(backupID string, percent int, message string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Kind:     events.KindBackupProgress,
		BackupID: backupID,
		Percent:  percent,
		Message:  message,
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// sanitizeBackupSuffix turns a timestamp into a filesystem-safe suffix.
func sanitizeBackupSuffix(t time.Time) string {
	s := t.UTC().Format(time.RFC3339)
	s = strings.ReplaceAll(s, ":", "-")
	return s
}
