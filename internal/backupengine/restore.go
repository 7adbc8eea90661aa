package backupengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mcpilot/mcpilot/internal/events"
	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/mcpilot/mcpilot/internal/models"
)

const manifestFile = "manifest.json"

// ServerController stops and starts the target server around a restore. The
// orchestrator supplies it; a nil controller skips both steps.
type ServerController interface {
	StopServer(ctx context.Context, server *models.ServerRecord) error
	StartServer(ctx context.Context, server *models.ServerRecord) error
}

// Restore writes a backup's manifested items back to their original paths.
// Paths not present in the manifest are left untouched.
func (e *Engine) Restore(ctx context.Context, backupID string, server *models.ServerRecord, controller ServerController, opts RestoreOptions) error {
	manifest, err := e.loadManifest(backupID)
	if err != nil {
		return err
	}

	lock := e.lockFor(manifest.ServerID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.restorePreflight(manifest, server.InstallPath, opts); err != nil {
		return err
	}

	e.logger.Info().
		Str("backup_id", backupID).
		Str("server_id", manifest.ServerID).
		Msg("restore started")

	if opts.StopServer && controller != nil {
		if err := controller.StopServer(ctx, server); err != nil {
			return fmt.Errorf("stop server before restore: %w", err)
		}
	}
	e.restoreProgress(backupID, 10, "server stopped")

	if opts.CreateBackupBeforeRestore {
		if err := e.snapshotBeforeRestore(server.InstallPath, opts); err != nil {
			return err
		}
	}
	e.restoreProgress(backupID, 40, "pre-restore snapshot taken")

	dir := filepath.Join(e.root, backupID)
	for _, item := range manifest.Items {
		if cerr := ctx.Err(); cerr != nil {
			return faults.Wrap(faults.Cancelled, "restore", cerr)
		}
		if !opts.enabled(item.Type) {
			continue
		}
		if err := copyFile(filepath.Join(dir, item.Path), item.OriginalPath); err != nil {
			return fmt.Errorf("restore %s: %w", item.Path, err)
		}
	}
	e.restoreProgress(backupID, 70, "files restored")

	if opts.StopServer && controller != nil {
		if err := controller.StartServer(ctx, server); err != nil {
			return fmt.Errorf("start server after restore: %w", err)
		}
	}
	e.restoreProgress(backupID, 90, "server started")
	e.restoreProgress(backupID, 100, "restore complete")

	e.logger.Info().Str("backup_id", backupID).Msg("restore completed")
	return nil
}

// restorePreflight rejects a restore when the target volume has less free
// space than the selected items need. The pre-restore snapshot doubles the
// footprint, so it counts too.
func (e *Engine) restorePreflight(manifest *Manifest, installPath string, opts RestoreOptions) error {
	var needed uint64
	for _, item := range manifest.Items {
		if opts.enabled(item.Type) {
			needed += uint64(item.Size)
		}
	}
	if opts.CreateBackupBeforeRestore {
		needed *= 2
	}
	free, err := e.freeDisk(installPath)
	if err != nil {
		e.logger.Warn().Err(err).Msg("disk usage probe failed, skipping preflight")
		return nil
	}
	if free < needed {
		return faults.New(faults.PreconditionFailed, "restore",
			fmt.Sprintf("insufficient disk space: need %d bytes, %d free", needed, free))
	}
	return nil
}

func (o RestoreOptions) enabled(t ItemType) bool {
	switch t {
	case ItemConfig:
		return o.RestoreConfig
	case ItemData:
		return o.RestoreData
	case ItemLog:
		return o.RestoreLogs
	}
	return false
}

// snapshotBeforeRestore copies the current config/ and data/ trees to sibling
// directories suffixed with the restore timestamp, so a bad restore can be
// undone by hand. A numeric counter disambiguates collisions.
func (e *Engine) snapshotBeforeRestore(installPath string, opts RestoreOptions) error {
	suffix := sanitizeBackupSuffix(e.now())
	trees := map[string]bool{
		"config": opts.RestoreConfig,
		"data":   opts.RestoreData,
	}
	for tree, wanted := range trees {
		if !wanted {
			continue
		}
		src := filepath.Join(installPath, tree)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		dst := src + "_backup_" + suffix
		for n := 2; ; n++ {
			if _, err := os.Stat(dst); os.IsNotExist(err) {
				break
			}
			dst = fmt.Sprintf("%s_backup_%s_%d", src, suffix, n)
		}
		if err := copyTree(src, dst); err != nil {
			return fmt.Errorf("pre-restore snapshot of %s: %w", tree, err)
		}
		e.logger.Info().Str("snapshot", dst).Msg("pre-restore snapshot written")
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0700)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

// loadManifest reads and parses a backup's manifest. A missing or
// unparseable manifest makes the backup unrestorable.
func (e *Engine) loadManifest(backupID string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(e.root, backupID, manifestFile))
	if err != nil {
		return nil, faults.Wrap(faults.Corrupt, "restore",
			fmt.Errorf("backup %s has no readable manifest: %w", backupID, err))
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, faults.Wrap(faults.Corrupt, "restore",
			fmt.Errorf("backup %s manifest is corrupt: %w", backupID, err))
	}
	return &manifest, nil
}

func writeManifest(path string, manifest Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (e *Engine) restoreProgress(backupID string, percent int, message string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Kind:     events.KindRestoreProgress,
		BackupID: backupID,
		Percent:  percent,
		Message:  message,
	})
}
