package backends

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LocalBackend replicates archives into a directory, typically on a mounted
// network share or second disk.
type LocalBackend struct {
	Dir string
}

// Type returns the backend identifier.
func (b *LocalBackend) Type() string { return "local" }

// Validate checks if the configuration is valid.
func (b *LocalBackend) Validate() error {
	if b.Dir == "" {
		return errors.New("local backend: dir is required")
	}
	if !filepath.IsAbs(b.Dir) {
		return errors.New("local backend: dir must be absolute")
	}
	return nil
}

// Store archives the backup directory into <dir>/<backupID>.tar.gz.
func (b *LocalBackend) Store(ctx context.Context, backupID, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(b.Dir, 0700); err != nil {
		return "", fmt.Errorf("create replica directory: %w", err)
	}

	target := filepath.Join(b.Dir, backupID+".tar.gz")
	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	if err := archiveDir(dir, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync archive: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return target, nil
}
