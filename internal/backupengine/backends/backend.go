// Package backends replicates completed backups to offsite storage. Each
// backend archives the backup directory as a tar.gz and stores it under the
// backup ID.
package backends

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Backend stores a completed backup directory offsite and returns the
// location the archive landed at.
type Backend interface {
	// Type returns the backend identifier ("local" or "s3").
	Type() string

	// Store archives dir and uploads it, returning the archive location.
	Store(ctx context.Context, backupID, dir string) (string, error)

	// Validate checks if the configuration is valid.
	Validate() error
}

// archiveDir writes dir as a tar.gz stream.
func archiveDir(dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		return err
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}
