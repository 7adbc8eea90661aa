package configstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcpilot/mcpilot/internal/faults"
	"github.com/rs/zerolog"
)

// lockWait is how long Apply blocks for the cross-process lock.
const lockWait = 5 * time.Second

// lockStale is the age past which another process's lock is presumed dead
// and stolen.
const lockStale = 30 * time.Second

// ErrBusy is returned when the config lock cannot be acquired in time.
var ErrBusy = errors.New("config file is locked by another process")

// Store reconciles mutations into the shared config document.
type Store struct {
	path   string
	logger zerolog.Logger

	// now is injectable for deterministic backup filenames in tests.
	now func() time.Time
	// backupSeq disambiguates backup filenames created within the same
	// timestamp.
	backupSeq int
}

// New creates a Store for the config file at path.
func New(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With().Str("component", "configstore").Str("path", path).Logger(),
		now:    time.Now,
	}
}

// Path returns the config file location.
func (s *Store) Path() string { return s.path }

// Read returns the current document without taking the write lock. A missing
// or corrupt file yields the default document; corruption is not repaired on
// the read path.
func (s *Store) Read() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultDocument(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return DefaultDocument(), nil
	}
	return doc, nil
}

// Apply runs mutator against the current document and atomically persists
// the result. The mutator must be pure: it receives a private copy and
// returns the document to write.
func (s *Store) Apply(ctx context.Context, mutator func(Document) (Document, error)) error {
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := s.loadOrRepair()
	if err != nil {
		return err
	}
	doc.ensureServers()

	working, err := doc.clone()
	if err != nil {
		return err
	}
	mutated, err := mutator(working)
	if err != nil {
		return fmt.Errorf("config mutator: %w", err)
	}

	return s.writeAtomic(mutated)
}

// loadOrRepair reads the document under the lock. Parse failures get a
// timestamped backup before the default document is synthesized.
func (s *Store) loadOrRepair() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Msg("config file missing, synthesizing default")
			return DefaultDocument(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	doc, err := decodeDocument(data)
	if err != nil {
		backup := s.backupPath()
		if werr := os.WriteFile(backup, data, 0600); werr != nil {
			return nil, fmt.Errorf("back up corrupt config: %w", werr)
		}
		s.logger.Warn().
			Err(err).
			Str("backup", backup).
			Msg("config file corrupt, backed up and reset to default")
		return DefaultDocument(), nil
	}
	return doc, nil
}

// writeAtomic persists the document with temp-write, fsync, rename. A reader
// never observes a truncated file.
func (s *Store) writeAtomic(doc Document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename config into place: %w", err)
	}
	return nil
}

// backupPath builds the timestamped backup filename, disambiguating
// same-instant collisions with a counter.
func (s *Store) backupPath() string {
	stamp := s.now().UTC().Format(time.RFC3339)
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	path := fmt.Sprintf("%s.%s.backup", s.path, stamp)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		s.backupSeq++
		path = fmt.Sprintf("%s.%s-%d.backup", s.path, stamp, s.backupSeq)
	}
}

// acquireLock takes the cross-process advisory lock, blocking up to lockWait.
func (s *Store) acquireLock(ctx context.Context) (func(), error) {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	deadline := time.Now().Add(lockWait)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		// Steal locks left behind by crashed processes.
		if info, serr := os.Stat(lockPath); serr == nil && time.Since(info.ModTime()) > lockStale {
			s.logger.Warn().Str("lock", lockPath).Msg("removing stale config lock")
			os.Remove(lockPath)
			continue
		}

		if time.Now().After(deadline) {
			return nil, faults.Wrap(faults.PreconditionFailed, "configstore", ErrBusy)
		}
		select {
		case <-ctx.Done():
			return nil, faults.Wrap(faults.Cancelled, "configstore", ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// decodeDocument parses JSON preserving number fidelity.
func decodeDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		return nil, errors.New("parse config: document is null")
	}
	// Trailing garbage after the root object is corruption too.
	if dec.More() {
		return nil, errors.New("parse config: trailing data after document")
	}
	return doc, nil
}

// encodeDocument renders the document as pretty-printed two-space JSON.
func encodeDocument(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}
