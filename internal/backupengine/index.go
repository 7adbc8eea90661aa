package backupengine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const indexFile = "index.json"

// index persists backup records as <root>/index.json. Access is serialized
// with a process-local mutex; the installer is the only writer.
type index struct {
	mu   sync.Mutex
	path string
}

func newIndex(root string) *index {
	return &index{path: filepath.Join(root, indexFile)}
}

func (ix *index) load() ([]Record, error) {
	data, err := os.ReadFile(ix.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup index: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse backup index: %w", err)
	}
	return records, nil
}

func (ix *index) save(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup index: %w", err)
	}
	tmp := ix.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("write backup index: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write backup index: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync backup index: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close backup index: %w", err)
	}
	return os.Rename(tmp, ix.path)
}

// Append adds a record.
func (ix *index) Append(rec Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	records, err := ix.load()
	if err != nil {
		return err
	}
	return ix.save(append(records, rec))
}

// Update replaces the record with the same ID.
func (ix *index) Update(rec Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	records, err := ix.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID == rec.ID {
			records[i] = rec
			return ix.save(records)
		}
	}
	return fmt.Errorf("backup %s not in index", rec.ID)
}

// Remove deletes the record with the given ID. Removing an unknown ID is not
// an error.
func (ix *index) Remove(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	records, err := ix.load()
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, r := range records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	return ix.save(kept)
}

// Get returns the record with the given ID.
func (ix *index) Get(id string) (Record, bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	records, err := ix.load()
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

// List returns all records, newest first.
func (ix *index) List() ([]Record, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	records, err := ix.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}
