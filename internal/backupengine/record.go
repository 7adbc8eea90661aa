// Package backupengine snapshots and restores a server's on-disk state. A
// backup is a directory tree under the backup root plus a manifest describing
// every captured file.
package backupengine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Type selects what a backup captures.
type Type string

const (
	TypeFull   Type = "full"
	TypeConfig Type = "config"
	TypeData   Type = "data"
)

// Status tracks a backup's lifecycle in the index.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ItemType categorizes a captured file.
type ItemType string

const (
	ItemConfig ItemType = "config"
	ItemData   ItemType = "data"
	ItemLog    ItemType = "log"
)

// Item is one captured file. Path is relative inside the backup directory,
// OriginalPath is where the file lived at snapshot time.
type Item struct {
	Type         ItemType `json:"type"`
	Path         string   `json:"path"`
	OriginalPath string   `json:"original_path"`
	Size         int64    `json:"size"`
}

// Record is a backup's index entry.
type Record struct {
	ID          string     `json:"id"`
	ServerID    string     `json:"server_id"`
	ServerName  string     `json:"server_name"`
	ServerKind  string     `json:"server_kind"`
	Type        Type       `json:"type"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Size        int64      `json:"size"`
	Items       []Item     `json:"items,omitempty"`
	Error       string     `json:"error,omitempty"`
	// Replica is the offsite location when replication is configured.
	Replica string `json:"replica,omitempty"`
}

// Manifest is the self-describing metadata written alongside the captured
// files. A backup without a readable manifest cannot be restored.
type Manifest struct {
	ID        string        `json:"id"`
	ServerID  string        `json:"server_id"`
	CreatedAt time.Time     `json:"created_at"`
	Options   CreateOptions `json:"options"`
	Items     []Item        `json:"items"`
}

// CreateOptions configure a backup.
type CreateOptions struct {
	Type            Type     `json:"type"`
	IncludeLogs     bool     `json:"include_logs,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	// ExcludeLargeFiles skips data files above LargeFileThresholdMB.
	ExcludeLargeFiles bool `json:"exclude_large_files,omitempty"`
}

// RestoreOptions configure a restore.
type RestoreOptions struct {
	RestoreConfig bool
	RestoreData   bool
	RestoreLogs   bool
	// StopServer stops the target before writing and starts it after.
	// Defaults to true via DefaultRestoreOptions.
	StopServer bool
	// CreateBackupBeforeRestore snapshots the current config and data to
	// sibling directories before overwriting. Defaults to true.
	CreateBackupBeforeRestore bool
}

// DefaultRestoreOptions restores everything the manifest holds, stopping the
// server first and preserving the pre-restore state.
func DefaultRestoreOptions() RestoreOptions {
	return RestoreOptions{
		RestoreConfig:             true,
		RestoreData:               true,
		RestoreLogs:               true,
		StopServer:                true,
		CreateBackupBeforeRestore: true,
	}
}

// LargeFileThresholdMB is the cutoff for ExcludeLargeFiles.
const LargeFileThresholdMB = 100

// NewBackupID allocates a backup identity for the server at the given time.
func NewBackupID(serverID string, now time.Time) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("backup_%s_%d_%s", serverID, now.UnixMilli(), hex.EncodeToString(buf))
}
