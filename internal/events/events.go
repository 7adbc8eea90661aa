// Package events carries typed progress and state notifications from
// long-running operations to the enclosing UI.
package events

import "time"

// Kind identifies the event payload shape.
type Kind string

const (
	KindPlanProgress    Kind = "plan.progress"
	KindServerState     Kind = "server.state"
	KindBackupProgress  Kind = "backup.progress"
	KindRestoreProgress Kind = "restore.progress"
	KindUpdateStatus    Kind = "update.status"
	KindError           Kind = "error"
	KindDone            Kind = "done"
	KindCancelled       Kind = "cancelled"
)

// Event is a single notification. Fields are populated according to Kind.
type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	ServerID string `json:"server_id,omitempty"`
	BackupID string `json:"backup_id,omitempty"`

	// plan.progress
	StepIndex  int    `json:"step_index,omitempty"`
	TotalSteps int    `json:"total_steps,omitempty"`
	Phase      string `json:"phase,omitempty"`

	// backup.progress / restore.progress / update progress
	Percent int `json:"percent,omitempty"`

	// server.state
	State string `json:"state,omitempty"`

	// update.status
	UpdateAvailable bool   `json:"update_available,omitempty"`
	LatestVersion   string `json:"latest_version,omitempty"`

	// error
	Where     string `json:"where,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	// Rollback reports whether a failed upgrade restored the previous
	// version: "succeeded" or "failed".
	Rollback string `json:"rollback,omitempty"`

	Message string `json:"message,omitempty"`
}

// Terminal reports whether this event closes out a task. Every task emits
// exactly one terminal event.
func (e Event) Terminal() bool {
	switch e.Kind {
	case KindDone, KindError, KindCancelled:
		return true
	}
	return false
}

// Droppable reports whether the bus may shed this event under back-pressure.
// State changes and terminal events are never dropped.
func (e Event) Droppable() bool {
	switch e.Kind {
	case KindPlanProgress, KindBackupProgress, KindRestoreProgress:
		return true
	}
	return false
}
