// Package containerctl is the control plane over the container runtime. It
// wraps the runtime CLI (docker by default) with explicit argv vectors and
// serializes operations that target the same container.
package containerctl

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcpilot/mcpilot/internal/models"
)

// Status is the lifecycle state of a container.
type Status string

const (
	StatusCreated    Status = "created"
	StatusRunning    Status = "running"
	StatusExited     Status = "exited"
	StatusRestarting Status = "restarting"
	StatusMissing    Status = "missing"
)

// RestartPolicy mirrors the runtime's restart policies.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
	RestartAlways        RestartPolicy = "always"
)

// RunSpec describes a container to create and start.
type RunSpec struct {
	Image         string
	Name          string
	Env           map[string]string
	Ports         []models.PortMapping
	Volumes       []models.VolumeMount
	RestartPolicy RestartPolicy
	NetworkMode   string
	// Replace removes an existing container with the same name before
	// running. Without it, a name collision fails with ErrNameInUse.
	Replace bool
}

// ContainerInfo is the parsed result of an inspect call.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	Digest     string
	Status     Status
	ExitCode   int
	Created    time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Labels     map[string]string
}

// ErrRuntimeUnavailable is returned when the container engine is unreachable.
var ErrRuntimeUnavailable = errors.New("container runtime unavailable")

// ErrNameInUse is returned by Run when a container with the requested name
// already exists and Replace was not set.
var ErrNameInUse = errors.New("container name already in use")

// ErrNotFound is returned when the container does not exist.
var ErrNotFound = errors.New("container not found")

// RuntimeError surfaces a runtime CLI failure with its exit code and stderr.
type RuntimeError struct {
	ExitCode int
	Stderr   string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error (exit %d): %s", e.ExitCode, e.Stderr)
}
