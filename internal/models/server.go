// Package models defines the shared domain types for mcpilot: server
// records, installation plans, repository analyses, and the enums that
// tie the planner, executor, and orchestrator together.
package models

import (
	"errors"
	"time"
)

// ServerKind identifies how an installed MCP server runs.
type ServerKind string

const (
	// ServerKindNode is a Node.js server started with node/npx.
	ServerKindNode ServerKind = "node"
	// ServerKindPython is a Python server started with python/uvx.
	ServerKindPython ServerKind = "python"
	// ServerKindContainer is a server running inside a container.
	ServerKindContainer ServerKind = "container"
)

// InstallMethod identifies the installation strategy chosen by the planner.
type InstallMethod string

const (
	// MethodPackageManager installs dependencies with the language's
	// package manager and runs the server as a plain process.
	MethodPackageManager InstallMethod = "package-manager"
	// MethodPython installs into a virtual environment.
	MethodPython InstallMethod = "python"
	// MethodContainer builds and runs a container image.
	MethodContainer InstallMethod = "container"
)

// PortMapping maps a host port to a container (or process) port.
type PortMapping struct {
	Host      int `json:"host"`
	Container int `json:"container"`
}

// VolumeMount maps a host path into a container.
type VolumeMount struct {
	HostPath      string `json:"host_path"`
	ContainerPath string `json:"container_path"`
}

// ErrInvalidServerRecord is returned when a record fails validation.
var ErrInvalidServerRecord = errors.New("invalid server record")

// ServerRecord is the persistent identity of an installed MCP server.
// It is created on successful install, mutated only through the registry,
// and removed only by Orchestrator.Delete.
type ServerRecord struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Kind        ServerKind        `json:"kind"`
	InstallPath string            `json:"install_path"`
	Command     []string          `json:"command"`
	Env         map[string]string `json:"env,omitempty"`
	Ports       []PortMapping     `json:"ports,omitempty"`
	Volumes     []VolumeMount     `json:"volumes,omitempty"`
	TemplateID  string            `json:"template_id,omitempty"`
	Version     string            `json:"version,omitempty"`
	Enabled     bool              `json:"enabled"`

	// Provenance for the update checker.
	RepoURL  string `json:"repo_url,omitempty"`
	Image    string `json:"image,omitempty"`
	Digest   string `json:"digest,omitempty"`
	Revision string `json:"revision,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the record carries the fields every consumer relies on.
func (r *ServerRecord) Validate() error {
	if r.ID == "" {
		return errors.Join(ErrInvalidServerRecord, errors.New("id is required"))
	}
	if r.Name == "" {
		return errors.Join(ErrInvalidServerRecord, errors.New("name is required"))
	}
	switch r.Kind {
	case ServerKindNode, ServerKindPython, ServerKindContainer:
	default:
		return errors.Join(ErrInvalidServerRecord, errors.New("unknown server kind"))
	}
	if r.InstallPath == "" {
		return errors.Join(ErrInvalidServerRecord, errors.New("install_path is required"))
	}
	return nil
}

// ContainerName returns the deterministic container name for this server.
func (r *ServerRecord) ContainerName() string {
	return "mcp-" + r.Name
}
