// Package configstore mediates all reads and writes of the desktop
// assistant's shared JSON config file. Writes are atomic (temp file, fsync,
// rename) and guarded by a cross-process lock; corrupt documents are backed
// up and reset rather than surfaced.
package configstore

import (
	"encoding/json"
	"fmt"
)

// serversKey is the only key in the document mcpilot owns. Every sibling
// field is preserved verbatim.
const serversKey = "mcpServers"

// ServerEntry is the closed shape mcpilot writes under mcpServers.
type ServerEntry struct {
	Command     []string          `json:"command"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	AutoRestart bool              `json:"autoRestart"`
}

// Document is the parsed config file. Unknown fields ride along untouched.
type Document map[string]any

// DefaultDocument returns the document synthesized when the file is missing
// or unreadable.
func DefaultDocument() Document {
	return Document{
		serversKey: map[string]any{},
		"theme":    "light",
		"apiKeys":  map[string]any{},
		"settings": map[string]any{
			"autoStart":     true,
			"notifications": true,
		},
	}
}

// ensureServers makes sure the mcpServers key holds a map, creating an empty
// one when absent or malformed.
func (d Document) ensureServers() map[string]any {
	if m, ok := d[serversKey].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	d[serversKey] = m
	return m
}

// ServerNames returns the names currently present under mcpServers.
func (d Document) ServerNames() []string {
	m, ok := d[serversKey].(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}

// Server decodes the entry for name. The second return is false when the
// entry is absent or not an object.
func (d Document) Server(name string) (ServerEntry, bool) {
	m, ok := d[serversKey].(map[string]any)
	if !ok {
		return ServerEntry{}, false
	}
	raw, ok := m[name]
	if !ok {
		return ServerEntry{}, false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return ServerEntry{}, false
	}
	var entry ServerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return ServerEntry{}, false
	}
	return entry, true
}

// SetServer writes the entry for name, replacing any previous value.
func (d Document) SetServer(name string, entry ServerEntry) {
	m := d.ensureServers()
	obj := map[string]any{
		"command":     toAnySlice(entry.Command),
		"autoRestart": entry.AutoRestart,
	}
	if entry.Cwd != "" {
		obj["cwd"] = entry.Cwd
	}
	if len(entry.Env) > 0 {
		env := make(map[string]any, len(entry.Env))
		for k, v := range entry.Env {
			env[k] = v
		}
		obj["env"] = env
	}
	m[name] = obj
}

// RemoveServer deletes the entry for name if present.
func (d Document) RemoveServer(name string) {
	if m, ok := d[serversKey].(map[string]any); ok {
		delete(m, name)
	}
}

// clone deep-copies the document through JSON so mutators cannot alias the
// cached copy.
func (d Document) clone() (Document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	out, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	return out, nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
