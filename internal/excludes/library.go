// Package excludes provides built-in backup exclude patterns for the file
// types that bloat archives without being restorable state.
package excludes

import "github.com/mcpilot/mcpilot/internal/models"

// Patterns use filepath.Match syntax and match either the base name or the
// path relative to the data directory.

// common covers OS metadata and editor droppings regardless of server kind.
var common = []string{
	".DS_Store",
	"._*",
	"Thumbs.db",
	"desktop.ini",
	"*.swp",
	"*.tmp",
	"*~",
}

var node = []string{
	"node_modules",
	".npm",
	"*.tsbuildinfo",
}

var python = []string{
	"__pycache__",
	"*.pyc",
	".venv",
	".pytest_cache",
	".mypy_cache",
}

// Defaults returns the built-in exclude patterns for a server kind. The
// caller merges these with any user-supplied patterns.
func Defaults(kind models.ServerKind) []string {
	patterns := make([]string, 0, len(common)+len(node)+len(python))
	patterns = append(patterns, common...)
	switch kind {
	case models.ServerKindNode:
		patterns = append(patterns, node...)
	case models.ServerKindPython:
		patterns = append(patterns, python...)
	case models.ServerKindContainer:
		// Container state lives in volumes; the data directory only holds
		// host-side files, so the common set suffices.
	}
	return patterns
}

// Merge combines built-in defaults with user patterns, dropping duplicates.
func Merge(kind models.ServerKind, user []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range append(Defaults(kind), user...) {
		if _, ok := seen[pattern]; ok {
			continue
		}
		seen[pattern] = struct{}{}
		out = append(out, pattern)
	}
	return out
}
