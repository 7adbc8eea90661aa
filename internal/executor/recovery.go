package executor

import (
	"errors"
	"strings"

	"github.com/mcpilot/mcpilot/internal/containerctl"
	"github.com/mcpilot/mcpilot/internal/execx"
)

// strategy is the bounded set of automated recoveries. Each is applied at
// most once per step; a second failure is fatal.
type strategy int

const (
	strategyNone strategy = iota
	strategyMissingTool
	strategyElevate
	strategyRename
)

// CollisionPolicy decides how an already-exists collision is recovered.
type CollisionPolicy string

const (
	// CollisionRename appends a timestamp suffix to the colliding name and
	// retries.
	CollisionRename CollisionPolicy = "rename"
	// CollisionReplace removes the existing directory or container and
	// retries.
	CollisionReplace CollisionPolicy = "replace"
)

// classify inspects a step failure and picks the recovery strategy.
func classify(err error, stderr string) strategy {
	lower := strings.ToLower(stderr)

	switch {
	case errors.Is(err, execx.ErrToolNotFound),
		strings.Contains(lower, "command not found"),
		strings.Contains(lower, "is not recognized as an internal"):
		return strategyMissingTool

	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "eacces"),
		strings.Contains(lower, "operation not permitted"):
		return strategyElevate

	case errors.Is(err, containerctl.ErrNameInUse),
		strings.Contains(lower, "already exists"),
		strings.Contains(lower, "already in use"),
		strings.Contains(lower, "destination path") && strings.Contains(lower, "exists"):
		return strategyRename
	}
	return strategyNone
}

// missingTool extracts the tool name for the actionable abort message.
func missingTool(err error, command []string) string {
	if len(command) > 0 {
		return command[0]
	}
	return strings.TrimSpace(strings.TrimPrefix(err.Error(), execx.ErrToolNotFound.Error()+":"))
}
