package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// clientConfigName is the file the desktop assistant reads its MCP server
// entries from.
const clientConfigName = "claude_desktop_config.json"

// ResolveClientConfigPath returns the desktop assistant's config file
// location, honoring the configured override before the per-OS default.
func (c *Config) ResolveClientConfigPath() (string, error) {
	if c.ClientConfigPath != "" {
		return c.ClientConfigPath, nil
	}
	return DefaultClientConfigPath(runtime.GOOS)
}

// DefaultClientConfigPath returns the per-OS default location of the client
// config file.
func DefaultClientConfigPath(goos string) (string, error) {
	switch goos {
	case "windows":
		profile := os.Getenv("USERPROFILE")
		if profile == "" {
			return "", fmt.Errorf("USERPROFILE is not set")
		}
		return filepath.Join(profile, "AppData", "Roaming", "Claude", clientConfigName), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "Claude", clientConfigName), nil
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
		return filepath.Join(home, ".config", "claude", clientConfigName), nil
	}
}
