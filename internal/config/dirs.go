// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the product name used in directory paths.
const AppName = "openwork"

// AllowlistFileName is the sandbox mount allowlist file under the config dir.
const AllowlistFileName = "sandbox-mount-allowlist.json"

// DefaultDataDir returns the platform data directory for persisted state,
// sidecar caches, and per-workspace engine config.
func DefaultDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		dir := os.Getenv("APPDATA")
		if dir == "" {
			dir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		return filepath.Join(dir, AppName), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", AppName), nil
	default:
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			return filepath.Join(dir, AppName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, ".local", "share", AppName), nil
	}
}

// ConfigDir returns the platform config directory, which holds the sandbox
// mount allowlist.
func ConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		dir := os.Getenv("APPDATA")
		if dir == "" {
			dir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		return filepath.Join(dir, AppName), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", AppName), nil
	default:
		if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
			return filepath.Join(dir, AppName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, ".config", AppName), nil
	}
}

// StatePath returns the persisted state file under the data dir.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.json")
}

// SidecarCacheDir returns the download cache root. Cached assets live at
// <cache>/<version>/<triple>/<asset>.
func (c *Config) SidecarCacheDir() string {
	if c.Sidecars.CacheDir != "" {
		return c.Sidecars.CacheDir
	}
	return filepath.Join(c.DataDir, "sidecars")
}

// EngineConfigDir returns the engine's per-workspace config directory.
func (c *Config) EngineConfigDir(workspaceID string) string {
	return filepath.Join(c.DataDir, "engine-config", workspaceID)
}

// SandboxDir returns the sandbox staging root for a workspace.
func (c *Config) SandboxDir(workspaceID string) string {
	if c.Sandbox.PersistDir != "" {
		return filepath.Join(c.Sandbox.PersistDir, "sandbox", workspaceID)
	}
	return filepath.Join(c.DataDir, "sandbox", workspaceID)
}

// PersistDir returns the per-workspace persist directory mounted into the
// sandbox container.
func (c *Config) PersistDir(workspaceID string) string {
	if c.Sandbox.PersistDir != "" {
		return filepath.Join(c.Sandbox.PersistDir, workspaceID)
	}
	return filepath.Join(c.DataDir, "persist", workspaceID)
}

// AllowlistPath returns the sandbox mount allowlist location, honoring the
// configured override.
func (c *Config) AllowlistPath() (string, error) {
	if c.Sandbox.AllowlistPath != "" {
		return c.Sandbox.AllowlistPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AllowlistFileName), nil
}

// EnsureDataDir creates the data directory tree if missing.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}
