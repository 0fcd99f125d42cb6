// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/openwork/openwork/internal/config"
	"github.com/openwork/openwork/internal/health"
	"github.com/openwork/openwork/internal/logging"
	"github.com/openwork/openwork/internal/state"
	"github.com/openwork/openwork/internal/supervise"
)

type (
	// Client talks to a router daemon over its loopback control plane.
	Client struct {
		base string
		http *http.Client
	}
)

// NewClient creates a Client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the daemon address this client targets.
func (c *Client) BaseURL() string { return c.base }

// Health fetches the daemon health document.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Workspaces lists all workspaces.
func (c *Client) Workspaces(ctx context.Context) (*WorkspacesResponse, error) {
	var out WorkspacesResponse
	if err := c.get(ctx, "/workspaces", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddWorkspace upserts a local workspace.
func (c *Client) AddWorkspace(ctx context.Context, path, name string) (*state.Workspace, error) {
	var out state.Workspace
	if err := c.post(ctx, "/workspaces", AddWorkspaceRequest{Path: path, Name: name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddRemoteWorkspace upserts a remote workspace.
func (c *Client) AddRemoteWorkspace(ctx context.Context, baseURL, directory, name string) (*state.Workspace, error) {
	var out state.Workspace
	if err := c.post(ctx, "/workspaces/remote", AddRemoteWorkspaceRequest{
		BaseURL: baseURL, Directory: directory, Name: name,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Workspace fetches one workspace by id.
func (c *Client) Workspace(ctx context.Context, id string) (*state.Workspace, error) {
	var out state.Workspace
	if err := c.get(ctx, "/workspaces/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Activate switches the global active workspace.
func (c *Client) Activate(ctx context.Context, id string) (*state.Workspace, error) {
	var out state.Workspace
	if err := c.post(ctx, "/workspaces/"+id+"/activate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WorkspacePath fetches the engine's path info for a workspace.
func (c *Client) WorkspacePath(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.get(ctx, "/workspaces/"+id+"/path", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DisposeInstance drops the engine's in-memory state for a workspace.
func (c *Client) DisposeInstance(ctx context.Context, id string) error {
	return c.post(ctx, "/instances/"+id+"/dispose", nil, nil)
}

// Shutdown asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.post(ctx, "/shutdown", nil, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, http.NoBody)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data := []byte("{}")
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("daemon %s: %s", req.URL.Path, e.Error)
		}
		return fmt.Errorf("daemon %s: status %d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Connect returns a client for the live daemon recorded in the state file,
// or nil when no live daemon exists.
func Connect(ctx context.Context, cfg *config.Config) *Client {
	st := state.NewStore(cfg.StatePath()).Load()
	if !state.RecordLive(ctx, st.Daemon) {
		return nil
	}
	return NewClient(st.Daemon.BaseURL)
}

// Ensure returns a client for a live daemon, spawning one as a detached
// child when none exists. The spawned daemon inherits this invocation's
// configuration flags and logs to a file under the data dir.
func Ensure(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Client, error) {
	if c := Connect(ctx, cfg); c != nil {
		return c, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating orchestrator executable: %w", err)
	}

	logPath := filepath.Join(cfg.DataDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	defer func() { _ = logFile.Close() }()

	cmd := exec.Command(exe, daemonArgs(cfg)...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = supervise.DetachedSysProcAttr()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning daemon: %w", err)
	}
	// The daemon reparents to init; this process never waits on it.
	_ = cmd.Process.Release()

	log.Debug("spawned router daemon", "pid", cmd.Process.Pid, "log", logPath)

	// The daemon may have fallen back to an ephemeral port, so poll the
	// state file for its record and health instead of assuming the
	// preferred address.
	deadline := time.Now().Add(health.DefaultTimeout)
	store := state.NewStore(cfg.StatePath())
	for time.Now().Before(deadline) {
		st := store.Load()
		if st.Daemon != nil {
			if err := health.WaitForHealthy(ctx, st.Daemon.BaseURL+"/health",
				health.WithTimeout(time.Second)); err == nil {
				return NewClient(st.Daemon.BaseURL), nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(health.DefaultPoll):
		}
	}
	return nil, fmt.Errorf("daemon did not become healthy (see %s)", logPath)
}

// daemonArgs builds the child daemon's command line from the inherited
// configuration.
func daemonArgs(cfg *config.Config) []string {
	args := []string{
		"daemon", "run",
		"--data-dir", cfg.DataDir,
		"--daemon-host", cfg.DaemonHost,
		"--daemon-port", fmt.Sprintf("%d", cfg.DaemonPort),
		"--log-format", string(cfg.LogFormat),
		"--color", "never",
	}
	if cfg.Sidecars.Source != "" {
		args = append(args, "--sidecar-source", string(cfg.Sidecars.Source))
	}
	if cfg.Sidecars.ManifestURL != "" {
		args = append(args, "--sidecar-manifest", cfg.Sidecars.ManifestURL)
	}
	if cfg.Sidecars.BaseURL != "" {
		args = append(args, "--sidecar-base-url", cfg.Sidecars.BaseURL)
	}
	if cfg.Sidecars.AllowExternal {
		args = append(args, "--allow-external")
	}
	if cfg.Engine.Bin != "" {
		args = append(args, "--opencode-bin", cfg.Engine.Bin)
	}
	if cfg.Verbose {
		args = append(args, "--verbose")
	}
	return args
}
