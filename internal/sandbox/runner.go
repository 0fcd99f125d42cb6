// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/openwork/openwork/internal/health"
	"github.com/openwork/openwork/internal/logging"
	"github.com/openwork/openwork/internal/netutil"
	"github.com/openwork/openwork/internal/supervise"
)

// containerStartTimeout bounds the wait for the container to reach the
// running state before health probing begins.
const containerStartTimeout = 60 * time.Second

type (
	// StartOptions describes one sandboxed run.
	StartOptions struct {
		WorkspaceID   string
		WorkspacePath string

		// EngineBin and AppServerBin are host paths of Linux-targeted
		// sidecar binaries (the resolver forces a linux triple for
		// sandboxed runs).
		EngineBin    string
		AppServerBin string

		Image string
		// AppServerPort is the external host port published for the app
		// server; the engine is never published.
		AppServerPort int
		// AppServerArgs are forwarded verbatim into the entrypoint exec.
		AppServerArgs []string

		StagingDir      string
		PersistDir      string
		EngineConfigDir string

		ExtraMounts []MountSpec
		// Detach leaves the staging dir behind for post-mortem inspection.
		Detach bool
	}

	// Runner launches the sidecar pair inside a container and health-gates
	// the result.
	Runner struct {
		log     *logging.Logger
		runtime *Runtime

		// inspectState is a seam for tests; production queries the runtime
		// CLI for the container's running state.
		inspectState func(ctx context.Context, containerName string) (string, error)
	}
)

// NewRunner creates a Runner for the detected runtime.
func NewRunner(log *logging.Logger, rt *Runtime) *Runner {
	r := &Runner{
		log:     log.Component("sandbox"),
		runtime: rt,
	}
	r.inspectState = r.inspectViaCLI
	return r
}

// ContainerName returns the deterministic container name for a workspace.
func ContainerName(workspaceID string) string {
	return "openwork-sandbox-" + workspaceID
}

// Start stages the sidecars, launches the container under the supervisor,
// waits for it to run, and health-gates the pair: the app server's /health
// first, then the engine through the app server's reverse proxy. Cleanup of
// the staging directory and the container is registered on the supervisor
// for non-detached runs.
func (r *Runner) Start(ctx context.Context, sup *supervise.Supervisor, opts StartOptions) (*supervise.Child, error) {
	containerName := ContainerName(opts.WorkspaceID)

	if err := stageSidecars(opts.StagingDir, opts.EngineBin, opts.AppServerBin, opts.AppServerArgs); err != nil {
		return nil, err
	}

	args := r.runArgs(containerName, opts)
	r.log.Debug("launching sandbox container", "runtime", r.runtime.Name, "name", containerName)

	child, err := sup.Start(supervise.ChildSpec{
		Name: "sandbox",
		Path: r.runtime.Path,
		Args: args,
	})
	if err != nil {
		return nil, err
	}

	if !opts.Detach {
		sup.OnShutdown(func(cleanupCtx context.Context) error {
			return r.cleanup(cleanupCtx, containerName, opts.StagingDir)
		})
	}

	if err := r.waitRunning(ctx, containerName); err != nil {
		return nil, err
	}

	// Health order: the app server must answer before the engine probe has
	// any meaning, because the engine is only reachable through its proxy.
	base := netutil.BaseURL("127.0.0.1", opts.AppServerPort)
	if err := health.WaitForHealthy(ctx, base+"/health", health.WithTimeout(health.LongBootTimeout)); err != nil {
		return nil, err
	}
	// Older app-server builds predate the proxy health route and answer 404
	// there; any non-5xx still proves the proxy path is alive.
	if err := health.WaitForHealthy(ctx, base+"/opencode/health",
		health.WithTimeout(health.LongBootTimeout), health.WithProxyTolerance()); err != nil {
		return nil, err
	}

	r.log.Info("sandbox healthy", "name", containerName, "port", opts.AppServerPort)
	return child, nil
}

// runArgs builds the container CLI invocation.
func (r *Runner) runArgs(containerName string, opts StartOptions) []string {
	args := []string{
		"run", "--rm",
		"--name", containerName,
		"-p", fmt.Sprintf("%d:%d", opts.AppServerPort, AppServerInternalPort),
		"-v", opts.WorkspacePath + ":" + containerWorkspace,
		"-v", opts.PersistDir + ":" + containerPersist,
		"-v", opts.StagingDir + "/sidecars:" + containerSidecars + ":ro",
	}
	if opts.EngineConfigDir != "" {
		args = append(args, "-v", opts.EngineConfigDir+":"+containerEngineConfig+":ro")
	}
	for _, m := range opts.ExtraMounts {
		mode := "ro"
		if m.ReadWrite {
			mode = "rw"
		}
		args = append(args, "-v", m.RealPath+":"+containerMountRoot+"/"+m.ContainerSubPath+":"+mode)
	}
	args = append(args, opts.Image, "/bin/sh", containerSidecars+"/"+entrypointName)
	return args
}

// waitRunning polls the runtime until the container reports running.
func (r *Runner) waitRunning(ctx context.Context, containerName string) error {
	deadline := time.Now().Add(containerStartTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		state, err := r.inspectState(ctx, containerName)
		if err == nil && state == "running" {
			return nil
		}
		if err == nil {
			lastErr = fmt.Errorf("container state %q", state)
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("container %s never reached running: %w", containerName, lastErr)
}

// inspectViaCLI asks the runtime CLI for the container state.
func (r *Runner) inspectViaCLI(ctx context.Context, containerName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, r.runtime.Path, "inspect", "-f", "{{.State.Status}}", containerName).Output()
	if err != nil {
		return "", fmt.Errorf("inspecting container: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// cleanup force-removes the container and deletes the staging directory.
func (r *Runner) cleanup(ctx context.Context, containerName, stagingDir string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// --rm containers usually vanish on their own; force-remove covers the
	// wedged case and is a no-op otherwise.
	_ = exec.CommandContext(ctx, r.runtime.Path, "rm", "-f", containerName).Run()

	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("removing staging dir: %w", err)
	}
	return nil
}
