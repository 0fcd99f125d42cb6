// SPDX-License-Identifier: MPL-2.0

package orchestrate

import (
	"context"

	"github.com/openwork/openwork/internal/netutil"
	"github.com/openwork/openwork/internal/sandbox"
	"github.com/openwork/openwork/internal/state"
)

// defaultSandboxImage is used when no image is configured.
const defaultSandboxImage = "ghcr.io/openwork/sandbox:latest"

// startSandboxed runs the pair inside a container. Mount policy is enforced
// before anything is staged; the container must be running before the app
// server probe starts, and the app server must answer before the engine
// proxy probe begins.
func (o *Orchestrator) startSandboxed(ctx context.Context, ws state.Workspace, rt *sandbox.Runtime) (*Result, error) {
	allowlistPath, err := o.cfg.AllowlistPath()
	if err != nil {
		return nil, err
	}
	allowlist, err := sandbox.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}
	mounts, err := sandbox.ValidateMounts(o.cfg.Sandbox.Mounts, allowlist, allowlistPath)
	if err != nil {
		return nil, err
	}

	// Sandboxed sidecars are Linux binaries regardless of the host OS.
	engineBin, appServerBin, err := o.resolveBoth(ctx, true)
	if err != nil {
		return nil, err
	}

	appServerPort, err := netutil.AllocatePort("127.0.0.1", o.cfg.AppServer.Port)
	if err != nil {
		return nil, err
	}
	token, err := tokenOrGenerate(o.cfg.AppServer.Token)
	if err != nil {
		return nil, err
	}

	image := o.cfg.Sandbox.Image
	if image == "" {
		image = defaultSandboxImage
	}

	runner := sandbox.NewRunner(o.log, rt)
	_, err = runner.Start(ctx, o.sup, sandbox.StartOptions{
		WorkspaceID:   ws.ID,
		WorkspacePath: ws.Path,
		EngineBin:     engineBin.Path,
		AppServerBin:  appServerBin.Path,
		Image:         image,
		AppServerPort: appServerPort,
		AppServerArgs: o.appServerArgs(
			"/workspace", sandbox.AppServerInternalPort, token, o.cfg.AppServer.HostToken,
			"127.0.0.1", sandbox.EngineInternalPort,
		),
		StagingDir:      o.cfg.SandboxDir(ws.ID),
		PersistDir:      o.cfg.PersistDir(ws.ID),
		EngineConfigDir: o.cfg.EngineConfigDir(ws.ID),
		ExtraMounts:     mounts,
		Detach:          o.cfg.Detach,
	})
	if err != nil {
		return nil, err
	}
	o.sup.Run().MarkRunning()

	return &Result{
		WorkspaceID:   ws.ID,
		EnginePort:    sandbox.EngineInternalPort,
		AppServerPort: appServerPort,
		Token:         token,
		HostToken:     o.cfg.AppServer.HostToken,
		LANURL:        o.lanURL(appServerPort),
		Binaries:      binaryDiagnostics(engineBin, appServerBin),
		Sandboxed:     true,
	}, nil
}
