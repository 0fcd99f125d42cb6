// SPDX-License-Identifier: MPL-2.0

package orchestrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/openwork/openwork/internal/health"
	"github.com/openwork/openwork/internal/netutil"
	"github.com/openwork/openwork/internal/state"
	"github.com/openwork/openwork/internal/supervise"
)

// startOnHost runs the sidecar pair directly on this machine. Ordering is
// the contract: the engine must answer /health before the app server is
// spawned, and the app server must answer before the run is ready.
func (o *Orchestrator) startOnHost(ctx context.Context, ws state.Workspace) (*Result, error) {
	engineBin, appServerBin, err := o.resolveBoth(ctx, false)
	if err != nil {
		return nil, err
	}

	enginePort, err := netutil.AllocatePort(o.cfg.Engine.Host, o.cfg.Engine.Port)
	if err != nil {
		return nil, err
	}
	appServerPort, err := netutil.AllocatePort(o.cfg.AppServer.Host, o.cfg.AppServer.Port)
	if err != nil {
		return nil, err
	}

	token, err := tokenOrGenerate(o.cfg.AppServer.Token)
	if err != nil {
		return nil, err
	}
	hostToken := o.cfg.AppServer.HostToken
	if o.cfg.ConnectHost != "" && hostToken == "" {
		if hostToken, err = tokenOrGenerate(""); err != nil {
			return nil, err
		}
	}

	engineArgs := []string{"serve", "--hostname", o.cfg.Engine.Host, "--port", fmt.Sprintf("%d", enginePort)}
	if len(o.cfg.CORS) > 0 {
		engineArgs = append(engineArgs, "--cors", strings.Join(o.cfg.CORS, ","))
	}
	engineWorkdir := ws.Path
	if o.cfg.Engine.Workdir != "" {
		engineWorkdir = o.cfg.Engine.Workdir
	}

	engineEnv := o.childEnv("XDG_CONFIG_HOME=" + o.cfg.EngineConfigDir(ws.ID))
	if o.cfg.Engine.Auth != "" {
		engineEnv = append(engineEnv, "OPENCODE_AUTH="+o.cfg.Engine.Auth)
	}

	engineChild, err := o.sup.Start(supervise.ChildSpec{
		Name:    "opencode",
		Path:    engineBin.Path,
		Args:    engineArgs,
		Dir:     engineWorkdir,
		Env:     engineEnv,
		LogPath: o.childLogPath("opencode"),
	})
	if err != nil {
		return nil, err
	}
	o.sup.Run().MarkRunning()

	engineURL := netutil.BaseURL(o.cfg.Engine.Host, enginePort)
	if err := health.WaitForHealthy(ctx, engineURL+"/health", health.WithTimeout(health.LongBootTimeout)); err != nil {
		return nil, err
	}
	o.log.Debug("engine healthy", "pid", engineChild.PID(), "port", enginePort)

	appServerChild, err := o.sup.Start(supervise.ChildSpec{
		Name:    "openwork-server",
		Path:    appServerBin.Path,
		Args:    o.appServerArgs(ws.Path, appServerPort, token, hostToken, o.cfg.Engine.Host, enginePort),
		Dir:     ws.Path,
		Env:     o.childEnv(),
		LogPath: o.childLogPath("openwork-server"),
	})
	if err != nil {
		return nil, err
	}

	appServerURL := netutil.BaseURL("127.0.0.1", appServerPort)
	if err := health.WaitForHealthy(ctx, appServerURL+"/health", health.WithTimeout(health.LongBootTimeout)); err != nil {
		return nil, err
	}
	o.log.Debug("app server healthy", "pid", appServerChild.PID(), "port", appServerPort)

	return &Result{
		WorkspaceID:   ws.ID,
		EnginePort:    enginePort,
		AppServerPort: appServerPort,
		Token:         token,
		HostToken:     hostToken,
		LANURL:        o.lanURL(appServerPort),
		Binaries:      binaryDiagnostics(engineBin, appServerBin),
	}, nil
}
