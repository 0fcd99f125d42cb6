// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openwork/openwork/internal/health"
	"github.com/openwork/openwork/internal/netutil"
	"github.com/openwork/openwork/internal/resolve"
	"github.com/openwork/openwork/internal/state"
	"github.com/openwork/openwork/internal/supervise"
)

// engineSeedConfig is written into a workspace's engine config dir when no
// config exists yet, so a fresh engine boots with known-good defaults.
const engineSeedConfig = "{}\n"

// ErrNoActiveWorkspace indicates an engine was requested with no active
// local workspace to run it against.
var ErrNoActiveWorkspace = errors.New("no active local workspace")

// ensureEngine is the one-engine-per-daemon gate. If the persisted engine
// record is live it is reused; otherwise a new engine is spawned against the
// active local workspace, health-gated, and persisted. Concurrent callers
// during a cold start collapse into a single spawn via the flight group.
func (d *Daemon) ensureEngine(ctx context.Context) (*state.ProcessRecord, error) {
	v, err, _ := d.flight.Do("engine", func() (any, error) {
		st := d.store.Load()
		if state.RecordLive(ctx, st.Engine) {
			return st.Engine, nil
		}

		return d.spawnEngine(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return v.(*state.ProcessRecord), nil
}

// spawnEngine starts a fresh engine for the active workspace. The state
// record is written only after the engine's /health answered.
func (d *Daemon) spawnEngine(ctx context.Context, st *state.PersistedState) (*state.ProcessRecord, error) {
	ws, ok := st.ActiveWorkspace()
	if !ok || ws.Type != state.WorkspaceLocal {
		return nil, ErrNoActiveWorkspace
	}

	if err := d.seedEngineConfig(ws.ID); err != nil {
		return nil, err
	}

	bin, err := d.resolver.Resolve(ctx, resolve.EngineBinary, resolve.Options{
		Preference:    d.cfg.Sidecars.Source,
		OverridePath:  d.cfg.Engine.Bin,
		AllowExternal: d.cfg.Sidecars.AllowExternal,
		CacheDir:      d.cfg.SidecarCacheDir(),
		BaseURL:       d.cfg.Sidecars.BaseURL,
		ManifestURL:   d.cfg.Sidecars.ManifestURL,
	})
	if err != nil {
		return nil, err
	}

	port, err := netutil.AllocatePort(d.cfg.Engine.Host, d.cfg.Engine.Port)
	if err != nil {
		return nil, err
	}

	args := []string{"serve", "--hostname", d.cfg.Engine.Host, "--port", fmt.Sprintf("%d", port)}
	if len(d.cfg.CORS) > 0 {
		args = append(args, "--cors", strings.Join(d.cfg.CORS, ","))
	}

	workdir := ws.Path
	if d.cfg.Engine.Workdir != "" {
		workdir = d.cfg.Engine.Workdir
	}

	env := append(os.Environ(),
		"OPENWORK_RUN_ID="+d.log.RunID(),
		"XDG_CONFIG_HOME="+d.cfg.EngineConfigDir(ws.ID),
	)
	if d.cfg.Engine.Auth != "" {
		env = append(env, "OPENCODE_AUTH="+d.cfg.Engine.Auth)
	}

	child, err := d.sup.Start(supervise.ChildSpec{
		Name: "opencode",
		Path: bin.Path,
		Args: args,
		Dir:  workdir,
		Env:  env,
	})
	if err != nil {
		return nil, err
	}

	baseURL := netutil.BaseURL(d.cfg.Engine.Host, port)
	if err := health.WaitForHealthy(ctx, baseURL+"/health"); err != nil {
		d.sup.Stop(ctx, child)
		return nil, err
	}

	rec := &state.ProcessRecord{
		PID:       child.PID(),
		Port:      port,
		BaseURL:   baseURL,
		StartedAt: time.Now().UTC(),
	}

	if _, err := d.store.Update(func(st *state.PersistedState) {
		st.Engine = rec
		if st.Binaries == nil {
			st.Binaries = map[string]state.BinaryDiagnostic{}
		}
		st.Binaries[resolve.EngineBinary] = state.BinaryDiagnostic{
			Source:          string(bin.Source),
			Path:            bin.Path,
			ExpectedVersion: bin.ExpectedVersion,
			ActualVersion:   bin.ActualVersion,
		}
	}); err != nil {
		return nil, err
	}

	d.log.Info("engine started", "pid", rec.PID, "port", rec.Port, "workspace", ws.ID)
	return rec, nil
}

// seedEngineConfig creates the per-workspace engine config dir with a seed
// config when none exists.
func (d *Daemon) seedEngineConfig(workspaceID string) error {
	dir := d.cfg.EngineConfigDir(workspaceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating engine config dir: %w", err)
	}
	cfgPath := filepath.Join(dir, "opencode.json")
	if _, err := os.Stat(cfgPath); err == nil {
		return nil
	}
	if err := os.WriteFile(cfgPath, []byte(engineSeedConfig), 0o644); err != nil {
		return fmt.Errorf("seeding engine config: %w", err)
	}
	return nil
}

// disposeInstance asks the engine to drop in-memory state for a workspace.
func (d *Daemon) disposeInstance(ctx context.Context, ws *state.Workspace) error {
	st := d.store.Load()
	if !state.RecordLive(ctx, st.Engine) {
		// Nothing to dispose; the engine owns no state when it is not
		// running.
		return nil
	}
	return postJSON(ctx, st.Engine.BaseURL+"/instances/dispose", map[string]string{
		"directory": ws.Path,
	})
}
