// SPDX-License-Identifier: MPL-2.0

// Package orchestrate drives a foreground run: resolve the sidecar
// binaries, bring the pair up in order with health gating (directly on the
// host or inside the sandbox), persist the outcome, and supervise until
// shutdown or detach.
package orchestrate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openwork/openwork/internal/config"
	"github.com/openwork/openwork/internal/logging"
	"github.com/openwork/openwork/internal/netutil"
	"github.com/openwork/openwork/internal/resolve"
	"github.com/openwork/openwork/internal/sandbox"
	"github.com/openwork/openwork/internal/state"
	"github.com/openwork/openwork/internal/supervise"
)

type (
	// Result describes a ready run.
	Result struct {
		WorkspaceID   string
		EnginePort    int
		AppServerPort int
		Token         string
		HostToken     string
		LANURL        string
		Binaries      map[string]state.BinaryDiagnostic
		Sandboxed     bool
	}

	// Orchestrator owns one `start` invocation.
	Orchestrator struct {
		cfg      *config.Config
		log      *logging.Logger
		store    *state.Store
		resolver *resolve.Resolver
		sup      *supervise.Supervisor
		detector *sandbox.Detector
	}

	// Option configures an Orchestrator.
	Option func(*Orchestrator)
)

// WithResolver overrides the binary resolver, for tests.
func WithResolver(r *resolve.Resolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithDetector overrides the sandbox runtime detector, for tests.
func WithDetector(d *sandbox.Detector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

// New creates an Orchestrator.
func New(cfg *config.Config, log *logging.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:   cfg,
		log:   log,
		store: state.NewStore(cfg.StatePath()),
		sup:   supervise.New(log),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.resolver == nil {
		o.resolver = resolve.NewResolver(log)
	}
	if o.detector == nil {
		o.detector = sandbox.NewDetector()
	}
	return o
}

// Supervisor exposes the run's supervisor to the command layer for signal
// wiring.
func (o *Orchestrator) Supervisor() *supervise.Supervisor { return o.sup }

// Start brings the run up and returns once it is healthy. The caller then
// either detaches or blocks in Watch until the run ends.
func (o *Orchestrator) Start(ctx context.Context) (*Result, error) {
	if err := o.cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	wsPath := o.cfg.Workspace
	if wsPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determining workspace: %w", err)
		}
		wsPath = cwd
	}
	if err := os.MkdirAll(wsPath, 0o755); err != nil {
		return nil, fmt.Errorf("ensuring workspace directory: %w", err)
	}
	ws := state.NewLocalWorkspace(wsPath, "", time.Now().UTC())

	rt, err := o.detector.Detect(ctx, o.cfg.Sandbox.Mode)
	if err != nil {
		return nil, err
	}

	var result *Result
	if rt != nil {
		result, err = o.startSandboxed(ctx, ws, rt)
	} else {
		result, err = o.startOnHost(ctx, ws)
	}
	if err != nil {
		return nil, err
	}

	o.sup.Run().MarkHealthy()
	o.persistOutcome(ctx, ws, result)
	o.emitReady(result)
	return result, nil
}

// Watch blocks until a signal or an unexpected child exit ends the run and
// returns the process exit code. Signals exit 0; a child crash propagates
// its code (or 1 when the child left none).
func (o *Orchestrator) Watch(ctx context.Context) int {
	select {
	case <-ctx.Done():
		if o.sup.Run().BeginShutdown(0) {
			o.sup.ShutdownAll(context.Background())
		}
		return 0
	case exit := <-o.sup.Exits():
		code := exit.Code
		if code <= 0 {
			code = 1
		}
		o.log.Error("child exited unexpectedly", "name", exit.Name, "code", exit.Code)
		if o.sup.Run().BeginShutdown(code) {
			o.sup.ShutdownAll(context.Background())
		}
		return code
	}
}

// Shutdown runs the fan-out stop outside of Watch, e.g. on a start failure.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.sup.ShutdownAll(ctx)
}

// Detach releases the children and returns; the caller prints the summary
// and exits 0.
func (o *Orchestrator) Detach() error {
	return o.sup.Detach()
}

// persistOutcome records the run in the state file — but only when no live
// daemon owns it; the daemon is the single writer while it is up. Records
// land only after health passed: Start already gated on it.
func (o *Orchestrator) persistOutcome(ctx context.Context, ws state.Workspace, res *Result) {
	st := o.store.Load()
	if state.RecordLive(ctx, st.Daemon) {
		return
	}
	if _, err := o.store.Update(func(st *state.PersistedState) {
		st.ClearStale(ctx)
		st.Upsert(ws)
		st.Binaries = res.Binaries
	}); err != nil {
		o.log.Warn("persisting run outcome failed", "error", err)
	}
}

// emitReady logs the machine-readable ready line.
func (o *Orchestrator) emitReady(res *Result) {
	diags := map[string]any{}
	for name, d := range res.Binaries {
		diags[name] = map[string]any{
			"source":          d.Source,
			"path":            d.Path,
			"expectedVersion": d.ExpectedVersion,
			"actualVersion":   d.ActualVersion,
		}
	}
	o.log.Info("ready",
		"opencode.port", res.EnginePort,
		"openwork.port", res.AppServerPort,
		"openwork.token", res.Token,
		"openwork.url", res.LANURL,
		"sandboxed", res.Sandboxed,
		"diagnostics", map[string]any{"binaries": diags},
	)
}

// resolveBoth resolves the engine and app-server binaries for the target.
func (o *Orchestrator) resolveBoth(ctx context.Context, sandboxed bool) (engine, appServer *resolve.ResolvedBinary, err error) {
	opts := resolve.Options{
		Preference:    o.cfg.Sidecars.Source,
		AllowExternal: o.cfg.Sidecars.AllowExternal,
		Sandboxed:     sandboxed,
		CacheDir:      o.cfg.SidecarCacheDir(),
		BaseURL:       o.cfg.Sidecars.BaseURL,
		ManifestURL:   o.cfg.Sidecars.ManifestURL,
	}

	engineOpts := opts
	engineOpts.OverridePath = o.cfg.Engine.Bin
	engine, err = o.resolver.Resolve(ctx, resolve.EngineBinary, engineOpts)
	if err != nil {
		return nil, nil, err
	}

	appServer, err = o.resolver.Resolve(ctx, resolve.AppServerBinary, opts)
	if err != nil {
		return nil, nil, err
	}
	return engine, appServer, nil
}

// binaryDiagnostics folds resolved binaries into the persisted diagnostic
// shape.
func binaryDiagnostics(bins ...*resolve.ResolvedBinary) map[string]state.BinaryDiagnostic {
	out := make(map[string]state.BinaryDiagnostic, len(bins))
	for _, b := range bins {
		out[b.Name] = state.BinaryDiagnostic{
			Source:          string(b.Source),
			Path:            b.Path,
			ExpectedVersion: b.ExpectedVersion,
			ActualVersion:   b.ActualVersion,
		}
	}
	return out
}

// tokenOrGenerate returns the configured token or mints a random one.
func tokenOrGenerate(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// childLogPath returns the stdio log file for detached runs.
func (o *Orchestrator) childLogPath(name string) string {
	if !o.cfg.Detach {
		return ""
	}
	return filepath.Join(o.cfg.DataDir, "logs", name+".log")
}

// childEnv builds a child's environment: the parent's, plus run
// correlation, plus any extras.
func (o *Orchestrator) childEnv(extra ...string) []string {
	env := append(os.Environ(), "OPENWORK_RUN_ID="+o.log.RunID())
	return append(env, extra...)
}

// appServerArgs builds the app server's command line.
func (o *Orchestrator) appServerArgs(wsPath string, port int, token, hostToken string, engineHost string, enginePort int) []string {
	args := []string{
		"--workspace", wsPath,
		"--host", o.cfg.AppServer.Host,
		"--port", fmt.Sprintf("%d", port),
		"--token", token,
		"--approval-mode", string(o.cfg.ApprovalMode),
		"--approval-timeout", fmt.Sprintf("%d", int(o.cfg.ApprovalTimeout.Seconds())),
		"--opencode-host", engineHost,
		"--opencode-port", fmt.Sprintf("%d", enginePort),
	}
	if hostToken != "" {
		args = append(args, "--host-token", hostToken)
	}
	if o.cfg.ReadOnly {
		args = append(args, "--read-only")
	}
	for _, origin := range o.cfg.CORS {
		args = append(args, "--cors", origin)
	}
	return args
}

// lanURL computes the advertised URL for device pairing.
func (o *Orchestrator) lanURL(port int) string {
	return netutil.LANURL(o.cfg.ConnectHost, port)
}
