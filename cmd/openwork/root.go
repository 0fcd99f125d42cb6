// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/openwork/openwork/internal/config"
	"github.com/openwork/openwork/internal/logging"
)

// Build-time variables set via ldflags.
var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "openwork",
	Short: "Local orchestrator for the opencode engine and app server",
	Long: `openwork supervises the opencode engine and the openwork app server:
it resolves version-matched sidecar binaries, starts the pair with health
gating (optionally inside a container sandbox), and runs a router daemon
that multiplexes several workspaces over a single engine instance.`,
	SilenceUsage: true,
}

// getVersionString returns the CLI version for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// Execute runs the root command. Child crash codes propagate through
// *ExitError; every other failure exits 1.
func Execute() {
	err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

func init() {
	registerGlobalFlags(rootCmd.PersistentFlags())
}

// registerGlobalFlags declares the global flag surface. Split out so tests
// can build an isolated flag set instead of mutating the root command's.
func registerGlobalFlags(pf *pflag.FlagSet) {
	pf.StringP("workspace", "w", "", "workspace directory (defaults to the current directory)")
	pf.String("data-dir", "", "data directory for state, caches, and engine config")

	pf.String("daemon-host", "", "router daemon bind host")
	pf.Int("daemon-port", 0, "router daemon preferred port")

	pf.String("opencode-bin", "", "explicit engine binary (requires --allow-external)")
	pf.String("opencode-host", "", "engine bind host")
	pf.Int("opencode-port", 0, "engine preferred port (0 = OS-assigned)")
	pf.String("opencode-workdir", "", "engine working directory override")
	pf.String("opencode-auth", "", "engine basic-auth credentials (user:password)")

	pf.String("openwork-host", "", "app server bind host")
	pf.Int("openwork-port", 0, "app server preferred port (0 = OS-assigned)")
	pf.String("openwork-token", "", "app server client token (generated when empty)")
	pf.String("openwork-host-token", "", "app server LAN client token")

	pf.String("approval-mode", "", "approval policy forwarded to the app server (ask|auto|deny)")
	pf.Int("approval-timeout", 0, "approval timeout in seconds")
	pf.Bool("read-only", false, "run the app server read-only")
	pf.StringSlice("cors", nil, "allowed CORS origins for the sidecars")
	pf.String("connect-host", "", "LAN host advertised for device pairing")

	pf.String("sidecar-source", "", "sidecar binary source (auto|bundled|downloaded|external)")
	pf.String("sidecar-base-url", "", "base URL for relative sidecar manifest assets")
	pf.String("sidecar-manifest", "", "remote sidecar manifest URL")
	pf.String("sidecar-cache-dir", "", "sidecar download cache directory")
	pf.Bool("allow-external", false, "permit external sidecar binaries")

	pf.String("sandbox", "", "sandbox mode (none|auto|docker|container)")
	pf.String("sandbox-image", "", "sandbox container image")
	pf.String("sandbox-persist-dir", "", "sandbox persist directory")
	pf.StringArray("sandbox-mount", nil, "extra sandbox mount (host:containerSub[:ro|rw])")
	pf.String("sandbox-mount-allowlist", "", "sandbox mount allowlist file")

	pf.Bool("json", false, "machine-readable output")
	pf.BoolP("verbose", "v", false, "verbose logging")
	pf.String("log-format", "", "log format (pretty|json)")
	pf.String("color", "", "color mode (auto|always|never)")
	pf.String("run-id", "", "run correlation id (generated when empty)")
}

// buildConfig merges flags, the dual-prefix environment, the optional
// config file, and defaults — in that precedence order.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	env := config.NewEnvReader()
	flags := cmd.Flags()

	stringSetting := func(dst *string, flag, envKey string) {
		if flags.Changed(flag) {
			*dst, _ = flags.GetString(flag)
			return
		}
		if envKey == "" {
			return
		}
		if v, ok := env.Get(envKey); ok {
			*dst = v
		}
	}
	intSetting := func(dst *int, flag, envKey string) {
		if flags.Changed(flag) {
			*dst, _ = flags.GetInt(flag)
			return
		}
		if envKey != "" {
			*dst = env.GetInt(envKey, *dst)
		}
	}
	boolSetting := func(dst *bool, flag, envKey string) {
		if flags.Changed(flag) {
			*dst, _ = flags.GetBool(flag)
			return
		}
		if envKey != "" {
			*dst = env.GetBool(envKey, *dst)
		}
	}

	stringSetting(&cfg.Workspace, "workspace", config.EnvWorkspace)
	stringSetting(&cfg.DataDir, "data-dir", config.EnvDataDir)
	stringSetting(&cfg.DaemonHost, "daemon-host", config.EnvDaemonHost)
	intSetting(&cfg.DaemonPort, "daemon-port", config.EnvDaemonPort)

	stringSetting(&cfg.Engine.Bin, "opencode-bin", "")
	stringSetting(&cfg.Engine.Host, "opencode-host", "")
	intSetting(&cfg.Engine.Port, "opencode-port", config.EnvEnginePort)
	stringSetting(&cfg.Engine.Workdir, "opencode-workdir", "")
	stringSetting(&cfg.Engine.Auth, "opencode-auth", config.EnvEngineAuth)

	stringSetting(&cfg.AppServer.Host, "openwork-host", "")
	intSetting(&cfg.AppServer.Port, "openwork-port", config.EnvAppServerPort)
	stringSetting(&cfg.AppServer.Token, "openwork-token", config.EnvAppServerToken)
	stringSetting(&cfg.AppServer.HostToken, "openwork-host-token", config.EnvHostToken)

	var approvalMode string
	stringSetting(&approvalMode, "approval-mode", config.EnvApprovalMode)
	if approvalMode != "" {
		cfg.ApprovalMode = config.ApprovalMode(approvalMode)
	}
	var approvalTimeout int
	intSetting(&approvalTimeout, "approval-timeout", config.EnvApprovalTimeout)
	if approvalTimeout > 0 {
		cfg.ApprovalTimeout = time.Duration(approvalTimeout) * time.Second
	}
	boolSetting(&cfg.ReadOnly, "read-only", "")

	if flags.Changed("cors") {
		cfg.CORS, _ = flags.GetStringSlice("cors")
	} else if v, ok := env.Get(config.EnvCORS); ok {
		cfg.CORS = splitCommaList(v)
	}
	stringSetting(&cfg.ConnectHost, "connect-host", "")

	var source string
	stringSetting(&source, "sidecar-source", config.EnvSidecarSource)
	if source != "" {
		cfg.Sidecars.Source = config.SidecarSource(source)
	}
	stringSetting(&cfg.Sidecars.BaseURL, "sidecar-base-url", config.EnvSidecarBaseURL)
	stringSetting(&cfg.Sidecars.ManifestURL, "sidecar-manifest", config.EnvSidecarManifest)
	stringSetting(&cfg.Sidecars.CacheDir, "sidecar-cache-dir", config.EnvSidecarCache)
	boolSetting(&cfg.Sidecars.AllowExternal, "allow-external", config.EnvAllowExternal)

	var sandboxMode string
	stringSetting(&sandboxMode, "sandbox", config.EnvSandboxMode)
	if sandboxMode != "" {
		cfg.Sandbox.Mode = config.SandboxMode(sandboxMode)
	}
	stringSetting(&cfg.Sandbox.Image, "sandbox-image", config.EnvSandboxImage)
	stringSetting(&cfg.Sandbox.PersistDir, "sandbox-persist-dir", config.EnvSandboxPersist)
	if flags.Changed("sandbox-mount") {
		cfg.Sandbox.Mounts, _ = flags.GetStringArray("sandbox-mount")
	}
	stringSetting(&cfg.Sandbox.AllowlistPath, "sandbox-mount-allowlist", config.EnvSandboxAllowlist)

	boolSetting(&cfg.JSON, "json", "")
	boolSetting(&cfg.Verbose, "verbose", config.EnvVerbose)

	var logFormat string
	stringSetting(&logFormat, "log-format", config.EnvLogFormat)
	if logFormat != "" {
		cfg.LogFormat = config.LogFormat(logFormat)
	}
	var color string
	stringSetting(&color, "color", config.EnvColor)
	if color != "" {
		cfg.Color = config.ColorMode(color)
	}
	stringSetting(&cfg.RunID, "run-id", config.EnvRunID)

	if cfg.DataDir == "" {
		dir, err := config.DefaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = dir
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	// File settings fill whatever flags and env left at defaults.
	if cfgDir, err := config.ConfigDir(); err == nil {
		fs, err := config.LoadFile(cfgDir)
		if err != nil {
			return nil, err
		}
		cfg.ApplyFile(fs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the run logger from the merged configuration.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Options{
		Format:  cfg.LogFormat,
		Color:   cfg.Color,
		Verbose: cfg.Verbose,
		RunID:   cfg.RunID,
	})
}

// splitCommaList splits a comma-separated env value into trimmed items.
func splitCommaList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
