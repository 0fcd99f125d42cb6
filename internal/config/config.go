// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Sidecar source preference constants.
const (
	// SourceAuto prefers bundled, then downloaded, then external (when allowed).
	SourceAuto SidecarSource = "auto"
	// SourceBundled only accepts a binary shipped next to the orchestrator.
	SourceBundled SidecarSource = "bundled"
	// SourceDownloaded only accepts a binary fetched from the sidecar manifest.
	SourceDownloaded SidecarSource = "downloaded"
	// SourceExternal only accepts a user-supplied binary.
	SourceExternal SidecarSource = "external"
)

// Sandbox mode constants.
const (
	// SandboxNone runs the sidecars directly on the host.
	SandboxNone SandboxMode = "none"
	// SandboxAuto probes available container runtimes and falls back to none.
	SandboxAuto SandboxMode = "auto"
	// SandboxDocker runs the sidecar pair inside a Docker container.
	SandboxDocker SandboxMode = "docker"
	// SandboxContainer runs the pair via the Apple "container" CLI.
	SandboxContainer SandboxMode = "container"
)

// Log format constants.
const (
	// LogPretty emits human-readable "[component] LEVEL message" lines.
	LogPretty LogFormat = "pretty"
	// LogJSON emits OpenTelemetry-shaped JSON log records.
	LogJSON LogFormat = "json"
)

// Color mode constants.
const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// Approval mode constants, forwarded verbatim to the app server.
const (
	ApprovalAsk  ApprovalMode = "ask"
	ApprovalAuto ApprovalMode = "auto"
	ApprovalDeny ApprovalMode = "deny"
)

var (
	// ErrInvalidSidecarSource is the sentinel error wrapped by InvalidEnumError
	// for sidecar source preferences.
	ErrInvalidSidecarSource = errors.New("invalid sidecar source")

	// ErrInvalidSandboxMode is the sentinel error for sandbox modes.
	ErrInvalidSandboxMode = errors.New("invalid sandbox mode")

	// ErrInvalidLogFormat is the sentinel error for log formats.
	ErrInvalidLogFormat = errors.New("invalid log format")

	// ErrInvalidColorMode is the sentinel error for color modes.
	ErrInvalidColorMode = errors.New("invalid color mode")

	// ErrInvalidApprovalMode is the sentinel error for approval modes.
	ErrInvalidApprovalMode = errors.New("invalid approval mode")

	// ErrInvalidBaseURL is returned when a remote workspace base URL does not
	// use the http or https scheme.
	ErrInvalidBaseURL = errors.New("invalid base URL")
)

type (
	// SidecarSource selects where sidecar binaries may come from.
	SidecarSource string

	// SandboxMode selects the container sandbox runtime, if any.
	SandboxMode string

	// LogFormat selects the log output encoding.
	LogFormat string

	// ColorMode controls ANSI color in pretty log output.
	ColorMode string

	// ApprovalMode is the app server's approval policy. The orchestrator
	// validates the enum and forwards it; the policy itself lives in the
	// app server.
	ApprovalMode string

	// InvalidEnumError reports a configuration value outside its enum.
	// It wraps the per-enum sentinel so callers can classify with errors.Is.
	InvalidEnumError struct {
		Flag     string
		Value    string
		Valid    []string
		Sentinel error
	}

	// Engine holds the engine sidecar coordinates and overrides.
	Engine struct {
		// Bin is an explicit binary override (requires AllowExternal).
		Bin string
		// Host is the bind host for the engine's HTTP listener.
		Host string
		// Port is the preferred engine port; 0 means OS-assigned.
		Port int
		// Workdir overrides the engine's working directory.
		Workdir string
		// Auth is optional "user:password" basic-auth material passed to the
		// engine through its environment, never via argv.
		Auth string
	}

	// AppServer holds the app-server sidecar coordinates and tokens.
	AppServer struct {
		Host string
		// Port is the preferred app-server port; 0 means OS-assigned.
		Port int
		// Token authenticates local clients against the app server.
		Token string
		// HostToken authenticates LAN clients connecting via ConnectHost.
		HostToken string
	}

	// Sidecars configures binary resolution for both sidecars.
	Sidecars struct {
		Source SidecarSource
		// BaseURL is the root the remote manifest's relative assets join to.
		BaseURL string
		// ManifestURL overrides the remote sidecar manifest location.
		ManifestURL string
		// AllowExternal permits explicit binary overrides and PATH fallback.
		AllowExternal bool
		// CacheDir overrides the sidecar download cache directory.
		CacheDir string
	}

	// Sandbox configures the container sandbox.
	Sandbox struct {
		Mode SandboxMode
		// Image is the container image for the sidecar pair.
		Image string
		// PersistDir overrides the per-workspace persist directory.
		PersistDir string
		// Mounts are extra "host:containerSub[:ro|rw]" bind requests. Every
		// entry must pass the allowlist policy before it reaches the runtime.
		Mounts []string
		// AllowlistPath overrides the mount allowlist file location.
		AllowlistPath string
	}

	// Config is the fully resolved orchestrator configuration. Flag values,
	// environment variables, and defaults are already merged by the time a
	// Config exists; components never consult the environment themselves.
	Config struct {
		Workspace string
		DataDir   string

		DaemonHost string
		DaemonPort int

		Engine    Engine
		AppServer AppServer
		Sidecars  Sidecars
		Sandbox   Sandbox

		ApprovalMode    ApprovalMode
		ApprovalTimeout time.Duration
		ReadOnly        bool

		// CORS lists origins forwarded to both sidecars; empty disables CORS.
		CORS []string
		// ConnectHost is the LAN hostname/IP advertised for device pairing.
		ConnectHost string

		JSON      bool
		Verbose   bool
		LogFormat LogFormat
		Color     ColorMode
		// RunID correlates logs across the orchestrator and its children.
		// Empty means "mint a fresh UUID at startup".
		RunID string
		// Detach releases child ownership after the run becomes healthy.
		Detach bool
	}
)

// Error formats the enum violation with the accepted values.
func (e *InvalidEnumError) Error() string {
	return fmt.Sprintf("invalid value %q for %s (valid: %v)", e.Value, e.Flag, e.Valid)
}

// Unwrap returns the per-enum sentinel for errors.Is classification.
func (e *InvalidEnumError) Unwrap() error { return e.Sentinel }

// Validate returns nil if the source preference is one of the defined values.
func (s SidecarSource) Validate() error {
	switch s {
	case SourceAuto, SourceBundled, SourceDownloaded, SourceExternal:
		return nil
	default:
		return &InvalidEnumError{
			Flag:     "sidecar source",
			Value:    string(s),
			Valid:    []string{"auto", "bundled", "downloaded", "external"},
			Sentinel: ErrInvalidSidecarSource,
		}
	}
}

// Validate returns nil if the sandbox mode is one of the defined values.
func (m SandboxMode) Validate() error {
	switch m {
	case SandboxNone, SandboxAuto, SandboxDocker, SandboxContainer:
		return nil
	default:
		return &InvalidEnumError{
			Flag:     "sandbox mode",
			Value:    string(m),
			Valid:    []string{"none", "auto", "docker", "container"},
			Sentinel: ErrInvalidSandboxMode,
		}
	}
}

// Validate returns nil if the log format is one of the defined values.
func (f LogFormat) Validate() error {
	switch f {
	case LogPretty, LogJSON:
		return nil
	default:
		return &InvalidEnumError{
			Flag:     "log format",
			Value:    string(f),
			Valid:    []string{"pretty", "json"},
			Sentinel: ErrInvalidLogFormat,
		}
	}
}

// Validate returns nil if the color mode is one of the defined values.
func (c ColorMode) Validate() error {
	switch c {
	case ColorAuto, ColorAlways, ColorNever:
		return nil
	default:
		return &InvalidEnumError{
			Flag:     "color mode",
			Value:    string(c),
			Valid:    []string{"auto", "always", "never"},
			Sentinel: ErrInvalidColorMode,
		}
	}
}

// Validate returns nil if the approval mode is one of the defined values.
func (m ApprovalMode) Validate() error {
	switch m {
	case ApprovalAsk, ApprovalAuto, ApprovalDeny:
		return nil
	default:
		return &InvalidEnumError{
			Flag:     "approval mode",
			Value:    string(m),
			Valid:    []string{"ask", "auto", "deny"},
			Sentinel: ErrInvalidApprovalMode,
		}
	}
}

// Default returns the configuration used when no flag or environment
// variable overrides a value.
func Default() *Config {
	return &Config{
		DaemonHost: "127.0.0.1",
		DaemonPort: 7870,
		Engine: Engine{
			Host: "127.0.0.1",
		},
		AppServer: AppServer{
			Host: "127.0.0.1",
		},
		Sidecars: Sidecars{
			Source: SourceAuto,
		},
		Sandbox: Sandbox{
			Mode: SandboxNone,
		},
		ApprovalMode:    ApprovalAsk,
		ApprovalTimeout: 120 * time.Second,
		LogFormat:       LogPretty,
		Color:           ColorAuto,
	}
}

// Validate checks every enum field and the derived invariants that do not
// require filesystem access.
func (c *Config) Validate() error {
	for _, err := range []error{
		c.Sidecars.Source.Validate(),
		c.Sandbox.Mode.Validate(),
		c.LogFormat.Validate(),
		c.Color.Validate(),
		c.ApprovalMode.Validate(),
	} {
		if err != nil {
			return err
		}
	}
	if c.Engine.Bin != "" && !c.Sidecars.AllowExternal {
		return fmt.Errorf("--opencode-bin requires --allow-external")
	}
	return nil
}

// ValidateBaseURL checks that a remote workspace base URL parses and uses an
// http or https scheme.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q (want http or https)", ErrInvalidBaseURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrInvalidBaseURL, raw)
	}
	return nil
}
