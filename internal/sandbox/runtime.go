// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/openwork/openwork/internal/config"
)

// Container runtime names.
const (
	// RuntimeDocker is the Docker CLI.
	RuntimeDocker = "docker"
	// RuntimeContainer is the Apple "container" CLI, available on
	// Apple-silicon macOS only.
	RuntimeContainer = "container"
)

// probeTimeout bounds a runtime availability command.
const probeTimeout = 2500 * time.Millisecond

// ErrRuntimeUnavailable indicates no requested container runtime works on
// this machine.
var ErrRuntimeUnavailable = errors.New("container runtime unavailable")

type (
	// Runtime is a working container CLI.
	Runtime struct {
		Name string
		Path string
	}

	// LookPathFunc and RunProbeFunc are seams for tests.
	LookPathFunc func(string) (string, error)

	// RunProbeFunc runs a runtime's availability probe command.
	RunProbeFunc func(ctx context.Context, path string, args ...string) error

	// Detector probes container runtimes.
	Detector struct {
		lookPath LookPathFunc
		runProbe RunProbeFunc
		goos     string
		goarch   string
	}

	// DetectorOption configures a Detector.
	DetectorOption func(*Detector)
)

// WithLookPath overrides binary lookup.
func WithLookPath(fn LookPathFunc) DetectorOption {
	return func(d *Detector) { d.lookPath = fn }
}

// WithRunProbe overrides probe execution.
func WithRunProbe(fn RunProbeFunc) DetectorOption {
	return func(d *Detector) { d.runProbe = fn }
}

// WithPlatform overrides the detected OS/arch, for tests.
func WithPlatform(goos, goarch string) DetectorOption {
	return func(d *Detector) { d.goos, d.goarch = goos, goarch }
}

// NewDetector creates a Detector against the real system.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		lookPath: exec.LookPath,
		runProbe: runProbe,
		goos:     runtime.GOOS,
		goarch:   runtime.GOARCH,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func runProbe(ctx context.Context, path string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return exec.CommandContext(ctx, path, args...).Run()
}

// Detect resolves the sandbox mode to a working runtime. Mode auto probes
// the Apple container CLI first (Apple-silicon macOS only), then Docker, and
// returns (nil, nil) when neither works — the caller falls back to running
// unsandboxed. Explicit modes fail hard when their runtime is unavailable.
func (d *Detector) Detect(ctx context.Context, mode config.SandboxMode) (*Runtime, error) {
	switch mode {
	case config.SandboxNone:
		return nil, nil
	case config.SandboxDocker:
		rt := d.probeDocker(ctx)
		if rt == nil {
			return nil, fmt.Errorf("%w: docker", ErrRuntimeUnavailable)
		}
		return rt, nil
	case config.SandboxContainer:
		rt := d.probeAppleContainer(ctx)
		if rt == nil {
			return nil, fmt.Errorf("%w: the container CLI requires Apple-silicon macOS", ErrRuntimeUnavailable)
		}
		return rt, nil
	default: // auto
		if rt := d.probeAppleContainer(ctx); rt != nil {
			return rt, nil
		}
		if rt := d.probeDocker(ctx); rt != nil {
			return rt, nil
		}
		return nil, nil
	}
}

func (d *Detector) probeDocker(ctx context.Context) *Runtime {
	path, err := d.lookPath("docker")
	if err != nil {
		return nil
	}
	if err := d.runProbe(ctx, path, "version", "--format", "{{.Server.Version}}"); err != nil {
		return nil
	}
	return &Runtime{Name: RuntimeDocker, Path: path}
}

func (d *Detector) probeAppleContainer(ctx context.Context) *Runtime {
	if d.goos != "darwin" || d.goarch != "arm64" {
		return nil
	}
	path, err := d.lookPath("container")
	if err != nil {
		return nil
	}
	if err := d.runProbe(ctx, path, "--version"); err != nil {
		return nil
	}
	return &Runtime{Name: RuntimeContainer, Path: path}
}
