// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/openwork/openwork/internal/config"
)

// fakeSystem builds detector seams for a system with the given working CLIs.
func fakeSystem(working map[string]bool) (LookPathFunc, RunProbeFunc) {
	lookPath := func(name string) (string, error) {
		if _, known := working[name]; known {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}
	runProbe := func(_ context.Context, path string, _ ...string) error {
		for name, ok := range working {
			if path == "/usr/bin/"+name {
				if ok {
					return nil
				}
				return fmt.Errorf("%s daemon not running", name)
			}
		}
		return errors.New("unknown binary")
	}
	return lookPath, runProbe
}

func TestDetectDockerExplicit(t *testing.T) {
	t.Parallel()

	look, probe := fakeSystem(map[string]bool{"docker": true})
	d := NewDetector(WithLookPath(look), WithRunProbe(probe), WithPlatform("linux", "amd64"))

	rt, err := d.Detect(context.Background(), config.SandboxDocker)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.Name != RuntimeDocker {
		t.Errorf("runtime: %+v", rt)
	}
}

func TestDetectDockerInstalledButDead(t *testing.T) {
	t.Parallel()

	look, probe := fakeSystem(map[string]bool{"docker": false})
	d := NewDetector(WithLookPath(look), WithRunProbe(probe), WithPlatform("linux", "amd64"))

	_, err := d.Detect(context.Background(), config.SandboxDocker)
	if !errors.Is(err, ErrRuntimeUnavailable) {
		t.Fatalf("expected ErrRuntimeUnavailable, got %v", err)
	}
}

func TestDetectAppleContainerOnlyOnAppleSilicon(t *testing.T) {
	t.Parallel()

	look, probe := fakeSystem(map[string]bool{"container": true})

	onMac := NewDetector(WithLookPath(look), WithRunProbe(probe), WithPlatform("darwin", "arm64"))
	rt, err := onMac.Detect(context.Background(), config.SandboxContainer)
	if err != nil || rt.Name != RuntimeContainer {
		t.Fatalf("darwin/arm64: got %v, %v", rt, err)
	}

	onLinux := NewDetector(WithLookPath(look), WithRunProbe(probe), WithPlatform("linux", "arm64"))
	if _, err := onLinux.Detect(context.Background(), config.SandboxContainer); !errors.Is(err, ErrRuntimeUnavailable) {
		t.Fatalf("container CLI must be rejected off Apple silicon, got %v", err)
	}
}

func TestDetectAutoPriority(t *testing.T) {
	t.Parallel()

	// Both available on Apple silicon: the container CLI wins.
	look, probe := fakeSystem(map[string]bool{"container": true, "docker": true})
	d := NewDetector(WithLookPath(look), WithRunProbe(probe), WithPlatform("darwin", "arm64"))
	rt, err := d.Detect(context.Background(), config.SandboxAuto)
	if err != nil || rt.Name != RuntimeContainer {
		t.Fatalf("auto on darwin/arm64: got %v, %v", rt, err)
	}

	// Same binaries on Linux: docker wins because the container CLI is
	// ignored off Apple silicon.
	d = NewDetector(WithLookPath(look), WithRunProbe(probe), WithPlatform("linux", "amd64"))
	rt, err = d.Detect(context.Background(), config.SandboxAuto)
	if err != nil || rt.Name != RuntimeDocker {
		t.Fatalf("auto on linux: got %v, %v", rt, err)
	}
}

func TestDetectAutoFallsBackToNone(t *testing.T) {
	t.Parallel()

	look, probe := fakeSystem(nil)
	d := NewDetector(WithLookPath(look), WithRunProbe(probe), WithPlatform("linux", "amd64"))

	rt, err := d.Detect(context.Background(), config.SandboxAuto)
	if err != nil || rt != nil {
		t.Fatalf("auto with nothing available must yield (nil, nil), got %v, %v", rt, err)
	}
}

func TestDetectNone(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	rt, err := d.Detect(context.Background(), config.SandboxNone)
	if err != nil || rt != nil {
		t.Fatalf("none: got %v, %v", rt, err)
	}
}
