// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"fmt"
	"runtime"
)

type (
	// Triple identifies a binary target as platform plus architecture,
	// matching the remote manifest's target keys (e.g. "darwin-arm64").
	Triple struct {
		Platform string
		Arch     string
	}
)

// String renders the manifest key form.
func (t Triple) String() string {
	return fmt.Sprintf("%s-%s", t.Platform, t.Arch)
}

// HostTriple returns the triple of the running platform.
func HostTriple() Triple {
	return Triple{Platform: runtime.GOOS, Arch: runtime.GOARCH}
}

// TargetTriple returns the triple binaries must be resolved for. Sandboxed
// runs execute the sidecars inside a Linux container regardless of the host
// OS, so the platform is forced to linux while the architecture follows the
// host (the container shares the CPU).
func TargetTriple(sandboxed bool) Triple {
	t := HostTriple()
	if sandboxed {
		t.Platform = "linux"
	}
	return t
}

// HashStable reports whether builds for the platform are byte-reproducible,
// making the local manifest's SHA-256 meaningful. Darwin binaries are
// re-signed at install time, so their digests drift from the build record.
func (t Triple) HashStable() bool {
	return t.Platform != "darwin"
}
