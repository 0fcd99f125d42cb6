// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// versionProbeTimeout bounds the `<bin> --version` probe. Sidecars answer in
// milliseconds; anything slower is a hung or wrong binary.
const versionProbeTimeout = 4 * time.Second

// semverToken matches the first semver-shaped token in version output,
// tolerating a leading "v" and pre-release/build suffixes.
var semverToken = regexp.MustCompile(`v?\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?(?:\+[0-9A-Za-z.-]+)?`)

// ProbeVersion runs `<bin> --version` and extracts the reported semver.
// Returns an error when the probe fails to run, times out, or the output
// carries no version-shaped token.
func ProbeVersion(ctx context.Context, bin string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, bin, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("probing %s --version: %w", bin, err)
	}

	token := semverToken.FindString(string(out))
	if token == "" {
		return "", fmt.Errorf("no version token in %s --version output %q", bin, strings.TrimSpace(string(out)))
	}
	return strings.TrimPrefix(token, "v"), nil
}

// versionsEqual compares two versions after semver normalization, falling
// back to string equality when either side is not valid semver.
func versionsEqual(a, b string) bool {
	na, nb := "v"+strings.TrimPrefix(a, "v"), "v"+strings.TrimPrefix(b, "v")
	if semver.IsValid(na) && semver.IsValid(nb) {
		return semver.Compare(na, nb) == 0
	}
	return a == b
}
