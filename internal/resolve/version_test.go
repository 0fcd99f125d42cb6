// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeScript(t *testing.T, output string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script probes are not portable to windows")
	}
	path := filepath.Join(t.TempDir(), "fake-sidecar")
	script := "#!/bin/sh\necho \"" + output + "\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbeVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"bare version", "1.2.3", "1.2.3"},
		{"v prefix stripped", "v1.2.3", "1.2.3"},
		{"embedded in banner", "opencode version 1.2.3 (build abc)", "1.2.3"},
		{"prerelease", "2.0.0-rc.1", "2.0.0-rc.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bin := writeScript(t, tt.output)
			got, err := ProbeVersion(context.Background(), bin)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProbeVersionNoToken(t *testing.T) {
	t.Parallel()

	bin := writeScript(t, "development build, no version")
	if _, err := ProbeVersion(context.Background(), bin); err == nil {
		t.Fatal("expected error for unparseable output")
	}
}

func TestVersionsEqual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want bool
	}{
		{"1.2.3", "1.2.3", true},
		{"v1.2.3", "1.2.3", true},
		{"1.2.3", "1.2.4", false},
		{"not-semver", "not-semver", true},
		{"not-semver", "other", false},
	}
	for _, tt := range tests {
		if got := versionsEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("versionsEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
