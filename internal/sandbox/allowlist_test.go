// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeAllowlist(t *testing.T, al Allowlist) string {
	t.Helper()
	data, err := json.Marshal(al)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "sandbox-mount-allowlist.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseMount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    MountSpec
		wantErr bool
	}{
		{"two parts defaults ro", "/data/sets:research", MountSpec{HostPath: "/data/sets", ContainerSubPath: "research"}, false},
		{"explicit rw", "/data/sets:research:rw", MountSpec{HostPath: "/data/sets", ContainerSubPath: "research", ReadWrite: true}, false},
		{"explicit ro", "/data/sets:research:ro", MountSpec{HostPath: "/data/sets", ContainerSubPath: "research"}, false},
		{"bad mode", "/data:x:rwx", MountSpec{}, true},
		{"too few parts", "/data", MountSpec{}, true},
		{"empty host", ":x", MountSpec{}, true},
		{"absolute container path", "/data:/abs", MountSpec{}, true},
		{"dotdot container path", "/data:../escape", MountSpec{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseMount(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMountInvalid) {
					t.Fatalf("expected ErrMountInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidateMountsNoRequests(t *testing.T) {
	t.Parallel()

	// No extra mounts: a missing allowlist is irrelevant and the sandbox
	// still starts.
	specs, err := ValidateMounts(nil, nil, "/nonexistent/allowlist.json")
	if err != nil || specs != nil {
		t.Fatalf("got %v, %v", specs, err)
	}
}

func TestValidateMountsMissingAllowlist(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	_, err := ValidateMounts([]string{host + ":data"}, nil, "/home/u/.config/openwork/sandbox-mount-allowlist.json")
	if !errors.Is(err, ErrAllowlistMissing) {
		t.Fatalf("expected ErrAllowlistMissing, got %v", err)
	}

	var pe *PolicyError
	if !errors.As(err, &pe) {
		t.Fatalf("not a PolicyError: %T", err)
	}
	msg := pe.Error()
	if !strings.Contains(msg, "allowlist") {
		t.Errorf("message must mention allowlist: %s", msg)
	}
	if !strings.Contains(msg, "allowedRoots") {
		t.Errorf("message must include a pastable template: %s", msg)
	}
}

func TestValidateMountsBlockedPattern(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}

	al := &Allowlist{AllowedRoots: []AllowedRoot{{Path: home, AllowReadWrite: true}}}

	_, err := ValidateMounts([]string{sshDir + ":creds"}, al, "unused")
	if !errors.Is(err, ErrMountBlocked) {
		t.Fatalf("expected ErrMountBlocked, got %v", err)
	}
	if !strings.Contains(err.Error(), ".ssh") {
		t.Errorf("error must name the blocked pattern: %v", err)
	}
}

func TestValidateMountsUserPatternsMergeIn(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	secret := filepath.Join(home, "vault-cache")
	if err := os.MkdirAll(secret, 0o755); err != nil {
		t.Fatal(err)
	}

	al := &Allowlist{
		AllowedRoots:    []AllowedRoot{{Path: home}},
		BlockedPatterns: []string{"vault-*"},
	}

	_, err := ValidateMounts([]string{secret + ":vault"}, al, "unused")
	if !errors.Is(err, ErrMountBlocked) {
		t.Fatalf("user pattern not applied: %v", err)
	}
}

func TestValidateMountsOutsideRoots(t *testing.T) {
	t.Parallel()

	allowed := t.TempDir()
	outside := t.TempDir()

	al := &Allowlist{AllowedRoots: []AllowedRoot{{Path: allowed}}}

	_, err := ValidateMounts([]string{outside + ":data"}, al, "unused")
	if !errors.Is(err, ErrMountOutsideRoots) {
		t.Fatalf("expected ErrMountOutsideRoots, got %v", err)
	}
}

func TestValidateMountsReadWriteDowngrade(t *testing.T) {
	t.Parallel()

	roRoot := t.TempDir()
	rwRoot := t.TempDir()
	roData := filepath.Join(roRoot, "data")
	rwData := filepath.Join(rwRoot, "data")
	for _, dir := range []string{roData, rwData} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	al := &Allowlist{AllowedRoots: []AllowedRoot{
		{Path: roRoot},
		{Path: rwRoot, AllowReadWrite: true},
	}}

	specs, err := ValidateMounts([]string{
		roData + ":ro-data:rw",
		rwData + ":rw-data:rw",
	}, al, "unused")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if specs[0].ReadWrite {
		t.Error("rw request under read-only root must downgrade to ro")
	}
	if !specs[1].ReadWrite {
		t.Error("rw request under rw root must stay rw")
	}
}

func TestValidateMountsNonexistentHostPath(t *testing.T) {
	t.Parallel()

	al := &Allowlist{AllowedRoots: []AllowedRoot{{Path: "/"}}}
	_, err := ValidateMounts([]string{"/no/such/dir/anywhere:data"}, al, "unused")
	if !errors.Is(err, ErrMountInvalid) {
		t.Fatalf("expected ErrMountInvalid for missing path, got %v", err)
	}
}

func TestValidateMountsRelativeHostPath(t *testing.T) {
	t.Parallel()

	al := &Allowlist{AllowedRoots: []AllowedRoot{{Path: "/"}}}
	_, err := ValidateMounts([]string{"relative/path:data"}, al, "unused")
	if !errors.Is(err, ErrMountInvalid) {
		t.Fatalf("expected ErrMountInvalid for relative path, got %v", err)
	}
}

func TestLoadAllowlist(t *testing.T) {
	t.Parallel()

	path := writeAllowlist(t, Allowlist{
		AllowedRoots:    []AllowedRoot{{Path: "/data", AllowReadWrite: true, Description: "datasets"}},
		BlockedPatterns: []string{"*.sqlite"},
	})

	al, err := LoadAllowlist(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(al.AllowedRoots) != 1 || al.AllowedRoots[0].Path != "/data" {
		t.Errorf("roots: %+v", al.AllowedRoots)
	}

	missing, err := LoadAllowlist(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil || missing != nil {
		t.Errorf("missing file: got %v, %v", missing, err)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAllowlist(bad); err == nil {
		t.Error("corrupt allowlist must error, not be ignored")
	}
}

func TestSymlinkResolvedBeforePolicy(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(home, "innocent")
	if err := os.Symlink(sshDir, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	al := &Allowlist{AllowedRoots: []AllowedRoot{{Path: home}}}

	// The symlink's target is what the policy sees.
	_, err := ValidateMounts([]string{link + ":creds"}, al, "unused")
	if !errors.Is(err, ErrMountBlocked) {
		t.Fatalf("symlinked .ssh must still be blocked, got %v", err)
	}
}
