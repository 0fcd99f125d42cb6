// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLocalManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	doc := `{"opencode":{"version":"1.2.3","sha256":"abcd"},"openwork-server":{"version":"0.4.0","sha256":""}}`
	if err := os.WriteFile(filepath.Join(dir, localManifestName), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadLocalManifest(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m[EngineBinary].Version != "1.2.3" {
		t.Errorf("engine version: %q", m[EngineBinary].Version)
	}
	if m[AppServerBinary].Version != "0.4.0" {
		t.Errorf("app server version: %q", m[AppServerBinary].Version)
	}
}

func TestLoadLocalManifestMissingIsEmpty(t *testing.T) {
	t.Parallel()

	m, err := LoadLocalManifest(t.TempDir())
	if err != nil {
		t.Fatalf("missing manifest must not error: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("expected empty manifest, got %v", m)
	}
}

func TestFetchRemoteManifest(t *testing.T) {
	t.Parallel()

	manifest := RemoteManifest{
		Version: "2024.10",
		Entries: map[string]RemoteEntry{
			EngineBinary: {
				Version: "1.2.3",
				Targets: map[string]RemoteTarget{
					"linux-amd64":  {Asset: "opencode-linux-amd64", SHA256: "deadbeef"},
					"darwin-arm64": {URL: "https://cdn.example.com/opencode-darwin-arm64"},
				},
			},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(manifest)
	}))
	defer srv.Close()

	got, err := FetchRemoteManifest(context.Background(), srv.Client(), srv.URL+"/manifest.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, target, err := got.Target(EngineBinary, Triple{Platform: "linux", Arch: "amd64"})
	if err != nil {
		t.Fatalf("Target: %v", err)
	}
	if entry.Version != "1.2.3" || target.SHA256 != "deadbeef" {
		t.Errorf("unexpected target: %+v %+v", entry, target)
	}

	if _, _, err := got.Target(EngineBinary, Triple{Platform: "windows", Arch: "amd64"}); !errors.Is(err, ErrNoManifestEntry) {
		t.Errorf("missing triple should be ErrNoManifestEntry, got %v", err)
	}
	if _, _, err := got.Target("nope", Triple{Platform: "linux", Arch: "amd64"}); !errors.Is(err, ErrNoManifestEntry) {
		t.Errorf("missing binary should be ErrNoManifestEntry, got %v", err)
	}
}

func TestFetchRemoteManifestErrorStatuses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := FetchRemoteManifest(context.Background(), srv.Client(), srv.URL)
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
}

func TestAssetURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		target  RemoteTarget
		base    string
		want    string
		wantErr bool
	}{
		{"absolute url wins", RemoteTarget{URL: "https://cdn.example.com/a", Asset: "a"}, "https://base/", "https://cdn.example.com/a", false},
		{"relative asset joins base", RemoteTarget{Asset: "opencode-linux-amd64"}, "https://base.example.com/sidecars/", "https://base.example.com/sidecars/opencode-linux-amd64", false},
		{"neither", RemoteTarget{}, "https://base/", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.target.AssetURL(tt.base)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
