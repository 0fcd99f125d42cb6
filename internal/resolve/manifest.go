// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const (
	// localManifestName is the version manifest shipped next to the
	// orchestrator executable, recording the expected version and digest of
	// each bundled sidecar.
	localManifestName = "sidecar-versions.json"

	// manifestFetchTimeout bounds the remote manifest request.
	manifestFetchTimeout = 10 * time.Second

	// maxManifestBytes caps the remote manifest response (1 MB).
	maxManifestBytes = 1 << 20
)

type (
	// LocalEntry is one binary's record in the local version manifest.
	LocalEntry struct {
		Version string `json:"version"`
		SHA256  string `json:"sha256"`
	}

	// LocalManifest maps binary name to its expected version and digest.
	LocalManifest map[string]LocalEntry

	// RemoteTarget describes one downloadable build of a binary. Exactly one
	// of URL (absolute) or Asset (joined to the manifest base URL) locates
	// the file.
	RemoteTarget struct {
		Asset  string `json:"asset,omitempty"`
		URL    string `json:"url,omitempty"`
		SHA256 string `json:"sha256,omitempty"`
		Size   int64  `json:"size,omitempty"`
	}

	// RemoteEntry is one binary's record in the remote sidecar manifest.
	RemoteEntry struct {
		Version string                  `json:"version"`
		Targets map[string]RemoteTarget `json:"targets"`
	}

	// RemoteManifest is the remote sidecar manifest document.
	RemoteManifest struct {
		Version     string                 `json:"version"`
		GeneratedAt string                 `json:"generatedAt,omitempty"`
		Entries     map[string]RemoteEntry `json:"entries"`
	}
)

// LoadLocalManifest reads the version manifest next to the orchestrator
// executable. A missing manifest returns an empty map: bundled resolution
// then proceeds without version/hash expectations.
func LoadLocalManifest(execDir string) (LocalManifest, error) {
	data, err := os.ReadFile(filepath.Join(execDir, localManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return LocalManifest{}, nil
		}
		return nil, fmt.Errorf("reading local manifest: %w", err)
	}
	var m LocalManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing local manifest: %w", err)
	}
	return m, nil
}

// FetchRemoteManifest downloads and parses the sidecar manifest.
func FetchRemoteManifest(ctx context.Context, client *http.Client, manifestURL string) (*RemoteManifest, error) {
	ctx, cancel := context.WithTimeout(ctx, manifestFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: building manifest request: %v", ErrDownloadFailed, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching manifest: %v", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: manifest fetch status %d", ErrDownloadFailed, resp.StatusCode)
	}

	var m RemoteManifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestBytes)).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: parsing manifest: %v", ErrDownloadFailed, err)
	}
	return &m, nil
}

// Target resolves the manifest entry for a binary and triple.
func (m *RemoteManifest) Target(name string, triple Triple) (RemoteEntry, RemoteTarget, error) {
	entry, ok := m.Entries[name]
	if !ok {
		return RemoteEntry{}, RemoteTarget{}, fmt.Errorf("%w: %s", ErrNoManifestEntry, name)
	}
	target, ok := entry.Targets[triple.String()]
	if !ok {
		return RemoteEntry{}, RemoteTarget{}, fmt.Errorf("%w: %s for %s", ErrNoManifestEntry, name, triple)
	}
	return entry, target, nil
}

// AssetURL returns the absolute download URL for a target: the explicit URL
// when present, otherwise the asset name joined to the manifest base URL.
func (t RemoteTarget) AssetURL(baseURL string) (string, error) {
	if t.URL != "" {
		return t.URL, nil
	}
	if t.Asset == "" {
		return "", fmt.Errorf("%w: target has neither url nor asset", ErrNoManifestEntry)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	ref, err := url.Parse(t.Asset)
	if err != nil {
		return "", fmt.Errorf("parsing asset name: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// AssetName returns the filename the asset is cached under.
func (t RemoteTarget) AssetName() string {
	if t.Asset != "" {
		return filepath.Base(t.Asset)
	}
	u, err := url.Parse(t.URL)
	if err != nil || u.Path == "" {
		return "asset"
	}
	return filepath.Base(u.Path)
}
