// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	// maxReleaseJSONBytes caps the releases API response (10 MB).
	maxReleaseJSONBytes = 10 << 20

	// maxExtractedBytes caps an extracted engine binary (500 MB), guarding
	// against decompression bombs.
	maxExtractedBytes = 500 << 20
)

// ErrNoReleaseAsset indicates the latest release carries no archive for the
// requested target triple.
var ErrNoReleaseAsset = errors.New("no release asset for target")

type (
	// ReleaseClient queries the engine project's releases API. Only the
	// "latest release" lookup is needed; the manifest covers everything else.
	ReleaseClient struct {
		httpClient *http.Client
		baseURL    string
		owner      string
		repo       string
		userAgent  string
	}

	// ReleaseClientOption configures a ReleaseClient.
	ReleaseClientOption func(*ReleaseClient)

	// Release is the subset of a release record the fallback needs.
	Release struct {
		TagName string         `json:"tag_name"`
		Assets  []ReleaseAsset `json:"assets"`
	}

	// ReleaseAsset is one downloadable archive in a release.
	ReleaseAsset struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
	}
)

// WithReleaseHTTPClient sets a custom HTTP client.
func WithReleaseHTTPClient(c *http.Client) ReleaseClientOption {
	return func(r *ReleaseClient) { r.httpClient = c }
}

// WithReleaseBaseURL overrides the API base URL, primarily for test servers.
func WithReleaseBaseURL(base string) ReleaseClientOption {
	return func(r *ReleaseClient) { r.baseURL = strings.TrimRight(base, "/") }
}

// WithReleaseRepo overrides the repository coordinates.
func WithReleaseRepo(owner, repo string) ReleaseClientOption {
	return func(r *ReleaseClient) { r.owner, r.repo = owner, repo }
}

// NewReleaseClient creates a client against the engine's public releases.
func NewReleaseClient(opts ...ReleaseClientOption) *ReleaseClient {
	c := &ReleaseClient{
		httpClient: http.DefaultClient,
		baseURL:    "https://api.github.com",
		owner:      "sst",
		repo:       "opencode",
		userAgent:  "openwork",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LatestRelease fetches the latest published release.
func (c *ReleaseClient) LatestRelease(ctx context.Context) (*Release, error) {
	reqURL := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, c.owner, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: building release request: %v", ErrDownloadFailed, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching latest release: %v", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: release lookup status %d", ErrDownloadFailed, resp.StatusCode)
	}

	var rel Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReleaseJSONBytes)).Decode(&rel); err != nil {
		return nil, fmt.Errorf("%w: decoding release: %v", ErrDownloadFailed, err)
	}
	return &rel, nil
}

// resolveEngineFromReleases is the engine's last-resort path: neither the
// bundled binary nor the remote manifest produced a match, so the latest
// published engine release is downloaded and the executable extracted from
// its archive.
func (r *Resolver) resolveEngineFromReleases(ctx context.Context, triple Triple, cacheDir string) (*ResolvedBinary, error) {
	rel, err := r.releases.LatestRelease(ctx)
	if err != nil {
		return nil, err
	}
	version := strings.TrimPrefix(rel.TagName, "v")

	asset, err := selectReleaseAsset(rel.Assets, triple)
	if err != nil {
		return nil, err
	}

	r.log.Info("downloading engine from latest release", "version", version, "asset", asset.Name)

	archivePath, err := downloadAsset(ctx, r.client, asset.BrowserDownloadURL, cacheDir, version, triple, asset.Name, "")
	if err != nil {
		return nil, err
	}

	binPath := cachePath(cacheDir, version, triple, exeName(EngineBinary))
	if _, statErr := os.Stat(binPath); statErr != nil {
		if err := extractEngineBinary(archivePath, binPath); err != nil {
			return nil, err
		}
	}

	return &ResolvedBinary{
		Name:            EngineBinary,
		Path:            binPath,
		Source:          SourceDownloaded,
		ExpectedVersion: version,
	}, nil
}

// selectReleaseAsset finds the archive for the target triple among release
// assets, applying the adhoc > universal > aarch64 > first tie-break when
// several match.
func selectReleaseAsset(assets []ReleaseAsset, triple Triple) (*ReleaseAsset, error) {
	var (
		names   []string
		indices []int
	)
	for i, a := range assets {
		name := strings.ToLower(a.Name)
		if !strings.HasSuffix(name, ".zip") && !strings.HasSuffix(name, ".tar.gz") {
			continue
		}
		if !strings.Contains(name, triple.Platform) {
			continue
		}
		if !matchesArch(name, triple.Arch) {
			continue
		}
		names = append(names, name)
		indices = append(indices, i)
	}

	picked := pickCandidate(names)
	if picked < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoReleaseAsset, triple)
	}
	return &assets[indices[picked]], nil
}

// matchesArch accepts the Go arch name and its common release aliases.
func matchesArch(name, arch string) bool {
	aliases := map[string][]string{
		"amd64": {"amd64", "x86_64", "x64"},
		"arm64": {"arm64", "aarch64"},
	}
	candidates, ok := aliases[arch]
	if !ok {
		candidates = []string{arch}
	}
	for _, alias := range candidates {
		if strings.Contains(name, alias) {
			return true
		}
	}
	// Universal and adhoc builds name no architecture and are accepted for
	// every architecture.
	return strings.Contains(name, "universal") || strings.Contains(name, "adhoc")
}

// extractEngineBinary copies the engine executable out of a zip or tar.gz
// archive into destPath. Entries are matched by base name, so flat and
// nested archive layouts both work.
func extractEngineBinary(archivePath, destPath string) error {
	wantName := exeName(EngineBinary)

	var err error
	if strings.HasSuffix(archivePath, ".zip") {
		err = extractFromZip(archivePath, wantName, destPath)
	} else {
		err = extractFromTarGz(archivePath, wantName, destPath)
	}
	if err != nil {
		return err
	}
	return markExecutable(destPath)
}

func extractFromZip(archivePath, wantName, destPath string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if filepath.Base(f.Name) != wantName || f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening archive entry: %w", err)
		}
		err = writeExtracted(rc, destPath)
		_ = rc.Close()
		return err
	}
	return fmt.Errorf("%w: %s not in archive %s", ErrBinaryMissing, wantName, archivePath)
}

func extractFromTarGz(archivePath, wantName, destPath string) (err error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return fmt.Errorf("reading tar entry: %w", nextErr)
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != wantName {
			continue
		}
		return writeExtracted(tr, destPath)
	}
	return fmt.Errorf("%w: %s not in archive %s", ErrBinaryMissing, wantName, archivePath)
}

// writeExtracted streams an archive entry to destPath via a temp file so a
// failed extraction never leaves a half-written executable behind.
func writeExtracted(src io.Reader, destPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, io.LimitReader(src, maxExtractedBytes)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("extracting binary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("placing extracted binary: %w", err)
	}
	return nil
}
