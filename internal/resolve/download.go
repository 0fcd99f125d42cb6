// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
)

// maxAssetBytes caps a downloaded sidecar asset (2 GB).
const maxAssetBytes = 2 << 30

// cachePath returns where an asset is cached:
// <cache>/<version>/<triple>/<asset>.
func cachePath(cacheDir, version string, triple Triple, asset string) string {
	return filepath.Join(cacheDir, version, triple.String(), asset)
}

// downloadAsset fetches url into the cache slot for (version, triple, asset),
// verifies the digest when one is recorded, and marks the file executable on
// Unix. A cached file that already verifies is reused without touching the
// network. Writers land on a temp suffix and rename into place, so concurrent
// resolvers converge on the same final file.
func downloadAsset(ctx context.Context, client *http.Client, url, cacheDir, version string, triple Triple, asset, sha256hex string) (string, error) {
	final := cachePath(cacheDir, version, triple, asset)

	if _, err := os.Stat(final); err == nil {
		if sha256hex == "" {
			return final, nil
		}
		if err := VerifyFile(final, sha256hex); err == nil {
			return final, nil
		}
		// Cached file is corrupt; fall through and re-download over it.
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", ErrDownloadFailed, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d for %s", ErrDownloadFailed, resp.StatusCode, url)
	}

	tmp, err := os.CreateTemp(filepath.Dir(final), asset+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, maxAssetBytes)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("%w: writing asset: %v", ErrDownloadFailed, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	if sha256hex != "" {
		if err := VerifyFile(tmpName, sha256hex); err != nil {
			_ = os.Remove(tmpName)
			return "", err
		}
	}

	if err := markExecutable(tmpName); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}

	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("placing asset in cache: %w", err)
	}
	return final, nil
}

// markExecutable sets the executable bits on Unix; Windows relies on the
// file extension.
func markExecutable(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("marking %s executable: %w", path, err)
	}
	return nil
}
