// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ComputeFileHash streams the file through SHA-256 and returns the lowercase
// hex digest.
func ComputeFileHash(path string) (_ string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		// Read-only file handle; close errors are exotic (NFS edge cases).
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing file %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile compares the file's SHA-256 with expectedHash
// (case-insensitive). Returns a *HashMismatchError wrapping ErrHashMismatch
// when they differ.
func VerifyFile(path, expectedHash string) error {
	got, err := ComputeFileHash(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, expectedHash) {
		return &HashMismatchError{
			Path:     path,
			Expected: strings.ToLower(expectedHash),
			Got:      got,
		}
	}
	return nil
}
