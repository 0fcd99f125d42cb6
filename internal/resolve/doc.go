// SPDX-License-Identifier: MPL-2.0

// Package resolve produces executable sidecar binaries with provenance
// guarantees. A binary comes from one of three sources: bundled next to the
// orchestrator, downloaded from the sidecar manifest into the cache, or an
// explicit external path. Bundled and downloaded binaries are verified
// against SHA-256 digests where one is recorded (bundled ones only on
// hash-stable platforms, i.e. not darwin); every resolved binary is
// version-probed before use.
package resolve
