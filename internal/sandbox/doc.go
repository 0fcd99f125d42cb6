// SPDX-License-Identifier: MPL-2.0

// Package sandbox runs the engine/app-server pair inside a container with a
// validated host boundary. Only the workspace, a per-workspace persist dir,
// the engine config dir, and the staged sidecars dir (read-only) are mounted
// by default; anything else must pass
// the mount allowlist policy. The pair is launched through a staged
// entrypoint script with shell-safe quoting.
package sandbox
