// SPDX-License-Identifier: MPL-2.0

// Command openwork is the local orchestrator for the opencode engine and
// the openwork app server: it resolves and verifies the sidecar binaries,
// brings the pair up with health gating, and multiplexes workspaces through
// a router daemon.
package main

func main() {
	Execute()
}
