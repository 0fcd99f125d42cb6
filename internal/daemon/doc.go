// SPDX-License-Identifier: MPL-2.0

// Package daemon implements the router daemon: a long-lived loopback HTTP
// control plane that owns one engine instance and routes multiple
// workspaces through it. The package also carries the CLI-side client,
// including the auto-spawn path that brings a daemon up on demand.
package daemon
