// SPDX-License-Identifier: MPL-2.0

// Package config holds the orchestrator configuration: CLI flag values,
// the dual-prefix environment variable layer, enum validation, and the
// on-disk data directory layout shared by the CLI and the router daemon.
package config
