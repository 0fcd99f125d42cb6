// SPDX-License-Identifier: MPL-2.0

// Package state persists the orchestrator's multi-workspace state document.
// The file has a single writer at any time: the live router daemon when one
// exists, otherwise the foreground CLI. Readers treat daemon/engine records
// as authoritative only after a liveness check.
package state
