// SPDX-License-Identifier: MPL-2.0

// Package logging emits run-scoped log events in one of two formats: pretty
// human lines (charmbracelet/log) or OpenTelemetry-logs-shaped JSON records.
// Every event carries the run id so logs from the orchestrator and its child
// processes correlate.
package logging
