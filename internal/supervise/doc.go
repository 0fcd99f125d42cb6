// SPDX-License-Identifier: MPL-2.0

// Package supervise owns every child process during a run: ordered start,
// stdio fan-in to the run logger, graceful-then-forceful stop, idempotent
// shutdown fan-out, and the detach transition that releases child ownership
// back to the operating system.
package supervise
