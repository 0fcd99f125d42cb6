// SPDX-License-Identifier: MPL-2.0

package state

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"
)

// livenessTimeout bounds the /health probe when deciding whether a persisted
// process record is still authoritative.
const livenessTimeout = 1500 * time.Millisecond

// PIDAlive reports whether a process with the given pid exists. On Unix,
// signal 0 probes existence without delivering anything.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// RecordLive reports whether the persisted record names a process that is
// both alive and answering /health at its base URL. Anything less means the
// record is stale and must be recomputed, not trusted.
func RecordLive(ctx context.Context, rec *ProcessRecord) bool {
	if rec == nil || rec.BaseURL == "" || !PIDAlive(rec.PID) {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, livenessTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, rec.BaseURL+"/health", http.NoBody)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ClearStale drops daemon and engine records that fail the liveness check.
// Returns true if anything was cleared; the caller decides when to persist.
func (st *PersistedState) ClearStale(ctx context.Context) bool {
	cleared := false
	if st.Daemon != nil && !RecordLive(ctx, st.Daemon) {
		st.Daemon = nil
		cleared = true
	}
	if st.Engine != nil && !RecordLive(ctx, st.Engine) {
		st.Engine = nil
		cleared = true
	}
	return cleared
}
