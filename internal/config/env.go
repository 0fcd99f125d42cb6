// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
)

const (
	// EnvPrefix is the current environment variable prefix.
	EnvPrefix = "OPENWORK_"

	// LegacyEnvPrefix is the pre-rename prefix, still honored as a fallback.
	// Reads through it emit a one-time deprecation warning per variable.
	LegacyEnvPrefix = "OPENCODE_DESKTOP_"
)

// Recognized environment variable suffixes. Unknown keys under either prefix
// are ignored.
const (
	EnvDataDir          = "DATA_DIR"
	EnvWorkspace        = "WORKSPACE"
	EnvDaemonHost       = "DAEMON_HOST"
	EnvDaemonPort       = "DAEMON_PORT"
	EnvEnginePort       = "OPENCODE_PORT"
	EnvEngineAuth       = "OPENCODE_AUTH"
	EnvAppServerPort    = "PORT"
	EnvAppServerToken   = "TOKEN"
	EnvHostToken        = "HOST_TOKEN"
	EnvCORS             = "CORS"
	EnvSidecarSource    = "SIDECAR_SOURCE"
	EnvSidecarCache     = "SIDECAR_CACHE_DIR"
	EnvSidecarBaseURL   = "SIDECAR_BASE_URL"
	EnvSidecarManifest  = "SIDECAR_MANIFEST"
	EnvAllowExternal    = "ALLOW_EXTERNAL"
	EnvApprovalMode     = "APPROVAL_MODE"
	EnvApprovalTimeout  = "APPROVAL_TIMEOUT"
	EnvSandboxMode      = "SANDBOX"
	EnvSandboxImage     = "SANDBOX_IMAGE"
	EnvSandboxPersist   = "SANDBOX_PERSIST_DIR"
	EnvSandboxAllowlist = "SANDBOX_MOUNT_ALLOWLIST"
	EnvLogFormat        = "LOG_FORMAT"
	EnvColor            = "COLOR"
	EnvRunID            = "RUN_ID"
	EnvVerbose          = "VERBOSE"
)

type (
	// EnvLookupFunc is the os.LookupEnv signature, injectable for tests.
	EnvLookupFunc func(string) (string, bool)

	// WarnFunc receives deprecation warnings. NewEnvReader writes them to
	// stderr; SetWarnFunc replaces the sink.
	WarnFunc func(format string, args ...any)

	// EnvReader resolves environment variables through the prefix pair:
	// the current prefix wins, the legacy prefix is a fallback that warns
	// once per variable name for the lifetime of the process.
	EnvReader struct {
		lookup EnvLookupFunc
		warn   WarnFunc

		mu     sync.Mutex
		warned map[string]struct{}
	}
)

// NewEnvReader creates an EnvReader backed by the real process environment.
func NewEnvReader() *EnvReader {
	return NewEnvReaderFrom(os.LookupEnv, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
}

// NewEnvReaderFrom creates an EnvReader with injected lookup and warning
// functions. Tests use this to avoid process-wide environment mutation.
func NewEnvReaderFrom(lookup EnvLookupFunc, warn WarnFunc) *EnvReader {
	return &EnvReader{
		lookup: lookup,
		warn:   warn,
		warned: make(map[string]struct{}),
	}
}

// SetWarnFunc swaps the warning sink; legacy reads after the call report
// through warn instead of the previous sink.
func (r *EnvReader) SetWarnFunc(warn WarnFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warn = warn
}

// Get resolves key (a suffix constant, e.g. EnvDataDir) through the prefix
// pair. Returns the value and whether any variable was set.
func (r *EnvReader) Get(key string) (string, bool) {
	if v, ok := r.lookup(EnvPrefix + key); ok {
		return v, true
	}
	v, ok := r.lookup(LegacyEnvPrefix + key)
	if ok {
		r.warnOnce(key)
	}
	return v, ok
}

// GetBool resolves key and interprets it as a boolean. Unset or unparseable
// values return the fallback.
func (r *EnvReader) GetBool(key string, fallback bool) bool {
	raw, ok := r.Get(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

// GetInt resolves key as an integer, returning the fallback when unset or
// malformed.
func (r *EnvReader) GetInt(key string, fallback int) int {
	raw, ok := r.Get(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// warnOnce records the key in the process-local warned set; only the first
// legacy read of each variable produces output.
func (r *EnvReader) warnOnce(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.warned[key]; seen {
		return
	}
	r.warned[key] = struct{}{}
	r.warn("%s%s is deprecated; use %s%s instead", LegacyEnvPrefix, key, EnvPrefix, key)
}
