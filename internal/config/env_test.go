// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEnv builds an EnvLookupFunc over a fixed map.
func fakeEnv(vars map[string]string) EnvLookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestEnvReaderPrefersCurrentPrefix(t *testing.T) {
	t.Parallel()

	var warnings []string
	r := NewEnvReaderFrom(fakeEnv(map[string]string{
		EnvPrefix + EnvDataDir:       "/new/data",
		LegacyEnvPrefix + EnvDataDir: "/old/data",
	}), func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	})

	got, ok := r.Get(EnvDataDir)
	require.True(t, ok)
	assert.Equal(t, "/new/data", got)
	assert.Empty(t, warnings, "no warning when the current prefix is used")
}

func TestEnvReaderLegacyFallbackWarnsOnce(t *testing.T) {
	t.Parallel()

	var warnings []string
	r := NewEnvReaderFrom(fakeEnv(map[string]string{
		LegacyEnvPrefix + EnvWorkspace: "/home/dev/proj",
	}), func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	})

	for range 3 {
		got, ok := r.Get(EnvWorkspace)
		require.True(t, ok)
		assert.Equal(t, "/home/dev/proj", got)
	}

	require.Len(t, warnings, 1, "deprecation warning must be emitted exactly once")
	assert.Contains(t, warnings[0], LegacyEnvPrefix+EnvWorkspace)
	assert.Contains(t, warnings[0], EnvPrefix+EnvWorkspace)
}

func TestEnvReaderUnsetKey(t *testing.T) {
	t.Parallel()

	r := NewEnvReaderFrom(fakeEnv(nil), func(string, ...any) {})
	_, ok := r.Get(EnvRunID)
	assert.False(t, ok)
}

func TestEnvReaderTypedGetters(t *testing.T) {
	t.Parallel()

	r := NewEnvReaderFrom(fakeEnv(map[string]string{
		EnvPrefix + EnvAllowExternal: "true",
		EnvPrefix + EnvDaemonPort:    "9000",
		EnvPrefix + EnvVerbose:       "not-a-bool",
	}), func(string, ...any) {})

	assert.True(t, r.GetBool(EnvAllowExternal, false))
	assert.Equal(t, 9000, r.GetInt(EnvDaemonPort, 7870))
	assert.False(t, r.GetBool(EnvVerbose, false), "unparseable values fall back")
	assert.Equal(t, 42, r.GetInt(EnvApprovalTimeout, 42), "unset values fall back")
}
