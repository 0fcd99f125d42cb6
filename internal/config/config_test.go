// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"sidecar source valid", SidecarSource("bundled").Validate(), nil},
		{"sidecar source invalid", SidecarSource("npm").Validate(), ErrInvalidSidecarSource},
		{"sandbox mode valid", SandboxMode("docker").Validate(), nil},
		{"sandbox mode invalid", SandboxMode("podman").Validate(), ErrInvalidSandboxMode},
		{"log format valid", LogFormat("json").Validate(), nil},
		{"log format invalid", LogFormat("logfmt").Validate(), ErrInvalidLogFormat},
		{"color valid", ColorMode("never").Validate(), nil},
		{"color invalid", ColorMode("256").Validate(), ErrInvalidColorMode},
		{"approval valid", ApprovalMode("deny").Validate(), nil},
		{"approval invalid", ApprovalMode("yolo").Validate(), ErrInvalidApprovalMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.sentinel == nil {
				assert.NoError(t, tt.err)
				return
			}
			require.Error(t, tt.err)
			assert.ErrorIs(t, tt.err, tt.sentinel)
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsExternalBinWithoutAllowExternal(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Engine.Bin = "/opt/custom/opencode"
	require.Error(t, cfg.Validate())

	cfg.Sidecars.AllowExternal = true
	require.NoError(t, cfg.Validate())
}

func TestValidateBaseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"https", "https://code.example.com", false},
		{"http", "http://10.0.0.5:8080", false},
		{"ftp scheme", "ftp://example.com", true},
		{"no host", "http://", true},
		{"garbage", "://nope", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateBaseURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidBaseURL))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
