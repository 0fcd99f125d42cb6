// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileMissing(t *testing.T) {
	t.Parallel()

	fs, err := LoadFile(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, &FileSettings{}, fs)
}

func TestLoadFileAndApply(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	doc := `{
  "daemon_port": 9100,
  "sidecar_source": "bundled",
  "sandbox_image": "ghcr.io/openwork/sandbox:pinned",
  "log_format": "json",
  "cors": ["https://app.example.com"]
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(doc), 0o644))

	fs, err := LoadFile(dir)
	require.NoError(t, err)
	assert.Equal(t, 9100, fs.DaemonPort)

	cfg := Default()
	cfg.ApplyFile(fs)
	assert.Equal(t, 9100, cfg.DaemonPort)
	assert.Equal(t, SourceBundled, cfg.Sidecars.Source)
	assert.Equal(t, "ghcr.io/openwork/sandbox:pinned", cfg.Sandbox.Image)
	assert.Equal(t, LogJSON, cfg.LogFormat)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORS)
}

func TestApplyFileDoesNotOverrideExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.DaemonPort = 8123 // set by flag or env
	cfg.ApplyFile(&FileSettings{DaemonPort: 9100})
	assert.Equal(t, 8123, cfg.DaemonPort)
}

func TestLoadFileCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{nope"), 0o644))

	_, err := LoadFile(dir)
	require.Error(t, err, "broken config must surface, not be silently ignored")
}
