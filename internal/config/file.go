// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config file coordinates under the config dir.
const (
	configFileName = "config"
	configFileExt  = "json"
)

// FileSettings are the defaults a user can pin in the optional config file.
// Flags and environment variables override them; they override the built-in
// defaults.
type FileSettings struct {
	DaemonHost      string   `mapstructure:"daemon_host"`
	DaemonPort      int      `mapstructure:"daemon_port"`
	SidecarSource   string   `mapstructure:"sidecar_source"`
	SidecarBaseURL  string   `mapstructure:"sidecar_base_url"`
	SidecarManifest string   `mapstructure:"sidecar_manifest"`
	AllowExternal   bool     `mapstructure:"allow_external"`
	SandboxMode     string   `mapstructure:"sandbox"`
	SandboxImage    string   `mapstructure:"sandbox_image"`
	ApprovalMode    string   `mapstructure:"approval_mode"`
	LogFormat       string   `mapstructure:"log_format"`
	Color           string   `mapstructure:"color"`
	CORS            []string `mapstructure:"cors"`
}

// LoadFile reads the optional config file. A missing file yields zero-valued
// settings; a present-but-broken file is an error the user must fix rather
// than a silent fallback.
func LoadFile(dir string) (*FileSettings, error) {
	v := viper.New()
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileExt)
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return &FileSettings{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fs FileSettings
	if err := v.Unmarshal(&fs); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", v.ConfigFileUsed(), err)
	}
	return &fs, nil
}

// ApplyFile folds file settings into the config. Only fields still at their
// built-in default (the Default() value, or empty where that is empty) are
// touched; a flag or environment value equal to the default is therefore
// replaced by the file's value.
func (c *Config) ApplyFile(fs *FileSettings) {
	if fs == nil {
		return
	}
	if fs.DaemonHost != "" && c.DaemonHost == Default().DaemonHost {
		c.DaemonHost = fs.DaemonHost
	}
	if fs.DaemonPort != 0 && c.DaemonPort == Default().DaemonPort {
		c.DaemonPort = fs.DaemonPort
	}
	if fs.SidecarSource != "" && c.Sidecars.Source == SourceAuto {
		c.Sidecars.Source = SidecarSource(fs.SidecarSource)
	}
	if fs.SidecarBaseURL != "" && c.Sidecars.BaseURL == "" {
		c.Sidecars.BaseURL = fs.SidecarBaseURL
	}
	if fs.SidecarManifest != "" && c.Sidecars.ManifestURL == "" {
		c.Sidecars.ManifestURL = fs.SidecarManifest
	}
	if fs.AllowExternal && !c.Sidecars.AllowExternal {
		c.Sidecars.AllowExternal = true
	}
	if fs.SandboxMode != "" && c.Sandbox.Mode == SandboxNone {
		c.Sandbox.Mode = SandboxMode(fs.SandboxMode)
	}
	if fs.SandboxImage != "" && c.Sandbox.Image == "" {
		c.Sandbox.Image = fs.SandboxImage
	}
	if fs.ApprovalMode != "" && c.ApprovalMode == ApprovalAsk {
		c.ApprovalMode = ApprovalMode(fs.ApprovalMode)
	}
	if fs.LogFormat != "" && c.LogFormat == LogPretty {
		c.LogFormat = LogFormat(fs.LogFormat)
	}
	if fs.Color != "" && c.Color == ColorAuto {
		c.Color = ColorMode(fs.Color)
	}
	if len(fs.CORS) > 0 && len(c.CORS) == 0 {
		c.CORS = fs.CORS
	}
}
