// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Fixed paths and ports inside the container. Only the app server's port is
// ever published to the host; the engine stays reachable solely through the
// app server's reverse proxy.
const (
	containerWorkspace    = "/workspace"
	containerPersist      = "/persist"
	containerSidecars     = "/sidecars"
	containerEngineConfig = "/host-engine-config"
	containerMountRoot    = "/mnt"

	// EngineInternalPort is the engine's fixed in-container port.
	EngineInternalPort = 4096
	// AppServerInternalPort is the app server's fixed in-container port.
	AppServerInternalPort = 8400

	entrypointName = "entrypoint.sh"
)

// shQuote renders a value safe for substitution into the entrypoint script.
// Unquoted substitution is command injection against the container.
func shQuote(value string) (string, error) {
	quoted, err := syntax.Quote(value, syntax.LangPOSIX)
	if err != nil {
		return "", fmt.Errorf("quoting %q for shell: %w", value, err)
	}
	return quoted, nil
}

// renderEntrypoint builds the staged entrypoint script: XDG dirs under
// /persist, host engine config copied into place, the engine started on its
// fixed port, and the app server exec'd in the foreground with the caller's
// flags forwarded verbatim.
func renderEntrypoint(engineBin, appServerBin string, appServerArgs []string) (string, error) {
	qEngine, err := shQuote(containerSidecars + "/" + engineBin)
	if err != nil {
		return "", err
	}
	qAppServer, err := shQuote(containerSidecars + "/" + appServerBin)
	if err != nil {
		return "", err
	}

	quotedArgs := make([]string, 0, len(appServerArgs))
	for _, arg := range appServerArgs {
		q, err := shQuote(arg)
		if err != nil {
			return "", err
		}
		quotedArgs = append(quotedArgs, q)
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("set -eu\n\n")

	b.WriteString("export XDG_DATA_HOME=" + containerPersist + "/data\n")
	b.WriteString("export XDG_CONFIG_HOME=" + containerPersist + "/config\n")
	b.WriteString("export XDG_CACHE_HOME=" + containerPersist + "/cache\n")
	b.WriteString("export XDG_STATE_HOME=" + containerPersist + "/state\n")
	b.WriteString(`mkdir -p "$XDG_DATA_HOME" "$XDG_CONFIG_HOME" "$XDG_CACHE_HOME" "$XDG_STATE_HOME"` + "\n\n")

	b.WriteString("if [ -d " + containerEngineConfig + " ]; then\n")
	b.WriteString("  mkdir -p \"$XDG_CONFIG_HOME\"/opencode\n")
	b.WriteString("  cp -R " + containerEngineConfig + "/. \"$XDG_CONFIG_HOME\"/opencode/\n")
	b.WriteString("fi\n\n")

	fmt.Fprintf(&b, "%s serve --hostname 127.0.0.1 --port %d &\n\n", qEngine, EngineInternalPort)

	b.WriteString("exec " + qAppServer)
	for _, q := range quotedArgs {
		b.WriteString(" " + q)
	}
	b.WriteString("\n")

	return b.String(), nil
}

// stageSidecars creates <staging>/sidecars, copies both binaries in, and
// writes the entrypoint script there; the container reaches it through the
// /sidecars mount.
func stageSidecars(stagingDir, engineHostPath, appServerHostPath string, appServerArgs []string) error {
	sidecarDir := filepath.Join(stagingDir, "sidecars")
	if err := os.MkdirAll(sidecarDir, 0o755); err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}

	for _, bin := range []struct{ src, name string }{
		{engineHostPath, filepath.Base(engineHostPath)},
		{appServerHostPath, filepath.Base(appServerHostPath)},
	} {
		if err := copyExecutable(bin.src, filepath.Join(sidecarDir, bin.name)); err != nil {
			return err
		}
	}

	script, err := renderEntrypoint(filepath.Base(engineHostPath), filepath.Base(appServerHostPath), appServerArgs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(sidecarDir, entrypointName), []byte(script), 0o755); err != nil {
		return fmt.Errorf("writing entrypoint: %w", err)
	}
	return nil
}

// copyExecutable copies src to dest preserving the executable mode.
func copyExecutable(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return nil
}
