// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultBlockedPatterns match individual path segments of a requested mount
// against well-known credential locations. They apply to every mount,
// whether or not an allowlist file exists, and user patterns merge in on
// top — they can extend the list, never shrink it.
var defaultBlockedPatterns = []string{
	".ssh",
	".gnupg",
	".gpg",
	".aws",
	".azure",
	".kube",
	".docker",
	".netrc",
	"_netrc",
	".npmrc",
	".pypirc",
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"id_rsa*",
	"id_ed25519*",
	"credentials",
	"credentials.json",
	"service-account*.json",
}

var (
	// ErrAllowlistMissing indicates extra mounts were requested but no
	// allowlist file exists to authorize them.
	ErrAllowlistMissing = errors.New("sandbox mount allowlist missing")

	// ErrMountInvalid indicates a mount spec that does not parse.
	ErrMountInvalid = errors.New("invalid sandbox mount")

	// ErrMountBlocked indicates a path segment matched a blocked pattern.
	ErrMountBlocked = errors.New("sandbox mount blocked")

	// ErrMountOutsideRoots indicates the real path is not contained in any
	// allowed root.
	ErrMountOutsideRoots = errors.New("sandbox mount outside allowed roots")
)

type (
	// AllowedRoot is one directory subtree extra mounts may come from.
	AllowedRoot struct {
		Path string `json:"path"`
		// AllowReadWrite permits rw mounts under this root; without it every
		// mount is downgraded to read-only.
		AllowReadWrite bool   `json:"allowReadWrite,omitempty"`
		Description    string `json:"description,omitempty"`
	}

	// Allowlist is the on-disk mount policy document.
	Allowlist struct {
		AllowedRoots    []AllowedRoot `json:"allowedRoots"`
		BlockedPatterns []string      `json:"blockedPatterns,omitempty"`
	}

	// MountSpec is a parsed extra-mount request.
	MountSpec struct {
		HostPath string
		// RealPath is the symlink-resolved absolute host path.
		RealPath string
		// ContainerSubPath is where the mount lands under the container
		// mount root.
		ContainerSubPath string
		ReadWrite        bool
	}

	// PolicyError reports a refused mount together with a pastable
	// allowlist template the user can start from.
	PolicyError struct {
		Mount    string
		Reason   error
		Template string
	}
)

// Error includes the reason and the template; the template's root is the
// offending path's parent directory.
func (e *PolicyError) Error() string {
	msg := fmt.Sprintf("refusing sandbox mount %q: %v", e.Mount, e.Reason)
	if e.Template != "" {
		msg += "\n\nTo allow this mount, create the allowlist file with content like:\n" + e.Template
	}
	return msg
}

// Unwrap returns the underlying policy sentinel.
func (e *PolicyError) Unwrap() error { return e.Reason }

// LoadAllowlist reads the allowlist file. A missing file returns (nil, nil):
// the caller must then refuse every extra mount while still allowing the
// default mounts.
func LoadAllowlist(path string) (*Allowlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading allowlist: %w", err)
	}
	var al Allowlist
	if err := json.Unmarshal(data, &al); err != nil {
		return nil, fmt.Errorf("parsing allowlist %s: %w", path, err)
	}
	return &al, nil
}

// blockedPatterns returns the merged default + user pattern list.
func (al *Allowlist) blockedPatterns() []string {
	if al == nil {
		return defaultBlockedPatterns
	}
	return append(append([]string{}, defaultBlockedPatterns...), al.BlockedPatterns...)
}

// ParseMount parses "hostPath:containerSubPath[:ro|rw]". The default access
// mode is read-only.
func ParseMount(raw string) (MountSpec, error) {
	parts := strings.Split(raw, ":")
	spec := MountSpec{}

	switch len(parts) {
	case 2:
		spec.HostPath, spec.ContainerSubPath = parts[0], parts[1]
	case 3:
		spec.HostPath, spec.ContainerSubPath = parts[0], parts[1]
		switch parts[2] {
		case "ro":
		case "rw":
			spec.ReadWrite = true
		default:
			return MountSpec{}, fmt.Errorf("%w: mode %q (want ro or rw)", ErrMountInvalid, parts[2])
		}
	default:
		return MountSpec{}, fmt.Errorf("%w: %q (want host:containerSub[:ro|rw])", ErrMountInvalid, raw)
	}

	if spec.HostPath == "" || spec.ContainerSubPath == "" {
		return MountSpec{}, fmt.Errorf("%w: %q has an empty component", ErrMountInvalid, raw)
	}
	if filepath.IsAbs(spec.ContainerSubPath) || strings.Contains(spec.ContainerSubPath, "..") {
		return MountSpec{}, fmt.Errorf("%w: container path %q must be a plain relative name", ErrMountInvalid, spec.ContainerSubPath)
	}
	return spec, nil
}

// ValidateMounts checks every requested extra mount against the policy.
// With no requests it always succeeds — a missing allowlist only matters
// once extra mounts are asked for.
func ValidateMounts(raw []string, al *Allowlist, allowlistPath string) ([]MountSpec, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	specs := make([]MountSpec, 0, len(raw))
	for _, entry := range raw {
		spec, err := ParseMount(entry)
		if err != nil {
			return nil, &PolicyError{Mount: entry, Reason: err}
		}

		real, err := resolveHostPath(spec.HostPath)
		if err != nil {
			return nil, &PolicyError{Mount: entry, Reason: err}
		}
		spec.RealPath = real

		if al == nil {
			return nil, &PolicyError{
				Mount:    entry,
				Reason:   fmt.Errorf("%w: no allowlist at %s", ErrAllowlistMissing, allowlistPath),
				Template: allowlistTemplate(real),
			}
		}

		if hit, pattern := matchBlocked(real, al.blockedPatterns()); hit {
			return nil, &PolicyError{
				Mount:  entry,
				Reason: fmt.Errorf("%w: path segment matches pattern %q", ErrMountBlocked, pattern),
			}
		}

		root, ok := containingRoot(real, al.AllowedRoots)
		if !ok {
			return nil, &PolicyError{
				Mount:    entry,
				Reason:   fmt.Errorf("%w: %s", ErrMountOutsideRoots, real),
				Template: allowlistTemplate(real),
			}
		}

		// A read-only root silently downgrades rw requests.
		if spec.ReadWrite && !root.AllowReadWrite {
			spec.ReadWrite = false
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// resolveHostPath expands ~, requires an absolute result, and resolves
// symlinks so policy checks run against the real filesystem location.
func resolveHostPath(path string) (string, error) {
	expanded := path
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding ~: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if !filepath.IsAbs(expanded) {
		return "", fmt.Errorf("%w: host path %q is not absolute", ErrMountInvalid, path)
	}
	real, err := filepath.EvalSymlinks(expanded)
	if err != nil {
		return "", fmt.Errorf("%w: host path %s does not exist", ErrMountInvalid, expanded)
	}
	return real, nil
}

// matchBlocked tests every segment of the real path against the patterns.
func matchBlocked(real string, patterns []string) (bool, string) {
	segments := strings.Split(strings.Trim(filepath.ToSlash(real), "/"), "/")
	for _, pattern := range patterns {
		for _, seg := range segments {
			if ok, err := doublestar.Match(pattern, seg); err == nil && ok {
				return true, pattern
			}
		}
	}
	return false, ""
}

// containingRoot finds the first allowed root that contains the real path.
func containingRoot(real string, roots []AllowedRoot) (AllowedRoot, bool) {
	for _, root := range roots {
		rootReal, err := resolveHostPath(root.Path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootReal, real)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return root, true
		}
	}
	return AllowedRoot{}, false
}

// allowlistTemplate renders a starter allowlist document covering the
// requested path.
func allowlistTemplate(real string) string {
	tmpl := Allowlist{
		AllowedRoots: []AllowedRoot{{
			Path:        filepath.Dir(real),
			Description: "authorize mounts under this directory",
		}},
	}
	data, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
