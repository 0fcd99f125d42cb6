// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/openwork/openwork/internal/config"
	"github.com/openwork/openwork/internal/logging"
)

// Sidecar binary names.
const (
	// EngineBinary is the assistant engine sidecar.
	EngineBinary = "opencode"
	// AppServerBinary is the app-server sidecar fronting the engine.
	AppServerBinary = "openwork-server"
)

// Provenance constants for a resolved binary.
const (
	SourceBundled    Source = "bundled"
	SourceDownloaded Source = "downloaded"
	SourceExternal   Source = "external"
)

type (
	// Source records where a resolved binary came from.
	Source string

	// ResolvedBinary is an executable on disk the supervisor may spawn,
	// together with its provenance and version expectation.
	ResolvedBinary struct {
		Name   string
		Path   string
		Source Source
		// ExpectedVersion is empty when no manifest recorded one.
		ExpectedVersion string
		// ActualVersion is what the binary's --version probe reported.
		ActualVersion string
	}

	// Options steers one Resolve call.
	Options struct {
		Preference config.SidecarSource
		// OverridePath is an explicit binary path; implies external.
		OverridePath  string
		AllowExternal bool
		// Sandboxed forces a Linux target triple.
		Sandboxed   bool
		CacheDir    string
		BaseURL     string
		ManifestURL string
	}

	// Resolver resolves sidecar binaries. The function fields are seams for
	// tests; production construction leaves them at the real implementations.
	Resolver struct {
		log      *logging.Logger
		client   *http.Client
		releases *ReleaseClient

		execDir  string
		lookPath func(string) (string, error)
		probe    func(context.Context, string) (string, error)
	}

	// ResolverOption configures a Resolver.
	ResolverOption func(*Resolver)
)

// WithHTTPClient overrides the HTTP client for manifest and asset fetches.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) { r.client = c }
}

// WithReleaseClient overrides the engine release fallback client.
func WithReleaseClient(c *ReleaseClient) ResolverOption {
	return func(r *Resolver) { r.releases = c }
}

// WithExecDir overrides the directory bundled binaries are looked up in.
func WithExecDir(dir string) ResolverOption {
	return func(r *Resolver) { r.execDir = dir }
}

// WithLookPath overrides PATH lookup, for tests.
func WithLookPath(fn func(string) (string, error)) ResolverOption {
	return func(r *Resolver) { r.lookPath = fn }
}

// WithProbe overrides the --version probe, for tests.
func WithProbe(fn func(context.Context, string) (string, error)) ResolverOption {
	return func(r *Resolver) { r.probe = fn }
}

// NewResolver creates a Resolver. The bundled lookup directory defaults to
// the directory of the running executable.
func NewResolver(log *logging.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		log:      log.Component("resolver"),
		client:   http.DefaultClient,
		lookPath: exec.LookPath,
		probe:    ProbeVersion,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.releases == nil {
		r.releases = NewReleaseClient(WithReleaseHTTPClient(r.client))
	}
	if r.execDir == "" {
		if exe, err := os.Executable(); err == nil {
			r.execDir = filepath.Dir(exe)
		}
	}
	return r
}

// Resolve produces a verified binary for name under the given options.
func (r *Resolver) Resolve(ctx context.Context, name string, opts Options) (*ResolvedBinary, error) {
	triple := TargetTriple(opts.Sandboxed)

	// An explicit override path is always an external resolution, whatever
	// the source preference says.
	if opts.OverridePath != "" {
		rb, err := r.resolveExternal(name, opts)
		if err != nil {
			return nil, err
		}
		return r.verifyVersion(ctx, rb)
	}

	var (
		rb  *ResolvedBinary
		err error
	)
	switch opts.Preference {
	case config.SourceBundled:
		rb, err = r.resolveBundled(name, triple)
	case config.SourceDownloaded:
		rb, err = r.resolveDownloaded(ctx, name, triple, opts)
	case config.SourceExternal:
		rb, err = r.resolveExternal(name, opts)
	default: // auto
		rb, err = r.resolveAuto(ctx, name, triple, opts)
	}
	if err != nil {
		return nil, err
	}
	return r.verifyVersion(ctx, rb)
}

// resolveAuto prefers bundled, then downloaded, then external when allowed.
func (r *Resolver) resolveAuto(ctx context.Context, name string, triple Triple, opts Options) (*ResolvedBinary, error) {
	rb, bundledErr := r.resolveBundled(name, triple)
	if bundledErr == nil {
		return rb, nil
	}
	if !errors.Is(bundledErr, ErrBinaryMissing) {
		// A bundled binary that exists but fails verification is a hard
		// error, not a fallthrough — silently downloading would mask a
		// tampered install.
		return nil, bundledErr
	}

	rb, downloadErr := r.resolveDownloaded(ctx, name, triple, opts)
	if downloadErr == nil {
		return rb, nil
	}

	if opts.AllowExternal {
		rb, externalErr := r.resolveExternal(name, opts)
		if externalErr == nil {
			r.log.Debug("falling back to external binary", "name", name, "path", rb.Path)
			return rb, nil
		}
	}
	return nil, downloadErr
}

// resolveBundled looks for the binary next to the orchestrator executable
// and, on hash-stable platforms, verifies it against the local manifest.
func (r *Resolver) resolveBundled(name string, triple Triple) (*ResolvedBinary, error) {
	path := filepath.Join(r.execDir, exeName(name))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: bundled %s at %s", ErrBinaryMissing, name, path)
	}

	manifest, err := LoadLocalManifest(r.execDir)
	if err != nil {
		return nil, err
	}

	rb := &ResolvedBinary{Name: name, Path: path, Source: SourceBundled}
	if entry, ok := manifest[name]; ok {
		rb.ExpectedVersion = entry.Version
		if entry.SHA256 != "" && triple.HashStable() {
			if err := VerifyFile(path, entry.SHA256); err != nil {
				return nil, err
			}
		}
	}
	return rb, nil
}

// resolveDownloaded fetches the remote manifest entry for (name, triple) and
// materializes the asset in the cache. For the engine, a manifest without a
// matching entry falls back to the latest published release.
func (r *Resolver) resolveDownloaded(ctx context.Context, name string, triple Triple, opts Options) (*ResolvedBinary, error) {
	manifest, err := FetchRemoteManifest(ctx, r.client, opts.ManifestURL)
	if err != nil {
		if name == EngineBinary {
			return r.resolveEngineFromReleases(ctx, triple, opts.CacheDir)
		}
		return nil, err
	}

	entry, target, err := manifest.Target(name, triple)
	if err != nil {
		if name == EngineBinary && errors.Is(err, ErrNoManifestEntry) {
			return r.resolveEngineFromReleases(ctx, triple, opts.CacheDir)
		}
		return nil, err
	}

	assetURL, err := target.AssetURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	path, err := downloadAsset(ctx, r.client, assetURL, opts.CacheDir, entry.Version, triple, target.AssetName(), target.SHA256)
	if err != nil {
		return nil, err
	}

	return &ResolvedBinary{
		Name:            name,
		Path:            path,
		Source:          SourceDownloaded,
		ExpectedVersion: entry.Version,
	}, nil
}

// resolveExternal uses the explicit override path, or a PATH lookup when no
// override was given.
func (r *Resolver) resolveExternal(name string, opts Options) (*ResolvedBinary, error) {
	if !opts.AllowExternal {
		return nil, fmt.Errorf("%w: %s", ErrExternalNotAllowed, name)
	}

	if opts.OverridePath != "" {
		if _, err := os.Stat(opts.OverridePath); err != nil {
			return nil, fmt.Errorf("%w: override path %s", ErrBinaryMissing, opts.OverridePath)
		}
		return r.withLocalExpectation(&ResolvedBinary{Name: name, Path: opts.OverridePath, Source: SourceExternal}), nil
	}

	path, err := r.lookPath(exeName(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s not on PATH", ErrBinaryMissing, name)
	}
	return r.withLocalExpectation(&ResolvedBinary{Name: name, Path: path, Source: SourceExternal}), nil
}

// withLocalExpectation fills ExpectedVersion from the local manifest when an
// entry exists. External binaries are still compared against the product's
// expectation — the mismatch just warns instead of failing.
func (r *Resolver) withLocalExpectation(rb *ResolvedBinary) *ResolvedBinary {
	manifest, err := LoadLocalManifest(r.execDir)
	if err != nil {
		return rb
	}
	if entry, ok := manifest[rb.Name]; ok {
		rb.ExpectedVersion = entry.Version
	}
	return rb
}

// verifyVersion probes the binary and asserts it reports the expected
// version. External binaries degrade the assertion to a warning: the user
// chose the binary, the orchestrator only flags the drift.
func (r *Resolver) verifyVersion(ctx context.Context, rb *ResolvedBinary) (*ResolvedBinary, error) {
	actual, err := r.probe(ctx, rb.Path)
	if err != nil {
		if rb.Source == SourceExternal {
			r.log.Warn("could not determine binary version", "name", rb.Name, "path", rb.Path, "error", err)
			return rb, nil
		}
		return nil, err
	}
	rb.ActualVersion = actual

	if rb.ExpectedVersion == "" || versionsEqual(rb.ExpectedVersion, actual) {
		return rb, nil
	}

	if rb.Source == SourceExternal {
		r.log.Warn("external binary version differs from expected",
			"name", rb.Name, "expected", rb.ExpectedVersion, "actual", actual)
		return rb, nil
	}
	return nil, &VersionMismatchError{
		Name:     rb.Name,
		Path:     rb.Path,
		Expected: rb.ExpectedVersion,
		Actual:   actual,
	}
}

// exeName appends .exe on Windows.
func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// pickCandidate chooses among multiple asset names matching a target:
// adhoc builds win, then universal, then aarch64, then the first match.
func pickCandidate(names []string) int {
	for _, marker := range []string{"adhoc", "universal", "aarch64"} {
		for i, name := range names {
			if strings.Contains(name, marker) {
				return i
			}
		}
	}
	if len(names) > 0 {
		return 0
	}
	return -1
}
