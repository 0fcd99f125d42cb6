// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openwork/openwork/internal/config"
	"github.com/openwork/openwork/internal/logging"
	"github.com/openwork/openwork/internal/netutil"
	"github.com/openwork/openwork/internal/resolve"
	"github.com/openwork/openwork/internal/state"
	"github.com/openwork/openwork/internal/supervise"
)

// shutdownTimeout bounds the HTTP server drain on stop.
const shutdownTimeout = 5 * time.Second

type (
	// Daemon is the router daemon. One instance owns the state file and at
	// most one engine for its lifetime.
	Daemon struct {
		cfg      *config.Config
		log      *logging.Logger
		store    *state.Store
		resolver *resolve.Resolver
		sup      *supervise.Supervisor

		httpServer *http.Server
		listener   net.Listener
		port       int

		// flight collapses concurrent cold-start ensureEngine calls into a
		// single spawn.
		flight singleflight.Group

		stopOnce sync.Once
		doneCh   chan struct{}
	}

	// Option configures a Daemon.
	Option func(*Daemon)
)

// WithResolver overrides the binary resolver, for tests.
func WithResolver(r *resolve.Resolver) Option {
	return func(d *Daemon) { d.resolver = r }
}

// New creates a Daemon for the given configuration.
func New(cfg *config.Config, log *logging.Logger, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:    cfg,
		log:    log.Component("daemon"),
		store:  state.NewStore(cfg.StatePath()),
		sup:    supervise.New(log),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.resolver == nil {
		d.resolver = resolve.NewResolver(log)
	}
	return d
}

// Port returns the bound port after Start.
func (d *Daemon) Port() int { return d.port }

// BaseURL returns the daemon's loopback base URL after Start.
func (d *Daemon) BaseURL() string {
	return netutil.BaseURL(d.cfg.DaemonHost, d.port)
}

// Start binds the control plane, records the daemon in the state file, and
// serves until Stop. The state record is written only after the listener
// accepts connections — a persisted daemon must already answer /health.
func (d *Daemon) Start(ctx context.Context) error {
	// Preferred port first; an occupied port falls back to an OS-assigned
	// one rather than failing the daemon.
	listener, err := net.Listen("tcp", net.JoinHostPort(d.cfg.DaemonHost, fmt.Sprintf("%d", d.cfg.DaemonPort)))
	if err != nil {
		listener, err = net.Listen("tcp", net.JoinHostPort(d.cfg.DaemonHost, "0"))
	}
	if err != nil {
		return fmt.Errorf("binding daemon listener: %w", err)
	}
	d.listener = listener
	d.port = listener.Addr().(*net.TCPAddr).Port

	d.httpServer = &http.Server{
		Handler:           d.corsMiddleware(d.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Boot housekeeping: stale records from a dead predecessor are cleared
	// before this daemon claims ownership.
	if _, err := d.store.Update(func(st *state.PersistedState) {
		st.ClearStale(ctx)
		st.Daemon = &state.ProcessRecord{
			PID:       os.Getpid(),
			Port:      d.port,
			BaseURL:   d.BaseURL(),
			StartedAt: time.Now().UTC(),
		}
	}); err != nil {
		_ = listener.Close()
		return err
	}

	d.log.Info("router daemon listening", "addr", d.BaseURL())

	err = d.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		<-d.doneCh
		return nil
	}
	return err
}

// Stop gracefully shuts the daemon down: the engine child is stopped, the
// daemon record cleared, and the HTTP server drained. Safe to call more
// than once.
func (d *Daemon) Stop(ctx context.Context) {
	d.stopOnce.Do(func() {
		defer close(d.doneCh)

		d.sup.ShutdownAll(ctx)

		if _, err := d.store.Update(func(st *state.PersistedState) {
			st.Daemon = nil
			st.Engine = nil
		}); err != nil {
			d.log.Warn("clearing daemon record failed", "error", err)
		}

		if d.httpServer != nil {
			drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = d.httpServer.Shutdown(drainCtx)
		}
		d.log.Info("router daemon stopped")
	})
}

// routes wires the control-plane endpoints.
func (d *Daemon) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", d.handleHealth)
	mux.HandleFunc("GET /workspaces", d.handleListWorkspaces)
	mux.HandleFunc("POST /workspaces", d.handleAddWorkspace)
	mux.HandleFunc("POST /workspaces/remote", d.handleAddRemoteWorkspace)
	mux.HandleFunc("GET /workspaces/{id}", d.handleGetWorkspace)
	mux.HandleFunc("POST /workspaces/{id}/activate", d.handleActivateWorkspace)
	mux.HandleFunc("GET /workspaces/{id}/path", d.handleWorkspacePath)
	mux.HandleFunc("POST /instances/{id}/dispose", d.handleDisposeInstance)
	mux.HandleFunc("POST /shutdown", d.handleShutdown)
	return mux
}

// corsMiddleware permits any origin for GET/POST/OPTIONS and answers
// preflights immediately with 204.
func (d *Daemon) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
