// SPDX-License-Identifier: MPL-2.0

package supervise

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/openwork/openwork/internal/config"
	"github.com/openwork/openwork/internal/logging"
)

const (
	// stopGrace is how long a child gets between the graceful and forceful
	// signals. The engine flushes in-flight file writes on SIGTERM; killing
	// it sooner corrupts them.
	stopGrace = 2500 * time.Millisecond

	// maxLineBytes bounds a single child output line (1 MB).
	maxLineBytes = 1 << 20
)

type (
	// CleanupFunc is a shutdown hook, e.g. the sandbox staging cleanup.
	CleanupFunc func(context.Context) error

	// Supervisor owns the children of one run.
	Supervisor struct {
		log  *logging.Logger
		json bool

		mu       sync.Mutex
		children []*Child
		cleanups []CleanupFunc

		run          *Run
		shutdownOnce sync.Once

		// exitCh receives one event per child exit; the orchestrator's
		// watch loop turns unexpected exits into a fan-out shutdown.
		exitCh chan ChildExit

		wg sync.WaitGroup
	}
)

// New creates a Supervisor bound to the run logger.
func New(log *logging.Logger) *Supervisor {
	return &Supervisor{
		log:    log,
		json:   log.Format() == config.LogJSON,
		run:    NewRun(),
		exitCh: make(chan ChildExit, 8),
	}
}

// Run returns the run state machine.
func (s *Supervisor) Run() *Run { return s.run }

// Exits returns the child exit notification channel. Events stop flowing
// after Detach.
func (s *Supervisor) Exits() <-chan ChildExit { return s.exitCh }

// OnShutdown registers a cleanup hook invoked during ShutdownAll, after all
// children stopped.
func (s *Supervisor) OnShutdown(fn CleanupFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, fn)
}

// Start spawns a child per spec and begins supervising it. Spawn failures
// return a *SpawnError; nothing is registered in that case.
func (s *Supervisor) Start(spec ChildSpec) (*Child, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	// Children run in their own process group so a Ctrl-C aimed at the
	// orchestrator is not delivered to them by the terminal; stop ordering
	// stays under supervisor control, and detach survives parent exit.
	cmd.SysProcAttr = DetachedSysProcAttr()

	child := &Child{
		Name:   spec.Name,
		cmd:    cmd,
		waitCh: make(chan struct{}),
	}

	var stdout, stderr io.ReadCloser
	if spec.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o755); err != nil {
			return nil, &SpawnError{Name: spec.Name, Path: spec.Path, Err: err}
		}
		logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, &SpawnError{Name: spec.Name, Path: spec.Path, Err: err}
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		defer func() { _ = logFile.Close() }() // child holds its own handle after Start
	} else {
		var err error
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return nil, &SpawnError{Name: spec.Name, Path: spec.Path, Err: err}
		}
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return nil, &SpawnError{Name: spec.Name, Path: spec.Path, Err: err}
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Name: spec.Name, Path: spec.Path, Err: err}
	}

	s.mu.Lock()
	s.children = append(s.children, child)
	s.mu.Unlock()

	childLog := s.log.Component(spec.Name)
	if stdout != nil {
		s.wg.Add(2)
		child.pumps.Add(2)
		go s.pumpLines(child, childLog, stdout, logging.LevelInfo)
		go s.pumpLines(child, childLog, stderr, logging.LevelError)
	}

	go s.watch(child)

	s.log.Debug("child started", "name", spec.Name, "pid", child.PID())
	return child, nil
}

// pumpLines forwards one stdio stream line-by-line into the logger. Lines
// that are already OTEL-shaped JSON pass through verbatim when the run logs
// JSON, so structured sidecar logs are not double-wrapped.
func (s *Supervisor) pumpLines(child *Child, childLog *logging.Logger, r io.Reader, level logging.Level) {
	defer s.wg.Done()
	defer child.pumps.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if s.run.Detached() {
			continue
		}
		if s.json && logging.IsOTELLine(line) {
			childLog.Passthrough(line)
			continue
		}
		if level == logging.LevelError {
			childLog.Error(line)
		} else {
			childLog.Info(line)
		}
	}
}

// watch waits for the child and publishes the exit unless the run detached.
// The pipes must drain to EOF before Wait runs, per os/exec's StdoutPipe
// contract.
func (s *Supervisor) watch(child *Child) {
	child.pumps.Wait()
	err := child.cmd.Wait()
	child.recordExit(err)

	if s.run.Detached() {
		return
	}
	_, code := child.Exited()
	select {
	case s.exitCh <- ChildExit{Name: child.Name, Code: code, Err: err}:
	default:
		// Shutdown already draining; a dropped duplicate is harmless.
	}
}

// Stop terminates one child: graceful signal, a bounded grace period, then
// the forceful signal. Always waits for the exit acknowledgement.
func (s *Supervisor) Stop(ctx context.Context, child *Child) {
	if exited, _ := child.Exited(); exited {
		return
	}

	s.log.Debug("stopping child", "name", child.Name, "pid", child.PID())
	if err := terminate(child.cmd); err != nil {
		s.log.Debug("graceful signal failed", "name", child.Name, "error", err)
	}

	select {
	case <-child.waitCh:
		return
	case <-time.After(stopGrace):
	case <-ctx.Done():
	}

	s.log.Warn("child did not stop in time, killing", "name", child.Name, "pid", child.PID())
	_ = kill(child.cmd)
	<-child.waitCh
}

// ShutdownAll stops every child concurrently and runs the cleanup hooks.
// Idempotent: only the first caller performs work, and child exits observed
// afterwards do not start another cascade.
func (s *Supervisor) ShutdownAll(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		children := make([]*Child, len(s.children))
		copy(children, s.children)
		cleanups := make([]CleanupFunc, len(s.cleanups))
		copy(cleanups, s.cleanups)
		s.mu.Unlock()

		var wg sync.WaitGroup
		for _, child := range children {
			wg.Add(1)
			go func(c *Child) {
				defer wg.Done()
				s.Stop(ctx, c)
			}(child)
		}
		wg.Wait()

		for _, fn := range cleanups {
			if err := fn(ctx); err != nil {
				s.log.Warn("shutdown cleanup failed", "error", err)
			}
		}
		s.run.MarkTerminated()
	})
}

// Detach releases ownership: the run transitions to detached, exit events
// stop flowing, and the children — already in their own process group with
// file-backed stdio — keep running after the foreground exits.
func (s *Supervisor) Detach() error {
	if !s.run.MarkDetached() {
		return fmt.Errorf("cannot detach from state %s", s.run.State())
	}

	// No OS-level work remains: the children were spawned in their own
	// process group with file-backed stdio, so the foreground's exit simply
	// reparents them. The watch goroutines die with this process without
	// having published an exit event.
	s.mu.Lock()
	n := len(s.children)
	s.mu.Unlock()
	s.log.Info("detached", "children", n)
	return nil
}

// Children returns a snapshot of the supervised children.
func (s *Supervisor) Children() []*Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Child, len(s.children))
	copy(out, s.children)
	return out
}
