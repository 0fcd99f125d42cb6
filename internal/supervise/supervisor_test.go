// SPDX-License-Identifier: MPL-2.0

package supervise

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openwork/openwork/internal/config"
	"github.com/openwork/openwork/internal/logging"
)

// syncBuffer serializes concurrent writes from the stdio pumps.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newSupervisor(t *testing.T, format config.LogFormat, out *syncBuffer) *Supervisor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("supervisor tests drive /bin/sh")
	}
	return New(logging.New(logging.Options{
		Format: format,
		Color:  config.ColorNever,
		RunID:  "test-run",
		Out:    out,
	}))
}

func shSpec(name, script string) ChildSpec {
	return ChildSpec{Name: name, Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestStartSpawnError(t *testing.T) {
	t.Parallel()

	s := newSupervisor(t, config.LogPretty, &syncBuffer{})
	_, err := s.Start(ChildSpec{Name: "ghost", Path: "/no/such/binary"})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}

	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("not a SpawnError: %T", err)
	}
	if se.Name != "ghost" {
		t.Errorf("spawn error name: %s", se.Name)
	}
}

func TestChildExitNotification(t *testing.T) {
	t.Parallel()

	s := newSupervisor(t, config.LogPretty, &syncBuffer{})
	child, err := s.Start(shSpec("quick", "exit 7"))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case exit := <-s.Exits():
		if exit.Name != "quick" || exit.Code != 7 {
			t.Errorf("exit event: %+v", exit)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no exit notification")
	}

	exited, code := child.Exited()
	if !exited || code != 7 {
		t.Errorf("child exit state: %v %d", exited, code)
	}
}

func TestStdoutLinesBecomeInfoStderrError(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	s := newSupervisor(t, config.LogJSON, out)
	child, err := s.Start(shSpec("talker", `echo out-line; echo err-line >&2`))
	if err != nil {
		t.Fatal(err)
	}
	child.Wait()
	s.wg.Wait()

	var sawInfo, sawError bool
	for line := range strings.SplitSeq(strings.TrimSpace(out.String()), "\n") {
		var rec struct {
			SeverityText string         `json:"severityText"`
			Body         string         `json:"body"`
			Attributes   map[string]any `json:"attributes"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("non-JSON log line %q: %v", line, err)
		}
		if rec.Attributes["component"] != "talker" {
			continue
		}
		switch rec.Body {
		case "out-line":
			sawInfo = rec.SeverityText == "INFO"
		case "err-line":
			sawError = rec.SeverityText == "ERROR"
		}
	}
	if !sawInfo || !sawError {
		t.Errorf("stream levels wrong (info=%v error=%v):\n%s", sawInfo, sawError, out.String())
	}
}

func TestOTELPassthroughInJSONMode(t *testing.T) {
	t.Parallel()

	otelLine := `{"timeUnixNano":"42","severityText":"INFO","body":"from-child","resource":{"service.name":"opencode"}}`

	out := &syncBuffer{}
	s := newSupervisor(t, config.LogJSON, out)
	child, err := s.Start(shSpec("structured", "echo '"+otelLine+"'"))
	if err != nil {
		t.Fatal(err)
	}
	child.Wait()
	s.wg.Wait()

	if !strings.Contains(out.String(), otelLine) {
		t.Fatalf("OTEL line was re-wrapped:\n%s", out.String())
	}
}

func TestOTELLineWrappedInPrettyMode(t *testing.T) {
	t.Parallel()

	otelLine := `{"timeUnixNano":"42","severityText":"INFO","body":"from-child"}`

	out := &syncBuffer{}
	s := newSupervisor(t, config.LogPretty, out)
	child, err := s.Start(shSpec("structured", "echo '"+otelLine+"'"))
	if err != nil {
		t.Fatal(err)
	}
	child.Wait()
	s.wg.Wait()

	// Pretty mode treats the JSON as an opaque message line.
	if !strings.Contains(out.String(), "timeUnixNano") {
		t.Fatalf("expected raw JSON inside pretty line:\n%s", out.String())
	}
}

func TestStopGraceful(t *testing.T) {
	t.Parallel()

	s := newSupervisor(t, config.LogPretty, &syncBuffer{})
	// The child exits promptly on TERM.
	child, err := s.Start(shSpec("cooperative", `trap 'exit 0' TERM; while true; do sleep 0.05; done`))
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond) // let the trap install

	start := time.Now()
	s.Stop(context.Background(), child)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("graceful stop took %s; force-kill path suspected", elapsed)
	}

	exited, _ := child.Exited()
	if !exited {
		t.Error("child not recorded as exited")
	}
}

func TestShutdownAllIdempotent(t *testing.T) {
	t.Parallel()

	s := newSupervisor(t, config.LogPretty, &syncBuffer{})
	if _, err := s.Start(shSpec("a", "sleep 30")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Start(shSpec("b", "sleep 30")); err != nil {
		t.Fatal(err)
	}

	var cleanups int
	s.OnShutdown(func(context.Context) error {
		cleanups++
		return nil
	})

	s.ShutdownAll(context.Background())
	s.ShutdownAll(context.Background())

	if cleanups != 1 {
		t.Errorf("cleanup hook ran %d times, want 1", cleanups)
	}
	for _, child := range s.Children() {
		if exited, _ := child.Exited(); !exited {
			t.Errorf("child %s still running after shutdown", child.Name)
		}
	}
	if s.Run().State() != StateTerminated {
		t.Errorf("run state: %s", s.Run().State())
	}
}

func TestDetachSuppressesExitEvents(t *testing.T) {
	t.Parallel()

	s := newSupervisor(t, config.LogPretty, &syncBuffer{})
	s.Run().MarkRunning()
	s.Run().MarkHealthy()

	child, err := s.Start(shSpec("detachee", "sleep 0.2"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Detach(); err != nil {
		t.Fatal(err)
	}

	child.Wait()
	select {
	case exit := <-s.Exits():
		t.Fatalf("exit event after detach: %+v", exit)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDetachRequiresHealthy(t *testing.T) {
	t.Parallel()

	s := newSupervisor(t, config.LogPretty, &syncBuffer{})
	if err := s.Detach(); err == nil {
		t.Fatal("detach from starting state must fail")
	}
}

func TestRunStateMachine(t *testing.T) {
	t.Parallel()

	r := NewRun()
	if r.State() != StateStarting {
		t.Fatalf("initial state: %s", r.State())
	}
	if !r.MarkRunning() || !r.MarkHealthy() {
		t.Fatal("forward transitions failed")
	}
	if !r.BeginShutdown(3) {
		t.Fatal("BeginShutdown from healthy failed")
	}
	if r.BeginShutdown(9) {
		t.Fatal("second BeginShutdown must be refused")
	}
	if r.ExitCode() != 3 {
		t.Errorf("exit code: %d, want first caller's 3", r.ExitCode())
	}

	detached := NewRun()
	detached.MarkRunning()
	detached.MarkHealthy()
	detached.MarkDetached()
	if detached.BeginShutdown(1) {
		t.Error("shutdown must not start on a detached run")
	}
}
