// SPDX-License-Identifier: MPL-2.0

package orchestrate

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/openwork/openwork/internal/config"
	"github.com/openwork/openwork/internal/logging"
	"github.com/openwork/openwork/internal/resolve"
	"github.com/openwork/openwork/internal/state"
)

func testOrchestrator(t *testing.T, buf *bytes.Buffer) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	log := logging.New(logging.Options{
		Format: config.LogJSON,
		Color:  config.ColorNever,
		RunID:  "run-123",
		Out:    buf,
	})
	return New(cfg, log)
}

func TestAppServerArgs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	o := testOrchestrator(t, &buf)
	o.cfg.ReadOnly = true
	o.cfg.CORS = []string{"https://app.example.com"}
	o.cfg.ApprovalTimeout = 90 * time.Second

	args := o.appServerArgs("/tmp/ws", 4110, "tok", "host-tok", "127.0.0.1", 4096)
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--workspace /tmp/ws",
		"--port 4110",
		"--token tok",
		"--host-token host-tok",
		"--approval-mode ask",
		"--approval-timeout 90",
		"--opencode-host 127.0.0.1",
		"--opencode-port 4096",
		"--read-only",
		"--cors https://app.example.com",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
}

func TestTokenOrGenerate(t *testing.T) {
	t.Parallel()

	if got, err := tokenOrGenerate("explicit"); err != nil || got != "explicit" {
		t.Errorf("explicit token: %q %v", got, err)
	}

	a, err := tokenOrGenerate("")
	if err != nil || len(a) != 64 {
		t.Fatalf("generated token: %q %v", a, err)
	}
	b, _ := tokenOrGenerate("")
	if a == b {
		t.Error("two generated tokens collided")
	}
}

func TestEmitReadyShape(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	o := testOrchestrator(t, &buf)

	o.emitReady(&Result{
		EnginePort:    4096,
		AppServerPort: 4110,
		Token:         "tok123",
		LANURL:        "http://192.168.1.10:4110",
		Binaries: map[string]state.BinaryDiagnostic{
			resolve.EngineBinary: {
				Source:          "bundled",
				ExpectedVersion: "1.2.3",
				ActualVersion:   "1.2.3",
			},
		},
	})

	var rec struct {
		Body       string         `json:"body"`
		Attributes map[string]any `json:"attributes"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("ready line is not JSON: %v\n%s", err, buf.String())
	}
	if rec.Body != "ready" {
		t.Errorf("body: %q", rec.Body)
	}
	if rec.Attributes["opencode.port"] != float64(4096) {
		t.Errorf("opencode.port: %v", rec.Attributes["opencode.port"])
	}
	if rec.Attributes["openwork.port"] != float64(4110) {
		t.Errorf("openwork.port: %v", rec.Attributes["openwork.port"])
	}
	if rec.Attributes["openwork.token"] != "tok123" {
		t.Errorf("openwork.token: %v", rec.Attributes["openwork.token"])
	}

	diags, ok := rec.Attributes["diagnostics"].(map[string]any)
	if !ok {
		t.Fatalf("diagnostics missing: %v", rec.Attributes)
	}
	binaries := diags["binaries"].(map[string]any)
	engine := binaries[resolve.EngineBinary].(map[string]any)
	if engine["actualVersion"] != "1.2.3" || engine["expectedVersion"] != "1.2.3" {
		t.Errorf("engine diagnostics: %v", engine)
	}
}

func TestWatchSignalExitsZero(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	o := testOrchestrator(t, &buf)
	o.sup.Run().MarkRunning()
	o.sup.Run().MarkHealthy()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code := o.Watch(ctx); code != 0 {
		t.Errorf("signal path exit code: %d, want 0", code)
	}
}

func TestBinaryDiagnostics(t *testing.T) {
	t.Parallel()

	got := binaryDiagnostics(
		&resolve.ResolvedBinary{Name: "opencode", Source: resolve.SourceDownloaded, Path: "/cache/opencode", ExpectedVersion: "1.2.3", ActualVersion: "1.2.3"},
		&resolve.ResolvedBinary{Name: "openwork-server", Source: resolve.SourceBundled, Path: "/bin/openwork-server"},
	)
	if len(got) != 2 {
		t.Fatalf("diagnostics: %v", got)
	}
	if got["opencode"].Source != "downloaded" || got["openwork-server"].Source != "bundled" {
		t.Errorf("sources: %v", got)
	}
}
