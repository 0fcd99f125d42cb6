// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/openwork/openwork/internal/config"
)

func newJSONLogger(t *testing.T, buf *bytes.Buffer) *Logger {
	t.Helper()
	return New(Options{
		Format: config.LogJSON,
		Color:  config.ColorNever,
		RunID:  "11111111-2222-3333-4444-555555555555",
		Out:    buf,
	})
}

func TestJSONRecordShape(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	before := time.Now().UnixNano()
	l.Component("opencode").Warn("version mismatch", "expected", "1.2.3", "actual", "9.9.9")
	after := time.Now().UnixNano()

	var rec otelRecord
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}

	if rec.SeverityText != "WARN" {
		t.Errorf("severityText: got %q, want WARN", rec.SeverityText)
	}
	if rec.SeverityNumber != severityWarn {
		t.Errorf("severityNumber: got %d, want %d", rec.SeverityNumber, severityWarn)
	}
	if rec.Body != "version mismatch" {
		t.Errorf("body: got %q", rec.Body)
	}
	if rec.Attributes["component"] != "opencode" {
		t.Errorf("component attribute: got %v", rec.Attributes["component"])
	}
	if rec.Attributes["expected"] != "1.2.3" || rec.Attributes["actual"] != "9.9.9" {
		t.Errorf("keyval attributes missing: %v", rec.Attributes)
	}

	ns, err := strconv.ParseInt(rec.TimeUnixNano, 10, 64)
	if err != nil {
		t.Fatalf("timeUnixNano not numeric: %q", rec.TimeUnixNano)
	}
	if ns < before || ns > after {
		t.Errorf("timeUnixNano %d outside [%d, %d]", ns, before, after)
	}
}

func TestJSONResourceAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	l.Info("ready")

	var rec otelRecord
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Resource["service.name"] != "openwork" {
		t.Errorf("service.name: got %v", rec.Resource["service.name"])
	}
	if rec.Resource["service.instance.id"] != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("service.instance.id: got %v", rec.Resource["service.instance.id"])
	}
}

func TestDebugSuppressedUnlessVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	l.Debug("noise")
	if buf.Len() != 0 {
		t.Fatalf("debug written without verbose: %s", buf.String())
	}

	verbose := New(Options{Format: config.LogJSON, Color: config.ColorNever, Verbose: true, Out: &buf})
	verbose.Debug("signal")
	if !strings.Contains(buf.String(), "signal") {
		t.Fatalf("debug suppressed despite verbose")
	}
}

func TestPassthroughWritesVerbatim(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	line := `{"timeUnixNano":"123","severityText":"INFO","body":"child says hi"}`
	l.Passthrough(line)

	if got := strings.TrimSuffix(buf.String(), "\n"); got != line {
		t.Errorf("passthrough altered the line:\n got %s\nwant %s", got, line)
	}
}

func TestIsOTELLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want bool
	}{
		{"otel record", `{"timeUnixNano":"1","severityText":"INFO","body":"x"}`, true},
		{"otel with body only", `{"timeUnixNano":"1","body":"x"}`, true},
		{"plain json", `{"msg":"hello"}`, false},
		{"plain text", "starting engine", false},
		{"empty", "", false},
		{"truncated json", `{"timeUnixNano":"1",`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsOTELLine(tt.line); got != tt.want {
				t.Errorf("IsOTELLine(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}
