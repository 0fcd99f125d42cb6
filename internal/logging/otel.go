// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// OTEL severity numbers for the four levels the orchestrator uses.
// https://opentelemetry.io/docs/specs/otel/logs/data-model/#field-severitynumber
const (
	severityDebug = 5
	severityInfo  = 9
	severityWarn  = 13
	severityError = 17
)

// envResourceAttributes is the standard OTEL resource attribute variable,
// merged into every record's resource.
const envResourceAttributes = "OTEL_RESOURCE_ATTRIBUTES"

// otelRecord is the wire shape of a JSON log line.
type otelRecord struct {
	TimeUnixNano   string         `json:"timeUnixNano"`
	SeverityText   string         `json:"severityText"`
	SeverityNumber int            `json:"severityNumber"`
	Body           string         `json:"body"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	Resource       map[string]any `json:"resource"`
}

// severityNumber maps a Level to its OTEL severity number.
func severityNumber(l Level) int {
	switch l {
	case LevelDebug:
		return severityDebug
	case LevelInfo:
		return severityInfo
	case LevelWarn:
		return severityWarn
	case LevelError:
		return severityError
	}
	return severityInfo
}

// resourceAttributes builds the per-run resource map: service identity, run
// id, host name, plus anything the caller set in OTEL_RESOURCE_ATTRIBUTES
// (comma-separated key=value pairs, per the OTEL SDK convention).
func resourceAttributes(runID string) map[string]any {
	res := map[string]any{
		"service.name":        "openwork",
		"service.instance.id": runID,
	}
	if host, err := os.Hostname(); err == nil {
		res["host.name"] = host
	}
	for pair := range strings.SplitSeq(os.Getenv(envResourceAttributes), ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || key == "" {
			continue
		}
		res[key] = value
	}
	return res
}

// writeJSON encodes and writes one OTEL-shaped record. The mutex keeps
// records from interleaving when handlers and stdio pumps log concurrently.
func (l *Logger) writeJSON(level Level, msg string, attrs map[string]any) {
	rec := otelRecord{
		TimeUnixNano:   strconv.FormatInt(time.Now().UnixNano(), 10),
		SeverityText:   strings.ToUpper(level.String()),
		SeverityNumber: severityNumber(level),
		Body:           msg,
		Attributes:     attrs,
		Resource:       l.resource,
	}
	if l.component != "" {
		if rec.Attributes == nil {
			rec.Attributes = map[string]any{}
		}
		rec.Attributes["component"] = l.component
	}

	data, err := json.Marshal(rec)
	if err != nil {
		// A record that cannot marshal (exotic attribute type) still must not
		// vanish; fall back to the body alone.
		data, _ = json.Marshal(otelRecord{
			TimeUnixNano:   rec.TimeUnixNano,
			SeverityText:   rec.SeverityText,
			SeverityNumber: rec.SeverityNumber,
			Body:           msg,
			Resource:       l.resource,
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}

// IsOTELLine reports whether a child's output line already parses as an
// OTEL-shaped log record. Such lines are passed through verbatim in JSON
// mode instead of being re-wrapped.
func IsOTELLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	var probe struct {
		TimeUnixNano string          `json:"timeUnixNano"`
		SeverityText string          `json:"severityText"`
		Body         json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return false
	}
	return probe.TimeUnixNano != "" && (probe.SeverityText != "" || len(probe.Body) > 0)
}
