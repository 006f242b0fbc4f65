package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rabtrack/pkg/domain"
)

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "rabtrack_store_metrics_") {
		t.Fatalf("unexpected name %s", rec.Name())
	}
	ctx := context.Background()
	rec.Observe(ctx, "update_project", true, 2*time.Millisecond)
	rec.Observe(ctx, "update_project", false, 3*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)

	snap := rec.Snapshot()
	if snap.Results["update_project"]["success"] != 1 || snap.Results["update_project"]["error"] != 1 {
		t.Fatalf("unexpected results %v", snap.Results)
	}
	if snap.DurationsMS["update_project"] != 5 {
		t.Fatalf("unexpected durations %v", snap.DurationsMS)
	}
	v := expvar.Get(rec.Name())
	if v == nil || !strings.Contains(v.String(), "results_total") {
		t.Fatalf("recorder not published: %v", v)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	again, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("second recorder on same registry: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, "create_project", true, 10*time.Millisecond)
	again.Observe(ctx, "create_project", true, 10*time.Millisecond)
	rec.Observe(ctx, "create_project", false, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := map[string]float64{}
	var histogramSamples uint64
	for _, mf := range families {
		switch mf.GetName() {
		case "rabtrack_store_operations_total":
			for _, m := range mf.GetMetric() {
				labels := map[string]string{}
				for _, l := range m.GetLabel() {
					labels[l.GetName()] = l.GetValue()
				}
				counts[labels["operation"]+"/"+labels["status"]] = m.GetCounter().GetValue()
			}
		case "rabtrack_store_operation_duration_seconds":
			for _, m := range mf.GetMetric() {
				histogramSamples += m.GetHistogram().GetSampleCount()
			}
		}
	}
	if counts["create_project/success"] != 2 || counts["create_project/error"] != 1 {
		t.Fatalf("unexpected counters %v", counts)
	}
	if histogramSamples != 3 {
		t.Fatalf("expected 3 latency samples, got %d", histogramSamples)
	}
}

func TestJSONTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "soft_delete_project")
	span.End(errors.New("boom"))
	span.End(nil)

	entries := tracer.Entries()
	if len(entries) != 1 {
		t.Fatalf("span ended more than once: %+v", entries)
	}
	if entries[0].Status != "error" || entries[0].Error != "boom" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if decoded.Operation != "soft_delete_project" {
		t.Fatalf("unexpected line %+v", decoded)
	}
}

func TestLogAuditRecorder(t *testing.T) {
	logger := &captureLogger{}
	rec := LogAuditRecorder{Logger: logger}
	rec.Record(context.Background(), AuditEntry{Operation: "create_project", Entity: domain.EntityProject, Status: AuditStatusSuccess})
	rec.Record(context.Background(), AuditEntry{Operation: "create_project", Status: AuditStatusError, Error: "offline"})
	if !logger.has("info", "audit") || !logger.has("warn", "audit") {
		t.Fatalf("expected info and warn audit lines, got %+v", logger.entries)
	}
	LogAuditRecorder{}.Record(context.Background(), AuditEntry{})
}

func TestClockFuncNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	c := ClockFunc(func() time.Time { return time.Date(2024, 1, 1, 7, 0, 0, 0, loc) })
	if got := c.Now(); got.Location() != time.UTC || got.Hour() != 0 {
		t.Fatalf("unexpected time %v", got)
	}
	if ClockFunc(nil).Now().Location() != time.UTC {
		t.Fatalf("nil clock must report UTC")
	}
}
