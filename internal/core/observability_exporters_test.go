package core

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	ctx := context.Background()

	rec.Observe(ctx, "allocate_process", true, 20*time.Millisecond)
	rec.Observe(ctx, "allocate_process", true, 30*time.Millisecond)
	rec.Observe(ctx, "allocate_process", false, 5*time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond) // ignored

	snap := rec.Snapshot()
	if got := snap.DurationsMS["allocate_process"]; got != 55 {
		t.Fatalf("duration total = %v, want 55", got)
	}
	if got := snap.Results["allocate_process"]["success"]; got != 2 {
		t.Fatalf("success count = %d, want 2", got)
	}
	if got := snap.Results["allocate_process"]["error"]; got != 1 {
		t.Fatalf("error count = %d, want 1", got)
	}
	if rec.Name() == "" {
		t.Fatalf("expected generated export name")
	}
}

func TestPrometheusMetricsRecorderExports(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()

	rec.Observe(ctx, "allocate_database", true, 10*time.Millisecond)
	rec.Observe(ctx, "allocate_database", false, 10*time.Millisecond)

	if got := testutil.ToFloat64(rec.results.WithLabelValues("allocate_database", "success")); got != 1 {
		t.Fatalf("success counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.results.WithLabelValues("allocate_database", "error")); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(rec.durations, "lcacore_service_operation_duration_seconds"); count != 1 {
		t.Fatalf("histogram series = %d, want 1", count)
	}
}

func TestPrometheusMetricsRecorderDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusMetricsRecorder(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
