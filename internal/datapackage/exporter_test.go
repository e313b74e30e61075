package datapackage

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"lcacore/internal/blob"
)

func waitForTerminal(t *testing.T, w *Worker, id string) ExportRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, ok := w.GetExport(id)
		if ok && (record.Status == ExportStatusSucceeded || record.Status == ExportStatusFailed) {
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("export %s did not finish", id)
	return ExportRecord{}
}

func TestWorkerExportsDatapackage(t *testing.T) {
	svc, db, _ := seedAllocated(t)
	store := blob.NewMemory()
	audit := &MemoryAuditLog{}

	worker := NewWorker(svc.Store(), store, audit)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	record, err := worker.EnqueueExport(context.Background(), ExportInput{
		DatabaseID:  db.ID,
		RequestedBy: "nightly",
		Reason:      "matrix refresh",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if record.Status != ExportStatusQueued {
		t.Fatalf("queued status = %s", record.Status)
	}

	final := waitForTerminal(t, worker, record.ID)
	if final.Status != ExportStatusSucceeded {
		t.Fatalf("status = %s, error = %s", final.Status, final.Error)
	}
	if len(final.Artifacts) != 3 {
		t.Fatalf("artifacts = %d, want manifest + 2 resources", len(final.Artifacts))
	}
	if !strings.HasSuffix(final.Artifacts[0].Key, "datapackage.json") {
		t.Fatalf("first artifact = %q, want manifest", final.Artifacts[0].Key)
	}

	// Manifest references both matrix resources.
	_, rc, err := store.Get(context.Background(), final.Artifacts[0].Key)
	if err != nil {
		t.Fatalf("get manifest: %v", err)
	}
	raw, _ := io.ReadAll(rc)
	_ = rc.Close()
	var man manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if man.Profile != "data-package" || len(man.Resources) != 2 {
		t.Fatalf("unexpected manifest: %+v", man)
	}

	// Success clears the dirty flag and stamps ProcessedAt.
	got, _ := svc.Store().GetDatabase(db.ID)
	if got.Dirty {
		t.Fatalf("database still dirty after export")
	}
	if got.ProcessedAt == nil {
		t.Fatalf("ProcessedAt not stamped")
	}

	statuses := make(map[ExportStatus]bool)
	for _, entry := range audit.Entries() {
		if entry.Action != auditAction || entry.DatabaseID != db.ID {
			t.Fatalf("unexpected audit entry: %+v", entry)
		}
		statuses[entry.Status] = true
	}
	for _, want := range []ExportStatus{ExportStatusQueued, ExportStatusRunning, ExportStatusSucceeded} {
		if !statuses[want] {
			t.Fatalf("missing audit status %s, have %v", want, statuses)
		}
	}
}

func TestWorkerRejectsUnknownDatabase(t *testing.T) {
	svc, _, _ := seedAllocated(t)
	worker := NewWorker(svc.Store(), blob.NewMemory(), nil)
	if _, err := worker.EnqueueExport(context.Background(), ExportInput{DatabaseID: "missing"}); err == nil {
		t.Fatalf("expected unknown database to be rejected")
	}
	if _, err := worker.EnqueueExport(context.Background(), ExportInput{}); err == nil {
		t.Fatalf("expected empty database id to be rejected")
	}
}

func TestWorkerReportsBuildFailure(t *testing.T) {
	svc, db, proc := seedAllocated(t)
	ctx := context.Background()

	// Remove the derived views so the multifunctional parent is unallocated.
	derived, err := svc.DerivedProcesses(ctx, proc.ID)
	if err != nil {
		t.Fatalf("derived: %v", err)
	}
	for _, view := range derived {
		if _, err := svc.DeleteProcess(ctx, view.ID); err != nil {
			t.Fatalf("delete derived: %v", err)
		}
	}

	worker := NewWorker(svc.Store(), blob.NewMemory(), nil)
	worker.Start()
	defer func() { _ = worker.Stop(ctx) }()

	record, err := worker.EnqueueExport(ctx, ExportInput{DatabaseID: db.ID})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	final := waitForTerminal(t, worker, record.ID)
	if final.Status != ExportStatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.Error, "not allocated") {
		t.Fatalf("error = %q", final.Error)
	}
}
