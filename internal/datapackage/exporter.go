package datapackage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lcacore/internal/blob"
	"lcacore/pkg/domain"
)

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// ExportArtifact captures one stored datapackage resource.
type ExportArtifact struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExportRecord tracks an export request and its resulting artifacts.
type ExportRecord struct {
	ID          string           `json:"id"`
	DatabaseID  string           `json:"database_id"`
	Status      ExportStatus     `json:"status"`
	Error       string           `json:"error,omitempty"`
	Artifacts   []ExportArtifact `json:"artifacts,omitempty"`
	RequestedBy string           `json:"requested_by"`
	Reason      string           `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ExportInput represents an enqueue request for the worker.
type ExportInput struct {
	DatabaseID  string
	RequestedBy string
	Reason      string
}

// ExportScheduler queues datapackage export requests and exposes status.
type ExportScheduler interface {
	EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error)
	GetExport(id string) (ExportRecord, bool)
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures audit trail metadata for exports.
type AuditEntry struct {
	ID         string       `json:"id"`
	Action     string       `json:"action"`
	Actor      string       `json:"actor"`
	DatabaseID string       `json:"database_id"`
	Status     ExportStatus `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	Note       string       `json:"note,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

const auditAction = "datapackage_export"

// Worker processes datapackage exports asynchronously: it builds the matrix
// resources from committed state, publishes them to the artifact store, and
// clears the database dirty flag on success.
type Worker struct {
	store     domain.PersistentStore
	artifacts blob.Store
	audit     AuditLogger

	queue chan exportTask
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type exportTask struct {
	id    string
	input ExportInput
}

// NewWorker constructs an export worker.
func NewWorker(store domain.PersistentStore, artifacts blob.Store, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		store:     store,
		artifacts: artifacts,
		audit:     audit,
		queue:     make(chan exportTask, 32),
		jobs:      make(map[string]*ExportRecord),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// EnqueueExport schedules an export job and returns the queued record.
func (w *Worker) EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error) {
	if strings.TrimSpace(input.DatabaseID) == "" {
		return ExportRecord{}, fmt.Errorf("database id required")
	}
	if _, ok := w.store.GetDatabase(input.DatabaseID); !ok {
		return ExportRecord{}, fmt.Errorf("database %s not found", input.DatabaseID)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	record := ExportRecord{
		ID:          id,
		DatabaseID:  input.DatabaseID,
		Status:      ExportStatusQueued,
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queued := record.copy()
	w.mu.Unlock()

	w.record(ctx, id, ExportStatusQueued, "")

	select {
	case w.queue <- exportTask{id: id, input: input}:
	default:
		w.fail(id, "export queue full")
		return ExportRecord{}, fmt.Errorf("export queue full")
	}
	return queued, nil
}

// GetExport returns a snapshot of the export record.
func (w *Worker) GetExport(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(task exportTask) {
	w.updateStatus(task.id, ExportStatusRunning, "")

	var pkg Package
	err := w.store.View(w.ctx, func(view domain.TransactionView) error {
		var err error
		pkg, err = Build(view, task.input.DatabaseID)
		return err
	})
	if err != nil {
		w.fail(task.id, fmt.Sprintf("build datapackage: %v", err))
		return
	}

	artifacts, err := w.publish(task.id, pkg)
	if err != nil {
		w.fail(task.id, err.Error())
		return
	}

	// Successful export clears the dirty flag and stamps the processing time.
	now := time.Now().UTC()
	if _, err := w.store.RunInTransaction(w.ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateDatabase(task.input.DatabaseID, func(db *domain.Database) error {
			db.Dirty = false
			db.ProcessedAt = &now
			return nil
		})
		return err
	}); err != nil {
		w.fail(task.id, fmt.Sprintf("mark database processed: %v", err))
		return
	}

	w.complete(task.id, artifacts)
}

// publish serializes the package into a manifest plus one resource file per
// matrix and stores everything under a per-record key prefix.
func (w *Worker) publish(recordID string, pkg Package) ([]ExportArtifact, error) {
	prefix := fmt.Sprintf("exports/%s/%s", pkg.DatabaseName, recordID)

	type resourceFile struct {
		name string
		rows []MatrixRow
	}
	files := []resourceFile{
		{name: "technosphere.json", rows: pkg.Technosphere},
		{name: "biosphere.json", rows: pkg.Biosphere},
	}

	man := manifest{
		Profile:  "data-package",
		Name:     pkg.DatabaseName,
		ID:       recordID,
		Created:  pkg.CreatedAt,
		Warnings: pkg.Warnings,
	}
	var artifacts []ExportArtifact
	for _, file := range files {
		payload, err := json.MarshalIndent(file.rows, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", file.name, err)
		}
		info, err := w.put(prefix+"/"+file.name, payload)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifactFrom(info))
		man.Resources = append(man.Resources, resource{
			Name:      strings.TrimSuffix(file.name, ".json"),
			Path:      file.name,
			Mediatype: "application/json",
			Rows:      len(file.rows),
		})
	}

	payload, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	info, err := w.put(prefix+"/datapackage.json", payload)
	if err != nil {
		return nil, err
	}
	artifacts = append([]ExportArtifact{artifactFrom(info)}, artifacts...)
	return artifacts, nil
}

func (w *Worker) put(key string, payload []byte) (blob.Info, error) {
	info, err := w.artifacts.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: "application/json"})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store %s: %w", key, err)
	}
	return info, nil
}

type manifest struct {
	Profile   string     `json:"profile"`
	Name      string     `json:"name"`
	ID        string     `json:"id"`
	Created   time.Time  `json:"created"`
	Resources []resource `json:"resources"`
	Warnings  []string   `json:"warnings,omitempty"`
}

type resource struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Mediatype string `json:"mediatype"`
	Rows      int    `json:"rows"`
}

func artifactFrom(info blob.Info) ExportArtifact {
	return ExportArtifact{
		Key:         info.Key,
		ContentType: info.ContentType,
		SizeBytes:   info.Size,
		URL:         info.URL,
		CreatedAt:   info.LastModified,
	}
}

func (w *Worker) updateStatus(id string, status ExportStatus, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
	w.mu.Unlock()
	w.record(w.ctx, id, status, message)
}

func (w *Worker) complete(id string, artifacts []ExportArtifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.record(w.ctx, id, ExportStatusSucceeded, "")
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.record(w.ctx, id, ExportStatusFailed, reason)
}

func (w *Worker) record(ctx context.Context, id string, status ExportStatus, note string) {
	if w.audit == nil {
		return
	}
	w.mu.RLock()
	var actor, databaseID, reason string
	if record, ok := w.jobs[id]; ok {
		actor, databaseID, reason = record.RequestedBy, record.DatabaseID, record.Reason
	}
	w.mu.RUnlock()
	w.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		Action:     auditAction,
		Actor:      actor,
		DatabaseID: databaseID,
		Status:     status,
		Reason:     reason,
		Note:       note,
		OccurredAt: time.Now().UTC(),
	})
}

func (r ExportRecord) copy() ExportRecord {
	dup := r
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]ExportArtifact(nil), r.Artifacts...)
	}
	return dup
}

// MemoryAuditLog captures audit entries in-memory for assertions.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a defensive copy of recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
