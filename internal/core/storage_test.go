package core

import (
	"context"
	"path/filepath"
	"testing"

	"lcacore/internal/infra/persistence/memory"
	"lcacore/internal/infra/persistence/sqlite"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	t.Setenv("LCACORE_STORAGE_DRIVER", "memory")
	store, err := OpenPersistentStore(nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("store type = %T, want memory", store)
	}
}

func TestOpenPersistentStoreSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	t.Setenv("LCACORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("LCACORE_SQLITE_PATH", path)
	store, err := OpenPersistentStore(nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("store type = %T, want sqlite", store)
	}
	defer func() { _ = s.Close() }()
	if s.Path() != path {
		t.Fatalf("path = %q, want %q", s.Path(), path)
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	t.Setenv("LCACORE_STORAGE_DRIVER", "bogus")
	if _, err := OpenPersistentStore(nil); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestSQLiteStoreWorksThroughService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := sqlite.NewStore(path, DefaultRulesEngine())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = store.Close() }()

	svc := NewService(store)
	ctx := context.Background()
	db, _, err := svc.RegisterDatabase(ctx, Database{Name: "durable"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	proc, _, err := svc.CreateProcess(ctx, Process{DatabaseID: db.ID, Name: "CHP"})
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	if _, _, err := svc.NewProduct(ctx, proc.ID, "heat", "MJ", 2, nil); err != nil {
		t.Fatalf("product: %v", err)
	}
	if _, _, err := svc.NewProduct(ctx, proc.ID, "power", "kWh", 4, nil); err != nil {
		t.Fatalf("product: %v", err)
	}
	if _, _, err := svc.AllocateProcess(ctx, proc.ID); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	reopened, err := sqlite.NewStore(path, DefaultRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	derived := 0
	for _, p := range reopened.ListProcesses() {
		if p.ParentID != nil && *p.ParentID == proc.ID {
			derived++
		}
	}
	if derived != 2 {
		t.Fatalf("derived views after reopen = %d, want 2", derived)
	}
}
