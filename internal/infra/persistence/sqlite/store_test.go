package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"lcacore/pkg/domain"
)

func newTempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	store, path := newTempStore(t)
	ctx := context.Background()

	var db domain.Database
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		if db, err = tx.CreateDatabase(domain.Database{Name: "lci", DefaultAllocation: "equal"}); err != nil {
			return err
		}
		p, err := tx.CreateProcess(domain.Process{DatabaseID: db.ID, Name: "smelting", Type: domain.ProcessTypeProcess})
		if err != nil {
			return err
		}
		fn, err := tx.CreateFunction(domain.Function{DatabaseID: db.ID, ProcessorID: p.ID, Name: "steel", Type: domain.FunctionTypeProduct})
		if err != nil {
			return err
		}
		_, err = tx.CreateExchange(domain.Exchange{DatabaseID: db.ID, InputID: fn.ID, OutputID: p.ID, Type: domain.ExchangeProduction, Amount: 1})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, ok := reopened.GetDatabase(db.ID)
	if !ok {
		t.Fatalf("database missing after reopen")
	}
	if got.DefaultAllocation != "equal" {
		t.Fatalf("default allocation = %q, want equal", got.DefaultAllocation)
	}
	if len(reopened.ListProcesses()) != 1 || len(reopened.ListFunctions()) != 1 || len(reopened.ListExchanges()) != 1 {
		t.Fatalf("unexpected counts after reopen: %d processes, %d functions, %d exchanges",
			len(reopened.ListProcesses()), len(reopened.ListFunctions()), len(reopened.ListExchanges()))
	}
}

func TestFailedTransactionDoesNotPersist(t *testing.T) {
	store, path := newTempStore(t)
	ctx := context.Background()

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateProcess(domain.Process{DatabaseID: "missing", Name: "orphan"})
		return err
	}); err == nil {
		t.Fatalf("expected transaction failure")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if got := len(reopened.ListProcesses()); got != 0 {
		t.Fatalf("failed transaction persisted %d processes", got)
	}
}

func TestDefaultPath(t *testing.T) {
	store, path := newTempStore(t)
	if store.Path() != path {
		t.Fatalf("path = %q, want %q", store.Path(), path)
	}
}
