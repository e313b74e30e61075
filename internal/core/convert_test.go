package core

import (
	"context"
	"testing"

	"lcacore/pkg/domain"
	"lcacore/pkg/extension"
)

func TestConvertDatabaseSplitsFunctionNodes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	db, _, err := svc.RegisterDatabase(ctx, Database{Name: "imported"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	// Conventional import: production modeled as a self-referential edge.
	proc, _, err := svc.CreateProcess(ctx, Process{DatabaseID: db.ID, Name: "steel production", Unit: "kg"})
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	if _, _, err := svc.CreateExchange(ctx, Exchange{
		DatabaseID: db.ID,
		InputID:    proc.ID,
		OutputID:   proc.ID,
		Type:       domain.ExchangeProduction,
		Amount:     1,
	}); err != nil {
		t.Fatalf("create self edge: %v", err)
	}

	converted, _, err := svc.ConvertDatabase(ctx, db.ID)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if converted != 1 {
		t.Fatalf("converted %d functions, want 1", converted)
	}

	got, _ := svc.Store().GetProcess(proc.ID)
	if got.Type != domain.ProcessTypeProcess {
		t.Fatalf("process type after convert = %s", got.Type)
	}
	functions := svc.Store().ListFunctions()
	if len(functions) != 1 {
		t.Fatalf("have %d functions, want 1", len(functions))
	}
	fn := functions[0]
	if fn.ProcessorID != proc.ID || fn.Name != "steel production" || fn.Unit != "kg" {
		t.Fatalf("unexpected function: %+v", fn)
	}
	if fn.Type != domain.FunctionTypeProduct {
		t.Fatalf("function type = %s", fn.Type)
	}
	provenance, ok := fn.Extensions.Get(extension.HookFunctionProvenance, "conversion")
	if !ok {
		t.Fatalf("split function carries no conversion provenance")
	}
	if provenance.(map[string]any)["process_id"] != proc.ID {
		t.Fatalf("provenance = %v", provenance)
	}
	for _, exc := range svc.Store().ListExchanges() {
		if exc.Type == domain.ExchangeProduction && exc.InputID == proc.ID {
			t.Fatalf("self-referential edge survived conversion")
		}
	}

	// Conversion is idempotent: a second pass finds nothing to split.
	converted, _, err = svc.ConvertDatabase(ctx, db.ID)
	if err != nil {
		t.Fatalf("second convert: %v", err)
	}
	if converted != 0 {
		t.Fatalf("second pass converted %d, want 0", converted)
	}
}

func TestConvertDatabaseNegativeEdgeBecomesWaste(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	db, _, _ := svc.RegisterDatabase(ctx, Database{Name: "imported"})
	proc, _, _ := svc.CreateProcess(ctx, Process{DatabaseID: db.ID, Name: "incineration", Unit: "kg"})
	if _, _, err := svc.CreateExchange(ctx, Exchange{
		DatabaseID: db.ID,
		InputID:    proc.ID,
		OutputID:   proc.ID,
		Type:       domain.ExchangeProduction,
		Amount:     -1,
	}); err != nil {
		t.Fatalf("create self edge: %v", err)
	}

	if _, _, err := svc.ConvertDatabase(ctx, db.ID); err != nil {
		t.Fatalf("convert: %v", err)
	}
	functions := svc.Store().ListFunctions()
	if len(functions) != 1 || functions[0].Type != domain.FunctionTypeWaste {
		t.Fatalf("expected one waste function, got %+v", functions)
	}
}
