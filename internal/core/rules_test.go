package core

import (
	"context"
	"errors"
	"testing"

	"lcacore/pkg/domain"
)

func TestProcessingEdgeRuleBlocksDuplicates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	db, _, _ := svc.RegisterDatabase(ctx, Database{Name: "lci"})
	proc, _, _ := svc.CreateProcess(ctx, Process{DatabaseID: db.ID, Name: "smelting"})
	steel, _, err := svc.NewProduct(ctx, proc.ID, "steel", "kg", 1, nil)
	if err != nil {
		t.Fatalf("product: %v", err)
	}

	_, _, err = svc.CreateExchange(ctx, Exchange{
		DatabaseID: db.ID,
		InputID:    steel.ID,
		OutputID:   proc.ID,
		Type:       domain.ExchangeProduction,
		Amount:     2,
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	found := false
	for _, v := range violation.Result.Violations {
		if v.Rule == "single_processing_edge" && v.EntityID == steel.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("violation does not name the function: %+v", violation.Result.Violations)
	}
}

func TestDerivedViewRuleBlocksUnlinkedViews(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	db, _, _ := svc.RegisterDatabase(ctx, Database{Name: "lci"})

	_, _, err := svc.CreateProcess(ctx, Process{
		DatabaseID: db.ID,
		Name:       "dangling view",
		Type:       domain.ProcessTypeReadOnly,
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
}

func TestAllocationFactorRuleWarnsOnDrift(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, proc, heat, power := seedCHP(t, svc, "equal")

	if _, _, err := svc.AllocateProcess(ctx, proc.ID); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	// Tampering with one stored factor breaks the sum without blocking.
	_, res, err := svc.UpdateFunction(ctx, heat.ID, func(f *Function) error {
		f.AllocationFactor = 0.9
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	warned := false
	for _, v := range res.Violations {
		if v.Rule == "allocation_factor_sum" && v.Severity == domain.SeverityWarn && v.EntityID == proc.ID {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected drift warning, got %+v", res.Violations)
	}

	// Restoring the complement clears the warning.
	_, res, err = svc.UpdateFunction(ctx, power.ID, func(f *Function) error {
		f.AllocationFactor = 0.1
		return nil
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	for _, v := range res.Violations {
		if v.Rule == "allocation_factor_sum" {
			t.Fatalf("unexpected warning after restore: %+v", v)
		}
	}
}
