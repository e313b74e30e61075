package core

import (
	"context"
	"math"

	"lcacore/pkg/allocation"
	"lcacore/pkg/domain"
)

// DefaultRulesEngine returns the engine with the built-in schema rules
// registered. Hosts can register additional rules before opening a store.
func DefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(ProcessingEdgeRule{})
	engine.Register(DerivedViewRule{})
	engine.Register(AllocationFactorRule{})
	return engine
}

// ProcessingEdgeRule blocks commits that leave a function with more than one
// processing edge. A function belongs to exactly one processor.
type ProcessingEdgeRule struct{}

func (ProcessingEdgeRule) Name() string { return "single_processing_edge" }

func (ProcessingEdgeRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	edges := make(map[string]int)
	for _, exc := range view.ListExchanges() {
		if exc.Type != domain.ExchangeProduction {
			continue
		}
		if _, ok := view.FindFunction(exc.InputID); ok {
			edges[exc.InputID]++
		}
	}
	var result domain.Result
	for functionID, count := range edges {
		if count <= 1 {
			continue
		}
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "single_processing_edge",
			Severity: domain.SeverityBlock,
			Message:  "function has more than one processing edge",
			Entity:   domain.EntityFunction,
			EntityID: functionID,
		})
	}
	return result, nil
}

// DerivedViewRule blocks read-only processes that lost their parent or
// function link. Derived views are regenerated, never repaired in place.
type DerivedViewRule struct{}

func (DerivedViewRule) Name() string { return "derived_view_integrity" }

func (DerivedViewRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	var result domain.Result
	for _, proc := range view.ListProcesses() {
		if proc.Type != domain.ProcessTypeReadOnly {
			continue
		}
		ok := proc.ParentID != nil && proc.FunctionID != nil
		if ok {
			_, parentExists := view.FindProcess(*proc.ParentID)
			_, functionExists := view.FindFunction(*proc.FunctionID)
			ok = parentExists && functionExists
		}
		if !ok {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     "derived_view_integrity",
				Severity: domain.SeverityBlock,
				Message:  "derived view lacks a valid parent or function link",
				Entity:   domain.EntityProcess,
				EntityID: proc.ID,
			})
		}
	}
	return result, nil
}

// factorSumTolerance bounds the accepted deviation of normalized factors from 1.
const factorSumTolerance = 1e-6

// AllocationFactorRule warns when the stored allocation factors of a
// multifunctional process no longer sum to one. Manual allocation is exempt:
// its factors are raw values by definition.
type AllocationFactorRule struct{}

func (AllocationFactorRule) Name() string { return "allocation_factor_sum" }

func (AllocationFactorRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	var result domain.Result
	for _, proc := range view.ListProcesses() {
		if proc.Type != domain.ProcessTypeMultifunctional {
			continue
		}
		label := proc.Allocation
		if label == "" {
			if db, ok := view.FindDatabase(proc.DatabaseID); ok {
				label = db.DefaultAllocation
			}
		}
		if label == allocation.ManualLabel {
			continue
		}
		var sum float64
		var stamped, total int
		for _, fn := range view.ListFunctions() {
			if fn.ProcessorID != proc.ID || fn.Substituted() {
				continue
			}
			total++
			if fn.AllocationFactor != 0 {
				stamped++
			}
			sum += fn.AllocationFactor
		}
		// Unallocated processes carry all-zero factors; only flag stamped ones.
		if total == 0 || stamped == 0 {
			continue
		}
		if math.Abs(sum-1) > factorSumTolerance {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     "allocation_factor_sum",
				Severity: domain.SeverityWarn,
				Message:  "allocation factors do not sum to one",
				Entity:   domain.EntityProcess,
				EntityID: proc.ID,
			})
		}
	}
	return result, nil
}
