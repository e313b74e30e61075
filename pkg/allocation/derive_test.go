package allocation_test

import (
	"math"
	"reflect"
	"testing"

	"lcacore/pkg/allocation"
	"lcacore/pkg/domain"
)

func fixtureProcess() allocation.FunctionalProcess {
	parent := domain.Process{
		DatabaseID: "db1",
		Name:       "combined heat and power",
		Type:       domain.ProcessTypeMultifunctional,
	}
	parent.ID = "p1"

	heat := functionWithProps("f-heat", "heat", map[string]domain.Property{"price": {Amount: 1}})
	power := functionWithProps("f-power", "electricity", map[string]domain.Property{"price": {Amount: 3}})

	co2 := domain.Exchange{
		DatabaseID: "db1",
		InputID:    "bio-co2",
		OutputID:   "p1",
		Type:       domain.ExchangeBiosphere,
		Amount:     100,
	}
	co2.ID = "e-co2"
	gas := domain.Exchange{
		DatabaseID: "db1",
		InputID:    "tech-gas",
		OutputID:   "p1",
		Type:       domain.ExchangeTechnosphere,
		Amount:     40,
	}
	gas.ID = "e-gas"

	return allocation.FunctionalProcess{
		Process: parent,
		Functional: []allocation.FunctionalEdge{
			{Function: heat, Amount: 1},
			{Function: power, Amount: 1},
		},
		NonFunctional: []domain.Exchange{co2, gas},
	}
}

func TestApplyProducesOneDerivedProcessPerEdge(t *testing.T) {
	process := fixtureProcess()
	derived, err := allocation.Apply(process, allocation.Property("price"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(derived) != 2 {
		t.Fatalf("expected 2 derived processes, got %d", len(derived))
	}

	for i, dp := range derived {
		if dp.ParentID != "p1" {
			t.Fatalf("derived[%d] parent = %q, want p1", i, dp.ParentID)
		}
		if dp.Production.Type != domain.ExchangeProduction {
			t.Fatalf("derived[%d] production type = %s", i, dp.Production.Type)
		}
		if dp.Production.Amount != 1 {
			t.Fatalf("derived[%d] production amount = %v, want original 1", i, dp.Production.Amount)
		}
		if len(dp.Exchanges) != 2 {
			t.Fatalf("derived[%d] has %d exchanges, want 2", i, len(dp.Exchanges))
		}
	}

	if got, want := derived[0].Factor, 0.25; math.Abs(got-want) > tolerance {
		t.Fatalf("heat factor = %v, want %v", got, want)
	}
	if got, want := derived[1].Factor, 0.75; math.Abs(got-want) > tolerance {
		t.Fatalf("power factor = %v, want %v", got, want)
	}
}

func TestApplyConservesNonFunctionalFlows(t *testing.T) {
	process := fixtureProcess()
	derived, err := allocation.Apply(process, allocation.Property("price"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	totals := make(map[string]float64)
	for _, dp := range derived {
		for _, exc := range dp.Exchanges {
			totals[exc.InputID] += exc.Amount
		}
	}
	for _, exc := range process.NonFunctional {
		if got := totals[exc.InputID]; math.Abs(got-exc.Amount) > tolerance {
			t.Fatalf("flow %s: allocated total %v, want %v", exc.InputID, got, exc.Amount)
		}
	}
}

func TestApplyLeavesParentUntouched(t *testing.T) {
	process := fixtureProcess()
	before := process.Process
	beforeExchanges := make([]domain.Exchange, len(process.NonFunctional))
	copy(beforeExchanges, process.NonFunctional)

	if _, err := allocation.Apply(process, allocation.Equal()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !reflect.DeepEqual(before, process.Process) {
		t.Fatalf("parent process mutated: %+v", process.Process)
	}
	if !reflect.DeepEqual(beforeExchanges, process.NonFunctional) {
		t.Fatalf("parent exchanges mutated: %+v", process.NonFunctional)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	process := fixtureProcess()
	strategy := allocation.Property("price")

	first, err := allocation.Apply(process, strategy)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := allocation.Apply(process, strategy)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("apply is not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestApplyAllOrNothingOnError(t *testing.T) {
	process := fixtureProcess()
	// Remove the price property from one function so the strategy fails.
	process.Functional[1].Function.Properties = nil

	derived, err := allocation.Apply(process, allocation.Property("price"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if derived != nil {
		t.Fatalf("expected no partial output, got %d derived processes", len(derived))
	}
}

func TestApplyRejectsProcessWithoutFunctions(t *testing.T) {
	process := fixtureProcess()
	process.Functional = nil
	if _, err := allocation.Apply(process, allocation.Equal()); err == nil {
		t.Fatalf("expected error for process without functional edges")
	}
}

func TestApplyScalesUncertaintyCopies(t *testing.T) {
	process := fixtureProcess()
	loc := 100.0
	process.NonFunctional[0].Uncertainty = &domain.Uncertainty{Type: domain.UncertaintyNormal, Loc: &loc}

	derived, err := allocation.Apply(process, allocation.Equal())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	u := derived[0].Exchanges[0].Uncertainty
	if u == nil {
		t.Fatalf("uncertainty not carried to derived exchange")
	}
	if u == process.NonFunctional[0].Uncertainty {
		t.Fatalf("uncertainty shared with parent exchange, want a copy")
	}
}
