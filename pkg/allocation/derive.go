package allocation

import (
	"fmt"

	"lcacore/pkg/domain"
)

// FunctionalProcess is the allocation-time view of a process: its record, the
// functional edges with their functions, and the non-functional exchanges to
// be split.
type FunctionalProcess struct {
	Process       domain.Process
	Functional    []FunctionalEdge
	NonFunctional []domain.Exchange
}

// Multifunctional reports whether the process has more than one functional edge.
func (p FunctionalProcess) Multifunctional() bool {
	return len(p.Functional) > 1
}

// DerivedProcess is a synthetic, single-function view of a multifunctional
// process. It is a value type with no independent persistence: derived
// processes are regenerated from their parent on every allocation run and
// never mutated in place.
type DerivedProcess struct {
	Name     string
	ParentID string
	Function domain.Function
	Factor   float64
	// Production is the functional edge of the view, kept at its original amount.
	Production domain.Exchange
	// Exchanges are copies of the parent's non-functional exchanges with their
	// amounts scaled by Factor.
	Exchanges []domain.Exchange
}

// Apply computes factors for the process with the given strategy and builds
// one derived process per functional edge. The parent record is left
// untouched; on any error no derived processes are returned. Apply is pure
// and idempotent: the same process and strategy always yield the same set.
func Apply(process FunctionalProcess, strategy Strategy) ([]DerivedProcess, error) {
	if len(process.Functional) == 0 {
		return nil, fmt.Errorf("process %s has no functional edges", process.Process.ID)
	}
	factors, err := strategy.Compute(process.Process.ID, process.Functional)
	if err != nil {
		return nil, err
	}
	if len(factors) != len(process.Functional) {
		return nil, fmt.Errorf("strategy %s returned %d factors for %d functional edges",
			strategy.Name(), len(factors), len(process.Functional))
	}

	derived := make([]DerivedProcess, 0, len(factors))
	for i, factor := range factors {
		edge := process.Functional[i]
		dp := DerivedProcess{
			Name:       fmt.Sprintf("%s (%s)", process.Process.Name, factor.Function.Name),
			ParentID:   process.Process.ID,
			Function:   factor.Function,
			Factor:     factor.Value,
			Production: edge.production(process.Process),
			Exchanges:  scaleExchanges(process.NonFunctional, factor.Value),
		}
		derived = append(derived, dp)
	}
	return derived, nil
}

func (e FunctionalEdge) production(parent domain.Process) domain.Exchange {
	return domain.Exchange{
		DatabaseID: parent.DatabaseID,
		InputID:    e.Function.ID,
		OutputID:   parent.ID,
		Type:       domain.ExchangeProduction,
		Amount:     e.Amount,
	}
}

func scaleExchanges(exchanges []domain.Exchange, factor float64) []domain.Exchange {
	out := make([]domain.Exchange, len(exchanges))
	for i, exc := range exchanges {
		scaled := exc
		scaled.Amount = exc.Amount * factor
		if exc.Uncertainty != nil {
			u := *exc.Uncertainty
			scaled.Uncertainty = &u
		}
		out[i] = scaled
	}
	return out
}
