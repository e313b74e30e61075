// Package allocation computes burden-share factors for multifunctional
// processes and derives read-only single-function process views from them.
//
// A multifunctional process produces more than one function (product or
// waste). Before a square technosphere matrix can be built, its non-functional
// exchanges must be partitioned across the functions. A Strategy turns the
// functional edges of a process into one factor per function; Apply scales the
// non-functional exchanges by those factors into derived processes.
package allocation

import (
	"math"

	"lcacore/pkg/domain"
)

// FunctionalEdge pairs a function with the amount of its production exchange.
type FunctionalEdge struct {
	Function domain.Function
	// Amount is the quantity produced (positive) or consumed (negative) on the
	// processing edge.
	Amount float64
}

// Factor assigns a burden share to a function. Factors from normalized
// strategies sum to one across the functional edges of a process; manual
// allocation is the exception and carries raw, unnormalized values.
type Factor struct {
	Function domain.Function
	Value    float64
}

// Strategy converts the functional edges of a process into ordered factors.
// Implementations must be pure: the same edges always yield the same factors.
type Strategy interface {
	Name() string
	Compute(processID string, edges []FunctionalEdge) ([]Factor, error)
}

// Getter extracts a raw allocation weight from a functional edge.
type Getter func(edge FunctionalEdge) (float64, error)

type genericStrategy struct {
	name   string
	getter Getter
}

// Generic builds a normalized strategy from a caller-supplied weight getter.
// Weights are computed for every edge whose function is not substituted, then
// divided by their sum. Substituted functions receive a zero factor: their
// burden is credited through the substitution edge instead.
func Generic(name string, getter Getter) Strategy {
	return genericStrategy{name: name, getter: getter}
}

func (s genericStrategy) Name() string { return s.name }

func (s genericStrategy) Compute(processID string, edges []FunctionalEdge) ([]Factor, error) {
	weights := make([]float64, len(edges))
	var total float64
	for i, edge := range edges {
		if edge.Function.Substituted() {
			continue
		}
		w, err := s.getter(edge)
		if err != nil {
			return nil, err
		}
		weights[i] = w
		total += w
	}
	if total == 0 || math.IsNaN(total) {
		return nil, ZeroAllocationError{Strategy: s.name, ProcessID: processID}
	}
	factors := make([]Factor, len(edges))
	for i, edge := range edges {
		factors[i] = Factor{Function: edge.Function, Value: weights[i] / total}
	}
	return factors, nil
}

// Equal assigns factor 1/N to each of the N functional edges.
func Equal() Strategy {
	return Generic("equal", func(FunctionalEdge) (float64, error) { return 1, nil })
}

// Property builds a strategy weighting each function by a named numeric
// property scaled with the magnitude of its processing edge amount. Functions
// lacking the property fail the whole computation with MissingPropertyError.
func Property(label string) Strategy {
	return Generic(label, func(edge FunctionalEdge) (float64, error) {
		value, err := propertyValue(edge.Function, label)
		if err != nil {
			return 0, err
		}
		return value * math.Abs(edge.Amount), nil
	})
}

// ManualLabel names the property read by the manual strategy.
const ManualLabel = "manual_allocation"

type manualStrategy struct{}

// Manual returns the strategy reading raw `manual_allocation` property values.
// Unlike other property strategies the values are used as factors directly:
// no scaling by the edge amount and no normalization.
func Manual() Strategy { return manualStrategy{} }

func (manualStrategy) Name() string { return ManualLabel }

func (manualStrategy) Compute(_ string, edges []FunctionalEdge) ([]Factor, error) {
	factors := make([]Factor, len(edges))
	for i, edge := range edges {
		if edge.Function.Substituted() {
			factors[i] = Factor{Function: edge.Function}
			continue
		}
		value, err := propertyValue(edge.Function, ManualLabel)
		if err != nil {
			return nil, err
		}
		factors[i] = Factor{Function: edge.Function, Value: value}
	}
	return factors, nil
}

func propertyValue(fn domain.Function, label string) (float64, error) {
	prop, ok := fn.Properties[label]
	if !ok {
		return 0, MissingPropertyError{FunctionID: fn.ID, FunctionName: fn.Name, Property: label}
	}
	if math.IsNaN(prop.Amount) {
		return 0, MissingPropertyError{FunctionID: fn.ID, FunctionName: fn.Name, Property: label}
	}
	return prop.Amount, nil
}
