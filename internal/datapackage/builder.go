// Package datapackage assembles processed inventory datapackages: matrix rows
// for the technosphere and biosphere built from allocated process data, plus
// an asynchronous export worker that publishes them to an artifact store.
package datapackage

import (
	"fmt"
	"math"
	"sort"
	"time"

	"lcacore/pkg/domain"
)

// MatrixRow is one entry of a matrix resource. Row indexes the flow (function
// or elementary flow), Col the process column.
type MatrixRow struct {
	Row         string              `json:"row"`
	Col         string              `json:"col"`
	Amount      float64             `json:"amount"`
	Flip        bool                `json:"flip"`
	Uncertainty *domain.Uncertainty `json:"uncertainty,omitempty"`
}

// Package is the in-memory form of a processed database before serialization.
type Package struct {
	DatabaseID   string      `json:"database_id"`
	DatabaseName string      `json:"database_name"`
	CreatedAt    time.Time   `json:"created_at"`
	Technosphere []MatrixRow `json:"technosphere"`
	Biosphere    []MatrixRow `json:"biosphere"`
	// Warnings lists non-fatal issues found while building, e.g. uncertainty
	// families that cannot be rescaled.
	Warnings []string `json:"warnings,omitempty"`
}

// Build assembles the matrix rows of a database. Multifunctional parents are
// excluded: their flows enter through the read-only derived views generated by
// allocation. An unallocated multifunctional process is an error.
func Build(view domain.TransactionView, databaseID string) (Package, error) {
	db, ok := view.FindDatabase(databaseID)
	if !ok {
		return Package{}, fmt.Errorf("database %s not found", databaseID)
	}
	pkg := Package{DatabaseID: db.ID, DatabaseName: db.Name, CreatedAt: time.Now().UTC()}

	allocated := make(map[string]bool)
	for _, proc := range view.ListProcesses() {
		if proc.Type == domain.ProcessTypeReadOnly && proc.ParentID != nil {
			allocated[*proc.ParentID] = true
		}
	}

	var columns []domain.Process
	for _, proc := range view.ListProcesses() {
		if proc.DatabaseID != databaseID {
			continue
		}
		switch proc.Type {
		case domain.ProcessTypeProcess, domain.ProcessTypeReadOnly:
			columns = append(columns, proc)
		case domain.ProcessTypeMultifunctional:
			if !allocated[proc.ID] {
				return Package{}, fmt.Errorf("multifunctional process %s is not allocated", proc.ID)
			}
		}
	}
	sort.Slice(columns, func(i, j int) bool { return columns[i].ID < columns[j].ID })

	for _, proc := range columns {
		factor, scale := columnFactor(view, proc)
		exchanges := view.ProcessExchanges(proc.ID)
		sort.Slice(exchanges, func(i, j int) bool { return exchanges[i].ID < exchanges[j].ID })
		for _, exc := range exchanges {
			row := MatrixRow{Row: exc.InputID, Col: proc.ID, Amount: exc.Amount}
			uncertainty, warning := rowUncertainty(exc, factor, scale)
			row.Uncertainty = uncertainty
			if warning != "" {
				pkg.Warnings = append(pkg.Warnings, warning)
			}
			switch exc.Type {
			case domain.ExchangeProduction, domain.ExchangeSubstitution:
				pkg.Technosphere = append(pkg.Technosphere, row)
			case domain.ExchangeTechnosphere:
				// Consumption enters the matrix negated via the flip flag.
				row.Flip = true
				pkg.Technosphere = append(pkg.Technosphere, row)
			case domain.ExchangeBiosphere:
				pkg.Biosphere = append(pkg.Biosphere, row)
			}
		}
	}
	return pkg, nil
}

// columnFactor returns the allocation factor applied to a column's scaled
// exchanges. Derived views report the factor stamped on their function; plain
// processes report 1 with no rescaling needed.
func columnFactor(view domain.TransactionView, proc domain.Process) (float64, bool) {
	if proc.Type != domain.ProcessTypeReadOnly || proc.FunctionID == nil {
		return 1, false
	}
	fn, ok := view.FindFunction(*proc.FunctionID)
	if !ok {
		return 1, false
	}
	return fn.AllocationFactor, true
}

// rowUncertainty resolves the uncertainty of a matrix row. Exchanges without a
// distribution get the undefined family with loc pinned to the amount. For
// derived views the parent's distribution is rescaled by the allocation
// factor; families that cannot be rescaled are degraded to undefined with a
// warning.
func rowUncertainty(exc domain.Exchange, factor float64, scale bool) (*domain.Uncertainty, string) {
	if exc.Uncertainty == nil || exc.Uncertainty.Type == domain.UncertaintyUndefined {
		loc := exc.Amount
		return &domain.Uncertainty{Type: domain.UncertaintyUndefined, Loc: &loc}, ""
	}
	u := *exc.Uncertainty
	if !scale || exc.Functional() || factor == 1 {
		return &u, ""
	}
	scaled, ok := ScaleUncertainty(u, factor)
	if !ok {
		loc := exc.Amount
		warning := fmt.Sprintf("exchange %s: uncertainty type %d cannot be rescaled, degraded to undefined", exc.ID, u.Type)
		return &domain.Uncertainty{Type: domain.UncertaintyUndefined, Loc: &loc}, warning
	}
	return &scaled, ""
}

// ScaleUncertainty rescales a distribution for an amount multiplied by factor.
// The location/spread families scale linearly; the lognormal location shifts
// by ln(factor). Families without a linear rescaling report ok=false.
func ScaleUncertainty(u domain.Uncertainty, factor float64) (domain.Uncertainty, bool) {
	switch u.Type {
	case domain.UncertaintyNone, domain.UncertaintyNormal, domain.UncertaintyUniform, domain.UncertaintyTriangular:
		scalePtr(&u.Loc, factor)
		scalePtr(&u.Scale, math.Abs(factor))
		scalePtr(&u.Minimum, factor)
		scalePtr(&u.Maximum, factor)
		if factor < 0 {
			u.Minimum, u.Maximum = u.Maximum, u.Minimum
		}
		return u, true
	case domain.UncertaintyLognormal:
		if factor <= 0 {
			return u, false
		}
		shift := math.Log(factor)
		if u.Loc != nil {
			loc := *u.Loc + shift
			u.Loc = &loc
		}
		return u, true
	default:
		return u, false
	}
}

func scalePtr(p **float64, factor float64) {
	if *p == nil {
		return
	}
	v := **p * factor
	*p = &v
}
