package core

import (
	"context"
	"fmt"

	"lcacore/pkg/domain"
	"lcacore/pkg/extension"
)

// conversionSource labels annotation payloads written during conversion.
const conversionSource extension.Source = "conversion"

// ConvertDatabase splits function nodes out of conventional process records.
// Imported conventional data models production as a self-referential edge on
// the process; conversion creates an explicit function node per such edge and
// repoints the edge at it. Returns the number of functions created.
func (s *Service) ConvertDatabase(ctx context.Context, databaseID string) (int, Result, error) {
	start := s.nowFn()
	converted := 0
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, ok := tx.FindDatabase(databaseID); !ok {
			return fmt.Errorf("database %s not found", databaseID)
		}
		touched := make(map[string]bool)
		for _, proc := range tx.Snapshot().ListProcesses() {
			if proc.DatabaseID != databaseID || proc.Type == domain.ProcessTypeReadOnly {
				continue
			}
			for _, exc := range tx.Snapshot().ProcessExchanges(proc.ID) {
				if !exc.Functional() || exc.InputID != proc.ID {
					continue
				}
				kind := domain.FunctionTypeProduct
				if exc.Amount < 0 {
					kind = domain.FunctionTypeWaste
				}
				split := Function{
					DatabaseID:  proc.DatabaseID,
					ProcessorID: proc.ID,
					Name:        proc.Name,
					Unit:        proc.Unit,
					Type:        kind,
				}
				// Conversion provenance survives on the function so importers
				// can trace a split node back to the conventional record.
				if err := split.Extensions.Set(extension.HookFunctionProvenance, conversionSource, map[string]any{
					"process_id":  proc.ID,
					"exchange_id": exc.ID,
				}); err != nil {
					return err
				}
				fn, err := tx.CreateFunction(split)
				if err != nil {
					return err
				}
				functionID := fn.ID
				if _, err := tx.UpdateExchange(exc.ID, func(e *Exchange) error {
					e.InputID = functionID
					return nil
				}); err != nil {
					return err
				}
				converted++
				touched[proc.ID] = true
			}
		}
		for processID := range touched {
			if err := rededuceProcess(tx, processID); err != nil {
				return err
			}
		}
		if converted > 0 {
			return markDirty(tx, databaseID)
		}
		return nil
	})
	s.observe(ctx, "convert_database", start, err)
	if err == nil && converted > 0 {
		s.logger.Info("database converted", "database", databaseID, "functions", converted)
	}
	return converted, res, err
}
