// Command allocation-check validates an inventory fixture against the built-in
// allocation strategies. It loads the fixture into an in-memory store, verifies
// property coverage for every property-backed strategy label, and performs a
// trial allocation of the whole database, printing the resulting factors.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"lcacore/internal/core"
	"lcacore/internal/infra/persistence/memory"
	"lcacore/internal/validation"
	"lcacore/pkg/allocation"
	"lcacore/pkg/domain"
	"lcacore/pkg/extension"
)

var exitFunc = os.Exit

type inventory struct {
	Database  databaseSpec  `json:"database"`
	Processes []processSpec `json:"processes"`
}

type databaseSpec struct {
	Name              string `json:"name"`
	DefaultAllocation string `json:"default_allocation,omitempty"`
}

type processSpec struct {
	Name           string         `json:"name"`
	Unit           string         `json:"unit,omitempty"`
	Location       string         `json:"location,omitempty"`
	Allocation     string         `json:"allocation,omitempty"`
	SkipAllocation bool           `json:"skip_allocation,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	Functions      []functionSpec `json:"functions,omitempty"`
	Exchanges      []exchangeSpec `json:"exchanges,omitempty"`
}

type functionSpec struct {
	Name               string             `json:"name"`
	Unit               string             `json:"unit,omitempty"`
	Amount             float64            `json:"amount"`
	SubstitutionFactor float64            `json:"substitution_factor,omitempty"`
	Properties         map[string]float64 `json:"properties,omitempty"`
}

type exchangeSpec struct {
	Input  string  `json:"input"`
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

// main runs the command-line interface using the program arguments and exits
// the process with the status code returned by cli.
func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("allocation-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var inputPath string
	fs.StringVar(&inputPath, "input", "inventory.json", "path to inventory fixture json")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := run(inputPath, stdout); err != nil {
		fmt.Fprintf(stderr, "Inventory validation failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "Inventory validation passed.")
	return 0
}

// validatePath ensures the fixture path stays within the working tree and is
// not an absolute or path-traversing reference.
func validatePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("absolute paths not allowed: %s", p)
	}
	clean := filepath.Clean(p)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", p)
	}
	return clean, nil
}

func run(inputPath string, stdout io.Writer) error {
	safePath, err := validatePath(inputPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(safePath) // #nosec G304: path validated by validatePath
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}
	inv, err := parseInventory(data)
	if err != nil {
		return fmt.Errorf("parse fixture: %w", err)
	}

	ctx := context.Background()
	svc := core.NewService(memory.NewStore(core.DefaultRulesEngine()))
	db, err := seed(ctx, svc, inv)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "database %s (default allocation %q)\n", db.Name, db.DefaultAllocation)
	fmt.Fprintf(stdout, "strategies: %s\n", strings.Join(svc.Registry().Labels(), ", "))

	if err := checkProperties(ctx, svc, db); err != nil {
		return err
	}

	result, _, err := svc.AllocateDatabase(ctx, db.ID)
	if err != nil {
		return fmt.Errorf("trial allocation: %w", err)
	}
	if err := printFactors(ctx, svc, result, stdout); err != nil {
		return err
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(stdout, "skipped %d process(es) with allocation disabled\n", len(result.Skipped))
	}
	return nil
}

func parseInventory(data []byte) (inventory, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var inv inventory
	if err := dec.Decode(&inv); err != nil {
		return inventory{}, err
	}
	if strings.TrimSpace(inv.Database.Name) == "" {
		return inventory{}, errors.New("database name is required")
	}
	if len(inv.Processes) == 0 {
		return inventory{}, errors.New("processes entry is empty")
	}
	return inv, nil
}

// seed loads the fixture into the service, one process at a time. Function
// amounts decide the function kind: positive amounts register products,
// negative amounts wastes.
func seed(ctx context.Context, svc *core.Service, inv inventory) (core.Database, error) {
	db, _, err := svc.RegisterDatabase(ctx, core.Database{
		Name:              inv.Database.Name,
		DefaultAllocation: inv.Database.DefaultAllocation,
	})
	if err != nil {
		return core.Database{}, fmt.Errorf("register database: %w", err)
	}

	for i, spec := range inv.Processes {
		if strings.TrimSpace(spec.Name) == "" {
			return core.Database{}, fmt.Errorf("processes[%d]: missing name", i)
		}
		record := core.Process{
			DatabaseID:     db.ID,
			Name:           spec.Name,
			Unit:           spec.Unit,
			Location:       spec.Location,
			Allocation:     spec.Allocation,
			SkipAllocation: spec.SkipAllocation,
		}
		if len(spec.Attributes) > 0 {
			if err := record.Extensions.Set(extension.HookProcessAttributes, "fixture", spec.Attributes); err != nil {
				return core.Database{}, fmt.Errorf("process %s: %w", spec.Name, err)
			}
		}
		proc, _, err := svc.CreateProcess(ctx, record)
		if err != nil {
			return core.Database{}, fmt.Errorf("process %s: %w", spec.Name, err)
		}
		for _, fnSpec := range spec.Functions {
			if err := seedFunction(ctx, svc, proc.ID, fnSpec); err != nil {
				return core.Database{}, fmt.Errorf("process %s: %w", spec.Name, err)
			}
		}
		for j, excSpec := range spec.Exchanges {
			kind, err := exchangeType(excSpec.Type)
			if err != nil {
				return core.Database{}, fmt.Errorf("process %s exchanges[%d]: %w", spec.Name, j, err)
			}
			if _, _, err := svc.CreateExchange(ctx, core.Exchange{
				DatabaseID: db.ID,
				InputID:    excSpec.Input,
				OutputID:   proc.ID,
				Type:       kind,
				Amount:     excSpec.Amount,
			}); err != nil {
				return core.Database{}, fmt.Errorf("process %s exchanges[%d]: %w", spec.Name, j, err)
			}
		}
	}
	return db, nil
}

func seedFunction(ctx context.Context, svc *core.Service, processID string, spec functionSpec) error {
	props := make(map[string]core.Property, len(spec.Properties))
	for label, amount := range spec.Properties {
		props[label] = core.Property{Amount: amount}
	}
	var fn core.Function
	var err error
	switch {
	case spec.Amount > 0:
		fn, _, err = svc.NewProduct(ctx, processID, spec.Name, spec.Unit, spec.Amount, props)
	case spec.Amount < 0:
		fn, _, err = svc.NewWaste(ctx, processID, spec.Name, spec.Unit, spec.Amount, props)
	default:
		return fmt.Errorf("function %s: amount must be non-zero", spec.Name)
	}
	if err != nil {
		return fmt.Errorf("function %s: %w", spec.Name, err)
	}
	if spec.SubstitutionFactor != 0 {
		_, _, err = svc.UpdateFunction(ctx, fn.ID, func(f *core.Function) error {
			f.SubstitutionFactor = spec.SubstitutionFactor
			return nil
		})
		if err != nil {
			return fmt.Errorf("function %s: %w", spec.Name, err)
		}
	}
	return nil
}

func exchangeType(label string) (domain.ExchangeType, error) {
	switch label {
	case "technosphere":
		return domain.ExchangeTechnosphere, nil
	case "biosphere":
		return domain.ExchangeBiosphere, nil
	case "substitution":
		return domain.ExchangeSubstitution, nil
	default:
		return "", fmt.Errorf("unsupported exchange type %q", label)
	}
}

// checkProperties verifies that every multifunctional process resolves to a
// strategy label and that property-backed labels are covered by numeric
// properties on every non-substituted function.
func checkProperties(ctx context.Context, svc *core.Service, db core.Database) error {
	return svc.Store().View(ctx, func(view domain.TransactionView) error {
		var problems []string
		for _, proc := range view.ListProcesses() {
			if proc.DatabaseID != db.ID || proc.Type != domain.ProcessTypeMultifunctional {
				continue
			}
			label, err := allocation.ResolveLabel(db.DefaultAllocation, proc.Allocation)
			if err != nil {
				problems = append(problems, fmt.Sprintf("process %s: %v", proc.Name, err))
				continue
			}
			if label == "equal" {
				continue
			}
			msgs, err := validation.ProcessPropertyErrors(view, proc.ID, label)
			if err != nil {
				return err
			}
			for _, msg := range msgs {
				problems = append(problems, msg.String())
			}
		}
		if len(problems) > 0 {
			return fmt.Errorf("property coverage:\n  %s", strings.Join(problems, "\n  "))
		}
		return nil
	})
}

func printFactors(ctx context.Context, svc *core.Service, result core.AllocationRun, stdout io.Writer) error {
	return svc.Store().View(ctx, func(view domain.TransactionView) error {
		for _, derived := range result.Derived {
			factor := 0.0
			if derived.FunctionID != nil {
				if fn, ok := view.FindFunction(*derived.FunctionID); ok {
					factor = fn.AllocationFactor
				}
			}
			fmt.Fprintf(stdout, "  %s: %.6f\n", derived.Name, factor)
		}
		return nil
	})
}
