package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"lcacore/pkg/allocation"
	"lcacore/pkg/domain"
)

// Service exposes higher-level transactional operations for the inventory
// schema: database registration, node and edge CRUD with type deduction, and
// allocation runs over multifunctional processes.
type Service struct {
	store    PersistentStore
	registry *allocation.Registry
	logger   Logger
	metrics  MetricsRecorder
	nowFn    func() time.Time
	newRunID func() string
}

// Option customizes service construction.
type Option func(*Service)

// WithRegistry injects an allocation strategy registry. The default registry
// carries the built-in equal, price, mass, and manual strategies.
func WithRegistry(registry *allocation.Registry) Option {
	return func(s *Service) { s.registry = registry }
}

// WithLogger injects a structured logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder injects an operation metrics sink.
func WithMetricsRecorder(metrics MetricsRecorder) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithClock overrides the wall clock, used by tests for deterministic timing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithRunIDFunc overrides allocation run ID generation, used by tests.
func WithRunIDFunc(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newRunID = fn
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		registry: allocation.NewDefaultRegistry(),
		logger:   NopLogger(),
		nowFn:    time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Registry returns the allocation strategy registry in use.
func (s *Service) Registry() *allocation.Registry { return s.registry }

func (s *Service) observe(ctx context.Context, operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.Observe(ctx, operation, err == nil, s.nowFn().Sub(start))
	}
	if err != nil {
		s.logger.Error(operation+" failed", "error", err)
	}
}

// RegisterDatabase persists a new inventory database. An empty default
// allocation label falls back to the equal strategy.
func (s *Service) RegisterDatabase(ctx context.Context, database Database) (Database, Result, error) {
	start := s.nowFn()
	if database.DefaultAllocation == "" {
		database.DefaultAllocation = "equal"
	}
	var created Database
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateDatabase(database)
		return err
	})
	s.observe(ctx, "register_database", start, err)
	if err == nil {
		s.logger.Info("database registered", "database", created.ID, "name", created.Name, "default_allocation", created.DefaultAllocation)
	}
	return created, res, err
}

// UpdateDatabase mutates a database record using the provided mutator.
func (s *Service) UpdateDatabase(ctx context.Context, id string, mutator func(*Database) error) (Database, Result, error) {
	start := s.nowFn()
	var updated Database
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateDatabase(id, mutator)
		return err
	})
	s.observe(ctx, "update_database", start, err)
	return updated, res, err
}

// DeleteDatabase removes an empty database record.
func (s *Service) DeleteDatabase(ctx context.Context, id string) (Result, error) {
	start := s.nowFn()
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteDatabase(id)
	})
	s.observe(ctx, "delete_database", start, err)
	return res, err
}

// CreateProcess persists a new process node. The node type is deduced from its
// functional edges, so fresh processes start nonfunctional.
func (s *Service) CreateProcess(ctx context.Context, process Process) (Process, Result, error) {
	start := s.nowFn()
	if process.Type == "" {
		process.Type = domain.ProcessTypeNonfunctional
	}
	var created Process
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		if created, err = tx.CreateProcess(process); err != nil {
			return err
		}
		return markDirty(tx, created.DatabaseID)
	})
	s.observe(ctx, "create_process", start, err)
	return created, res, err
}

// UpdateProcess mutates a process and re-deduces its type afterwards.
func (s *Service) UpdateProcess(ctx context.Context, id string, mutator func(*Process) error) (Process, Result, error) {
	start := s.nowFn()
	var updated Process
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		if updated, err = tx.UpdateProcess(id, mutator); err != nil {
			return err
		}
		if err = rededuceProcess(tx, id); err != nil {
			return err
		}
		updated, _ = tx.FindProcess(id)
		return markDirty(tx, updated.DatabaseID)
	})
	s.observe(ctx, "update_process", start, err)
	return updated, res, err
}

// DeleteProcess removes a process together with its edges and derived views.
func (s *Service) DeleteProcess(ctx context.Context, id string) (Result, error) {
	start := s.nowFn()
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		proc, ok := tx.FindProcess(id)
		if !ok {
			return fmt.Errorf("process %s not found", id)
		}
		if err := purgeDerived(tx, id); err != nil {
			return err
		}
		if err := tx.DeleteProcess(id); err != nil {
			return err
		}
		return markDirty(tx, proc.DatabaseID)
	})
	s.observe(ctx, "delete_process", start, err)
	return res, err
}

// NewProduct attaches a product function to a process: the function node is
// created together with its processing edge carrying the (positive) amount.
func (s *Service) NewProduct(ctx context.Context, processID, name, unit string, amount float64, properties map[string]Property) (Function, Result, error) {
	start := s.nowFn()
	fn, res, err := s.newFunction(ctx, processID, name, unit, amount, properties, domain.FunctionTypeProduct)
	s.observe(ctx, "new_product", start, err)
	return fn, res, err
}

// NewWaste attaches a waste function to a process. The processing edge amount
// must be negative: the process reduces the waste rather than producing it.
func (s *Service) NewWaste(ctx context.Context, processID, name, unit string, amount float64, properties map[string]Property) (Function, Result, error) {
	start := s.nowFn()
	fn, res, err := s.newFunction(ctx, processID, name, unit, amount, properties, domain.FunctionTypeWaste)
	s.observe(ctx, "new_waste", start, err)
	return fn, res, err
}

func (s *Service) newFunction(ctx context.Context, processID, name, unit string, amount float64, properties map[string]Property, kind domain.FunctionType) (Function, Result, error) {
	switch kind {
	case domain.FunctionTypeProduct:
		if amount <= 0 {
			return Function{}, Result{}, fmt.Errorf("product %q requires a positive processing amount, got %v", name, amount)
		}
	case domain.FunctionTypeWaste:
		if amount >= 0 {
			return Function{}, Result{}, fmt.Errorf("waste %q requires a negative processing amount, got %v", name, amount)
		}
	}
	var created Function
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		proc, ok := tx.FindProcess(processID)
		if !ok {
			return fmt.Errorf("process %s not found", processID)
		}
		var err error
		created, err = tx.CreateFunction(Function{
			DatabaseID:  proc.DatabaseID,
			ProcessorID: proc.ID,
			Name:        name,
			Unit:        unit,
			Type:        kind,
			Properties:  properties,
		})
		if err != nil {
			return err
		}
		if _, err = tx.CreateExchange(Exchange{
			DatabaseID: proc.DatabaseID,
			InputID:    created.ID,
			OutputID:   proc.ID,
			Type:       domain.ExchangeProduction,
			Amount:     amount,
		}); err != nil {
			return err
		}
		if err = rededuceProcess(tx, proc.ID); err != nil {
			return err
		}
		return markDirty(tx, proc.DatabaseID)
	})
	return created, res, err
}

// UpdateFunction mutates a function record and re-deduces its processor type.
func (s *Service) UpdateFunction(ctx context.Context, id string, mutator func(*Function) error) (Function, Result, error) {
	start := s.nowFn()
	var updated Function
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		if updated, err = tx.UpdateFunction(id, mutator); err != nil {
			return err
		}
		if err = rededuceProcess(tx, updated.ProcessorID); err != nil {
			return err
		}
		return markDirty(tx, updated.DatabaseID)
	})
	s.observe(ctx, "update_function", start, err)
	return updated, res, err
}

// DeleteFunction removes a function, its edges, and re-deduces the processor.
func (s *Service) DeleteFunction(ctx context.Context, id string) (Result, error) {
	start := s.nowFn()
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		fn, ok := tx.FindFunction(id)
		if !ok {
			return fmt.Errorf("function %s not found", id)
		}
		if err := tx.DeleteFunction(id); err != nil {
			return err
		}
		if err := rededuceProcess(tx, fn.ProcessorID); err != nil {
			return err
		}
		return markDirty(tx, fn.DatabaseID)
	})
	s.observe(ctx, "delete_function", start, err)
	return res, err
}

// CreateExchange persists a new exchange and re-deduces the output node type.
func (s *Service) CreateExchange(ctx context.Context, exchange Exchange) (Exchange, Result, error) {
	start := s.nowFn()
	var created Exchange
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		if created, err = tx.CreateExchange(exchange); err != nil {
			return err
		}
		if err = rededuceProcess(tx, created.OutputID); err != nil {
			return err
		}
		return markDirty(tx, created.DatabaseID)
	})
	s.observe(ctx, "create_exchange", start, err)
	return created, res, err
}

// UpdateExchange mutates an exchange and re-deduces the output node type.
func (s *Service) UpdateExchange(ctx context.Context, id string, mutator func(*Exchange) error) (Exchange, Result, error) {
	start := s.nowFn()
	var updated Exchange
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		if updated, err = tx.UpdateExchange(id, mutator); err != nil {
			return err
		}
		if err = rededuceProcess(tx, updated.OutputID); err != nil {
			return err
		}
		return markDirty(tx, updated.DatabaseID)
	})
	s.observe(ctx, "update_exchange", start, err)
	return updated, res, err
}

// DeleteExchange removes an exchange and re-deduces the output node type.
func (s *Service) DeleteExchange(ctx context.Context, id string) (Result, error) {
	start := s.nowFn()
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var databaseID, outputID string
		for _, exc := range tx.Snapshot().ListExchanges() {
			if exc.ID == id {
				databaseID, outputID = exc.DatabaseID, exc.OutputID
				break
			}
		}
		if err := tx.DeleteExchange(id); err != nil {
			return err
		}
		if outputID != "" {
			if err := rededuceProcess(tx, outputID); err != nil {
				return err
			}
		}
		if databaseID != "" {
			return markDirty(tx, databaseID)
		}
		return nil
	})
	s.observe(ctx, "delete_exchange", start, err)
	return res, err
}

// AllocationRun reports the outcome of one allocation invocation.
type AllocationRun struct {
	RunID string
	// Derived holds the regenerated read-only processes, ordered by name.
	Derived []Process
	// Skipped lists multifunctional processes left alone because allocation
	// was explicitly disabled on them.
	Skipped []string
}

// AllocateProcess resolves the allocation strategy for one multifunctional
// process, regenerates its read-only derived views, and stamps the run ID on
// them. Derived views of earlier runs are removed in the same transaction.
func (s *Service) AllocateProcess(ctx context.Context, processID string) (AllocationRun, Result, error) {
	start := s.nowFn()
	run := AllocationRun{RunID: s.newRunID()}
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		proc, ok := tx.FindProcess(processID)
		if !ok {
			return fmt.Errorf("process %s not found", processID)
		}
		derived, err := s.allocateInTx(tx, proc, run.RunID)
		if err != nil {
			return err
		}
		run.Derived = derived
		return markDirty(tx, proc.DatabaseID)
	})
	s.observe(ctx, "allocate_process", start, err)
	if err == nil {
		s.logger.Info("process allocated", "process", processID, "run", run.RunID, "derived", len(run.Derived))
	}
	return run, res, err
}

// AllocateDatabase allocates every multifunctional process of a database in a
// single transaction and a single run. Processes with allocation disabled are
// reported in Skipped.
func (s *Service) AllocateDatabase(ctx context.Context, databaseID string) (AllocationRun, Result, error) {
	start := s.nowFn()
	run := AllocationRun{RunID: s.newRunID()}
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, ok := tx.FindDatabase(databaseID); !ok {
			return fmt.Errorf("database %s not found", databaseID)
		}
		candidates := multifunctionalProcesses(tx.Snapshot(), databaseID)
		for _, proc := range candidates {
			if proc.SkipAllocation {
				run.Skipped = append(run.Skipped, proc.ID)
				continue
			}
			derived, err := s.allocateInTx(tx, proc, run.RunID)
			if err != nil {
				return err
			}
			run.Derived = append(run.Derived, derived...)
		}
		return markDirty(tx, databaseID)
	})
	s.observe(ctx, "allocate_database", start, err)
	if err == nil {
		s.logger.Info("database allocated", "database", databaseID, "run", run.RunID,
			"derived", len(run.Derived), "skipped", len(run.Skipped))
	}
	return run, res, err
}

// allocateInTx performs one allocation for proc inside an open transaction:
// strategy resolution, factor computation, purge of stale derived views, and
// persistence of the fresh ones.
func (s *Service) allocateInTx(tx Transaction, proc Process, runID string) ([]Process, error) {
	if proc.Type == domain.ProcessTypeReadOnly {
		return nil, fmt.Errorf("process %s is a derived view and cannot be allocated", proc.ID)
	}
	db, ok := tx.FindDatabase(proc.DatabaseID)
	if !ok {
		return nil, fmt.Errorf("database %s not found", proc.DatabaseID)
	}
	fp, err := functionalProcess(tx.Snapshot(), proc)
	if err != nil {
		return nil, err
	}
	if err := purgeDerived(tx, proc.ID); err != nil {
		return nil, err
	}
	if !fp.Multifunctional() {
		return nil, nil
	}
	label, err := allocation.ResolveLabel(db.DefaultAllocation, proc.Allocation)
	if err != nil {
		var ce allocation.ConfigurationError
		if errors.As(err, &ce) {
			return nil, allocation.ConfigurationError{ProcessID: proc.ID}
		}
		return nil, err
	}
	strategy := s.registry.Resolve(label)
	derived, err := allocation.Apply(fp, strategy)
	if err != nil {
		return nil, err
	}

	created := make([]Process, 0, len(derived))
	for _, dp := range derived {
		parentID := proc.ID
		functionID := dp.Function.ID
		view, err := tx.CreateProcess(Process{
			DatabaseID:      proc.DatabaseID,
			Name:            dp.Name,
			Unit:            dp.Function.Unit,
			Location:        proc.Location,
			Type:            domain.ProcessTypeReadOnly,
			ParentID:        &parentID,
			FunctionID:      &functionID,
			AllocationRunID: runID,
		})
		if err != nil {
			return nil, err
		}
		production := dp.Production
		production.OutputID = view.ID
		if _, err := tx.CreateExchange(production); err != nil {
			return nil, err
		}
		for _, exc := range dp.Exchanges {
			exc.Base = domain.Base{}
			exc.OutputID = view.ID
			if _, err := tx.CreateExchange(exc); err != nil {
				return nil, err
			}
		}
		factor := dp.Factor
		if _, err := tx.UpdateFunction(dp.Function.ID, func(f *Function) error {
			f.AllocationFactor = factor
			return nil
		}); err != nil {
			return nil, err
		}
		created = append(created, view)
	}
	return created, nil
}

// FunctionalView loads the allocation-time view of a process: its functional
// edges with functions attached and the non-functional exchanges.
func (s *Service) FunctionalView(ctx context.Context, processID string) (allocation.FunctionalProcess, error) {
	var fp allocation.FunctionalProcess
	err := s.store.View(ctx, func(view TransactionView) error {
		proc, ok := view.FindProcess(processID)
		if !ok {
			return fmt.Errorf("process %s not found", processID)
		}
		var err error
		fp, err = functionalProcess(view, proc)
		return err
	})
	return fp, err
}

// DerivedProcesses lists the read-only views generated for a parent process.
func (s *Service) DerivedProcesses(ctx context.Context, parentID string) ([]Process, error) {
	var out []Process
	err := s.store.View(ctx, func(view TransactionView) error {
		for _, proc := range view.ListProcesses() {
			if proc.Type == domain.ProcessTypeReadOnly && proc.ParentID != nil && *proc.ParentID == parentID {
				out = append(out, proc)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return nil
	})
	return out, err
}

// --- transaction helpers ---

func markDirty(tx Transaction, databaseID string) error {
	_, err := tx.UpdateDatabase(databaseID, func(db *Database) error {
		db.Dirty = true
		return nil
	})
	return err
}

// purgeDerived removes the read-only views generated for parentID. Their
// exchanges cascade with the process records.
func purgeDerived(tx Transaction, parentID string) error {
	for _, proc := range tx.Snapshot().ListProcesses() {
		if proc.Type != domain.ProcessTypeReadOnly || proc.ParentID == nil || *proc.ParentID != parentID {
			continue
		}
		if err := tx.DeleteProcess(proc.ID); err != nil {
			return err
		}
	}
	return nil
}

// rededuceProcess recomputes the process node type from its functional edges
// and aligns attached function types with the edge signs. Derived views are
// never re-deduced.
func rededuceProcess(tx Transaction, processID string) error {
	proc, ok := tx.FindProcess(processID)
	if !ok || proc.Type == domain.ProcessTypeReadOnly {
		return nil
	}
	view := tx.Snapshot()
	linked := make(map[string]bool)
	functional := 0
	for _, exc := range view.ProcessExchanges(processID) {
		if !exc.Functional() {
			continue
		}
		functional++
		fn, ok := view.FindFunction(exc.InputID)
		if !ok {
			// Self-production edge of an unconverted conventional process.
			continue
		}
		linked[fn.ID] = true
		want := domain.FunctionTypeProduct
		if exc.Amount < 0 {
			want = domain.FunctionTypeWaste
		}
		if fn.Type != want {
			if _, err := tx.UpdateFunction(fn.ID, func(f *Function) error {
				f.Type = want
				return nil
			}); err != nil {
				return err
			}
		}
	}
	// Functions without a processing edge are orphaned.
	for _, fn := range view.ListFunctions() {
		if fn.ProcessorID != processID || linked[fn.ID] || fn.Type == domain.FunctionTypeOrphaned {
			continue
		}
		if _, err := tx.UpdateFunction(fn.ID, func(f *Function) error {
			f.Type = domain.FunctionTypeOrphaned
			return nil
		}); err != nil {
			return err
		}
	}

	want := domain.ProcessTypeNonfunctional
	switch {
	case functional == 1:
		want = domain.ProcessTypeProcess
	case functional > 1:
		want = domain.ProcessTypeMultifunctional
	}
	if proc.Type != want {
		if _, err := tx.UpdateProcess(processID, func(p *Process) error {
			p.Type = want
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// functionalProcess assembles the allocation view of proc. Functional edges
// are ordered by function name then ID so factor assignment is deterministic.
func functionalProcess(view TransactionView, proc Process) (allocation.FunctionalProcess, error) {
	fp := allocation.FunctionalProcess{Process: proc}
	for _, exc := range view.ProcessExchanges(proc.ID) {
		if !exc.Functional() {
			fp.NonFunctional = append(fp.NonFunctional, exc)
			continue
		}
		fn, ok := view.FindFunction(exc.InputID)
		if !ok {
			return fp, fmt.Errorf("process %s has a processing edge without a function node (input %s)", proc.ID, exc.InputID)
		}
		fp.Functional = append(fp.Functional, allocation.FunctionalEdge{Function: fn, Amount: exc.Amount})
	}
	sort.Slice(fp.Functional, func(i, j int) bool {
		a, b := fp.Functional[i].Function, fp.Functional[j].Function
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	sort.Slice(fp.NonFunctional, func(i, j int) bool { return fp.NonFunctional[i].ID < fp.NonFunctional[j].ID })
	return fp, nil
}

func multifunctionalProcesses(view TransactionView, databaseID string) []Process {
	var out []Process
	for _, proc := range view.ListProcesses() {
		if proc.DatabaseID == databaseID && proc.Type == domain.ProcessTypeMultifunctional {
			out = append(out, proc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
