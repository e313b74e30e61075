// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"lcacore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Database aliases domain.Database for in-memory persistence operations.
	Database = domain.Database
	// Process aliases domain.Process.
	Process = domain.Process
	// Function aliases domain.Function.
	Function = domain.Function
	// Exchange aliases domain.Exchange.
	Exchange = domain.Exchange
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	databases map[string]Database
	processes map[string]Process
	functions map[string]Function
	exchanges map[string]Exchange
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Databases map[string]Database `json:"databases"`
	Processes map[string]Process  `json:"processes"`
	Functions map[string]Function `json:"functions"`
	Exchanges map[string]Exchange `json:"exchanges"`
}

func newMemoryState() memoryState {
	return memoryState{
		databases: make(map[string]Database),
		processes: make(map[string]Process),
		functions: make(map[string]Function),
		exchanges: make(map[string]Exchange),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Databases: make(map[string]Database, len(state.databases)),
		Processes: make(map[string]Process, len(state.processes)),
		Functions: make(map[string]Function, len(state.functions)),
		Exchanges: make(map[string]Exchange, len(state.exchanges)),
	}
	for k, v := range state.databases {
		s.Databases[k] = cloneDatabase(v)
	}
	for k, v := range state.processes {
		s.Processes[k] = cloneProcess(v)
	}
	for k, v := range state.functions {
		s.Functions[k] = cloneFunction(v)
	}
	for k, v := range state.exchanges {
		s.Exchanges[k] = cloneExchange(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Databases {
		state.databases[k] = cloneDatabase(v)
	}
	for k, v := range s.Processes {
		state.processes[k] = cloneProcess(v)
	}
	for k, v := range s.Functions {
		state.functions[k] = cloneFunction(v)
	}
	for k, v := range s.Exchanges {
		state.exchanges[k] = cloneExchange(v)
	}
	return state
}

// migrateSnapshot repairs snapshots from older or hand-edited state: missing
// maps are initialized and records referencing vanished nodes are dropped.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Databases == nil {
		snapshot.Databases = map[string]Database{}
	}
	if snapshot.Processes == nil {
		snapshot.Processes = map[string]Process{}
	}
	if snapshot.Functions == nil {
		snapshot.Functions = map[string]Function{}
	}
	if snapshot.Exchanges == nil {
		snapshot.Exchanges = map[string]Exchange{}
	}

	databaseExists := func(id string) bool {
		_, ok := snapshot.Databases[id]
		return ok
	}
	nodeExists := func(id string) bool {
		if _, ok := snapshot.Processes[id]; ok {
			return true
		}
		_, ok := snapshot.Functions[id]
		return ok
	}

	for id, process := range snapshot.Processes {
		if process.DatabaseID == "" || !databaseExists(process.DatabaseID) {
			delete(snapshot.Processes, id)
			continue
		}
		if process.ParentID != nil {
			if _, ok := snapshot.Processes[*process.ParentID]; !ok {
				delete(snapshot.Processes, id)
			}
		}
	}

	for id, function := range snapshot.Functions {
		if function.DatabaseID == "" || !databaseExists(function.DatabaseID) {
			delete(snapshot.Functions, id)
			continue
		}
		if function.SubstituteID != nil && !nodeExists(*function.SubstituteID) {
			function.SubstituteID = nil
			function.SubstitutionFactor = 0
			snapshot.Functions[id] = function
		}
	}

	for id, exchange := range snapshot.Exchanges {
		if exchange.DatabaseID == "" || !databaseExists(exchange.DatabaseID) {
			delete(snapshot.Exchanges, id)
			continue
		}
		if exchange.OutputID == "" || !nodeExists(exchange.OutputID) {
			delete(snapshot.Exchanges, id)
		}
	}

	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.databases {
		cloned.databases[k] = cloneDatabase(v)
	}
	for k, v := range s.processes {
		cloned.processes[k] = cloneProcess(v)
	}
	for k, v := range s.functions {
		cloned.functions[k] = cloneFunction(v)
	}
	for k, v := range s.exchanges {
		cloned.exchanges[k] = cloneExchange(v)
	}
	return cloned
}

func cloneDatabase(d Database) Database {
	cp := d
	if d.ProcessedAt != nil {
		t := *d.ProcessedAt
		cp.ProcessedAt = &t
	}
	cp.Depends = append([]string(nil), d.Depends...)
	return cp
}

func cloneProcess(p Process) Process {
	cp := p
	if p.ParentID != nil {
		id := *p.ParentID
		cp.ParentID = &id
	}
	if p.FunctionID != nil {
		id := *p.FunctionID
		cp.FunctionID = &id
	}
	cp.Extensions = p.Extensions.Clone()
	return cp
}

func cloneFunction(f Function) Function {
	cp := f
	if f.SubstituteID != nil {
		id := *f.SubstituteID
		cp.SubstituteID = &id
	}
	if f.Properties != nil {
		cp.Properties = make(map[string]domain.Property, len(f.Properties))
		for k, v := range f.Properties {
			cp.Properties[k] = v
		}
	}
	cp.Extensions = f.Extensions.Clone()
	return cp
}

func cloneExchange(e Exchange) Exchange {
	cp := e
	if e.Uncertainty != nil {
		u := *e.Uncertainty
		cp.Uncertainty = &u
	}
	return cp
}

// Store is an in-memory persistence backend with transactional semantics.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListDatabases returns all databases within the transaction snapshot.
func (v transactionView) ListDatabases() []Database {
	out := make([]Database, 0, len(v.state.databases))
	for _, d := range v.state.databases {
		out = append(out, cloneDatabase(d))
	}
	return out
}

// ListProcesses returns all processes.
func (v transactionView) ListProcesses() []Process {
	out := make([]Process, 0, len(v.state.processes))
	for _, p := range v.state.processes {
		out = append(out, cloneProcess(p))
	}
	return out
}

// ListFunctions returns all functions.
func (v transactionView) ListFunctions() []Function {
	out := make([]Function, 0, len(v.state.functions))
	for _, f := range v.state.functions {
		out = append(out, cloneFunction(f))
	}
	return out
}

// ListExchanges returns all exchanges.
func (v transactionView) ListExchanges() []Exchange {
	out := make([]Exchange, 0, len(v.state.exchanges))
	for _, e := range v.state.exchanges {
		out = append(out, cloneExchange(e))
	}
	return out
}

// FindDatabase returns the database with the given id.
func (v transactionView) FindDatabase(id string) (Database, bool) {
	d, ok := v.state.databases[id]
	if !ok {
		return Database{}, false
	}
	return cloneDatabase(d), true
}

// FindProcess returns the process with the given id.
func (v transactionView) FindProcess(id string) (Process, bool) {
	p, ok := v.state.processes[id]
	if !ok {
		return Process{}, false
	}
	return cloneProcess(p), true
}

// FindFunction returns the function with the given id.
func (v transactionView) FindFunction(id string) (Function, bool) {
	f, ok := v.state.functions[id]
	if !ok {
		return Function{}, false
	}
	return cloneFunction(f), true
}

// ProcessExchanges returns the exchanges belonging to the given process.
func (v transactionView) ProcessExchanges(processID string) []Exchange {
	var out []Exchange
	for _, e := range v.state.exchanges {
		if e.OutputID == processID {
			out = append(out, cloneExchange(e))
		}
	}
	return out
}

// RunInTransaction executes fn against a cloned state, evaluates the rules
// engine over the result, and commits unless a blocking violation occurred.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindDatabase looks up a database within the transaction state.
func (tx *transaction) FindDatabase(id string) (Database, bool) {
	d, ok := tx.state.databases[id]
	if !ok {
		return Database{}, false
	}
	return cloneDatabase(d), true
}

// FindProcess looks up a process within the transaction state.
func (tx *transaction) FindProcess(id string) (Process, bool) {
	p, ok := tx.state.processes[id]
	if !ok {
		return Process{}, false
	}
	return cloneProcess(p), true
}

// FindFunction looks up a function within the transaction state.
func (tx *transaction) FindFunction(id string) (Function, bool) {
	f, ok := tx.state.functions[id]
	if !ok {
		return Function{}, false
	}
	return cloneFunction(f), true
}

// CreateDatabase stores a new database registration.
func (tx *transaction) CreateDatabase(d Database) (Database, error) {
	if d.ID == "" {
		d.ID = tx.store.newID()
	}
	if _, exists := tx.state.databases[d.ID]; exists {
		return Database{}, fmt.Errorf("database %q already exists", d.ID)
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.databases[d.ID] = cloneDatabase(d)
	tx.recordChange(Change{Entity: domain.EntityDatabase, Action: domain.ActionCreate, After: cloneDatabase(d)})
	return cloneDatabase(d), nil
}

// UpdateDatabase mutates a database using the provided mutator function.
func (tx *transaction) UpdateDatabase(id string, mutator func(*Database) error) (Database, error) {
	current, ok := tx.state.databases[id]
	if !ok {
		return Database{}, fmt.Errorf("database %q not found", id)
	}
	before := cloneDatabase(current)
	if err := mutator(&current); err != nil {
		return Database{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.databases[id] = cloneDatabase(current)
	tx.recordChange(Change{Entity: domain.EntityDatabase, Action: domain.ActionUpdate, Before: before, After: cloneDatabase(current)})
	return cloneDatabase(current), nil
}

// DeleteDatabase removes a database and refuses while records still reference it.
func (tx *transaction) DeleteDatabase(id string) error {
	current, ok := tx.state.databases[id]
	if !ok {
		return fmt.Errorf("database %q not found", id)
	}
	for _, p := range tx.state.processes {
		if p.DatabaseID == id {
			return fmt.Errorf("database %q still referenced by process %q", id, p.ID)
		}
	}
	for _, f := range tx.state.functions {
		if f.DatabaseID == id {
			return fmt.Errorf("database %q still referenced by function %q", id, f.ID)
		}
	}
	delete(tx.state.databases, id)
	tx.recordChange(Change{Entity: domain.EntityDatabase, Action: domain.ActionDelete, Before: cloneDatabase(current)})
	return nil
}

// CreateProcess stores a new process node.
func (tx *transaction) CreateProcess(p Process) (Process, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.processes[p.ID]; exists {
		return Process{}, fmt.Errorf("process %q already exists", p.ID)
	}
	if _, ok := tx.state.databases[p.DatabaseID]; !ok {
		return Process{}, fmt.Errorf("process %q references unknown database %q", p.ID, p.DatabaseID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.processes[p.ID] = cloneProcess(p)
	tx.recordChange(Change{Entity: domain.EntityProcess, Action: domain.ActionCreate, After: cloneProcess(p)})
	return cloneProcess(p), nil
}

// UpdateProcess mutates a process using the provided mutator function.
func (tx *transaction) UpdateProcess(id string, mutator func(*Process) error) (Process, error) {
	current, ok := tx.state.processes[id]
	if !ok {
		return Process{}, fmt.Errorf("process %q not found", id)
	}
	before := cloneProcess(current)
	if err := mutator(&current); err != nil {
		return Process{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.processes[id] = cloneProcess(current)
	tx.recordChange(Change{Entity: domain.EntityProcess, Action: domain.ActionUpdate, Before: before, After: cloneProcess(current)})
	return cloneProcess(current), nil
}

// DeleteProcess removes a process and its attached exchanges.
func (tx *transaction) DeleteProcess(id string) error {
	current, ok := tx.state.processes[id]
	if !ok {
		return fmt.Errorf("process %q not found", id)
	}
	for eid, e := range tx.state.exchanges {
		if e.OutputID == id || e.InputID == id {
			delete(tx.state.exchanges, eid)
		}
	}
	delete(tx.state.processes, id)
	tx.recordChange(Change{Entity: domain.EntityProcess, Action: domain.ActionDelete, Before: cloneProcess(current)})
	return nil
}

// CreateFunction stores a new function node.
func (tx *transaction) CreateFunction(f Function) (Function, error) {
	if f.ID == "" {
		f.ID = tx.store.newID()
	}
	if _, exists := tx.state.functions[f.ID]; exists {
		return Function{}, fmt.Errorf("function %q already exists", f.ID)
	}
	if _, ok := tx.state.databases[f.DatabaseID]; !ok {
		return Function{}, fmt.Errorf("function %q references unknown database %q", f.ID, f.DatabaseID)
	}
	if f.ProcessorID != "" {
		if _, ok := tx.state.processes[f.ProcessorID]; !ok {
			return Function{}, fmt.Errorf("function %q references unknown processor %q", f.ID, f.ProcessorID)
		}
	}
	f.CreatedAt = tx.now
	f.UpdatedAt = tx.now
	tx.state.functions[f.ID] = cloneFunction(f)
	tx.recordChange(Change{Entity: domain.EntityFunction, Action: domain.ActionCreate, After: cloneFunction(f)})
	return cloneFunction(f), nil
}

// UpdateFunction mutates a function using the provided mutator function.
func (tx *transaction) UpdateFunction(id string, mutator func(*Function) error) (Function, error) {
	current, ok := tx.state.functions[id]
	if !ok {
		return Function{}, fmt.Errorf("function %q not found", id)
	}
	before := cloneFunction(current)
	if err := mutator(&current); err != nil {
		return Function{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.functions[id] = cloneFunction(current)
	tx.recordChange(Change{Entity: domain.EntityFunction, Action: domain.ActionUpdate, Before: before, After: cloneFunction(current)})
	return cloneFunction(current), nil
}

// DeleteFunction removes a function and its attached exchanges.
func (tx *transaction) DeleteFunction(id string) error {
	current, ok := tx.state.functions[id]
	if !ok {
		return fmt.Errorf("function %q not found", id)
	}
	for eid, e := range tx.state.exchanges {
		if e.InputID == id || e.OutputID == id {
			delete(tx.state.exchanges, eid)
		}
	}
	delete(tx.state.functions, id)
	tx.recordChange(Change{Entity: domain.EntityFunction, Action: domain.ActionDelete, Before: cloneFunction(current)})
	return nil
}

// CreateExchange stores a new exchange edge.
func (tx *transaction) CreateExchange(e Exchange) (Exchange, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.exchanges[e.ID]; exists {
		return Exchange{}, fmt.Errorf("exchange %q already exists", e.ID)
	}
	if _, ok := tx.state.databases[e.DatabaseID]; !ok {
		return Exchange{}, fmt.Errorf("exchange %q references unknown database %q", e.ID, e.DatabaseID)
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.exchanges[e.ID] = cloneExchange(e)
	tx.recordChange(Change{Entity: domain.EntityExchange, Action: domain.ActionCreate, After: cloneExchange(e)})
	return cloneExchange(e), nil
}

// UpdateExchange mutates an exchange using the provided mutator function.
func (tx *transaction) UpdateExchange(id string, mutator func(*Exchange) error) (Exchange, error) {
	current, ok := tx.state.exchanges[id]
	if !ok {
		return Exchange{}, fmt.Errorf("exchange %q not found", id)
	}
	before := cloneExchange(current)
	if err := mutator(&current); err != nil {
		return Exchange{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.exchanges[id] = cloneExchange(current)
	tx.recordChange(Change{Entity: domain.EntityExchange, Action: domain.ActionUpdate, Before: before, After: cloneExchange(current)})
	return cloneExchange(current), nil
}

// DeleteExchange removes an exchange edge.
func (tx *transaction) DeleteExchange(id string) error {
	current, ok := tx.state.exchanges[id]
	if !ok {
		return fmt.Errorf("exchange %q not found", id)
	}
	delete(tx.state.exchanges, id)
	tx.recordChange(Change{Entity: domain.EntityExchange, Action: domain.ActionDelete, Before: cloneExchange(current)})
	return nil
}

// GetDatabase returns a database by id from committed state.
func (s *Store) GetDatabase(id string) (Database, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.databases[id]
	if !ok {
		return Database{}, false
	}
	return cloneDatabase(d), true
}

// ListDatabases returns all committed databases.
func (s *Store) ListDatabases() []Database {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Database, 0, len(s.state.databases))
	for _, d := range s.state.databases {
		out = append(out, cloneDatabase(d))
	}
	return out
}

// GetProcess returns a process by id from committed state.
func (s *Store) GetProcess(id string) (Process, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.processes[id]
	if !ok {
		return Process{}, false
	}
	return cloneProcess(p), true
}

// ListProcesses returns all committed processes.
func (s *Store) ListProcesses() []Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Process, 0, len(s.state.processes))
	for _, p := range s.state.processes {
		out = append(out, cloneProcess(p))
	}
	return out
}

// GetFunction returns a function by id from committed state.
func (s *Store) GetFunction(id string) (Function, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.state.functions[id]
	if !ok {
		return Function{}, false
	}
	return cloneFunction(f), true
}

// ListFunctions returns all committed functions.
func (s *Store) ListFunctions() []Function {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Function, 0, len(s.state.functions))
	for _, f := range s.state.functions {
		out = append(out, cloneFunction(f))
	}
	return out
}

// ListExchanges returns all committed exchanges.
func (s *Store) ListExchanges() []Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Exchange, 0, len(s.state.exchanges))
	for _, e := range s.state.exchanges {
		out = append(out, cloneExchange(e))
	}
	return out
}
