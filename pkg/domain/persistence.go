package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateDatabase(Database) (Database, error)
	UpdateDatabase(id string, mutator func(*Database) error) (Database, error)
	DeleteDatabase(id string) error
	CreateProcess(Process) (Process, error)
	UpdateProcess(id string, mutator func(*Process) error) (Process, error)
	DeleteProcess(id string) error
	CreateFunction(Function) (Function, error)
	UpdateFunction(id string, mutator func(*Function) error) (Function, error)
	DeleteFunction(id string) error
	CreateExchange(Exchange) (Exchange, error)
	UpdateExchange(id string, mutator func(*Exchange) error) (Exchange, error)
	DeleteExchange(id string) error
	FindDatabase(id string) (Database, bool)
	FindProcess(id string) (Process, bool)
	FindFunction(id string) (Function, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListDatabases() []Database
	ListProcesses() []Process
	ListFunctions() []Function
	ListExchanges() []Exchange
	FindDatabase(id string) (Database, bool)
	FindProcess(id string) (Process, bool)
	FindFunction(id string) (Function, bool)
	// ProcessExchanges returns the exchanges whose output is the given process,
	// i.e. the edges that belong to the process record.
	ProcessExchanges(processID string) []Exchange
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetDatabase(id string) (Database, bool)
	ListDatabases() []Database
	GetProcess(id string) (Process, bool)
	ListProcesses() []Process
	GetFunction(id string) (Function, bool)
	ListFunctions() []Function
	ListExchanges() []Exchange
}
