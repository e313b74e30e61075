// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by lcacore.
package domain

import (
	"time"

	"lcacore/pkg/extension"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityDatabase identifies a registered inventory database.
	EntityDatabase EntityType = "database"
	// EntityProcess identifies a process node record.
	EntityProcess EntityType = "process"
	// EntityFunction identifies a product or waste function record.
	EntityFunction EntityType = "function"
	// EntityExchange identifies an exchange (edge) record.
	EntityExchange EntityType = "exchange"
)

// ProcessType classifies a process node by its functional edges.
type ProcessType string

// Canonical process node types. A node's type is re-deduced whenever its
// production edges change.
const (
	// ProcessTypeProcess indicates a mono-functional process.
	ProcessTypeProcess ProcessType = "process"
	// ProcessTypeMultifunctional indicates a process with more than one functional edge.
	ProcessTypeMultifunctional ProcessType = "multifunctional"
	// ProcessTypeNonfunctional indicates a process without any functional edge.
	ProcessTypeNonfunctional ProcessType = "nonfunctional"
	// ProcessTypeReadOnly indicates a derived single-function view of a
	// multifunctional process. Read-only processes are regenerated on every
	// allocation run and never mutated in place.
	ProcessTypeReadOnly ProcessType = "readonly_process"
)

// FunctionType classifies a function node.
type FunctionType string

// Canonical function types deduced from the sign of the processing edge.
const (
	// FunctionTypeProduct indicates a function produced by its processor.
	FunctionTypeProduct FunctionType = "product"
	// FunctionTypeWaste indicates a reduction target consumed by its processor.
	FunctionTypeWaste FunctionType = "waste"
	// FunctionTypeOrphaned indicates a function without a processing edge.
	FunctionTypeOrphaned FunctionType = "orphaned_product"
)

// ExchangeType classifies an edge between nodes.
type ExchangeType string

// Canonical exchange types.
const (
	// ExchangeProduction links a function to the process producing or consuming it.
	ExchangeProduction ExchangeType = "production"
	// ExchangeTechnosphere is an intermediate input from another process-function.
	ExchangeTechnosphere ExchangeType = "technosphere"
	// ExchangeBiosphere is an elementary flow to or from the environment.
	ExchangeBiosphere ExchangeType = "biosphere"
	// ExchangeSubstitution credits an avoided product.
	ExchangeSubstitution ExchangeType = "substitution"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Database represents a registered inventory database. A database owns process,
// function, and exchange records and carries the fallback allocation strategy
// applied to multifunctional processes without their own override.
type Database struct {
	Base
	Name              string     `json:"name"`
	Backend           string     `json:"backend"`
	DefaultAllocation string     `json:"default_allocation"`
	Dirty             bool       `json:"dirty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	Depends           []string   `json:"depends,omitempty"`
}

// Process represents a process node. Multifunctional processes carry more than
// one production edge and must be allocated before matrix construction.
type Process struct {
	Base
	DatabaseID string      `json:"database_id"`
	Name       string      `json:"name"`
	Unit       string      `json:"unit,omitempty"`
	Location   string      `json:"location,omitempty"`
	Type       ProcessType `json:"type"`
	// Allocation optionally overrides the database default strategy label.
	Allocation     string `json:"allocation,omitempty"`
	SkipAllocation bool   `json:"skip_allocation,omitempty"`
	// ParentID links a read-only derived process back to its multifunctional source.
	ParentID *string `json:"parent_id,omitempty"`
	// FunctionID is set on read-only derived processes and names the single
	// function the view was generated for.
	FunctionID *string `json:"function_id,omitempty"`
	// AllocationRunID stamps the allocation run that generated a derived process.
	AllocationRunID string `json:"allocation_run_id,omitempty"`
	// Extensions carries annotation payloads contributed by importers.
	Extensions extension.Container `json:"extensions,omitempty"`
}

// Property is a named numeric attribute of a function, e.g. price or mass.
// Property amounts are defined per unit of function output; property-based
// allocation scales them by the processing edge amount.
type Property struct {
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit,omitempty"`
}

// Function represents a product or waste node attached to exactly one processor.
type Function struct {
	Base
	DatabaseID  string              `json:"database_id"`
	ProcessorID string              `json:"processor_id"`
	Name        string              `json:"name"`
	Unit        string              `json:"unit,omitempty"`
	Type        FunctionType        `json:"type"`
	Properties  map[string]Property `json:"properties,omitempty"`
	// AllocationFactor is the burden share assigned by the last allocation run.
	AllocationFactor   float64 `json:"allocation_factor,omitempty"`
	SubstituteID       *string `json:"substitute_id,omitempty"`
	SubstitutionFactor float64 `json:"substitution_factor,omitempty"`
	// Extensions carries annotation payloads contributed by importers.
	Extensions extension.Container `json:"extensions,omitempty"`
}

// Substituted reports whether the function is credited through substitution
// and therefore excluded from allocation.
func (f Function) Substituted() bool {
	return f.SubstitutionFactor > 0
}

// UncertaintyType identifies a distribution family for stochastic exchanges.
// The IDs follow the conventional inventory-datapackage numbering.
type UncertaintyType int

// Distribution family IDs.
const (
	UncertaintyUndefined  UncertaintyType = 0
	UncertaintyNone       UncertaintyType = 1
	UncertaintyLognormal  UncertaintyType = 2
	UncertaintyNormal     UncertaintyType = 3
	UncertaintyUniform    UncertaintyType = 4
	UncertaintyTriangular UncertaintyType = 5
	UncertaintyWeibull    UncertaintyType = 8
	UncertaintyGamma      UncertaintyType = 9
)

// Uncertainty describes the distribution attached to an exchange amount.
type Uncertainty struct {
	Type    UncertaintyType `json:"type"`
	Loc     *float64        `json:"loc,omitempty"`
	Scale   *float64        `json:"scale,omitempty"`
	Shape   *float64        `json:"shape,omitempty"`
	Minimum *float64        `json:"minimum,omitempty"`
	Maximum *float64        `json:"maximum,omitempty"`
}

// Exchange represents a directed edge between two nodes. Production exchanges
// link functions to their processor; technosphere and biosphere exchanges are
// the non-functional flows split up during allocation.
type Exchange struct {
	Base
	DatabaseID  string       `json:"database_id"`
	InputID     string       `json:"input_id"`
	OutputID    string       `json:"output_id"`
	Type        ExchangeType `json:"type"`
	Amount      float64      `json:"amount"`
	Uncertainty *Uncertainty `json:"uncertainty,omitempty"`
}

// Functional reports whether the exchange is a functional edge.
func (e Exchange) Functional() bool {
	return e.Type == ExchangeProduction
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
