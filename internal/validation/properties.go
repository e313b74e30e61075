// Package validation checks whether the function properties of a database can
// support a property-based allocation strategy before one is configured.
package validation

import (
	"fmt"
	"math"
	"sort"

	"lcacore/pkg/domain"
)

// MessageType classifies a property problem.
type MessageType string

const (
	// MessageMissing indicates the property is absent from a function.
	MessageMissing MessageType = "missing"
	// MessageNotNumeric indicates the property value is not a usable number.
	MessageNotNumeric MessageType = "not_numeric"
)

// PropertyMessage describes one property problem on one function.
type PropertyMessage struct {
	ProcessID    string
	ProcessName  string
	FunctionID   string
	FunctionName string
	Property     string
	Type         MessageType
}

func (m PropertyMessage) String() string {
	verb := "is missing"
	if m.Type == MessageNotNumeric {
		verb = "has a non-numeric value for"
	}
	return fmt.Sprintf("function %q of process %q %s property %q", m.FunctionName, m.ProcessName, verb, m.Property)
}

// ProcessPropertyErrors validates the named property on every non-substituted
// function of one multifunctional process. A nil slice means the property can
// drive allocation for the process.
func ProcessPropertyErrors(view domain.TransactionView, processID, property string) ([]PropertyMessage, error) {
	proc, ok := view.FindProcess(processID)
	if !ok {
		return nil, fmt.Errorf("process %s not found", processID)
	}
	return processMessages(view, proc, property), nil
}

// DatabasePropertyErrors validates the named property across every
// multifunctional process of a database. Messages are grouped by process ID.
func DatabasePropertyErrors(view domain.TransactionView, databaseID, property string) (map[string][]PropertyMessage, error) {
	if _, ok := view.FindDatabase(databaseID); !ok {
		return nil, fmt.Errorf("database %s not found", databaseID)
	}
	out := make(map[string][]PropertyMessage)
	for _, proc := range view.ListProcesses() {
		if proc.DatabaseID != databaseID || proc.Type != domain.ProcessTypeMultifunctional {
			continue
		}
		if msgs := processMessages(view, proc, property); len(msgs) > 0 {
			out[proc.ID] = msgs
		}
	}
	return out, nil
}

// AvailableProperties returns the sorted union of property labels carried by
// the functions of a database. These are the candidate labels for
// property-based allocation.
func AvailableProperties(view domain.TransactionView, databaseID string) []string {
	seen := make(map[string]bool)
	for _, fn := range view.ListFunctions() {
		if fn.DatabaseID != databaseID {
			continue
		}
		for label := range fn.Properties {
			seen[label] = true
		}
	}
	out := make([]string, 0, len(seen))
	for label := range seen {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

func processMessages(view domain.TransactionView, proc domain.Process, property string) []PropertyMessage {
	var msgs []PropertyMessage
	for _, fn := range functionsOf(view, proc.ID) {
		if fn.Substituted() {
			continue
		}
		prop, ok := fn.Properties[property]
		if !ok {
			msgs = append(msgs, message(proc, fn, property, MessageMissing))
			continue
		}
		if math.IsNaN(prop.Amount) || math.IsInf(prop.Amount, 0) {
			msgs = append(msgs, message(proc, fn, property, MessageNotNumeric))
		}
	}
	return msgs
}

func functionsOf(view domain.TransactionView, processID string) []domain.Function {
	var out []domain.Function
	for _, fn := range view.ListFunctions() {
		if fn.ProcessorID == processID {
			out = append(out, fn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func message(proc domain.Process, fn domain.Function, property string, kind MessageType) PropertyMessage {
	return PropertyMessage{
		ProcessID:    proc.ID,
		ProcessName:  proc.Name,
		FunctionID:   fn.ID,
		FunctionName: fn.Name,
		Property:     property,
		Type:         kind,
	}
}
