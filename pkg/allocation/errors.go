package allocation

import "fmt"

// ConfigurationError indicates that no allocation strategy could be resolved
// for a process: neither a process-level override nor a database default was set.
type ConfigurationError struct {
	ProcessID string
}

func (e ConfigurationError) Error() string {
	if e.ProcessID == "" {
		return "no allocation strategy configured"
	}
	return fmt.Sprintf("no allocation strategy configured for process %s", e.ProcessID)
}

// MissingPropertyError indicates that a function lacks the numeric property
// required by a property-based strategy.
type MissingPropertyError struct {
	FunctionID   string
	FunctionName string
	Property     string
}

func (e MissingPropertyError) Error() string {
	return fmt.Sprintf("function %s (%s) missing property %q", e.FunctionName, e.FunctionID, e.Property)
}

// ZeroAllocationError indicates that the raw weights of all functional edges
// summed to zero, so no normalized factors exist.
type ZeroAllocationError struct {
	Strategy  string
	ProcessID string
}

func (e ZeroAllocationError) Error() string {
	return fmt.Sprintf("strategy %s: sum of allocation weights is zero for process %s", e.Strategy, e.ProcessID)
}
