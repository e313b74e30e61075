// Package extension provides a typed container for annotation slots on core
// inventory entities. Importers and tooling attach free-form JSON payloads to
// a constrained set of hooks; the container keeps those payloads keyed by hook
// and contributing source, and clones them on every access so callers never
// share mutable state with the store.
package extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Hook identifies an annotation slot on a core entity.
type Hook string

// Sanctioned annotation slots. The values are part of the serialized record
// shape, so they stay stable across importers and exports.
const (
	HookDatabaseAttributes     Hook = "entity.database.attributes"
	HookProcessAttributes      Hook = "entity.process.attributes"
	HookProcessClassifications Hook = "entity.process.classifications"
	HookFunctionAttributes     Hook = "entity.function.attributes"
	HookFunctionProvenance     Hook = "entity.function.provenance"
	HookExchangeAttributes     Hook = "entity.exchange.attributes"
)

var hookRegistry = map[Hook]struct{}{
	HookDatabaseAttributes:     {},
	HookProcessAttributes:      {},
	HookProcessClassifications: {},
	HookFunctionAttributes:     {},
	HookFunctionProvenance:     {},
	HookExchangeAttributes:     {},
}

// Source names the importer or tool contributing an annotation payload.
type Source string

func (s Source) String() string { return string(s) }

// ErrUnknownHook indicates a payload referenced a hook outside the sanctioned slots.
var ErrUnknownHook = errors.New("extension: unknown hook identifier")

// ErrEmptySource indicates an empty source identifier was supplied.
var ErrEmptySource = errors.New("extension: source identifier must not be empty")

// KnownHooks returns the sorted list of registered hook identifiers.
func KnownHooks() []Hook {
	out := make([]Hook, 0, len(hookRegistry))
	for h := range hookRegistry {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsKnownHook reports whether the hook identifier is registered.
func IsKnownHook(h Hook) bool {
	_, ok := hookRegistry[h]
	return ok
}

// ParseHook validates a string identifier and returns the typed Hook.
func ParseHook(value string) (Hook, error) {
	h := Hook(value)
	if !IsKnownHook(h) {
		return "", fmt.Errorf("%w: %s", ErrUnknownHook, value)
	}
	return h, nil
}

// Container stores annotation payloads keyed by hook and source. The zero
// value is empty and ready to use.
type Container struct {
	payload map[Hook]map[string]any
}

// NewContainer initialises an empty container.
func NewContainer() Container {
	return Container{payload: make(map[Hook]map[string]any)}
}

// FromRaw builds a container from the JSON-compatible wire representation.
// Unknown hooks are rejected to prevent silent slot drift.
func FromRaw(raw map[string]map[string]any) (Container, error) {
	c := NewContainer()
	for hookStr, sources := range raw {
		hook, err := ParseHook(hookStr)
		if err != nil {
			return Container{}, err
		}
		for source, value := range sources {
			if err := c.Set(hook, Source(source), value); err != nil {
				return Container{}, err
			}
		}
	}
	return c, nil
}

// Set stores a payload under the given hook and source. Payloads are deep
// copied on the way in.
func (c *Container) Set(hook Hook, source Source, value any) error {
	if !IsKnownHook(hook) {
		return fmt.Errorf("%w: %s", ErrUnknownHook, hook)
	}
	if source == "" {
		return ErrEmptySource
	}
	if c.payload == nil {
		c.payload = make(map[Hook]map[string]any)
	}
	if _, ok := c.payload[hook]; !ok {
		c.payload[hook] = make(map[string]any)
	}
	c.payload[hook][source.String()] = cloneValue(value)
	return nil
}

// Remove deletes the payload stored under the given hook and source.
func (c *Container) Remove(hook Hook, source Source) {
	entries, ok := c.payload[hook]
	if !ok {
		return
	}
	delete(entries, source.String())
	if len(entries) == 0 {
		delete(c.payload, hook)
	}
}

// Get retrieves a deep copy of the payload for the given hook and source.
func (c Container) Get(hook Hook, source Source) (any, bool) {
	entries, ok := c.payload[hook]
	if !ok {
		return nil, false
	}
	value, ok := entries[source.String()]
	if !ok {
		return nil, false
	}
	return cloneValue(value), true
}

// Sources returns the contributing source identifiers for a hook, sorted.
func (c Container) Sources(hook Hook) []Source {
	entries, ok := c.payload[hook]
	if !ok {
		return nil
	}
	out := make([]Source, 0, len(entries))
	for source := range entries {
		out = append(out, Source(source))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Hooks reports the populated hooks, sorted.
func (c Container) Hooks() []Hook {
	out := make([]Hook, 0, len(c.payload))
	for hook := range c.payload {
		out = append(out, hook)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsEmpty reports whether the container holds no payloads.
func (c Container) IsEmpty() bool { return len(c.payload) == 0 }

// Clone produces a deep copy of the container.
func (c Container) Clone() Container {
	if len(c.payload) == 0 {
		return Container{}
	}
	clone := NewContainer()
	for hook, entries := range c.payload {
		inner := make(map[string]any, len(entries))
		for source, value := range entries {
			inner[source] = cloneValue(value)
		}
		clone.payload[hook] = inner
	}
	return clone
}

// Raw exposes a JSON-compatible deep copy of the container payload.
func (c Container) Raw() map[string]map[string]any {
	wire := make(map[string]map[string]any, len(c.payload))
	for hook, entries := range c.payload {
		inner := make(map[string]any, len(entries))
		for source, value := range entries {
			inner[source] = cloneValue(value)
		}
		wire[string(hook)] = inner
	}
	return wire
}

// MarshalJSON keeps the wire shape map[hook]map[source]any.
func (c Container) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Raw())
}

// UnmarshalJSON validates hook identifiers and populates the container.
func (c *Container) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Container{}
		return nil
	}
	var wire map[string]map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	parsed, err := FromRaw(wire)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// cloneValue deep copies JSON-compatible values. Payloads arrive either from
// json.Unmarshal (maps, slices, scalars) or from callers constructing the same
// shapes, so a structural walk covers the supported cases.
func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = cloneValue(v)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = cloneValue(v)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	case []float64:
		return append([]float64(nil), typed...)
	case map[string]string:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = v
		}
		return out
	default:
		return typed
	}
}
