package extension

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSetAndGetClonesPayloads(t *testing.T) {
	c := NewContainer()
	payload := map[string]any{"comment": "combined heat and power", "tags": []any{"energy"}}
	if err := c.Set(HookProcessAttributes, "importer", payload); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Mutating the caller's map must not reach the container.
	payload["comment"] = "changed"
	got, ok := c.Get(HookProcessAttributes, "importer")
	if !ok {
		t.Fatalf("payload missing")
	}
	m := got.(map[string]any)
	if m["comment"] != "combined heat and power" {
		t.Fatalf("container aliased the input map: %v", m)
	}

	// Mutating the returned copy must not reach the container either.
	m["comment"] = "changed again"
	again, _ := c.Get(HookProcessAttributes, "importer")
	if again.(map[string]any)["comment"] != "combined heat and power" {
		t.Fatalf("Get returned a shared reference")
	}
}

func TestSetRejectsInvalidInput(t *testing.T) {
	c := NewContainer()
	if err := c.Set(Hook("entity.unknown.slot"), "importer", 1); !errors.Is(err, ErrUnknownHook) {
		t.Fatalf("unknown hook error = %v", err)
	}
	if err := c.Set(HookProcessAttributes, "", 1); !errors.Is(err, ErrEmptySource) {
		t.Fatalf("empty source error = %v", err)
	}
}

func TestRemoveDropsEmptyHooks(t *testing.T) {
	c := NewContainer()
	if err := c.Set(HookFunctionProvenance, "conversion", map[string]any{"exchange_id": "e1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	c.Remove(HookFunctionProvenance, "conversion")
	if len(c.Hooks()) != 0 {
		t.Fatalf("hooks = %v, want none", c.Hooks())
	}
	if !c.IsEmpty() {
		t.Fatalf("container not empty after removal")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c := NewContainer()
	if err := c.Set(HookProcessClassifications, "ecoinvent", []any{"CPC 171", "ISIC 3510"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Set(HookProcessAttributes, "fixture", map[string]any{"location": "GLO"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Container
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Hooks()) != 2 {
		t.Fatalf("hooks after round trip = %v", decoded.Hooks())
	}
	got, ok := decoded.Get(HookProcessAttributes, "fixture")
	if !ok || got.(map[string]any)["location"] != "GLO" {
		t.Fatalf("payload after round trip = %v", got)
	}
}

func TestUnmarshalRejectsUnknownHook(t *testing.T) {
	var c Container
	err := json.Unmarshal([]byte(`{"entity.bogus.slot": {"x": 1}}`), &c)
	if !errors.Is(err, ErrUnknownHook) {
		t.Fatalf("err = %v", err)
	}
}

func TestUnmarshalNull(t *testing.T) {
	c := NewContainer()
	if err := c.Set(HookDatabaseAttributes, "fixture", true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := json.Unmarshal([]byte("null"), &c); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !c.IsEmpty() {
		t.Fatalf("null did not reset the container")
	}
}

func TestSourcesAndKnownHooksSorted(t *testing.T) {
	c := NewContainer()
	for _, source := range []Source{"zeta", "alpha"} {
		if err := c.Set(HookExchangeAttributes, source, 1); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	sources := c.Sources(HookExchangeAttributes)
	if len(sources) != 2 || sources[0] != "alpha" || sources[1] != "zeta" {
		t.Fatalf("sources = %v", sources)
	}

	hooks := KnownHooks()
	for i := 1; i < len(hooks); i++ {
		if hooks[i-1] >= hooks[i] {
			t.Fatalf("known hooks not sorted: %v", hooks)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	c := NewContainer()
	if err := c.Set(HookFunctionAttributes, "importer", map[string]any{"cas": "7732-18-5"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	clone := c.Clone()
	c.Remove(HookFunctionAttributes, "importer")
	if _, ok := clone.Get(HookFunctionAttributes, "importer"); !ok {
		t.Fatalf("clone lost payload after source mutation")
	}
}
