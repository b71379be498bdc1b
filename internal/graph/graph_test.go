package graph

import (
	"errors"
	"sort"
	"testing"
)

func TestValidate_Acyclic(t *testing.T) {
	deps := Deps{
		"a": nil,
		"b": {"a"},
		"c": {"a", "b"},
	}
	if err := Validate(deps); err != nil {
		t.Errorf("expected valid graph, got %v", err)
	}
}

func TestValidate_Cycle(t *testing.T) {
	deps := Deps{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
	}
	err := Validate(deps)
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestValidate_SelfCycle(t *testing.T) {
	deps := Deps{"a": {"a"}}
	if err := Validate(deps); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected cycle error for self-dependency, got %v", err)
	}
}

func TestValidate_UnknownDependency(t *testing.T) {
	deps := Deps{"a": {"ghost"}}
	if err := Validate(deps); !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected unknown dependency error, got %v", err)
	}
}

func TestReady(t *testing.T) {
	deps := Deps{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	}

	got := Ready(deps, map[string]bool{})
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("Ready with nothing done = %v, want [a]", got)
	}

	got = Ready(deps, map[string]bool{"a": true})
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("Ready with a done = %v, want [b]", got)
	}

	got = Ready(deps, map[string]bool{"a": true, "b": true, "c": true})
	if len(got) != 0 {
		t.Errorf("Ready with all done = %v, want empty", got)
	}
}

func TestReady_Parallel(t *testing.T) {
	deps := Deps{
		"a": nil,
		"b": nil,
		"c": {"a", "b"},
	}
	got := Ready(deps, map[string]bool{})
	sort.Strings(got)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Ready = %v, want [a b]", got)
	}
}
