package plan

import (
	"reflect"
	"testing"
)

func TestGraphAcyclicEverythingReachable(t *testing.T) {
	g := NewGraph([]Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "d", DependsOn: []string{"b", "c"}},
	})
	if un := g.Unreachable(); len(un) != 0 {
		t.Fatalf("expected all reachable, got %v", un)
	}
	if roots := g.Roots(); !reflect.DeepEqual(roots, []string{"a"}) {
		t.Fatalf("unexpected roots: %v", roots)
	}
	if deps := g.Dependents("a"); !reflect.DeepEqual(deps, []string{"b", "c"}) {
		t.Fatalf("unexpected dependents: %v", deps)
	}
}

func TestGraphCycleAndUnknownDependencyUnreachable(t *testing.T) {
	g := NewGraph([]Step{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"c"}},
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "d", DependsOn: []string{"ghost"}},
		{ID: "e", DependsOn: []string{"d"}},
		{ID: "f", DependsOn: []string{"f"}},
	})
	want := []string{"b", "c", "d", "e", "f"}
	if got := g.Unreachable(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected unreachable set: %v", got)
	}
	if !g.Reachable("a") {
		t.Fatalf("a should be reachable")
	}
}
