package model

import (
	"errors"
	"testing"
)

func newTwoLevelModel(t *testing.T) *Model {
	t.Helper()
	m := New("test")
	for _, ns := range []struct{ name, parent string }{
		{"env", ""},
		{"cell", ""},
		{"gate", "cell"},
	} {
		if _, err := m.AddNamespace(ns.name, ns.parent); err != nil {
			t.Fatalf("Failed to add namespace %s: %v", ns.name, err)
		}
	}
	if _, err := m.AddVariable(&Variable{Namespace: "env", Name: "time", Units: "ms", Kind: KindFree,
		Interface: Interface{Public: DirectionOut}}); err != nil {
		t.Fatalf("Failed to add time: %v", err)
	}
	if _, err := m.AddVariable(&Variable{Namespace: "cell", Name: "time", Units: "ms",
		Interface: Interface{Public: DirectionIn}}); err != nil {
		t.Fatalf("Failed to add cell time: %v", err)
	}
	if _, err := m.AddConnection(VarRef{"env", "time"}, VarRef{"cell", "time"}); err != nil {
		t.Fatalf("Failed to connect time: %v", err)
	}
	k := &Variable{Namespace: "cell", Name: "k", Units: "per_ms"}
	k.SetInitial(0.5)
	if _, err := m.AddVariable(k); err != nil {
		t.Fatalf("Failed to add k: %v", err)
	}
	x := &Variable{Namespace: "cell", Name: "x", Units: "dimensionless"}
	x.SetInitial(1)
	if _, err := m.AddVariable(x); err != nil {
		t.Fatalf("Failed to add x: %v", err)
	}
	if _, err := m.AddEquation(&Equation{Namespace: "cell", Target: "x", BoundVar: "time",
		RHS: Op("*", Op("-", Ref("k")), Ref("x"))}); err != nil {
		t.Fatalf("Failed to add ODE: %v", err)
	}
	m.InferKinds()
	return m
}

func TestModel_AddNamespace(t *testing.T) {
	m := New("test")

	if _, err := m.AddNamespace("a", ""); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := m.AddNamespace("a", ""); !IsConflict(err) {
		t.Errorf("Expected conflict for duplicate namespace, got: %v", err)
	}
	if _, err := m.AddNamespace("b", "missing"); !IsNotFound(err) {
		t.Errorf("Expected not found for missing parent, got: %v", err)
	}
	if _, err := m.AddNamespace("c,d", ""); !IsConflict(err) {
		t.Errorf("Expected conflict for qualified namespace name, got: %v", err)
	}
}

func TestModel_LookupAndDetach(t *testing.T) {
	m := newTwoLevelModel(t)

	x, err := m.Lookup("cell", "x")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if x.Kind != KindState {
		t.Errorf("Expected state, got %s", x.Kind)
	}

	if _, err := m.Lookup("cell", "missing"); !IsNotFound(err) {
		t.Errorf("Expected not found, got: %v", err)
	}
	if _, err := m.Lookup("nowhere", "x"); !IsNotFound(err) {
		t.Errorf("Expected not found for missing namespace, got: %v", err)
	}

	m.DetachVariable(x)
	if _, err := m.Lookup("cell", "x"); !IsNotFound(err) {
		t.Errorf("Expected detached variable to be not found, got: %v", err)
	}
	if _, err := m.Variable(x.ID); !IsNotFound(err) {
		t.Errorf("Expected detached ID to be not found, got: %v", err)
	}
	if _, ok := m.Definition(x.Ref()); !ok {
		t.Error("Expected equation to stay attached to the name")
	}
}

func TestModel_AddVariable_Duplicate(t *testing.T) {
	m := newTwoLevelModel(t)

	_, err := m.AddVariable(&Variable{Namespace: "cell", Name: "x"})
	if !IsConflict(err) {
		t.Fatalf("Expected conflict, got: %v", err)
	}
	var me *Error
	if !errors.As(err, &me) {
		t.Fatalf("Expected *Error, got %T", err)
	}
	if me.Name != "cell,x" {
		t.Errorf("Expected name cell,x, got %s", me.Name)
	}
	if me.Code != ErrCodeDuplicate {
		t.Errorf("Expected code %s, got %s", ErrCodeDuplicate, me.Code)
	}
}

func TestModel_AddEquation_SingleDefinition(t *testing.T) {
	m := newTwoLevelModel(t)

	_, err := m.AddEquation(&Equation{Namespace: "cell", Target: "x", RHS: Num(1, "")})
	if !IsConflict(err) {
		t.Errorf("Expected conflict for second definition, got: %v", err)
	}

	_, err = m.AddEquation(&Equation{Namespace: "cell", Target: "missing", RHS: Num(1, "")})
	if !IsNotFound(err) {
		t.Errorf("Expected not found for missing target, got: %v", err)
	}
}

func TestModel_ODE(t *testing.T) {
	m := newTwoLevelModel(t)
	x, _ := m.Lookup("cell", "x")

	if _, err := m.ODE(x, "time"); err != nil {
		t.Fatalf("Expected ODE, got: %v", err)
	}

	k, _ := m.Lookup("cell", "k")
	_, err := m.ODE(k, "time")
	if !errors.Is(err, &Error{Class: ErrorClassNotFound, Code: ErrCodeNotApplicable}) {
		t.Errorf("Expected not applicable, got: %v", err)
	}
}

func TestModel_AddConnection(t *testing.T) {
	m := newTwoLevelModel(t)

	if _, err := m.AddVariable(&Variable{Namespace: "gate", Name: "time"}); err != nil {
		t.Fatalf("Failed to add gate time: %v", err)
	}

	if _, err := m.AddConnection(VarRef{"env", "time"}, VarRef{"gate", "time"}); !IsUnreachable(err) {
		t.Errorf("Expected unreachable for non-adjacent namespaces, got: %v", err)
	}
	if _, err := m.AddConnection(VarRef{"cell", "time"}, VarRef{"gate", "time"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := m.AddConnection(VarRef{"cell", "time"}, VarRef{"gate", "time"}); !IsConflict(err) {
		t.Errorf("Expected conflict for second source, got: %v", err)
	}

	gt, _ := m.Lookup("gate", "time")
	if gt.Kind != KindMapped {
		t.Errorf("Expected mapped, got %s", gt.Kind)
	}
	src, err := m.Source(gt)
	if err != nil {
		t.Fatalf("Expected source, got: %v", err)
	}
	if src.QualifiedName() != "env,time" {
		t.Errorf("Expected env,time, got %s", src.QualifiedName())
	}
}

func TestModel_Adjacent(t *testing.T) {
	m := newTwoLevelModel(t)

	tests := []struct {
		a, b string
		want bool
	}{
		{"env", "cell", true},
		{"cell", "gate", true},
		{"gate", "cell", true},
		{"env", "gate", false},
		{"cell", "cell", false},
		{"cell", "missing", false},
	}
	for _, tt := range tests {
		if got := m.Adjacent(tt.a, tt.b); got != tt.want {
			t.Errorf("Adjacent(%s, %s) = %v, expected %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestModel_NextImplicitNamespace(t *testing.T) {
	m := New("test")

	expected := []string{"protocol", "protocol_1", "protocol_2"}
	for _, want := range expected {
		if got := m.NextImplicitNamespace(); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}

	c := m.Clone()
	if got := c.NextImplicitNamespace(); got != "protocol_3" {
		t.Errorf("Expected clone to continue the counter, got %s", got)
	}
}

func TestModel_Tags(t *testing.T) {
	m := newTwoLevelModel(t)
	x, _ := m.Lookup("cell", "x")

	if err := m.SetTag(x, "gating_variable"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	ref, err := m.ResolveTag("gating_variable")
	if err != nil {
		t.Fatalf("Expected tag to resolve, got: %v", err)
	}
	if ref.String() != "cell,x" {
		t.Errorf("Expected cell,x, got %s", ref)
	}

	k, _ := m.Lookup("cell", "k")
	if err := m.SetTag(k, "gating_variable"); !IsConflict(err) {
		t.Errorf("Expected conflict for taken tag, got: %v", err)
	}

	m.DetachVariable(x)
	if _, err := m.LookupTag("gating_variable"); !IsNotFound(err) {
		t.Errorf("Expected tag to be released, got: %v", err)
	}
}

func TestModel_Units(t *testing.T) {
	m := New("test")

	if err := m.AddUnits("ms", "millisecond"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := m.AddUnits("ms", "millisecond"); err != nil {
		t.Errorf("Expected identical redefinition to be accepted, got: %v", err)
	}
	if err := m.AddUnits("ms", "second"); !IsConflict(err) {
		t.Errorf("Expected conflict, got: %v", err)
	}
	if names := m.UnitsNames(); len(names) != 1 || names[0] != "ms" {
		t.Errorf("Expected [ms], got %v", names)
	}
}

func TestModel_CompactAndAssignments(t *testing.T) {
	m := newTwoLevelModel(t)
	before := m.Assignments()

	k, _ := m.Lookup("cell", "k")
	m.DetachVariable(k)

	after := m.Assignments()
	if len(after) != len(before)-1 {
		t.Fatalf("Expected %d assignments, got %d", len(before)-1, len(after))
	}

	removed := m.Compact()
	if removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}
	if _, err := m.Variable(k.ID); !IsNotFound(err) {
		t.Errorf("Expected compacted ID to be not found, got: %v", err)
	}

	x, _ := m.Lookup("cell", "x")
	if got, err := m.Variable(x.ID); err != nil || got != x {
		t.Errorf("Expected surviving ID to be stable, got %v, %v", got, err)
	}
}

func TestModel_Clone(t *testing.T) {
	m := newTwoLevelModel(t)
	c := m.Clone()

	cx, _ := c.Lookup("cell", "x")
	cx.SetInitial(42)
	cx.Flags.Keep = true

	x, _ := m.Lookup("cell", "x")
	if *x.Initial != 1 {
		t.Errorf("Expected original initial value 1, got %g", *x.Initial)
	}
	if x.Flags.Keep {
		t.Error("Expected original flags to be untouched")
	}

	if _, err := c.AddNamespace("extra", "cell"); err != nil {
		t.Fatalf("Failed to add namespace to clone: %v", err)
	}
	ns, _ := m.Namespace("cell")
	if len(ns.Children()) != 1 {
		t.Errorf("Expected original to keep 1 child, got %d", len(ns.Children()))
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    VarRef
		wantErr bool
	}{
		{"membrane,V", VarRef{"membrane", "V"}, false},
		{" membrane , V ", VarRef{"membrane", "V"}, false},
		{"V", VarRef{Name: "V"}, false},
		{"", VarRef{}, true},
		{",V", VarRef{}, true},
		{"a,b,c", VarRef{}, true},
	}
	for _, tt := range tests {
		got, err := ParseRef(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRef(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRef(%q) = %v, expected %v", tt.in, got, tt.want)
		}
	}
}

func TestError_Format(t *testing.T) {
	err := NewStructuralError(InvariantAcyclic, "circular dependency", errors.New("boom")).WithName("cell,x")

	want := "[structural_invariant_violation] circular dependency (name=cell,x) (invariant=acyclic): boom"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
	if !IsStructural(err) {
		t.Error("Expected structural classification")
	}
	if !errors.Is(err, &Error{Class: ErrorClassStructural}) {
		t.Error("Expected errors.Is to match on class")
	}
	if errors.Is(err, &Error{Class: ErrorClassConflict}) {
		t.Error("Expected errors.Is not to match a different class")
	}
}
