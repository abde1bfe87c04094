package model

import (
	"fmt"
	"sort"
)

// ImplicitNamespacePrefix is the base name of owner namespaces created for
// bare variable names.
const ImplicitNamespacePrefix = "protocol"

// Model is the mutable graph store. Variables, equations and connections are
// held in index-addressed arenas; detaching clears the owner link and leaves
// the slot in place until Compact.
type Model struct {
	// Name is an informational model name.
	Name string

	namespaces map[string]*Namespace
	nsOrder    []string

	vars  []*Variable
	eqs   []*Equation
	conns []*Connection

	// definitions maps a target to its live defining equation.
	definitions map[VarRef]EqID

	// incoming maps a Mapped variable to its live supplying connection.
	incoming map[VarRef]ConnID

	tags map[string]VarRef

	units      map[string]string
	unitsOrder []string

	order []Assignment

	implicitCount int
}

// New creates an empty model.
func New(name string) *Model {
	return &Model{
		Name:        name,
		namespaces:  make(map[string]*Namespace),
		definitions: make(map[VarRef]EqID),
		incoming:    make(map[VarRef]ConnID),
		tags:        make(map[string]VarRef),
		units:       make(map[string]string),
	}
}

// AddNamespace registers a namespace under parent. An empty parent places it
// at the top level.
func (m *Model) AddNamespace(name, parent string) (*Namespace, error) {
	if name == "" || IsQualified(name) {
		return nil, NewConflictError(fmt.Sprintf("invalid namespace name %q", name), nil).WithName(name)
	}
	if _, exists := m.namespaces[name]; exists {
		return nil, NewConflictError("namespace already exists", nil).
			WithName(name).WithCode(ErrCodeDuplicate)
	}
	if parent != "" {
		p, ok := m.namespaces[parent]
		if !ok {
			return nil, NewNotFoundError("parent namespace not found", nil).
				WithName(parent).WithDetail("child", name)
		}
		p.children = append(p.children, name)
	}

	ns := &Namespace{Name: name, Parent: parent, vars: make(map[string]VarID)}
	m.namespaces[name] = ns
	m.nsOrder = append(m.nsOrder, name)
	return ns, nil
}

// Namespace looks up a namespace by name.
func (m *Model) Namespace(name string) (*Namespace, error) {
	ns, ok := m.namespaces[name]
	if !ok {
		return nil, NewNotFoundError("namespace not found", nil).WithName(name)
	}
	return ns, nil
}

// Namespaces returns all namespaces in creation order.
func (m *Model) Namespaces() []*Namespace {
	out := make([]*Namespace, 0, len(m.nsOrder))
	for _, name := range m.nsOrder {
		out = append(out, m.namespaces[name])
	}
	return out
}

// TopLevel returns the names of namespaces without a parent, sorted lexically.
func (m *Model) TopLevel() []string {
	var out []string
	for _, name := range m.nsOrder {
		if m.namespaces[name].Parent == "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Ancestors returns name followed by its encapsulating namespaces up to the top level.
func (m *Model) Ancestors(name string) ([]string, error) {
	var chain []string
	seen := make(map[string]bool)
	for cur := name; cur != ""; {
		ns, ok := m.namespaces[cur]
		if !ok {
			return nil, NewNotFoundError("namespace not found", nil).WithName(cur)
		}
		if seen[cur] {
			return nil, NewStructuralError(InvariantAcyclic, "encapsulation loop", nil).WithName(cur)
		}
		seen[cur] = true
		chain = append(chain, cur)
		cur = ns.Parent
	}
	return chain, nil
}

// Adjacent reports whether a connection between a and b is legal: parent and
// child, or siblings (top-level namespaces are siblings under the model root).
func (m *Model) Adjacent(a, b string) bool {
	na, okA := m.namespaces[a]
	nb, okB := m.namespaces[b]
	if !okA || !okB || a == b {
		return false
	}
	return na.Parent == b || nb.Parent == a || na.Parent == nb.Parent
}

// NextImplicitNamespace returns the next implicit owner namespace name from
// the model's counter: protocol, protocol_1, protocol_2, ...
func (m *Model) NextImplicitNamespace() string {
	n := m.implicitCount
	m.implicitCount++
	if n == 0 {
		return ImplicitNamespacePrefix
	}
	return fmt.Sprintf("%s_%d", ImplicitNamespacePrefix, n)
}

// AddVariable registers v in its namespace and assigns its ID.
func (m *Model) AddVariable(v *Variable) (*Variable, error) {
	ns, err := m.Namespace(v.Namespace)
	if err != nil {
		return nil, err
	}
	if v.Name == "" || IsQualified(v.Name) {
		return nil, NewConflictError(fmt.Sprintf("invalid variable name %q", v.Name), nil).
			WithName(v.QualifiedName())
	}
	if _, exists := ns.vars[v.Name]; exists {
		return nil, NewConflictError("variable already exists", nil).
			WithName(v.QualifiedName()).WithCode(ErrCodeDuplicate)
	}
	if v.Tag != "" {
		if other, taken := m.tags[v.Tag]; taken {
			return nil, NewConflictError("semantic tag already assigned", nil).
				WithName(v.QualifiedName()).WithDetail("tag", v.Tag).WithDetail("holder", other.String())
		}
	}
	if v.Kind == "" {
		v.Kind = KindUnknown
	}
	v.Interface = v.Interface.Normalize()
	v.ID = VarID(len(m.vars))
	v.detached = false
	m.vars = append(m.vars, v)
	ns.vars[v.Name] = v.ID
	if v.Tag != "" {
		m.tags[v.Tag] = v.Ref()
	}
	m.order = append(m.order, Assignment{Kind: AssignmentVariable, ID: int(v.ID)})
	return v, nil
}

// Lookup resolves a variable by namespace and local name.
func (m *Model) Lookup(namespace, name string) (*Variable, error) {
	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil, NewNotFoundError("namespace not found", nil).
			WithName(VarRef{Namespace: namespace, Name: name}.String())
	}
	id, ok := ns.vars[name]
	if !ok {
		return nil, NewNotFoundError("variable not found", nil).
			WithName(VarRef{Namespace: namespace, Name: name}.String())
	}
	return m.vars[id], nil
}

// LookupRef resolves a qualified reference.
func (m *Model) LookupRef(ref VarRef) (*Variable, error) {
	return m.Lookup(ref.Namespace, ref.Name)
}

// LookupQualified resolves a "namespace,name" string.
func (m *Model) LookupQualified(qualified string) (*Variable, error) {
	ref, err := ParseRef(qualified)
	if err != nil {
		return nil, NewNotFoundError("malformed reference", err).WithName(qualified)
	}
	if ref.Namespace == "" {
		return nil, NewNotFoundError("reference is not qualified", nil).WithName(qualified)
	}
	return m.LookupRef(ref)
}

// LookupTag resolves a variable by its semantic tag.
func (m *Model) LookupTag(tag string) (*Variable, error) {
	ref, ok := m.tags[tag]
	if !ok {
		return nil, NewNotFoundError("no variable carries semantic tag", nil).
			WithName(tag).WithDetail("tag", tag)
	}
	return m.LookupRef(ref)
}

// ResolveTag returns the qualified reference carrying tag.
func (m *Model) ResolveTag(tag string) (VarRef, error) {
	v, err := m.LookupTag(tag)
	if err != nil {
		return VarRef{}, err
	}
	return v.Ref(), nil
}

// SetTag assigns a semantic tag to a live variable, replacing any previous tag.
func (m *Model) SetTag(v *Variable, tag string) error {
	if v.detached {
		return NewNotFoundError("variable is detached", nil).WithName(v.QualifiedName())
	}
	if other, taken := m.tags[tag]; taken && other != v.Ref() {
		return NewConflictError("semantic tag already assigned", nil).
			WithName(v.QualifiedName()).WithDetail("tag", tag).WithDetail("holder", other.String())
	}
	if v.Tag != "" {
		delete(m.tags, v.Tag)
	}
	v.Tag = tag
	if tag != "" {
		m.tags[tag] = v.Ref()
	}
	return nil
}

// Variable returns the live variable with the given ID.
func (m *Model) Variable(id VarID) (*Variable, error) {
	if int(id) < 0 || int(id) >= len(m.vars) || m.vars[id] == nil || m.vars[id].detached {
		return nil, NewNotFoundError(fmt.Sprintf("variable #%d not found", id), nil)
	}
	return m.vars[id], nil
}

// Variables returns all live variables in creation order.
func (m *Model) Variables() []*Variable {
	out := make([]*Variable, 0, len(m.vars))
	for _, v := range m.vars {
		if v != nil && !v.detached {
			out = append(out, v)
		}
	}
	return out
}

// DetachVariable unlinks a variable from its namespace. Its equation and
// incoming connection stay attached to the name so a replacement can take them over.
func (m *Model) DetachVariable(v *Variable) {
	if v == nil || v.detached {
		return
	}
	v.detached = true
	if ns, ok := m.namespaces[v.Namespace]; ok {
		if id, ok := ns.vars[v.Name]; ok && id == v.ID {
			delete(ns.vars, v.Name)
		}
	}
	if v.Tag != "" {
		if ref, ok := m.tags[v.Tag]; ok && ref == v.Ref() {
			delete(m.tags, v.Tag)
		}
	}
}

// AddEquation attaches eq to its target. A target has at most one live
// defining equation.
func (m *Model) AddEquation(eq *Equation) (*Equation, error) {
	target := eq.TargetRef()
	if _, err := m.LookupRef(target); err != nil {
		return nil, err
	}
	if _, exists := m.definitions[target]; exists {
		return nil, NewConflictError("variable already has a defining equation", nil).
			WithName(target.String()).WithCode(ErrCodeDuplicate)
	}
	eq.ID = EqID(len(m.eqs))
	eq.detached = false
	m.eqs = append(m.eqs, eq)
	m.definitions[target] = eq.ID
	m.order = append(m.order, Assignment{Kind: AssignmentEquation, ID: int(eq.ID)})
	return eq, nil
}

// Equation returns the live equation with the given ID.
func (m *Model) Equation(id EqID) (*Equation, error) {
	if int(id) < 0 || int(id) >= len(m.eqs) || m.eqs[id] == nil || m.eqs[id].detached {
		return nil, NewNotFoundError(fmt.Sprintf("equation #%d not found", id), nil)
	}
	return m.eqs[id], nil
}

// Equations returns all live equations in creation order.
func (m *Model) Equations() []*Equation {
	out := make([]*Equation, 0, len(m.eqs))
	for _, eq := range m.eqs {
		if eq != nil && !eq.detached {
			out = append(out, eq)
		}
	}
	return out
}

// Definition returns the live equation defining ref.
func (m *Model) Definition(ref VarRef) (*Equation, bool) {
	id, ok := m.definitions[ref]
	if !ok {
		return nil, false
	}
	return m.eqs[id], true
}

// ODE returns the differential equation of v with respect to bvar (a local
// name in v's namespace). It fails with NotFound/NOT_APPLICABLE if v is not
// defined by such an equation.
func (m *Model) ODE(v *Variable, bvar string) (*Equation, error) {
	eq, ok := m.Definition(v.Ref())
	if !ok || !eq.IsDifferential() || (bvar != "" && eq.BoundVar != bvar) {
		return nil, NewNotFoundError("no differential equation for variable", nil).
			WithName(v.QualifiedName()).WithCode(ErrCodeNotApplicable).WithDetail("bvar", bvar)
	}
	return eq, nil
}

// DetachEquation unlinks eq from its target.
func (m *Model) DetachEquation(eq *Equation) {
	if eq == nil || eq.detached {
		return
	}
	eq.detached = true
	if id, ok := m.definitions[eq.TargetRef()]; ok && id == eq.ID {
		delete(m.definitions, eq.TargetRef())
	}
}

// AddConnection wires from as the source of the Mapped variable to. The two
// namespaces must be adjacent and to must not already have a source.
func (m *Model) AddConnection(from, to VarRef) (*Connection, error) {
	if _, err := m.LookupRef(from); err != nil {
		return nil, err
	}
	target, err := m.LookupRef(to)
	if err != nil {
		return nil, err
	}
	if !m.Adjacent(from.Namespace, to.Namespace) {
		return nil, NewUnreachableError("connection between non-adjacent namespaces", nil).
			WithName(to.String()).WithDetail("from", from.String())
	}
	if _, exists := m.incoming[to]; exists {
		return nil, NewConflictError("mapped variable already has a source", nil).
			WithName(to.String()).WithCode(ErrCodeDuplicate)
	}
	c := &Connection{ID: ConnID(len(m.conns)), From: from, To: to}
	m.conns = append(m.conns, c)
	m.incoming[to] = c.ID
	target.Kind = KindMapped
	return c, nil
}

// Connection returns the live connection with the given ID.
func (m *Model) Connection(id ConnID) (*Connection, error) {
	if int(id) < 0 || int(id) >= len(m.conns) || m.conns[id] == nil || m.conns[id].detached {
		return nil, NewNotFoundError(fmt.Sprintf("connection #%d not found", id), nil)
	}
	return m.conns[id], nil
}

// Connections returns all live connections in creation order.
func (m *Model) Connections() []*Connection {
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		if c != nil && !c.detached {
			out = append(out, c)
		}
	}
	return out
}

// Incoming returns the live connection supplying ref.
func (m *Model) Incoming(ref VarRef) (*Connection, bool) {
	id, ok := m.incoming[ref]
	if !ok {
		return nil, false
	}
	return m.conns[id], true
}

// FindConnection returns the live connection from -> to, if any.
func (m *Model) FindConnection(from, to VarRef) (*Connection, bool) {
	c, ok := m.Incoming(to)
	if !ok || c.From != from {
		return nil, false
	}
	return c, true
}

// DetachConnection removes c from the graph.
func (m *Model) DetachConnection(c *Connection) {
	if c == nil || c.detached {
		return
	}
	c.detached = true
	if id, ok := m.incoming[c.To]; ok && id == c.ID {
		delete(m.incoming, c.To)
	}
}

// Source follows connections from v back to the first non-Mapped variable.
func (m *Model) Source(v *Variable) (*Variable, error) {
	seen := map[VarRef]bool{v.Ref(): true}
	cur := v
	for cur.Kind == KindMapped {
		c, ok := m.Incoming(cur.Ref())
		if !ok {
			return nil, NewStructuralError(InvariantSingleSource, "mapped variable has no source", nil).
				WithName(cur.QualifiedName())
		}
		next, err := m.LookupRef(c.From)
		if err != nil {
			return nil, NewStructuralError(InvariantLiveReference, "connection source missing", err).
				WithName(cur.QualifiedName())
		}
		if seen[next.Ref()] {
			return nil, NewStructuralError(InvariantSingleSource, "connection loop", nil).
				WithName(next.QualifiedName())
		}
		seen[next.Ref()] = true
		cur = next
	}
	return cur, nil
}

// AddUnits registers a named units definition. Re-registering the same
// definition is a no-op.
func (m *Model) AddUnits(name, definition string) error {
	if existing, ok := m.units[name]; ok {
		if existing == definition {
			return nil
		}
		return NewConflictError("units already defined differently", nil).
			WithName(name).WithDetail("existing", existing).WithDetail("proposed", definition)
	}
	m.units[name] = definition
	m.unitsOrder = append(m.unitsOrder, name)
	return nil
}

// Units returns the registered definition of a named unit.
func (m *Model) Units(name string) (string, bool) {
	def, ok := m.units[name]
	return def, ok
}

// UnitsNames returns registered unit names in registration order.
func (m *Model) UnitsNames() []string {
	out := make([]string, len(m.unitsOrder))
	copy(out, m.unitsOrder)
	return out
}

// Assignments returns the ordered list of live variables and equations.
func (m *Model) Assignments() []Assignment {
	out := make([]Assignment, 0, len(m.order))
	for _, a := range m.order {
		switch a.Kind {
		case AssignmentVariable:
			if v := m.vars[a.ID]; v != nil && !v.detached {
				out = append(out, a)
			}
		case AssignmentEquation:
			if eq := m.eqs[a.ID]; eq != nil && !eq.detached {
				out = append(out, a)
			}
		}
	}
	return out
}

// Describe renders an assignment for diagnostics.
func (m *Model) Describe(a Assignment) string {
	switch a.Kind {
	case AssignmentVariable:
		if v := m.vars[a.ID]; v != nil {
			return "var " + v.QualifiedName()
		}
	case AssignmentEquation:
		if eq := m.eqs[a.ID]; eq != nil {
			return "eq " + eq.String()
		}
	}
	return fmt.Sprintf("%s #%d (removed)", a.Kind, a.ID)
}

// Stats counts live graph elements.
type Stats struct {
	Namespaces  int `json:"namespaces" yaml:"namespaces"`
	Variables   int `json:"variables" yaml:"variables"`
	Equations   int `json:"equations" yaml:"equations"`
	Connections int `json:"connections" yaml:"connections"`
}

// Stats returns live element counts.
func (m *Model) Stats() Stats {
	return Stats{
		Namespaces:  len(m.namespaces),
		Variables:   len(m.Variables()),
		Equations:   len(m.Equations()),
		Connections: len(m.Connections()),
	}
}

// Compact drops detached arena entries. IDs of surviving elements are
// unchanged; compacted IDs answer NotFound from then on.
func (m *Model) Compact() int {
	removed := 0
	for i, v := range m.vars {
		if v != nil && v.detached {
			m.vars[i] = nil
			removed++
		}
	}
	for i, eq := range m.eqs {
		if eq != nil && eq.detached {
			m.eqs[i] = nil
			removed++
		}
	}
	for i, c := range m.conns {
		if c != nil && c.detached {
			m.conns[i] = nil
			removed++
		}
	}
	m.order = m.Assignments()
	return removed
}

// Clone returns a deep copy. Expression trees are shared; they are never
// mutated in place.
func (m *Model) Clone() *Model {
	c := New(m.Name)
	c.implicitCount = m.implicitCount
	c.nsOrder = append([]string(nil), m.nsOrder...)
	for name, ns := range m.namespaces {
		cp := &Namespace{
			Name:     ns.Name,
			Parent:   ns.Parent,
			Implicit: ns.Implicit,
			children: append([]string(nil), ns.children...),
			vars:     make(map[string]VarID, len(ns.vars)),
		}
		for k, id := range ns.vars {
			cp.vars[k] = id
		}
		c.namespaces[name] = cp
	}
	c.vars = make([]*Variable, len(m.vars))
	for i, v := range m.vars {
		if v == nil {
			continue
		}
		cp := *v
		if v.Initial != nil {
			val := *v.Initial
			cp.Initial = &val
		}
		c.vars[i] = &cp
	}
	c.eqs = make([]*Equation, len(m.eqs))
	for i, eq := range m.eqs {
		if eq != nil {
			cp := *eq
			c.eqs[i] = &cp
		}
	}
	c.conns = make([]*Connection, len(m.conns))
	for i, conn := range m.conns {
		if conn != nil {
			cp := *conn
			c.conns[i] = &cp
		}
	}
	for k, id := range m.definitions {
		c.definitions[k] = id
	}
	for k, id := range m.incoming {
		c.incoming[k] = id
	}
	for k, ref := range m.tags {
		c.tags[k] = ref
	}
	for k, def := range m.units {
		c.units[k] = def
	}
	c.unitsOrder = append([]string(nil), m.unitsOrder...)
	c.order = append([]Assignment(nil), m.order...)
	return c
}

// InferKinds sets the kind of every variable still marked Unknown from its
// definition: an incoming connection, a defining equation or an initial value.
func (m *Model) InferKinds() {
	for _, v := range m.Variables() {
		if v.Kind != KindUnknown {
			continue
		}
		ref := v.Ref()
		if _, ok := m.incoming[ref]; ok {
			v.Kind = KindMapped
			continue
		}
		if eq, ok := m.Definition(ref); ok {
			if eq.IsDifferential() {
				v.Kind = KindState
			} else {
				v.Kind = KindComputed
			}
			continue
		}
		if v.Initial != nil {
			v.Kind = KindConstant
		}
	}
}
